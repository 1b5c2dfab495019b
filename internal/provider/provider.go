// Package provider describes the third-party metadata providers the bridge
// can talk to.
package provider

import "sort"

// Auth describes the credentials a provider needs.
type Auth struct {
	Type           string   `json:"type"`
	Fields         []string `json:"fields"`
	OptionalFields []string `json:"optional_fields,omitempty"`
}

// Endpoints locates a provider's API.
type Endpoints struct {
	BaseURL string `json:"base_url"`
	DocsURL string `json:"docs_url"`
}

// RateLimit is the documented request budget. Nil values are unknown.
type RateLimit struct {
	RequestsPerSecond *float64 `json:"requests_per_second"`
	RequestsPerMinute *float64 `json:"requests_per_minute"`
	Notes             string   `json:"notes"`
}

// Capabilities is one entry of the provider table.
type Capabilities struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name"`
	Capabilities  []string  `json:"capabilities"`
	Auth          Auth      `json:"auth"`
	Endpoints     Endpoints `json:"endpoints"`
	RateLimit     RateLimit `json:"rate_limit"`
	SupportsCache bool      `json:"supports_cache"`
	Pricing       string    `json:"pricing"`
	Notes         string    `json:"notes"`
}

var bestEffort = RateLimit{Notes: "Best effort"}

var table = map[string]Capabilities{
	"musicbrainz": {
		DisplayName: "MusicBrainz",
		Capabilities: []string{
			"artist_metadata",
			"artist_links",
			"discography",
			"album_metadata",
			"album_art",
			"series",
			"id_redirects",
			"spotify_mapping",
		},
		Auth:          Auth{Type: "none", Fields: []string{}},
		Endpoints:     Endpoints{BaseURL: "musicbrainz_db"},
		RateLimit:     RateLimit{Notes: "DB-backed"},
		SupportsCache: true,
		Pricing:       "unknown",
		Notes:         "Cover art via CAA URLs; links parsed into typed sources.",
	},
	"fanart": {
		DisplayName:   "Fanart.tv",
		Capabilities:  []string{"artist_images"},
		Auth:          Auth{Type: "api_key", Fields: []string{"FANART_KEY"}},
		Endpoints:     Endpoints{BaseURL: "https://webservice.fanart.tv/v3.2/music"},
		RateLimit:     bestEffort,
		SupportsCache: true,
		Pricing:       "free",
		Notes:         "Artist artwork only (clearlogo, banner, fanart, poster).",
	},
	"theaudiodb": {
		DisplayName:   "TheAudioDB",
		Capabilities:  []string{"artist_images"},
		Auth:          Auth{Type: "api_key", Fields: []string{"TADB_KEY"}},
		Endpoints:     Endpoints{BaseURL: "https://www.theaudiodb.com/api/v2/json"},
		RateLimit:     bestEffort,
		SupportsCache: true,
		Pricing:       "paid_required",
		Notes:         "Artist artwork only (v2 premium API).",
	},
	"discogs": {
		DisplayName:   "Discogs",
		Capabilities:  []string{"artist_images"},
		Auth:          Auth{Type: "token", Fields: []string{"DISCOGS_KEY"}},
		Endpoints:     Endpoints{BaseURL: "https://api.discogs.com"},
		RateLimit:     bestEffort,
		SupportsCache: true,
		Pricing:       "free",
		Notes:         "Artist imagery and related metadata.",
	},
	"tidal": {
		DisplayName:  "TIDAL",
		Capabilities: []string{"artist_images"},
		Auth: Auth{
			Type:           "oauth_client",
			Fields:         []string{"TIDAL_CLIENT_ID", "TIDAL_CLIENT_SECRET", "TIDAL_COUNTRY_CODE"},
			OptionalFields: []string{"TIDAL_USER", "TIDAL_USER_PASSWORD"},
		},
		Endpoints:     Endpoints{BaseURL: "https://openapi.tidal.com/v2"},
		RateLimit:     bestEffort,
		SupportsCache: true,
		Pricing:       "paid_required",
		Notes:         "Profile art via official API; user creds used for lookup fallback.",
	},
	"apple_music": {
		DisplayName:   "Apple Music",
		Capabilities:  []string{"artist_images"},
		Auth:          Auth{Type: "none", Fields: []string{}},
		Endpoints:     Endpoints{BaseURL: "https://itunes.apple.com/search"},
		RateLimit:     bestEffort,
		SupportsCache: true,
		Pricing:       "free",
		Notes:         "Artist artwork via iTunes Search API.",
	},
	"lastfm": {
		DisplayName:   "Last.fm",
		Capabilities:  []string{"charts"},
		Auth:          Auth{Type: "api_key", Fields: []string{"LASTFM_KEY", "LASTFM_SECRET"}},
		Endpoints:     Endpoints{BaseURL: "https://ws.audioscrobbler.com/2.0/"},
		RateLimit:     bestEffort,
		SupportsCache: true,
		Pricing:       "free",
		Notes:         "Top artists/albums only.",
	},
}

// List returns every provider sorted by ID.
func List() []Capabilities {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Capabilities, 0, len(ids))
	for _, id := range ids {
		c := table[id]
		c.ID = id
		out = append(out, c)
	}
	return out
}

// Get returns the provider with the given ID.
func Get(id string) (Capabilities, bool) {
	c, ok := table[id]
	if !ok {
		return Capabilities{}, false
	}
	c.ID = id
	return c, true
}
