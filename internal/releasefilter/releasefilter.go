// Package releasefilter is the built-in query hook that filters and trims
// the releases of a release group by medium format.
package releasefilter

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hyperengineering/lmbridge/internal/config"
	"github.com/hyperengineering/lmbridge/internal/hook"
)

// Name is the hook name. Configuring it as the custom hook module is ignored.
const Name = "release_filter"

// SQLFile is the only query template the filter applies to.
const SQLFile = "release_group_by_id.sql"

// albumColumn holds the release group document as JSON text.
const albumColumn = "album"

// Filter is an after-query hook with settings that can change at runtime.
type Filter struct {
	mu       sync.RWMutex
	settings Settings
}

// New creates a filter seeded from configuration.
func New(cfg config.ReleaseFilterConfig) *Filter {
	f := &Filter{}
	f.Set(Settings{
		Include:  cfg.Include,
		Exclude:  cfg.Exclude,
		KeepOnly: cfg.KeepOnly,
		Prefer:   cfg.Prefer,
	})
	return f
}

// Name implements hook.QueryHook.
func (f *Filter) Name() string { return Name }

// Settings returns a copy of the current settings.
func (f *Filter) Settings() Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Settings{
		Include:  slices.Clone(f.settings.Include),
		Exclude:  slices.Clone(f.settings.Exclude),
		KeepOnly: f.settings.KeepOnly,
		Prefer:   f.settings.Prefer,
	}
}

// Set replaces all settings. Format lists are normalized, KeepOnly below 1
// and unknown Prefer values are cleared. It returns the effective settings.
func (f *Filter) Set(s Settings) Settings {
	next := Settings{
		Include:  normalize(s.Include),
		Exclude:  normalize(s.Exclude),
		KeepOnly: max(s.KeepOnly, 0),
		Prefer:   ParsePrefer(s.Prefer),
	}

	f.mu.Lock()
	f.settings = next
	f.mu.Unlock()
	return f.Settings()
}

// Clear resets every setting.
func (f *Filter) Clear() Settings {
	return f.Set(Settings{})
}

// AfterQuery implements hook.AfterQuerier.
func (f *Filter) AfterQuery(_ context.Context, rows []hook.Row, qc *hook.QueryContext) (hook.Result[[]hook.Row], error) {
	if qc.SQLFile != SQLFile {
		return hook.Unchanged[[]hook.Row](), nil
	}
	s := f.Settings()
	if !s.Active() {
		return hook.Unchanged[[]hook.Row](), nil
	}

	changed := false
	for _, row := range rows {
		var doc string
		switch v := row[albumColumn].(type) {
		case string:
			doc = v
		case []byte:
			doc = string(v)
		default:
			continue
		}
		if out, ok := s.apply(doc); ok {
			row[albumColumn] = out
			changed = true
		}
	}
	if !changed {
		return hook.Unchanged[[]hook.Row](), nil
	}
	return hook.Replaced(rows), nil
}

// apply filters one release group document. It reports false when the
// document is not JSON or has no release list.
func (s Settings) apply(doc string) (string, bool) {
	if doc == "" || !gjson.Valid(doc) {
		return doc, false
	}

	key := "Releases"
	list := gjson.Get(doc, key)
	if !list.Exists() {
		key = "releases"
		list = gjson.Get(doc, key)
	}
	if !list.IsArray() {
		return doc, false
	}
	releases := list.Array()

	switch {
	case len(s.Include) > 0:
		releases = slices.DeleteFunc(releases, func(r gjson.Result) bool {
			return !matchesAny(releaseFormats(r), s.Include)
		})
	case len(s.Exclude) > 0:
		kept := slices.DeleteFunc(slices.Clone(releases), func(r gjson.Result) bool {
			return matchesAny(releaseFormats(r), s.Exclude)
		})
		if len(kept) > 0 {
			releases = kept
		}
	}

	if s.KeepOnly > 0 && len(releases) > s.KeepOnly {
		tokens := priorityDigitalFirst
		if s.Prefer == PreferAnalog {
			tokens = priorityAnalogFirst
		}
		slices.SortStableFunc(releases, func(a, b gjson.Result) int {
			pa, pb := priority(releaseFormats(a), tokens), priority(releaseFormats(b), tokens)
			if pa != pb {
				return pa - pb
			}
			return strings.Compare(formatKey(a), formatKey(b))
		})
		releases = releases[:s.KeepOnly]
	}

	raw := make([]string, len(releases))
	for i, r := range releases {
		raw[i] = r.Raw
	}
	out, err := sjson.SetRaw(doc, key, "["+strings.Join(raw, ",")+"]")
	if err != nil {
		return doc, false
	}
	return gjson.Get(out, "@ugly").Raw, true
}

// releaseFormats returns the lower-cased medium formats of a release.
func releaseFormats(release gjson.Result) []string {
	media := release.Get("Media")
	if !media.Exists() {
		media = release.Get("media")
	}
	var out []string
	for _, m := range media.Array() {
		if f := m.Get("Format").String(); f != "" {
			out = append(out, strings.ToLower(f))
		}
	}
	return out
}

func matchesAny(formats, tokens []string) bool {
	for _, f := range formats {
		for _, t := range tokens {
			if strings.Contains(f, t) {
				return true
			}
		}
	}
	return false
}

// priority is the index of the best matching token; releases without a
// match sort after every match.
func priority(formats, tokens []string) int {
	best := len(tokens) + 1
	for _, f := range formats {
		for i, t := range tokens {
			if strings.Contains(f, t) && i < best {
				best = i
			}
		}
	}
	return best
}

func formatKey(release gjson.Result) string {
	formats := releaseFormats(release)
	slices.Sort(formats)
	return strings.Join(formats, ",")
}
