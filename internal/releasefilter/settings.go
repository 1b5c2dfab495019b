package releasefilter

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefer values for keep-only ordering.
const (
	PreferDigital = "digital"
	PreferAnalog  = "analog"
)

// aliases expands user-facing format names to the substrings matched
// against lower-cased MusicBrainz medium formats.
var aliases = map[string][]string{
	"digital":  {"digital media"},
	"analog":   {"vinyl", "cassette", "shellac", "reel-to-reel", "8-track", "flexi-disc"},
	"lp":       {"vinyl"},
	"record":   {"vinyl"},
	"tape":     {"cassette", "reel-to-reel", "8-track", "dat"},
	"video":    {"dvd-video", "blu-ray", "laserdisc", "vhs"},
	"cdr":      {"cd-r"},
	"minidisc": {"minidisc"},
}

var (
	priorityDigitalFirst = []string{"digital media", "cd", "sacd", "vinyl", "cassette"}
	priorityAnalogFirst  = []string{"vinyl", "cassette", "cd", "sacd", "digital media"}
)

// Settings is a snapshot of the runtime filter configuration.
type Settings struct {
	// Include keeps only releases with a matching format. It wins over Exclude.
	Include []string
	// Exclude drops releases with a matching format, unless that would drop all of them.
	Exclude []string
	// KeepOnly trims the release list to this many entries; 0 means unset.
	KeepOnly int
	// Prefer orders releases for KeepOnly: PreferDigital (default) or PreferAnalog.
	Prefer string
}

// Active reports whether any setting changes query results.
func (s Settings) Active() bool {
	return len(s.Include) > 0 || len(s.Exclude) > 0 || s.KeepOnly > 0
}

// Enabled reports whether anything is configured, including Prefer alone.
func (s Settings) Enabled() bool {
	return s.Active() || s.Prefer != ""
}

// normalize lower-cases, alias-expands and de-duplicates tokens, keeping
// first-seen order.
func normalize(tokens []string) []string {
	var expanded []string
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if mapped, ok := aliases[t]; ok {
			expanded = append(expanded, mapped...)
			continue
		}
		expanded = append(expanded, t)
	}

	seen := make(map[string]bool, len(expanded))
	out := []string{}
	for _, t := range expanded {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ParseList accepts a comma-separated string or a JSON array of values.
// nil yields nil.
func ParseList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return strings.Split(t, ",")
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// ParseKeepOnly accepts a JSON number, bool or numeric string. Anything that
// is not a positive integer yields 0.
func ParseKeepOnly(v any) int {
	var n int
	switch t := v.(type) {
	case bool:
		if t {
			n = 1
		}
	case float64:
		n = int(t)
	case int:
		n = t
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		n = parsed
	}
	if n <= 0 {
		return 0
	}
	return n
}

// ParsePrefer accepts "digital" or "analog" in any case. Anything else yields "".
func ParsePrefer(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case PreferDigital, PreferAnalog:
		return p
	default:
		return ""
	}
}

// IsTruthy interprets a JSON value as a flag. Strings must be 1, true, yes or on.
func IsTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	case float64:
		return t != 0
	default:
		return true
	}
}
