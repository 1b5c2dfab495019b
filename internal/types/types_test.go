package types

import (
	"encoding/json"
	"testing"
)

func TestReleaseFilterRequest_First(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantKey string
	}{
		{"snake case", `{"exclude_media_formats": ["vinyl"]}`, "exclude_media_formats"},
		{"camel case", `{"excludeMediaFormats": "vinyl"}`, "excludeMediaFormats"},
		{"short alias", `{"media_exclude": "vinyl"}`, "media_exclude"},
		{"precedence", `{"media_exclude": "tape", "exclude_media_formats": "vinyl"}`, "exclude_media_formats"},
		{"null skipped", `{"exclude_media_formats": null, "media_exclude": "vinyl"}`, "media_exclude"},
		{"absent", `{"prefer": "analog"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ReleaseFilterRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatal(err)
			}
			key, _ := req.First(ExcludeKeys...)
			if key != tt.wantKey {
				t.Errorf("First = %q, want %q", key, tt.wantKey)
			}
		})
	}
}

func TestReleaseFilterResponse_NullsWhenUnset(t *testing.T) {
	resp := ReleaseFilterResponse{OK: true, ExcludeMediaFormats: []string{}, IncludeMediaFormats: []string{}}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"ok":true,"enabled":false,"exclude_media_formats":[],"include_media_formats":[],"keep_only_media_count":null,"prefer":null}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}
