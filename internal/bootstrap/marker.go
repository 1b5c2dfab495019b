package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MarkerFile is the failure marker name inside the state directory.
const MarkerFile = "cache-init.failed"

// Marker records a failed cache bootstrap for the serving process.
type Marker struct {
	// State is the last step that completed before the failure.
	State string    `yaml:"state"`
	Error string    `yaml:"error"`
	Hint  string    `yaml:"hint,omitempty"`
	Time  time.Time `yaml:"time"`
	RunID string    `yaml:"run_id"`
}

// MarkerPath returns the marker location inside stateDir.
func MarkerPath(stateDir string) string {
	return filepath.Join(stateDir, MarkerFile)
}

// ReadMarker returns the marker in stateDir, or nil if there is none.
func ReadMarker(stateDir string) (*Marker, error) {
	data, err := os.ReadFile(MarkerPath(stateDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache-init marker: %w", err)
	}

	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		// An unreadable marker still means the last run failed.
		return &Marker{Error: "unparseable marker: " + err.Error()}, nil
	}
	return &m, nil
}

// WriteMarker creates stateDir if needed and writes m.
func WriteMarker(stateDir string, m *Marker) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal cache-init marker: %w", err)
	}
	return os.WriteFile(MarkerPath(stateDir), data, 0644)
}

// ClearMarker removes the marker. A missing marker is not an error.
func ClearMarker(stateDir string) error {
	err := os.Remove(MarkerPath(stateDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache-init marker: %w", err)
	}
	return nil
}
