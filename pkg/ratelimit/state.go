package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const dateLayout = "2006-01-02"

// persistedState is the on-disk form of the day counter. Only state that
// must survive a restart lives here; the second and minute windows are
// rebuilt from scratch because their horizon is shorter than any restart.
type persistedState struct {
	RecordDate      string    `json:"record_date"`
	TotalCalls      int       `json:"total_calls"`
	SuccessfulCalls int       `json:"successful_calls"`
	LastUpdated     time.Time `json:"last_updated"`
}

// loadState reads the counter file. A missing file is not an error; a
// record_date other than today is treated as stale and zeroed by the
// caller.
func loadState(path string) (persistedState, error) {
	var st persistedState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return persistedState{}, err
	}
	return st, nil
}

// saveState writes the counter file atomically enough for a single-writer
// process: temp file in the same directory, then rename.
func saveState(path string, st persistedState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
