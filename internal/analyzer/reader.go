package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/studyengine/core/internal/domain"
)

// FileReader implements domain.AnalyticsReader by reading the latest
// written snapshot file, caching it by mtime so repeated lookups
// during a burst of requests don't re-read the file from disk.
type FileReader struct {
	path string

	mu       sync.Mutex
	cached   domain.AnalyticsSnapshot
	cachedAt time.Time
	hasValue bool
}

// NewFileReader returns a FileReader rooted at path.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// Latest returns the most recently written snapshot, or false if none
// has ever been written.
func (r *FileReader) Latest() (domain.AnalyticsSnapshot, bool) {
	info, err := os.Stat(r.path)
	if err != nil {
		return domain.AnalyticsSnapshot{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasValue && !info.ModTime().After(r.cachedAt) {
		return r.cached, true
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		return domain.AnalyticsSnapshot{}, false
	}
	var snap domain.AnalyticsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.AnalyticsSnapshot{}, false
	}
	r.cached = snap
	r.cachedAt = info.ModTime()
	r.hasValue = true
	return snap, true
}

var _ domain.AnalyticsReader = (*FileReader)(nil)

// WriteSnapshot marshals snap and writes it to path via write-then-rename.
func WriteSnapshot(path string, snap domain.AnalyticsSnapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("analyzer: marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("analyzer: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("analyzer: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// RunFromFile reads eventsPath, runs the full analysis, and writes the
// result to outPath.
func RunFromFile(eventsPath, outPath string, bank domain.ItemBank, now time.Time) (domain.AnalyticsSnapshot, error) {
	attempts, sessions, err := ReadEvents(eventsPath)
	if err != nil {
		return domain.AnalyticsSnapshot{}, fmt.Errorf("analyzer: read events: %w", err)
	}
	snap := Run(attempts, sessions, bank, now)
	if err := WriteSnapshot(outPath, snap); err != nil {
		return domain.AnalyticsSnapshot{}, err
	}
	return snap, nil
}
