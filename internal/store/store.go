// Package store implements the durable per-learner state document:
// one JSON file per learner under a configured directory, serialized
// per learner id so two concurrent mutations on the same learner never
// interleave. Follows the same upsert-then-read-back shape as the
// SQL mirror, adapted from a SQL upsert to an atomic write-then-rename
// over a small JSON document since a single learner's state is a
// self-contained blob, not a relational row set.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/studyengine/core/internal/domain"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

func sanitizeLearnerID(id string) string {
	return unsafeFilenameChars.ReplaceAllString(id, "_")
}

// FileStore is a domain.LearnerStateStore backed by one JSON file per
// learner. Safe for concurrent use by multiple goroutines.
type FileStore struct {
	dir   string
	locks sync.Map // sanitized learnerID -> *sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) lockFor(learnerID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(sanitizeLearnerID(learnerID), &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *FileStore) path(learnerID string) string {
	return filepath.Join(s.dir, sanitizeLearnerID(learnerID)+".json")
}

// Load reads the learner's document, or returns a fresh, sanitized
// zero-state document if none exists yet.
func (s *FileStore) Load(ctx context.Context, learnerID string) (domain.LearnerState, error) {
	if learnerID == "" {
		return domain.LearnerState{}, domain.ErrLearnerIDInvalid
	}
	mu := s.lockFor(learnerID)
	mu.Lock()
	defer mu.Unlock()
	return s.loadLocked(learnerID)
}

func (s *FileStore) loadLocked(learnerID string) (domain.LearnerState, error) {
	raw, err := os.ReadFile(s.path(learnerID))
	if os.IsNotExist(err) {
		return domain.NewLearnerState(learnerID), nil
	}
	if err != nil {
		return domain.LearnerState{}, fmt.Errorf("store: read %s: %w", learnerID, err)
	}

	var state domain.LearnerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.LearnerState{}, fmt.Errorf("store: corrupt document for %s: %w", learnerID, err)
	}
	return sanitize(state, learnerID), nil
}

// sanitize repairs a document read from disk: fills missing maps,
// floors out-of-range numerics, and truncates rolling windows back to
// their configured length. A corrupted or hand-edited file should never
// crash the engine — it should be coerced into something usable.
func sanitize(state domain.LearnerState, learnerID string) domain.LearnerState {
	if state.LearnerID == "" {
		state.LearnerID = learnerID
	}
	if state.LOs == nil {
		state.LOs = map[string]domain.LoState{}
	}
	if state.Items == nil {
		state.Items = map[string]domain.ItemState{}
	}
	if state.Retention == nil {
		state.Retention = map[string]domain.RetentionCard{}
	}

	for id, lo := range state.LOs {
		if lo.SE <= 0 || lo.SE != lo.SE { // NaN check via self-inequality
			lo.SE = domain.MinSE
		}
		if lo.PriorSigma < domain.MinPriorSigma {
			lo.PriorSigma = domain.MinPriorSigma
		}
		if lo.ItemsAttempted < 0 {
			lo.ItemsAttempted = 0
		}
		if len(lo.RecentSEs) > domain.RecentSeWindow {
			lo.RecentSEs = lo.RecentSEs[len(lo.RecentSEs)-domain.RecentSeWindow:]
		}
		state.LOs[id] = lo
	}

	for id, it := range state.Items {
		if it.Attempts < 0 {
			it.Attempts = 0
		}
		if it.Correct < 0 {
			it.Correct = 0
		}
		if it.Correct > it.Attempts {
			it.Correct = it.Attempts
		}
		if len(it.RecentAttemptTs) > domain.RecentAttemptWindow {
			it.RecentAttemptTs = it.RecentAttemptTs[len(it.RecentAttemptTs)-domain.RecentAttemptWindow:]
		}
		state.Items[id] = it
	}

	for id, card := range state.Retention {
		if card.HalfLifeHours < domain.MinHalfLifeHours {
			card.HalfLifeHours = domain.MinHalfLifeHours
		}
		if card.Lapses < 0 {
			card.Lapses = 0
		}
		state.Retention[id] = card
	}

	return state
}

// Save persists state under learnerID, overwriting any prior document.
// The write is atomic (write to a temp file, then rename) so a reader
// never observes a partially written document.
func (s *FileStore) Save(ctx context.Context, learnerID string, state domain.LearnerState) (domain.LearnerState, error) {
	if learnerID == "" {
		return domain.LearnerState{}, domain.ErrLearnerIDInvalid
	}
	if state.LearnerID != "" && state.LearnerID != learnerID {
		return domain.LearnerState{}, domain.ErrLearnerIDMismatch
	}
	mu := s.lockFor(learnerID)
	mu.Lock()
	defer mu.Unlock()
	return s.saveLocked(learnerID, state)
}

func (s *FileStore) saveLocked(learnerID string, state domain.LearnerState) (domain.LearnerState, error) {
	state.LearnerID = learnerID
	state = sanitize(state, learnerID)

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return domain.LearnerState{}, fmt.Errorf("store: marshal %s: %w", learnerID, err)
	}

	target := s.path(learnerID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return domain.LearnerState{}, fmt.Errorf("store: write %s: %w", learnerID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return domain.LearnerState{}, fmt.Errorf("store: commit %s: %w", learnerID, err)
	}
	return state, nil
}

// UpdateLoState loads the learner, applies updater to the named LO's
// state (starting from its default if absent), and saves the result —
// all while holding the learner's lock, so the read-modify-write is
// atomic with respect to other callers of this store.
func (s *FileStore) UpdateLoState(ctx context.Context, learnerID, loID string, updater func(domain.LoState) domain.LoState) (domain.LearnerState, error) {
	if learnerID == "" {
		return domain.LearnerState{}, domain.ErrLearnerIDInvalid
	}
	mu := s.lockFor(learnerID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.loadLocked(learnerID)
	if err != nil {
		return domain.LearnerState{}, err
	}
	current := state.LoOrDefault(loID)
	state.LOs[loID] = updater(current)
	return s.saveLocked(learnerID, state)
}

// RecordItemExposure loads the learner, folds one more attempt into the
// named item's exposure history, and saves the result.
func (s *FileStore) RecordItemExposure(ctx context.Context, learnerID, itemID string, correct bool, ts int64) (domain.LearnerState, error) {
	if learnerID == "" {
		return domain.LearnerState{}, domain.ErrLearnerIDInvalid
	}
	mu := s.lockFor(learnerID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.loadLocked(learnerID)
	if err != nil {
		return domain.LearnerState{}, err
	}
	item := state.Items[itemID]
	item.Attempts++
	if correct {
		item.Correct++
	}
	item.LastAttemptTs = ts
	item.PushRecentAttempt(ts)
	state.Items[itemID] = item

	return s.saveLocked(learnerID, state)
}

var _ domain.LearnerStateStore = (*FileStore)(nil)
