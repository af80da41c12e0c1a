package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/engine/personalization"
	"github.com/studyengine/core/internal/obs"
)

// StateService subscribes to ANSWER_SUBMITTED, folds the attempt into
// the learner's state via the personalization engine, persists it, and
// emits STATE_UPDATED. It also appends a line to an NDJSON snapshot log
// for offline inspection/replay.
type StateService struct {
	bus          *Bus
	store        domain.LearnerStateStore
	engine       personalization.Engine
	logger       *obs.Logger
	metrics      *obs.Metrics
	snapshotPath string

	mu sync.Mutex // serializes snapshot file appends
}

// NewStateService wires a StateService to bus and subscribes it
// immediately.
func NewStateService(b *Bus, store domain.LearnerStateStore, engine personalization.Engine, logger *obs.Logger, metrics *obs.Metrics, snapshotPath string) *StateService {
	s := &StateService{bus: b, store: store, engine: engine, logger: logger, metrics: metrics, snapshotPath: snapshotPath}
	b.On(TopicAnswerSubmitted, s.handleAnswerSubmitted)
	return s
}

func (s *StateService) handleAnswerSubmitted(payload interface{}) {
	evt, ok := payload.(domain.AnswerSubmitted)
	if !ok {
		return
	}

	ctx := context.Background()
	state, err := s.store.Load(ctx, evt.LearnerID)
	if err != nil {
		s.logger.Error("state service: load failed", obs.Fields{"learner_id": evt.LearnerID, "err": err.Error()})
		return
	}

	updated := s.engine.Update(state, evt.LOIds, evt.ItemID, evt.Difficulty, evt.Correct, evt.Ts)

	saved, err := s.store.Save(ctx, evt.LearnerID, updated)
	if err != nil {
		s.logger.Error("state service: save failed", obs.Fields{"learner_id": evt.LearnerID, "err": err.Error()})
		return
	}
	if s.metrics != nil {
		s.metrics.LearnerStateMutations.Inc()
	}

	s.appendSnapshot(saved, evt.Ts)

	s.bus.Emit(TopicStateUpdated, domain.StateUpdated{
		LearnerID: evt.LearnerID,
		State:     saved,
		Reason:    "answer_submitted",
		Ts:        evt.Ts,
	})
}

func (s *StateService) appendSnapshot(state domain.LearnerState, ts int64) {
	if s.snapshotPath == "" {
		return
	}
	raw, err := json.Marshal(struct {
		Ts    int64               `json:"ts"`
		State domain.LearnerState `json:"state"`
	}{Ts: ts, State: state})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.snapshotPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(raw)
	f.Write([]byte("\n"))
}

// LessonStore abstracts where a validated lesson artifact is written.
type LessonStore interface {
	SaveLesson(ctx context.Context, lesson domain.Lesson) error
}

// FileLessonStore persists each lesson as its own JSON file, grounded
// on the same write-then-rename idiom internal/store uses for learner
// documents.
type FileLessonStore struct {
	dir string
}

// NewFileLessonStore returns a FileLessonStore rooted at dir.
func NewFileLessonStore(dir string) (*FileLessonStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lesson store: create dir %s: %w", dir, err)
	}
	return &FileLessonStore{dir: dir}, nil
}

func (f *FileLessonStore) SaveLesson(ctx context.Context, lesson domain.Lesson) error {
	raw, err := json.MarshalIndent(lesson, "", "  ")
	if err != nil {
		return fmt.Errorf("lesson store: marshal %s: %w", lesson.ID, err)
	}
	target := filepath.Join(f.dir, lesson.ID+".json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("lesson store: write %s: %w", lesson.ID, err)
	}
	return os.Rename(tmp, target)
}

// LessonService subscribes to SAVE_LESSON_REQUESTED, validates the
// lesson, persists it, and emits LESSON_CREATED.
type LessonService struct {
	bus    *Bus
	store  LessonStore
	logger *obs.Logger
}

// NewLessonService wires a LessonService to bus and subscribes it
// immediately.
func NewLessonService(b *Bus, store LessonStore, logger *obs.Logger) *LessonService {
	s := &LessonService{bus: b, store: store, logger: logger}
	b.On(TopicSaveLessonRequested, s.handleSaveLessonRequested)
	return s
}

func (s *LessonService) handleSaveLessonRequested(payload interface{}) {
	evt, ok := payload.(domain.SaveLessonRequested)
	if !ok {
		return
	}

	if errs := evt.Lesson.Validate(); len(errs) > 0 {
		s.logger.Warn("lesson service: rejected invalid lesson", obs.Fields{
			"request_id": evt.RequestID,
			"errors":     len(errs),
		})
		return
	}

	if err := s.store.SaveLesson(context.Background(), evt.Lesson); err != nil {
		s.logger.Error("lesson service: save failed", obs.Fields{"request_id": evt.RequestID, "err": err.Error()})
		return
	}

	s.bus.Emit(TopicLessonCreated, domain.LessonCreated{
		Lesson: evt.Lesson,
		JobID:  evt.RequestID,
	})
}
