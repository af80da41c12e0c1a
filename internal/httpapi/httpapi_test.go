package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/studyengine/core/internal/analyzer"
	"github.com/studyengine/core/internal/bank"
	"github.com/studyengine/core/internal/bus"
	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/engine/personalization"
	"github.com/studyengine/core/internal/ingest"
	"github.com/studyengine/core/internal/obs"
	"github.com/studyengine/core/internal/store"
)

func sampleItem(id string, los ...string) domain.Item {
	return domain.Item{
		ID:      id,
		Stem:    "stem",
		Choices: map[domain.Choice]string{"A": "a", "B": "b", "C": "c", "D": "d", "E": "e"},
		Key:     "A",
		RationaleCorrect: "because",
		RationaleDistractors: map[domain.Choice]string{
			"B": "no", "C": "no", "D": "no", "E": "no",
		},
		LOs:         los,
		Difficulty:  domain.DifficultyMedium,
		Bloom:       domain.BloomApply,
		Status:      domain.StatusPublished,
		RubricScore: 3.0,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	raw, _ := json.Marshal(sampleItem("i1", "lo.a"))
	writeFile(t, filepath.Join(dir, "i1.item.json"), raw)

	b, err := bank.Load([]string{dir})
	if err != nil {
		t.Fatalf("bank.Load: %v", err)
	}

	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	logger := obs.NewLogger(nil)
	metrics := obs.NewMetrics(nil)

	evBus := bus.New()
	lessonDir := t.TempDir()
	lessonStore, err := bus.NewFileLessonStore(lessonDir)
	if err != nil {
		t.Fatalf("lesson store: %v", err)
	}
	bus.NewLessonService(evBus, lessonStore, logger)
	engine := personalization.NewEngine("test", "1.0.0", 42)
	bus.NewStateService(evBus, st, engine, logger, metrics, "")

	reader := analyzer.NewFileReader(filepath.Join(t.TempDir(), "latest.json"))

	ingestHandler := ingest.NewHandler(ingest.Config{
		Token:         "secret",
		Window:        time.Minute,
		WindowMax:     100,
		MaxBytes:      1 << 20,
		SchemaVersion: "1.1.0",
	}, ingest.NewEventSink(filepath.Join(t.TempDir(), "events.ndjson")), nil, b, evBus, logger, metrics)

	blueprints := map[string]domain.Blueprint{
		"bp1": {ID: "bp1", SchemaVersion: "1.1.0", Weights: map[string]float64{"lo.a": 1}},
	}

	return New(b, st, reader, blueprints, engine, evBus, ingestHandler, nil, logger, metrics)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestHandleGetLearnerState_ReturnsDefaultDocument(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/learner-state/learner1", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rw.Code, rw.Body.String())
	}
	var state domain.LearnerState
	if err := json.Unmarshal(rw.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.LearnerID != "learner1" {
		t.Fatalf("learner id = %q, want learner1", state.LearnerID)
	}
}

func TestHandleBuildForm_Success(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(buildFormRequest{BlueprintID: "bp1", FormLength: 1, Seed: 1})
	req := httptest.NewRequest(http.MethodPost, "/api/forms/build", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rw.Code, rw.Body.String())
	}
	var form domain.ExamForm
	if err := json.Unmarshal(rw.Body.Bytes(), &form); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(form.Items) != 1 || form.Items[0].ID != "i1" {
		t.Fatalf("unexpected form: %+v", form)
	}
}

func TestHandleBuildForm_UnknownBlueprintIs404(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(buildFormRequest{BlueprintID: "missing", FormLength: 1})
	req := httptest.NewRequest(http.MethodPost, "/api/forms/build", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rw.Code)
	}
}

func TestHandleSelectNext_ReturnsSuggestion(t *testing.T) {
	s := newTestServer(t)
	reqBody := map[string]interface{}{
		"learner_id": "learner1",
		"candidates": []map[string]interface{}{
			{"ID": "i1", "LOIds": []string{"lo.a"}, "Beta": 0.0, "MedianTimeSeconds": 30},
		},
	}
	raw, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/api/select-next", bytes.NewReader(raw))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rw.Code, rw.Body.String())
	}
}

func TestHandleSelectNext_NoCandidatesIs404(t *testing.T) {
	s := newTestServer(t)
	reqBody := map[string]interface{}{"learner_id": "learner1", "candidates": []interface{}{}}
	raw, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/api/select-next", bytes.NewReader(raw))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rw.Code)
	}
}

func TestHandleSaveLesson_ValidLessonReturns201(t *testing.T) {
	s := newTestServer(t)
	reqBody := map[string]interface{}{
		"lesson": domain.Lesson{ID: "l1", Title: "Intro", LOIds: []string{"lo.a"}, Body: "body"},
	}
	raw, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/api/lessons", bytes.NewReader(raw))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rw.Code, rw.Body.String())
	}
}

func TestHandleSaveLesson_InvalidLessonReturns422(t *testing.T) {
	s := newTestServer(t)
	reqBody := map[string]interface{}{"lesson": domain.Lesson{ID: "l1"}}
	raw, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/api/lessons", bytes.NewReader(raw))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rw.Code, rw.Body.String())
	}
}

func TestHandleAnalyticsLatest_NoSnapshotIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/analytics/latest", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rw.Code)
	}
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
}
