package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/studyengine/core/internal/bus"
	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/obs"
)

type fakeBank struct {
	items map[string]domain.Item
}

func (b *fakeBank) Get(id string) (domain.Item, bool) { it, ok := b.items[id]; return it, ok }
func (b *fakeBank) ItemsForLO(loID string) []domain.Item {
	var out []domain.Item
	for _, it := range b.items {
		for _, lo := range it.LOs {
			if lo == loID {
				out = append(out, it)
			}
		}
	}
	return out
}
func (b *fakeBank) All() []domain.Item {
	out := make([]domain.Item, 0, len(b.items))
	for _, it := range b.items {
		out = append(out, it)
	}
	return out
}

type fakeMirror struct {
	attempts int
	sessions int
	fail     bool
}

func (m *fakeMirror) InsertAttempt(ctx context.Context, e domain.AttemptEvent) error {
	if m.fail {
		return domain.ErrMirrorUnavailable
	}
	m.attempts++
	return nil
}
func (m *fakeMirror) InsertSession(ctx context.Context, e domain.SessionEvent) error {
	if m.fail {
		return domain.ErrMirrorUnavailable
	}
	m.sessions++
	return nil
}

func newTestHandler(t *testing.T, cfg Config) (*Handler, string, *bus.Bus, *fakeMirror) {
	t.Helper()
	dir := t.TempDir()
	sinkPath := filepath.Join(dir, "events.ndjson")
	sink := NewEventSink(sinkPath)
	mirror := &fakeMirror{}
	bank := &fakeBank{items: map[string]domain.Item{
		"item-1": {ID: "item-1", LOs: []string{"lo.a"}, Difficulty: domain.DifficultyHard},
	}}
	b := bus.New()
	logger := obs.NewLogger(&bytes.Buffer{})
	h := NewHandler(cfg, sink, mirror, bank, b, logger, nil)
	return h, sinkPath, b, mirror
}

func baseConfig() Config {
	return Config{
		Token:         "",
		Window:        time.Second,
		WindowMax:     3,
		MaxBytes:      4096,
		SchemaVersion: "1.1.0",
		UseMirror:     true,
	}
}

func attemptBody() domain.AttemptEvent {
	return domain.AttemptEvent{
		SchemaVersion: "1.1.0",
		SessionID:     "sess-1",
		UserID:        "user-1",
		ItemID:        "item-1",
		LOIds:         []string{"lo.a"},
		TsStart:       1000,
		TsSubmit:      1500,
		DurationMs:    500,
		Mode:          domain.ModeLearn,
		Choice:        domain.ChoiceA,
		Correct:       true,
	}
}

func doPost(h *Handler, fn http.HandlerFunc, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/attempts", bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestHandleAttempts_Success(t *testing.T) {
	h, sinkPath, b, mirror := newTestHandler(t, baseConfig())

	var emitted []domain.AnswerSubmitted
	b.On(bus.TopicAnswerSubmitted, func(p interface{}) {
		if e, ok := p.(domain.AnswerSubmitted); ok {
			emitted = append(emitted, e)
		}
	})

	rec := doPost(h, h.HandleAttempts, attemptBody(), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(emitted) != 1 || emitted[0].Difficulty != domain.DifficultyHard {
		t.Fatalf("unexpected emitted events: %+v", emitted)
	}
	if mirror.attempts != 1 {
		t.Fatalf("expected mirror insert, got %d", mirror.attempts)
	}

	raw, err := os.ReadFile(sinkPath)
	if err != nil || len(raw) == 0 {
		t.Fatalf("expected ndjson line written: %v", err)
	}
}

func TestHandleAttempts_MirrorFailureDoesNotBlock(t *testing.T) {
	h, _, _, mirror := newTestHandler(t, baseConfig())
	mirror.fail = true

	rec := doPost(h, h.HandleAttempts, attemptBody(), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 even when mirror fails", rec.Code)
	}
}

func TestHandleAttempts_WrongSchemaVersion(t *testing.T) {
	h, _, _, _ := newTestHandler(t, baseConfig())
	a := attemptBody()
	a.SchemaVersion = "0.0.1"
	rec := doPost(h, h.HandleAttempts, a, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAttempts_ValidationFailureIs422(t *testing.T) {
	h, _, _, _ := newTestHandler(t, baseConfig())
	a := attemptBody()
	a.ItemID = ""
	rec := doPost(h, h.HandleAttempts, a, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleAttempts_AuthRequired(t *testing.T) {
	cfg := baseConfig()
	cfg.Token = "secret"
	h, _, _, _ := newTestHandler(t, cfg)

	rec := doPost(h, h.HandleAttempts, attemptBody(), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doPost(h, h.HandleAttempts, attemptBody(), map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 with correct token", rec.Code)
	}
}

func TestHandleAttempts_SizeGuard(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxBytes = 10
	h, _, _, _ := newTestHandler(t, cfg)

	rec := doPost(h, h.HandleAttempts, attemptBody(), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleAttempts_RateLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.WindowMax = 2
	cfg.Window = time.Minute
	h, _, _, _ := newTestHandler(t, cfg)

	for i := 0; i < 2; i++ {
		rec := doPost(h, h.HandleAttempts, attemptBody(), nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, rec.Code)
		}
	}
	rec := doPost(h, h.HandleAttempts, attemptBody(), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	retryAfter := rec.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected a Retry-After header on the 429 response")
	}
	seconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Fatalf("Retry-After not an integer: %q", retryAfter)
	}
	if seconds <= 0 || seconds > 60 {
		t.Fatalf("Retry-After = %d, want within the 60s window", seconds)
	}
}

func TestHandleAttempts_MalformedJSON(t *testing.T) {
	h, _, _, _ := newTestHandler(t, baseConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/attempts", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.HandleAttempts(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSessions_Success(t *testing.T) {
	h, _, _, mirror := newTestHandler(t, baseConfig())
	evt := domain.SessionEvent{
		SchemaVersion: "1.1.0",
		SessionID:     "sess-1",
		UserID:        "user-1",
		Mode:          domain.ModeExam,
		StartTs:       1000,
	}
	raw, _ := json.Marshal(evt)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.HandleSessions(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if mirror.sessions != 1 {
		t.Fatalf("expected mirror session insert, got %d", mirror.sessions)
	}
}

func TestClientFingerprint_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	if got := clientFingerprint(req); got != "1.2.3.4" {
		t.Fatalf("fingerprint = %q, want 1.2.3.4", got)
	}
}

func TestClientFingerprint_FallsBackToUnknown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := clientFingerprint(req); got != "unknown" {
		t.Fatalf("fingerprint = %q, want unknown", got)
	}
}
