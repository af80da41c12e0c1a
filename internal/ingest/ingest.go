// Package ingest implements the telemetry HTTP endpoints: auth, size
// guard, rate limit, schema validation, durable append, optional
// external-table mirroring, and bus emission. Grounded on
// internal/api/server.go's handler-method-on-struct + writeJSON/
// writeError idiom.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studyengine/core/internal/apperr"
	"github.com/studyengine/core/internal/bus"
	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/obs"
)

// EventSink appends one NDJSON line per event to a file, creating
// parent directories as needed. Appends are ordered (guarded by a
// mutex) but not fsync-guaranteed.
type EventSink struct {
	path string
	mu   sync.Mutex
}

// NewEventSink returns an EventSink writing to path.
func NewEventSink(path string) *EventSink {
	return &EventSink{path: path}
}

func (s *EventSink) append(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ingest: marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ingest: mkdir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ingest: open %s: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("ingest: write %s: %w", s.path, err)
	}
	return nil
}

// AppendAttempt satisfies domain.EventSink.
func (s *EventSink) AppendAttempt(e domain.AttemptEvent) error { return s.append(e) }

// AppendSession satisfies domain.EventSink.
func (s *EventSink) AppendSession(e domain.SessionEvent) error { return s.append(e) }

var _ domain.EventSink = (*EventSink)(nil)

// Handler serves the telemetry ingest endpoints.
type Handler struct {
	token        string
	maxBytes     int64
	schemaVer    string
	limiter      *windowLimiter
	sink         domain.EventSink
	mirror       domain.Mirror
	useMirror    bool
	bank         domain.ItemBank
	bus          *bus.Bus
	logger       *obs.Logger
	metrics      *obs.Metrics
}

// Config bundles the runtime knobs Handler needs. Kept separate from
// config.Config so this package doesn't import the CLI/env layer.
type Config struct {
	Token         string
	Window        time.Duration
	WindowMax     int
	MaxBytes      int64
	SchemaVersion string
	UseMirror     bool
}

// NewHandler wires a Handler. mirror may be nil even when cfg.UseMirror
// is true — InsertAttempt/InsertSession calls are skipped if so.
func NewHandler(cfg Config, sink domain.EventSink, mirror domain.Mirror, bank domain.ItemBank, b *bus.Bus, logger *obs.Logger, metrics *obs.Metrics) *Handler {
	return &Handler{
		token:     cfg.Token,
		maxBytes:  cfg.MaxBytes,
		schemaVer: cfg.SchemaVersion,
		limiter:   newWindowLimiter(cfg.Window, cfg.WindowMax),
		sink:      sink,
		mirror:    mirror,
		useMirror: cfg.UseMirror,
		bank:      bank,
		bus:       b,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleAttempts serves POST /api/attempts.
func (h *Handler) HandleAttempts(w http.ResponseWriter, r *http.Request) {
	body, appErr := h.guard(r)
	if appErr != nil {
		h.writeErr(w, "attempts", appErr)
		return
	}

	var evt domain.AttemptEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.writeErr(w, "attempts", apperr.BadRequest("malformed json", domain.ErrPayloadMalformed))
		return
	}
	if evt.SchemaVersion != h.schemaVer {
		h.writeErr(w, "attempts", apperr.FromDomain(domain.ErrSchemaVersionMismatch))
		return
	}
	if errs := evt.Validate(); len(errs) > 0 {
		h.writeErr(w, "attempts", apperr.Invalid("attempt event failed validation", issueStrings(errs)))
		return
	}

	if err := h.sink.AppendAttempt(evt); err != nil {
		h.writeErr(w, "attempts", apperr.Internal(err))
		return
	}
	h.mirrorAttempt(r, evt)

	difficulty := h.difficultyFor(evt.ItemID)
	h.bus.Emit(bus.TopicAnswerSubmitted, domain.AnswerSubmitted{
		LearnerID:  evt.UserID,
		ItemID:     evt.ItemID,
		LOIds:      evt.LOIds,
		Difficulty: difficulty,
		Correct:    evt.Correct,
		Ts:         evt.TsSubmit,
	})

	h.countStatus("attempts", http.StatusAccepted)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleSessions serves POST /api/sessions.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	body, appErr := h.guard(r)
	if appErr != nil {
		h.writeErr(w, "sessions", appErr)
		return
	}

	var evt domain.SessionEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.writeErr(w, "sessions", apperr.BadRequest("malformed json", domain.ErrPayloadMalformed))
		return
	}
	if evt.SchemaVersion != h.schemaVer {
		h.writeErr(w, "sessions", apperr.FromDomain(domain.ErrSchemaVersionMismatch))
		return
	}
	if errs := evt.Validate(); len(errs) > 0 {
		h.writeErr(w, "sessions", apperr.Invalid("session event failed validation", issueStrings(errs)))
		return
	}

	if err := h.sink.AppendSession(evt); err != nil {
		h.writeErr(w, "sessions", apperr.Internal(err))
		return
	}
	h.mirrorSession(r, evt)

	h.countStatus("sessions", http.StatusAccepted)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// guard runs auth, size guard, and rate limit, in that order, and
// returns the request body on success.
func (h *Handler) guard(r *http.Request) ([]byte, *apperr.Error) {
	if h.token != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+h.token {
			return nil, apperr.Unauthorized("missing or invalid bearer token")
		}
	}

	limited := io.LimitReader(r.Body, h.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, apperr.BadRequest("failed to read body", err)
	}
	if int64(len(body)) > h.maxBytes {
		return nil, apperr.TooLarge(fmt.Sprintf("body exceeds %d bytes", h.maxBytes))
	}

	key := clientFingerprint(r)
	now := time.Now()
	if !h.limiter.Allow(key, now) {
		if h.metrics != nil {
			h.metrics.IngestRateLimited.Inc()
		}
		return nil, apperr.RateLimited("rate limit exceeded", h.limiter.RetryAfter(key, now))
	}

	return body, nil
}

func clientFingerprint(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return "unknown"
}

func (h *Handler) mirrorAttempt(r *http.Request, evt domain.AttemptEvent) {
	if !h.useMirror || h.mirror == nil {
		return
	}
	if err := h.mirror.InsertAttempt(r.Context(), evt); err != nil {
		h.logger.Warn("ingest: mirror insert attempt failed", obs.Fields{"session_id": evt.SessionID, "err": err.Error()})
	}
}

func (h *Handler) mirrorSession(r *http.Request, evt domain.SessionEvent) {
	if !h.useMirror || h.mirror == nil {
		return
	}
	if err := h.mirror.InsertSession(r.Context(), evt); err != nil {
		h.logger.Warn("ingest: mirror insert session failed", obs.Fields{"session_id": evt.SessionID, "err": err.Error()})
	}
}

func (h *Handler) difficultyFor(itemID string) domain.Difficulty {
	if h.bank == nil {
		return domain.DifficultyMedium
	}
	if item, ok := h.bank.Get(itemID); ok {
		return item.Difficulty
	}
	return domain.DifficultyMedium
}

func (h *Handler) countStatus(endpoint string, status int) {
	if h.metrics == nil {
		return
	}
	h.metrics.IngestRequestsTotal.WithLabelValues(endpoint, fmt.Sprint(status)).Inc()
}

func (h *Handler) writeErr(w http.ResponseWriter, endpoint string, err *apperr.Error) {
	h.countStatus(endpoint, err.Status)
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(err.RetryAfter.Seconds()))))
	}
	writeJSON(w, err.Status, map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    err.Kind,
			"message": err.Message,
			"issues":  err.Issues,
		},
	})
}

func issueStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
