// Package httpapi exposes the study engine over HTTP: telemetry
// ingest, learner state, form building, next-item selection, search,
// and the lesson extension point. Grounded on internal/api/server.go's
// chi router + middleware chain + writeJSON/writeError idiom.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyengine/core/internal/apperr"
	"github.com/studyengine/core/internal/bus"
	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/engine/blueprint"
	"github.com/studyengine/core/internal/engine/personalization"
	"github.com/studyengine/core/internal/engine/selector"
	"github.com/studyengine/core/internal/ingest"
	"github.com/studyengine/core/internal/obs"
	"github.com/studyengine/core/internal/search"
)

// Server wires every engine component into a single HTTP surface.
type Server struct {
	bank           domain.ItemBank
	store          domain.LearnerStateStore
	analytics      domain.AnalyticsReader
	blueprints     map[string]domain.Blueprint
	engine         personalization.Engine
	bus            *bus.Bus
	ingestHandler  *ingest.Handler
	searchIndex    *search.Index
	logger         *obs.Logger
	metrics        *obs.Metrics
	metricsEnabled bool
}

// New assembles a Server. blueprints maps blueprint id to the loaded
// domain.Blueprint, built once at startup from BlueprintPath.
func New(
	bank domain.ItemBank,
	store domain.LearnerStateStore,
	analytics domain.AnalyticsReader,
	blueprints map[string]domain.Blueprint,
	engine personalization.Engine,
	b *bus.Bus,
	ingestHandler *ingest.Handler,
	searchIndex *search.Index,
	logger *obs.Logger,
	metrics *obs.Metrics,
) *Server {
	return &Server{
		bank:          bank,
		store:         store,
		analytics:     analytics,
		blueprints:    blueprints,
		engine:        engine,
		bus:           b,
		ingestHandler: ingestHandler,
		searchIndex:   searchIndex,
		logger:        logger,
		metrics:       metrics,
	}
}

// EnableMetrics mounts /metrics on the next call to Handler.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/attempts", s.ingestHandler.HandleAttempts)
		r.Post("/sessions", s.ingestHandler.HandleSessions)
		r.Get("/learner-state/{learnerId}", s.handleGetLearnerState)
		r.Patch("/learner-state/{learnerId}", s.handlePatchLearnerState)
		r.Post("/forms/build", s.handleBuildForm)
		r.Post("/select-next", s.handleSelectNext)
		r.Post("/lessons", s.handleSaveLesson)
		r.Get("/search", s.handleSearch)
		r.Get("/analytics/latest", s.handleAnalyticsLatest)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetLearnerState(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerId")
	state, err := s.store.Load(r.Context(), learnerID)
	if err != nil {
		writeAppErr(w, apperr.FromDomain(err))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePatchLearnerState(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerId")
	var patch domain.LearnerState
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeAppErr(w, apperr.BadRequest("malformed request body", err))
		return
	}
	patch.LearnerID = learnerID
	saved, err := s.store.Save(r.Context(), learnerID, patch)
	if err != nil {
		writeAppErr(w, apperr.FromDomain(err))
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type buildFormRequest struct {
	BlueprintID string `json:"blueprint_id"`
	FormLength  int    `json:"form_length"`
	Seed        int64  `json:"seed"`
}

func (s *Server) handleBuildForm(w http.ResponseWriter, r *http.Request) {
	var req buildFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.BadRequest("malformed request body", err))
		return
	}
	bp, ok := s.blueprints[req.BlueprintID]
	if !ok {
		writeAppErr(w, apperr.NotFound("blueprint not found", nil))
		return
	}
	if len(bp.Weights) == 0 {
		writeAppErr(w, apperr.FromDomain(domain.ErrBlueprintMissing))
		return
	}

	items, err := blueprint.BuildFormGreedy(blueprint.BuildFormInput{
		Blueprint:  bp,
		Items:      publishedItems(s.bank),
		FormLength: req.FormLength,
		Seed:       req.Seed,
	})
	if err != nil {
		writeAppErr(w, apperr.FromDomain(err))
		return
	}

	writeJSON(w, http.StatusOK, domain.ExamForm{BlueprintID: bp.ID, Seed: req.Seed, Items: items})
}

type selectNextRequest struct {
	LearnerID      string                    `json:"learner_id"`
	Candidates     []selector.CandidateItem `json:"candidates"`
	ExposurePolicy string                    `json:"exposure_policy,omitempty"`
}

type selectNextResponse struct {
	Selection *personalization.Suggestion `json:"selection"`
	Rationale string                      `json:"rationale"`
}

func (s *Server) handleSelectNext(w http.ResponseWriter, r *http.Request) {
	var req selectNextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.BadRequest("malformed request body", err))
		return
	}
	if req.LearnerID == "" {
		writeAppErr(w, apperr.FromDomain(domain.ErrLearnerIDInvalid))
		return
	}

	state, err := s.store.Load(r.Context(), req.LearnerID)
	if err != nil {
		writeAppErr(w, apperr.FromDomain(err))
		return
	}

	policy := selector.IdentityExposure
	if req.ExposurePolicy == "capped" {
		policy = selector.CappedExposure(5, 20, 4)
	}

	start := time.Now()
	suggestion := s.engine.SuggestNext(state, req.Candidates, policy)
	if s.metrics != nil {
		s.metrics.SelectorDuration.Observe(time.Since(start).Seconds())
	}
	if suggestion == nil {
		writeAppErr(w, apperr.NotFound(domain.ErrNoEligibleCandidates.Error(), domain.ErrNoEligibleCandidates))
		return
	}

	writeJSON(w, http.StatusOK, selectNextResponse{Selection: suggestion, Rationale: suggestion.Rationale})
}

func (s *Server) handleSaveLesson(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lesson domain.Lesson `json:"lesson"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAppErr(w, apperr.BadRequest("malformed request body", err))
		return
	}

	if errs := body.Lesson.Validate(); len(errs) > 0 {
		writeAppErr(w, apperr.Invalid("lesson failed validation", issueStrings(errs)))
		return
	}

	requestID := uuid.NewString()
	created := make(chan domain.LessonCreated, 1)
	unsubscribe := s.bus.On(bus.TopicLessonCreated, func(payload interface{}) {
		evt, ok := payload.(domain.LessonCreated)
		if ok && evt.JobID == requestID {
			select {
			case created <- evt:
			default:
			}
		}
	})
	defer unsubscribe()

	s.bus.Emit(bus.TopicSaveLessonRequested, domain.SaveLessonRequested{
		Lesson:    body.Lesson,
		RequestID: requestID,
	})

	select {
	case evt := <-created:
		writeJSON(w, http.StatusCreated, evt.Lesson)
	default:
		writeAppErr(w, apperr.Invalid("lesson could not be saved", nil))
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searchIndex == nil {
		writeJSON(w, http.StatusOK, []search.Result{})
		return
	}
	q := search.Query{Text: r.URL.Query().Get("q")}
	results := s.searchIndex.Search(q, time.Now())
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleAnalyticsLatest(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.analytics.Latest()
	if !ok {
		writeAppErr(w, apperr.FromDomain(domain.ErrSnapshotNotFound))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// publishedItems filters a bank down to items ready for form assembly.
// domain.ItemBank only guarantees Get/ItemsForLO/All, so the publish
// filter lives here rather than assuming a concrete bank type.
func publishedItems(bank domain.ItemBank) []domain.Item {
	all := bank.All()
	out := make([]domain.Item, 0, len(all))
	for _, it := range all {
		if it.Status == domain.StatusPublished {
			out = append(out, it)
		}
	}
	return out
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

func writeAppErr(w http.ResponseWriter, err *apperr.Error) {
	writeJSON(w, err.Status, map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    err.Kind,
			"message": err.Error(),
			"issues":  err.Issues,
		},
	})
}
