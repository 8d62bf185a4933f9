package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/mentora/internal/config"
	"github.com/antoniostano/mentora/internal/hybrid"
	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/observability"
	"github.com/antoniostano/mentora/internal/perf"
	"github.com/antoniostano/mentora/internal/pipeline"
	"github.com/antoniostano/mentora/internal/reliability"
	"github.com/antoniostano/mentora/internal/retrieval"
)

// Retriever assembles the context bundle for one query.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string, limit int) (hybrid.Bundle, error)
}

// Runner executes pipelines against a bundle.
type Runner interface {
	Run(ctx context.Context, pipelineName, userID, query string, bundle hybrid.Bundle) (pipeline.Execution, error)
	RunAll(ctx context.Context, userID, query string, bundle hybrid.Bundle) pipeline.Comparison
	Names() []string
}

type Server struct {
	cfg       config.Config
	retriever Retriever
	runner    Runner
	store     memory.Store
	index     retrieval.Index
	agg       *perf.Aggregator
	metrics   *observability.Metrics
}

func New(cfg config.Config, retriever Retriever, runner Runner, store memory.Store, index retrieval.Index, agg *perf.Aggregator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		retriever: retriever,
		runner:    runner,
		store:     store,
		index:     index,
		agg:       agg,
		metrics:   metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/query", s.handleQuery)
	r.Post("/v1/query/compare", s.handleQueryCompare)

	r.Get("/v1/profile/{userID}", s.handleGetProfile)
	r.Put("/v1/profile/{userID}/preferences", s.handleUpdatePreferences)
	r.Put("/v1/profile/{userID}/goals", s.handleUpdateGoals)

	r.Post("/v1/memory/{userID}/events", s.handleStoreEvent)
	r.Put("/v1/memory/semantic", s.handleStoreSemantic)
	r.Put("/v1/memory/procedural", s.handleStoreProcedural)
	r.Get("/v1/memory/stats", s.handleMemoryStats)

	r.Post("/v1/documents", s.handleIndexDocument)

	r.Get("/v1/perf/summary", s.handlePerfSummary)
	r.Get("/v1/perf/recommendation", s.handlePerfRecommendation)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"pipelines": s.runner.Names(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type queryRequest struct {
	UserID       string `json:"user_id"`
	Query        string `json:"query"`
	Pipeline     string `json:"pipeline,omitempty"`
	ContextLimit *int   `json:"context_limit,omitempty"`
}

type queryResponse struct {
	Pipeline   string          `json:"pipeline"`
	Result     pipeline.Result `json:"result"`
	Degraded   bool            `json:"degraded"`
	DurationMS int64           `json:"duration_ms"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "user_id and query are required")
		return
	}

	pipelineName := strings.TrimSpace(req.Pipeline)
	if pipelineName == "" {
		pipelineName = "direct"
	}

	bundle, err := s.retriever.Retrieve(r.Context(), req.UserID, req.Query, s.contextLimit(req.ContextLimit))
	if err != nil {
		respondClassified(w, err)
		return
	}

	exec, err := s.runner.Run(r.Context(), pipelineName, req.UserID, req.Query, bundle)
	if err != nil {
		respondClassified(w, err)
		return
	}

	respondJSON(w, http.StatusOK, queryResponse{
		Pipeline:   exec.Pipeline,
		Result:     exec.Result,
		Degraded:   bundle.Degraded,
		DurationMS: exec.Duration.Milliseconds(),
	})
}

func (s *Server) handleQueryCompare(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "user_id and query are required")
		return
	}

	bundle, err := s.retriever.Retrieve(r.Context(), req.UserID, req.Query, s.contextLimit(req.ContextLimit))
	if err != nil {
		respondClassified(w, err)
		return
	}

	cmp := s.runner.RunAll(r.Context(), req.UserID, req.Query, bundle)
	respondJSON(w, http.StatusOK, cmp)
}

func (s *Server) contextLimit(override *int) int {
	if override != nil {
		return *override
	}
	return s.cfg.DefaultContextLimit
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req struct {
		Preferences map[string]string `json:"preferences"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	profile, err := s.store.UpdatePreferences(r.Context(), userID, req.Preferences)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateGoals(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req struct {
		LearningGoals []string `json:"learning_goals"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	profile, err := s.store.UpdateLearningGoals(r.Context(), userID, req.LearningGoals)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleStoreEvent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var ev memory.Event
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	id, err := s.store.StoreEpisodic(r.Context(), userID, ev)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleStoreSemantic(w http.ResponseWriter, r *http.Request) {
	var rec memory.SemanticRecord
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.store.StoreSemantic(r.Context(), rec); err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"concept_key": rec.ConceptKey})
}

func (s *Server) handleStoreProcedural(w http.ResponseWriter, r *http.Request) {
	var rec memory.ProceduralRecord
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.store.StoreProcedural(r.Context(), rec); err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"skill_key": rec.SkillKey})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondClassified(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.MemoryRecords.WithLabelValues("episodic").Set(float64(stats.Episodic))
		s.metrics.MemoryRecords.WithLabelValues("semantic").Set(float64(stats.Concepts))
		s.metrics.MemoryRecords.WithLabelValues("procedural").Set(float64(stats.Skills))
	}
	respondJSON(w, http.StatusOK, stats)
}

type indexDocumentRequest struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Text     string `json:"text"`
	// UserID routes the document to that user's personal collection;
	// empty means the shared global collection.
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var req indexDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "id and text are required")
		return
	}

	collection := retrieval.GlobalCollection
	if strings.TrimSpace(req.UserID) != "" {
		collection = retrieval.PersonalCollection(req.UserID)
	}

	chunkIDs, err := s.index.IndexDocument(r.Context(), collection, retrieval.Document{
		ID:       req.ID,
		SourceID: req.SourceID,
		Text:     req.Text,
	})
	if err != nil {
		respondClassified(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.DocumentsIndexed.Inc()
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"collection": collection,
		"chunks":     len(chunkIDs),
		"chunk_ids":  chunkIDs,
	})
}

func (s *Server) handlePerfSummary(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.agg.Snapshot())
}

func (s *Server) handlePerfRecommendation(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.agg.Recommend())
}

// respondClassified maps the error taxonomy onto HTTP statuses.
func respondClassified(w http.ResponseWriter, err error) {
	kind := reliability.Classify(err)
	switch kind {
	case reliability.KindValidation:
		respondError(w, http.StatusBadRequest, string(kind), err.Error())
	case reliability.KindTimeout:
		respondError(w, http.StatusGatewayTimeout, string(kind), err.Error())
	case reliability.KindRateLimited, reliability.KindBackendUnavailable, reliability.KindRetrievalUnavailable:
		respondError(w, http.StatusBadGateway, string(kind), err.Error())
	case reliability.KindStorage:
		respondError(w, http.StatusServiceUnavailable, string(kind), err.Error())
	default:
		respondError(w, http.StatusInternalServerError, string(kind), err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
