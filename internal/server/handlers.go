package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	query, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	s.logger.Debug("ask request", zap.String("query", query.Text), zap.Int("top_k", query.TopK))
	resp, err := s.orch.Ask(r.Context(), query)
	if err != nil {
		s.respondFailure(w, "ask", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	query, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	start := time.Now()
	results, err := s.orch.Retrieve(r.Context(), query)
	if err != nil {
		s.respondFailure(w, "retrieve", err)
		return
	}
	resp := models.RetrieveResponse{
		Passages:  make([]*models.Passage, len(results)),
		QueryTime: time.Since(start).Milliseconds(),
		Query:     query.Text,
	}
	for i, res := range results {
		resp.Passages[i] = res.Passage
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// maxRequestBytes bounds the size of a JSON request body.
const maxRequestBytes = 1 << 20

// decodeQuery reads a JSON query from the request body and writes the error
// response itself when it cannot.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (models.Query, bool) {
	var query models.Query
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&query)
	if err == nil {
		return query, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	} else {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
	}
	return query, false
}

func (s *Server) handleGetPassage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid passage id")
		return
	}
	passage, ok := s.index.Get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "passage not found")
		return
	}
	s.respondJSON(w, http.StatusOK, passage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := CollectStatus(r.Context(), s.orch, s.index, s.storage, s.config)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// CollectStatus gathers the service status. store may be nil.
func CollectStatus(ctx context.Context, orch *rag.Orchestrator, index vector.Index, store storage.Storage, cfg *config.Config) (*models.Status, error) {
	status := &models.Status{
		State:         orch.State().String(),
		Passages:      index.Size(),
		Dimensions:    index.Dimensions(),
		RetrievalMode: cfg.Retrieval.Mode,
		Embedding:     cfg.Embedding.Provider,
		LLM:           cfg.LLM.Provider,
		ChunkSize:     cfg.Chunking.ChunkSize,
		ChunkOverlap:  cfg.Chunking.Overlap(),
	}
	if store == nil {
		return status, nil
	}
	docs, err := store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	status.Documents = docs
	status.DatabasePath = cfg.Storage.DatabasePath
	if size, err := storage.DatabaseSize(cfg.Storage.DatabasePath); err == nil {
		status.DiskUsageBytes = size
	}
	return status, nil
}

// statusFor maps an orchestrator error to an HTTP status code.
func statusFor(err error) int {
	var ee *embedding.EmbeddingError
	var ge *llm.GenerationError
	switch {
	case errors.Is(err, models.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrNotServing):
		return http.StatusServiceUnavailable
	case errors.As(err, &ee), errors.As(err, &ge):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
