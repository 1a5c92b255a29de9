// Package api exposes the administrative HTTP surface: run queries,
// manage sessions, index reference content.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lumenlab/scholar/internal/engine"
	"github.com/lumenlab/scholar/internal/errs"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(eng *engine.Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: eng, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/query", h.runQuery)
		r.Post("/documents", h.indexDocument)
		r.Get("/queries/{requestID}/trail", h.queryTrail)

		r.Put("/sessions/{key}", h.createSession)
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{key}", h.sessionStats)
		r.Delete("/sessions/{key}", h.deleteSession)
		r.Post("/sessions/{key}/blocks", h.addStaticBlock)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "scholar"})
}

type queryRequest struct {
	SessionKey string `json:"session_key"`
	Query      string `json:"query"`
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.SessionKey == "" {
		req.SessionKey = "default"
	}

	result, err := h.engine.Process(r.Context(), req.SessionKey, req.Query)
	if err != nil {
		h.logger.Error("query failed",
			zap.String("session", req.SessionKey),
			zap.String("code", errs.CodeOf(err)),
			zap.Error(err))
		writeJSON(w, statusFor(err), map[string]string{
			"error": err.Error(),
			"code":  errs.CodeOf(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type documentRequest struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) indexDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	docID := h.engine.GlobalIndex().Add(req.Content, req.Metadata)
	writeJSON(w, http.StatusCreated, map[string]string{"doc_id": docID})
}

func (h *Handler) queryTrail(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	events, err := h.engine.Trail().Replay(r.Context(), requestID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no trail for request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"events":     events,
	})
}

type staticBlockRequest struct {
	Content  string `json:"content"`
	Priority int    `json:"priority"`
}

func (h *Handler) addStaticBlock(w http.ResponseWriter, r *http.Request) {
	var req staticBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	key := chi.URLParam(r, "key")
	session := h.engine.Registry().Get(key)
	session.AddStaticBlock(req.Content, req.Priority)
	writeJSON(w, http.StatusCreated, session.Stats())
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	session := h.engine.Registry().Get(key)
	writeJSON(w, http.StatusCreated, session.Stats())
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.engine.Registry().Keys(),
		"count":    h.engine.Registry().Len(),
	})
}

func (h *Handler) sessionStats(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	session, ok := h.engine.Registry().Lookup(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, session.Stats())
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.engine.Registry().Delete(key) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// statusFor maps the engine error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrBreakerOpen):
		return http.StatusServiceUnavailable
	case errs.CodeOf(err) == errs.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
