// Package httpapi is the HTTP front door: a small REST surface over the
// engine plus the MCP server mounted at /mcp as streamable HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/engine"
	"github.com/HendryAvila/mirror/internal/extraction"
)

// Engine is the part of the engine the REST routes use.
type Engine interface {
	StartSession(ctx context.Context) (*discovery.Session, error)
	Status(ctx context.Context, id string) (*engine.Status, error)
	Turn(ctx context.Context, id, utterance string, ready bool) (*engine.TurnResult, error)
	ExploreScenario(ctx context.Context, id string) (*discovery.Session, error)
	RequestTransition(ctx context.Context, id string, to discovery.Phase, reason string, override bool) (*engine.TransitionOutcome, error)
	Barrier(ctx context.Context, id string) (extraction.Barrier, error)
}

// Handler serves the REST routes.
type Handler struct {
	engine Engine
	log    *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(eng Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: eng, log: logger}
}

// NewRouter builds the full HTTP surface. mcp may be nil to serve REST only.
func NewRouter(h *Handler, mcp http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	h.RegisterRoutes(r)
	if mcp != nil {
		r.Handle("/mcp", mcp)
	}
	return r
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/turns", h.PostTurn)
			r.Post("/scenarios", h.PostScenario)
			r.Post("/transition", h.PostTransition)
			r.Get("/barrier", h.GetBarrier)
		})
	})
}

// CreateSession starts a session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.StartSession(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// GetSession returns the full status of a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

type turnRequest struct {
	Utterance string `json:"utterance"`
	Ready     bool   `json:"ready"`
}

// PostTurn ingests one user utterance.
func (h *Handler) PostTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Utterance) == "" {
		Error(w, http.StatusBadRequest, "utterance is required")
		return
	}
	res, err := h.engine.Turn(r.Context(), chi.URLParam(r, "id"), req.Utterance, req.Ready)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// PostScenario counts an explored scenario.
func (h *Handler) PostScenario(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.ExploreScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

type transitionRequest struct {
	To       string `json:"to"`
	Reason   string `json:"reason"`
	Override bool   `json:"override"`
}

// PostTransition requests a phase change. Denials are 200 responses with
// applied=false.
func (h *Handler) PostTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.engine.RequestTransition(r.Context(), chi.URLParam(r, "id"), discovery.Phase(req.To), req.Reason, req.Override)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// GetBarrier reports whether the session's extractions have finished.
// Unknown sessions surface as ErrSessionNotFound from the job count.
func (h *Handler) GetBarrier(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Barrier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, b)
}

// --- Helpers ---

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, discovery.ErrSessionNotFound), errors.Is(err, discovery.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, discovery.ErrSessionClosed), errors.Is(err, discovery.ErrPhaseConflict):
		return http.StatusConflict
	case errors.Is(err, discovery.ErrInvalidPhase), errors.Is(err, discovery.ErrInvalidSignal), errors.Is(err, discovery.ErrWrongPhase):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			)
		})
	}
}
