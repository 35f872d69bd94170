// Package server exposes the funnel engine over HTTP. Clients create a
// session, post answers and navigation commands, and render the returned
// view model.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/attribution"
	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/render"
	"github.com/sells-group/quiz-funnel/internal/session"
)

const (
	maxBodyBytes     = 64 << 10
	visitorCookieTTL = 365 * 24 * time.Hour
)

// Config configures the HTTP surface.
type Config struct {
	AllowedOrigins []string
	VisitorCookie  string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health reports backend readiness for /health when set.
	Health func(ctx context.Context) error
}

// Server routes HTTP requests to live sessions.
type Server struct {
	sessions *session.Registry
	kv       attribution.KV
	cfg      Config
	log      *zap.Logger
}

// New creates a Server. kv may be nil, in which case attribution is not
// captured.
func New(sessions *session.Registry, kv attribution.KV, cfg Config) *Server {
	if cfg.VisitorCookie == "" {
		cfg.VisitorCookie = "qf_visitor"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		sessions: sessions,
		kv:       kv,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "server")),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: !slices.Contains(s.cfg.AllowedOrigins, "*"),
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.loadSession)
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Post("/answers", s.handleAnswer)
			r.Post("/next", s.handleNext)
			r.Post("/jump", s.handleJump)
			r.Post("/calculate", s.handleCalculate)
			r.Post("/result", s.handleResult)
			r.Post("/checkout", s.handleCheckout)
			r.Get("/checkout", s.handleCheckoutRedirect)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type ctxKey struct{}

func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctl, ok := s.sessions.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, ctl)))
	})
}

func controller(r *http.Request) *session.Controller {
	return r.Context().Value(ctxKey{}).(*session.Controller)
}

// sessionResponse is the body every session endpoint returns.
type sessionResponse struct {
	State       model.SessionState `json:"state"`
	View        render.Snapshot    `json:"view"`
	Calculating bool               `json:"calculating"`
	Moved       *bool              `json:"moved,omitempty"`
	Answer      *model.Answer      `json:"answer,omitempty"`
	// AdvanceAfterMS tells the client when the deferred advance lands.
	AdvanceAfterMS int64 `json:"advance_after_ms,omitempty"`
}

func respond(ctl *session.Controller) sessionResponse {
	return sessionResponse{
		State:       ctl.Snapshot(),
		View:        ctl.View(),
		Calculating: ctl.Calculating(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		if err := s.cfg.Health(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	visitor := s.visitorID(w, r)
	if s.kv != nil {
		if _, err := attribution.Capture(r.Context(), s.kv, visitor, r.URL.Query()); err != nil {
			s.log.Warn("attribution capture failed", zap.String("visitor_id", visitor), zap.Error(err))
		}
	}
	ctl := s.sessions.Create(visitor)
	writeJSON(w, http.StatusCreated, respond(ctl))
}

// visitorID reads the visitor cookie, issuing a new one when absent.
func (s *Server) visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(s.cfg.VisitorCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.VisitorCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, respond(controller(r)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.sessions.Remove(controller(r).ID())
	w.WriteHeader(http.StatusNoContent)
}

type answerRequest struct {
	QuestionID string       `json:"question_id"`
	Label      string       `json:"label"`
	Numeric    model.Number `json:"numeric"`
	Tag        string       `json:"tag"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.QuestionID == "" {
		writeError(w, http.StatusBadRequest, "question_id is required")
		return
	}
	ctl := controller(r)
	if !ctl.Definition().HasQuestion(req.QuestionID) {
		writeError(w, http.StatusBadRequest, "unknown question_id")
		return
	}
	a := ctl.Select(req.QuestionID, req.Label, req.Numeric, req.Tag)
	resp := respond(ctl)
	resp.Answer = &a
	resp.AdvanceAfterMS = ctl.AnswerDelay().Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	ctl := controller(r)
	moved := ctl.Next()
	resp := respond(ctl)
	resp.Moved = &moved
	writeJSON(w, http.StatusOK, resp)
}

type jumpRequest struct {
	ScreenID string `json:"screen_id"`
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ScreenID == "" {
		writeError(w, http.StatusBadRequest, "screen_id is required")
		return
	}
	ctl := controller(r)
	moved := ctl.JumpTo(req.ScreenID)
	resp := respond(ctl)
	resp.Moved = &moved
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	ctl := controller(r)
	started := ctl.StartCalculation()
	resp := respond(ctl)
	resp.Moved = &started
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	ctl := controller(r)
	ctl.ShowResult()
	writeJSON(w, http.StatusOK, respond(ctl))
}

type checkoutResponse struct {
	URL             string `json:"url"`
	RedirectAfterMS int64  `json:"redirect_after_ms"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	res, err := controller(r).Checkout(r.Context())
	if err != nil {
		s.log.Error("checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "checkout unavailable")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: res.URL, RedirectAfterMS: res.RedirectAfter.Milliseconds()})
}

func (s *Server) handleCheckoutRedirect(w http.ResponseWriter, r *http.Request) {
	res, err := controller(r).Checkout(r.Context())
	if err != nil {
		s.log.Error("checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "checkout unavailable")
		return
	}
	http.Redirect(w, r, res.URL, http.StatusFound)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
