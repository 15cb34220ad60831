// Package server exposes run status, start, queued execution, cancel and
// live event streams over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/discovery"
	"github.com/sells-group/portfolio-discovery/internal/events"
	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/internal/webhook"
)

// Runs reads and cancels runs. *registry.Registry implements it.
type Runs interface {
	GetRun(ctx context.Context, runID string) (*model.RunState, error)
	CancelRun(ctx context.Context, runID string) error
}

// Starter starts runs. *discovery.Service implements it.
type Starter interface {
	Start(ctx context.Context, req discovery.StartRequest) (discovery.StartResult, error)
	RunSync(ctx context.Context, req discovery.StartRequest) (discovery.StartResult, error)
}

// Subscriber delivers published events. *events.Hub implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) <-chan events.Event
}

// Deps are the collaborators behind the routes. Verifier may be nil, in
// which case the queue route answers 503.
type Deps struct {
	Runs        Runs
	Starter     Starter
	Events      Subscriber
	Verifier    *webhook.Verifier
	CORSOrigins []string
	Heartbeat   time.Duration
}

// Server is the HTTP API.
type Server struct {
	deps     Deps
	validate *validator.Validate
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	return &Server{deps: deps, validate: validator.New()}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", webhook.SignatureHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/discover", s.handleDiscover)
		r.With(s.verify).Post("/discover/queue", s.handleQueue)
		r.Post("/runs/cancel", s.handleCancel)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/runs/{runID}/events", s.handleRunEvents)
		r.Get("/users/{userID}/events", s.handleUserEvents)
	})
	return r
}

func (s *Server) verify(next http.Handler) http.Handler {
	if s.deps.Verifier == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "queue signing keys are not configured")
		})
	}
	return s.deps.Verifier.Middleware(next)
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("http: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("http: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
