package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/domain"
	apimw "github.com/hamed0406/urlmonitor/internal/httpapi/middleware"
	"github.com/hamed0406/urlmonitor/internal/monitor"
)

type Options struct {
	AllowedOrigins []string
	TriggerRPM     int // per-IP limit on POST /api/checks; 0 disables
	TriggerBurst   int
}

type Server struct {
	Logger *zap.Logger
	Svc    *monitor.Service
	Events http.Handler // websocket endpoint; nil disables /api/events
	Opts   Options
}

func NewServer(l *zap.Logger, svc *monitor.Service, events http.Handler, opts Options) *Server {
	return &Server{Logger: l, Svc: svc, Events: events, Opts: opts}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(apimw.AccessLog(s.Logger))
	r.Use(chimw.Recoverer)
	if len(s.Opts.AllowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.Opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/targets", s.handleListTargets)
		r.Post("/targets", s.handleAddTarget)
		r.Route("/targets/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTarget)
			r.Patch("/", s.handleUpdateTarget)
			r.Delete("/", s.handleRemoveTarget)
			r.Post("/deactivate", s.handleDeactivateTarget)
			r.Get("/history", s.handleHistory)
			r.Get("/stats", s.handleUptimeStats)
		})

		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.With(apimw.RateLimit(s.Opts.TriggerRPM, s.Opts.TriggerBurst)).Post("/checks", s.handleTriggerCheck)
		r.Post("/prune", s.handlePrune)

		r.Get("/schedule", s.handleGetSchedule)
		r.Put("/schedule", s.handlePutSchedule)

		if s.Events != nil {
			r.Get("/events", s.Events.ServeHTTP)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, monitor.ErrNoScheduler):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.Logger.Error("api_error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
