package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"case-study-live-eval/internal/app"
	"case-study-live-eval/internal/observability"
	"case-study-live-eval/internal/observability/metrics"
	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/session"
)

// Deps are the services exposed over HTTP.
type Deps struct {
	Sessions *session.Manager
	// Store is set when evaluations are ingested locally instead of fetched from a remote evaluator.
	Store     *evaluation.Store
	Validator *schema.Validator
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, d Deps) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(metrics.DefaultMetrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if application != nil && !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	s := &sessionHandlers{sessions: d.Sessions}

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.create)
			r.Get("/", s.list)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.info)
				r.Delete("/", s.remove)
				r.Post("/stop", s.stop)
				r.Post("/audio", s.audio)
				r.Get("/stream", s.stream)
				r.Post("/dispatch", s.dispatch)
				r.Post("/poll", s.poll)
				r.Get("/transcript", s.transcript)
				r.Put("/speakers/{speakerID}", s.correctSpeaker)
				r.Get("/summaries", s.summaries)
				r.Get("/overview", s.overview)
				r.Get("/versions", s.versions)
			})
		})

		if d.Store != nil {
			e := &evaluationHandlers{store: d.Store, validator: d.Validator}
			r.Post("/evaluations", e.ingest)
			r.Get("/evaluations", e.list)
		}
	})

	return r
}
