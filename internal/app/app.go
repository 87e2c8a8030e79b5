package app

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"case-study-live-eval/internal/config"
	"case-study-live-eval/internal/observability/logging"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration and
// initializes the global logger from it.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.Service.Name,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("localEvaluator", cfg.Evaluator.BaseURL == "").
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Case study live evaluation service created")
	return a
}

// Start marks the application ready to serve traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.Logger.Info().
		Str("method", "Start").
		Time("startupTime", a.StartupTime).
		Msg("Case study live evaluation service starting")
	return nil
}

// Ready reports whether the application accepts traffic.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown marks the application not ready ahead of process exit.
func (a *Application) Shutdown() {
	a.ready.Store(false)
	a.Logger.Info().
		Str("method", "Shutdown").
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Case study live evaluation service shutting down")
}
