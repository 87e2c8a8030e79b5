package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	grpcapi "case-study-live-eval/internal/api/grpc"
	"case-study-live-eval/internal/app"
	"case-study-live-eval/internal/config"
	"case-study-live-eval/internal/events"
	apphttp "case-study-live-eval/internal/http"
	"case-study-live-eval/internal/observability"
	"case-study-live-eval/internal/observability/metrics"
	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/audio"
	"case-study-live-eval/internal/service/dispatch"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/evaluator"
	"case-study-live-eval/internal/service/poller"
	"case-study-live-eval/internal/service/session"
	"case-study-live-eval/internal/service/stt"
	"case-study-live-eval/internal/service/stt/google"
	"case-study-live-eval/internal/service/stt/mock"
	"case-study-live-eval/internal/service/stt/soniox"
)

const shutdownTimeout = 2 * time.Minute

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, gRPC health and metrics servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// backend holds the evaluator wiring: a remote service, or the in-process loopback and store.
type backend struct {
	deps  session.Deps
	store *evaluation.Store
}

func newBackend(cfg *config.Config, validator *schema.Validator, catalog *evaluation.Catalog, publisher session.Publisher) backend {
	b := backend{deps: session.Deps{Publisher: publisher, Catalog: catalog}}
	if cfg.Evaluator.BaseURL != "" {
		client := evaluator.New(evaluator.Config{
			BaseURL:         cfg.Evaluator.BaseURL,
			DispatchPath:    cfg.Evaluator.DispatchPath,
			EvaluationsPath: cfg.Evaluator.EvaluationsPath,
			Timeout:         cfg.Evaluator.Timeout,
		}, validator)
		b.deps.Evaluator = client
		b.deps.Fetcher = client
		return b
	}
	b.store = evaluation.NewStore(cfg.Poll.PageSize)
	b.deps.Evaluator = evaluator.NewLoopback()
	b.deps.Fetcher = b.store
	return b
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Provider: cfg.STT.Provider,
		Dispatch: dispatch.Config{
			Interval:      cfg.Dispatch.Interval,
			Cooldown:      cfg.Dispatch.Cooldown,
			Timeout:       cfg.Dispatch.Timeout,
			SkipUnchanged: cfg.Dispatch.SkipUnchanged,
		},
		Poll: poller.Config{
			Interval: cfg.Poll.Interval,
			MaxPages: cfg.Poll.MaxPages,
		},
		Limits: audio.Limits{
			MaxAudioBytes: cfg.Audio.MaxAudioBytes,
			MaxDuration:   cfg.Audio.MaxDuration,
			MaxFrameBytes: cfg.Audio.MaxFrameBytes,
		},
	}
}

// adapterFactory opens one provider connection per session.
func adapterFactory(cfg config.STTConfig) (session.AdapterFactory, error) {
	switch cfg.Provider {
	case stt.ProviderMock:
		return func(context.Context, string) (stt.Adapter, error) {
			return mock.New(), nil
		}, nil
	case stt.ProviderGoogle:
		return func(ctx context.Context, _ string) (stt.Adapter, error) {
			return google.New(ctx, google.Config{
				LanguageCode:   cfg.LanguageCode,
				SampleRateHz:   cfg.SampleRateHz,
				InterimResults: cfg.InterimResults,
				AudioEncoding:  cfg.AudioEncoding,
				MinSpeakers:    int32(cfg.MinSpeakers),
				MaxSpeakers:    int32(cfg.MaxSpeakers),
			})
		}, nil
	case stt.ProviderSoniox:
		if cfg.SonioxAPIKey == "" {
			return nil, errors.New("SONIOX_API_KEY is required for the soniox provider")
		}
		return func(context.Context, string) (stt.Adapter, error) {
			def := soniox.DefaultConfig()
			return soniox.New(soniox.Config{
				URL:           cfg.SonioxURL,
				APIKey:        cfg.SonioxAPIKey,
				Model:         cfg.SonioxModel,
				LanguageHints: cfg.LanguageHints,
				AudioFormat:   def.AudioFormat,
				Terms:         cfg.Terms,
				MinSpeakers:   cfg.MinSpeakers,
				MaxSpeakers:   cfg.MaxSpeakers,
			}), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	application := app.New(cfg)

	catalog, err := evaluation.LoadCatalog(cfg.Competencies.File)
	if err != nil {
		return err
	}
	factory, err := adapterFactory(cfg.STT)
	if err != nil {
		return err
	}

	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicVersions:  cfg.Kafka.TopicVersions,
		TopicSummaries: cfg.Kafka.TopicSummaries,
		Principal:      cfg.Kafka.Principal,
	})
	defer publisher.Close()

	validator := schema.New()
	b := newBackend(cfg, validator, catalog, publisher)

	grpcServer := grpcapi.New(metrics.DefaultMetrics)
	sessions := session.NewManager(sessionConfig(cfg), b.deps, factory, grpcServer.ReportSession)

	httpServer := &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: apphttp.NewRouter(application, apphttp.Deps{
			Sessions:  sessions,
			Store:     b.store,
			Validator: validator,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	obs := observability.NewServer(":"+cfg.Observability.MetricsPort, application.Ready)
	obs.Start()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		application.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := sessions.StopAll(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Some sessions did not stop cleanly")
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown failed")
		}
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Observability shutdown failed")
		}
		grpcServer.Stop()
		return nil
	})

	if err := application.Start(); err != nil {
		return err
	}
	return g.Wait()
}
