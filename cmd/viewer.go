package main

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"case-study-live-eval/internal/viewer"
)

func newViewerCmd() *cobra.Command {
	var (
		port     string
		lookback time.Duration
	)
	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Relay transcript versions and summaries from Kafka to websocket clients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			initLogging(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := viewer.NewHub()
			go hub.Run(ctx)

			for _, topic := range []string{cfg.Kafka.TopicVersions, cfg.Kafka.TopicSummaries} {
				reader, err := viewer.NewReader(ctx, cfg.Kafka.Brokers, topic, lookback)
				if err != nil {
					return err
				}
				go hub.Consume(ctx, reader, time.Second)
				log.Info().Str("topic", topic).Dur("lookback", lookback).Msg("Consuming topic")
			}

			r := chi.NewRouter()
			r.Get("/ws", hub.ServeWS)
			srv := &http.Server{Addr: ":" + port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

			go func() {
				<-ctx.Done()
				_ = srv.Close()
			}()
			log.Info().Str("addr", srv.Addr).Strs("brokers", cfg.Kafka.Brokers).Msg("Viewer starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "8081", "HTTP port for the websocket endpoint")
	cmd.Flags().DurationVar(&lookback, "lookback", time.Hour, "replay messages newer than this on start")
	return cmd
}
