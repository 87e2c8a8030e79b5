package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"case-study-live-eval/internal/config"
	"case-study-live-eval/internal/observability/logging"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "case-study-live-eval",
		Short:         "Live case-study transcription and incremental evaluation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")

	root.AddCommand(newServeCmd(), newReplayCmd(), newStreamCmd(), newViewerCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// initLogging configures the global logger for the client commands; serve does this in app.New.
func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.Service.Name,
	})
}
