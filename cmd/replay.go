package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/session"
	"case-study-live-eval/internal/service/stt"
	"case-study-live-eval/internal/service/stt/mock"
)

type replayOptions struct {
	script   string
	pace     time.Duration
	speakers []string
}

type replayResult struct {
	Transcript session.Transcript                    `json:"transcript"`
	Versions   []models.TranscriptVersion            `json:"versions"`
	Summaries  []models.ParticipantCompetencySummary `json:"summaries"`
}

func newReplayCmd() *cobra.Command {
	opts := replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a scripted transcript through a session and print the result as JSON",
		Long: "Replays speech tokens from a JSONL script (one {speakerId,text,startMs,endMs} per line)\n" +
			"through the mock provider. Evaluation runs against EVALUATOR_BASE_URL when set,\n" +
			"otherwise the in-process loopback evaluator.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			initLogging(cfg)

			script := mock.DefaultScript
			if opts.script != "" {
				f, err := os.Open(opts.script)
				if err != nil {
					return err
				}
				script, err = mock.ReadScript(f)
				f.Close()
				if err != nil {
					return err
				}
			}

			catalog, err := evaluation.LoadCatalog(cfg.Competencies.File)
			if err != nil {
				return err
			}
			b := newBackend(cfg, schema.New(), catalog, nil)

			sessCfg := sessionConfig(cfg)
			sessCfg.Provider = stt.ProviderMock

			var adapter *mock.Adapter
			factory := func(context.Context, string) (stt.Adapter, error) {
				adapter = mock.NewWithScript(script)
				return adapter, nil
			}
			res, err := replay(cmd.Context(), session.NewManager(sessCfg, b.deps, factory), func() *mock.Adapter { return adapter }, opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&opts.script, "script", "", "JSONL token script (default: built-in sample)")
	cmd.Flags().DurationVar(&opts.pace, "pace", 0, "delay between tokens")
	cmd.Flags().StringSliceVar(&opts.speakers, "speaker", nil, "speaker names in id order, e.g. --speaker An --speaker Bình")
	return cmd
}

func replay(ctx context.Context, sessions *session.Manager, adapter func() *mock.Adapter, opts replayOptions) (replayResult, error) {
	s, err := sessions.Create(ctx, "")
	if err != nil {
		return replayResult{}, err
	}
	for id, name := range opts.speakers {
		if err := s.CorrectSpeaker(id, name); err != nil {
			return replayResult{}, fmt.Errorf("speaker %d: %w", id, err)
		}
	}

	start := time.Now()
	if err := adapter().Replay(ctx, opts.pace); err != nil {
		log.Warn().Err(err).Msg("Replay interrupted")
	}
	if _, err := s.Stop(ctx); err != nil {
		return replayResult{}, err
	}
	log.Info().Str("sessionId", s.ID()).Dur("elapsed", time.Since(start)).Msg("Replay complete")

	return replayResult{
		Transcript: s.CurrentTranscript(),
		Versions:   s.Versions(),
		Summaries:  s.CurrentSummaries(""),
	}, nil
}
