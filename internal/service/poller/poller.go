// Package poller retrieves evaluation records incrementally using a timestamp cursor.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/observability/metrics"
)

// Query selects evaluation records for one session.
// A nil Since means the full set; otherwise records created strictly after Since.
type Query struct {
	SessionID     string
	Since         *time.Time
	ParticipantID string
}

// Page is one fetch response.
type Page struct {
	Records  []models.EvaluationRecord
	HasMore  bool
	PolledAt time.Time
}

// Fetcher retrieves evaluation records from the result store.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (Page, error)
}

// Sink receives newly retrieved records. It must tolerate duplicates.
type Sink interface {
	Add(records ...models.EvaluationRecord) int
}

// Config controls polling cadence.
type Config struct {
	Interval time.Duration
	MaxPages int // upper bound on HasMore follow-ups within one poll
}

// DefaultConfig polls every ten seconds.
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, MaxPages: 10}
}

// Poller owns the cursor for one session. The cursor is the greatest CreatedAt
// among retrieved records and moves only after a fully successful poll.
type Poller struct {
	cfg       Config
	sessionID string
	fetcher   Fetcher
	sink      Sink
	metrics   *metrics.Metrics
	log       zerolog.Logger

	pollMu sync.Mutex // serializes Poll
	mu     sync.RWMutex
	cursor *time.Time
	last   time.Time
}

// New creates a poller with no cursor.
func New(sessionID string, cfg Config, fetcher Fetcher, sink Sink) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	return &Poller{
		cfg:       cfg,
		sessionID: sessionID,
		fetcher:   fetcher,
		sink:      sink,
		metrics:   metrics.DefaultMetrics,
		log:       logging.WithSession("poller", sessionID),
	}
}

// Cursor returns the current cursor, if any.
func (p *Poller) Cursor() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cursor == nil {
		return time.Time{}, false
	}
	return *p.cursor, true
}

// LastPolledAt returns the server time of the last successful poll.
func (p *Poller) LastPolledAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Poll fetches everything newer than the cursor, following HasMore, and hands the
// records to the sink. On error nothing is delivered and the cursor is unchanged.
func (p *Poller) Poll(ctx context.Context) ([]models.EvaluationRecord, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	start := time.Now()

	var next *time.Time
	if c, ok := p.Cursor(); ok {
		next = &c
	}

	var (
		collected []models.EvaluationRecord
		polledAt  time.Time
		advanced  bool
	)
	for page := 0; page < p.cfg.MaxPages; page++ {
		q := Query{SessionID: p.sessionID, Since: next}

		res, err := p.fetcher.Fetch(ctx, q)
		if err != nil {
			p.metrics.RecordPoll(0, err, time.Since(start).Seconds())
			return nil, fmt.Errorf("fetch evaluations: %w", err)
		}
		polledAt = res.PolledAt

		pageAdvanced := false
		for _, r := range res.Records {
			if q.Since != nil && !r.CreatedAt.After(*q.Since) {
				continue
			}
			collected = append(collected, r)
			if next == nil || r.CreatedAt.After(*next) {
				created := r.CreatedAt
				next = &created
				pageAdvanced = true
			}
		}
		advanced = advanced || pageAdvanced
		if !res.HasMore || !pageAdvanced {
			break
		}
	}

	p.metrics.RecordPoll(len(collected), nil, time.Since(start).Seconds())

	p.mu.Lock()
	if advanced {
		p.cursor = next
	}
	p.last = polledAt
	p.mu.Unlock()

	if len(collected) > 0 && p.sink != nil {
		added := p.sink.Add(collected...)
		p.log.Debug().
			Int("records", len(collected)).
			Int("added", added).
			Time("cursor", *next).
			Msg("Evaluation records retrieved")
	}
	return collected, nil
}

// Run polls every Interval until ctx is done. Failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", p.cfg.Interval).Msg("Result poller started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("Evaluation poll failed")
			}
		}
	}
}
