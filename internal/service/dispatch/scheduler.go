package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/observability/metrics"
	"case-study-live-eval/internal/service/transcript"
)

// Request is the payload submitted to the evaluator for one transcript version.
type Request struct {
	SessionID            string
	FullTranscript       string
	SpeakerMapping       models.IdentitySnapshot
	TotalDurationSeconds float64
	Timestamp            time.Time
}

// Response is the evaluator's acknowledgement. Version is authoritative when non-zero.
type Response struct {
	ID      string
	Version int
}

// Evaluator accepts consolidated transcripts for scoring.
type Evaluator interface {
	Dispatch(ctx context.Context, req Request) (Response, error)
}

// SegmentSource supplies the current segment list.
type SegmentSource interface {
	Snapshot() []models.SpeakerSegment
}

// IdentitySource supplies the current speaker names.
type IdentitySource interface {
	Snapshot() models.IdentitySnapshot
}

// VersionPublisher is notified of each accepted version. Optional.
type VersionPublisher interface {
	PublishVersion(ctx context.Context, v models.TranscriptVersion) error
}

// Config controls dispatch cadence.
type Config struct {
	Interval      time.Duration
	Cooldown      time.Duration
	Timeout       time.Duration // per evaluator call
	SkipUnchanged bool
}

// DefaultConfig returns the standard one-minute cadence with no cooldown.
func DefaultConfig() Config {
	return Config{
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
	}
}

const flushRetryInterval = 20 * time.Millisecond

// Scheduler drives single-flight dispatch of consolidated transcripts for one session.
// Periodic dispatches run fire-and-forget; failures are logged and the next tick
// retries with everything accumulated so far.
type Scheduler struct {
	cfg        Config
	sessionID  string
	segments   SegmentSource
	identities IdentitySource
	evaluator  Evaluator
	publisher  VersionPublisher
	versions   *VersionLog
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time

	state         atomic.Int32
	cooldownUntil atomic.Int64 // unix nanos
	stopped       atomic.Bool
	flushing      atomic.Bool
	flushed       atomic.Bool
	background    sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithPublisher sets the publisher notified of accepted versions.
func WithPublisher(p VersionPublisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler in the IDLE state.
func NewScheduler(sessionID string, cfg Config, segments SegmentSource, identities IdentitySource, evaluator Evaluator, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	s := &Scheduler{
		cfg:        cfg,
		sessionID:  sessionID,
		segments:   segments,
		identities: identities,
		evaluator:  evaluator,
		versions:   NewVersionLog(),
		metrics:    metrics.DefaultMetrics,
		log:        logging.WithSession("dispatch", sessionID),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state. An expired cooldown reads as IDLE.
func (s *Scheduler) State() State {
	st := State(s.state.Load())
	if st == StateCooldown && s.now().UnixNano() >= s.cooldownUntil.Load() {
		return StateIdle
	}
	return st
}

// Versions returns the accepted version history.
func (s *Scheduler) Versions() *VersionLog {
	return s.versions
}

// Run ticks every Interval until ctx is done. Each tick starts a background dispatch
// unless one is already in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.cfg.Interval).Msg("Dispatch scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("Dispatch scheduler ticker stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts a fire-and-forget dispatch. It reports whether an attempt was started.
// The attempt outlives ctx cancellation so that stopping never retracts an in-flight call.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.acquire(false) {
		return false
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		v, attempted, err := s.dispatch(context.WithoutCancel(ctx), TriggerTick)
		s.release(attempted)
		if err != nil {
			// next tick retries with the full accumulated transcript
			s.log.Warn().Err(err).Str("trigger", string(TriggerTick)).Msg("Periodic dispatch failed")
			return
		}
		if v != nil {
			s.log.Debug().Int("version", v.Version).Msg("Periodic dispatch completed")
		}
	}()
	return true
}

// TryDispatch runs one synchronous attempt. It returns ErrBusy when another attempt
// holds the slot, and (nil, nil) when there was nothing to dispatch.
func (s *Scheduler) TryDispatch(ctx context.Context) (*models.TranscriptVersion, error) {
	if s.stopped.Load() {
		return nil, ErrStopped
	}
	if !s.acquire(false) {
		return nil, ErrBusy
	}
	v, attempted, err := s.dispatch(ctx, TriggerManual)
	s.release(attempted)
	return v, err
}

// Flush performs the final dispatch for a stopping session. It waits for any in-flight
// attempt to finish, then dispatches once synchronously regardless of cooldown.
// Periodic and manual attempts are rejected with ErrStopped from the first call on.
// If ctx ends before the in-flight attempt finishes, no final dispatch has happened
// and Flush may be called again; once the final dispatch starts it returns ErrStopped.
func (s *Scheduler) Flush(ctx context.Context) (*models.TranscriptVersion, error) {
	if s.flushed.Load() || !s.flushing.CompareAndSwap(false, true) {
		return nil, ErrStopped
	}
	defer s.flushing.Store(false)
	s.stopped.Store(true)

	wait := time.NewTicker(flushRetryInterval)
	defer wait.Stop()
	for !s.acquire(true) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for in-flight dispatch: %w", ctx.Err())
		case <-wait.C:
		}
	}
	s.flushed.Store(true)

	v, attempted, err := s.dispatch(ctx, TriggerFinal)
	s.release(attempted)
	s.background.Wait()
	return v, err
}

// acquire moves the scheduler into DISPATCHING. force ignores cooldown and the stopped flag.
func (s *Scheduler) acquire(force bool) bool {
	for {
		if !force && s.stopped.Load() {
			s.metrics.RecordDispatchSkipped("stopped")
			return false
		}
		st := State(s.state.Load())
		switch st {
		case StateDispatching:
			if !force {
				s.metrics.RecordDispatchSkipped("busy")
				s.log.Debug().Msg("Dispatch skipped, attempt already in flight")
			}
			return false
		case StateCooldown:
			if !force && s.now().UnixNano() < s.cooldownUntil.Load() {
				s.metrics.RecordDispatchSkipped("cooldown")
				return false
			}
		}
		if s.state.CompareAndSwap(int32(st), int32(StateDispatching)) {
			return true
		}
	}
}

func (s *Scheduler) release(attempted bool) {
	if attempted && s.cfg.Cooldown > 0 {
		s.cooldownUntil.Store(s.now().Add(s.cfg.Cooldown).UnixNano())
		s.state.Store(int32(StateCooldown))
		return
	}
	s.state.Store(int32(StateIdle))
}

// dispatch snapshots, consolidates and submits. attempted reports whether the evaluator was called.
func (s *Scheduler) dispatch(ctx context.Context, trigger Trigger) (*models.TranscriptVersion, bool, error) {
	segments := s.segments.Snapshot()
	consolidated, err := transcript.Consolidate(segments, s.identities.Snapshot())
	if errors.Is(err, transcript.ErrNoSegments) {
		s.metrics.RecordDispatchSkipped("empty")
		s.log.Debug().Str("trigger", string(trigger)).Msg("No segments yet, dispatch skipped")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("consolidate transcript: %w", err)
	}

	if s.cfg.SkipUnchanged {
		if last, ok := s.versions.Latest(); ok && last.ContentHash == consolidated.ContentHash {
			s.metrics.RecordDispatchSkipped("unchanged")
			s.log.Debug().Int("lastVersion", last.Version).Msg("Transcript unchanged, dispatch skipped")
			return nil, false, nil
		}
	}

	req := Request{
		SessionID:            s.sessionID,
		FullTranscript:       consolidated.FullTranscript,
		SpeakerMapping:       consolidated.SpeakerMapping,
		TotalDurationSeconds: consolidated.TotalDurationSeconds,
		Timestamp:            s.now(),
	}

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.evaluator.Dispatch(callCtx, req)
	s.metrics.RecordDispatch(string(trigger), err, time.Since(start).Seconds())
	if err != nil {
		return nil, true, fmt.Errorf("submit transcript: %w", err)
	}

	v, err := s.versions.Append(models.TranscriptVersion{
		SessionID:            s.sessionID,
		Version:              resp.Version,
		EvaluatorRef:         resp.ID,
		FullTranscript:       consolidated.FullTranscript,
		SpeakerMapping:       consolidated.SpeakerMapping,
		TotalDurationSeconds: consolidated.TotalDurationSeconds,
		SegmentCount:         consolidated.SegmentCount,
		ContentHash:          consolidated.ContentHash,
		Trigger:              string(trigger),
		CreatedAt:            req.Timestamp,
	})
	if err != nil {
		s.metrics.RecordDispatchSkipped("version_rejected")
		return nil, true, err
	}
	s.metrics.RecordVersion(len(v.FullTranscript))

	s.log.Info().
		Int("version", v.Version).
		Int("segments", v.SegmentCount).
		Float64("durationSeconds", v.TotalDurationSeconds).
		Str("trigger", string(trigger)).
		Msg("Transcript version dispatched")

	if s.publisher != nil {
		if err := s.publisher.PublishVersion(ctx, v); err != nil {
			s.log.Warn().Err(err).Int("version", v.Version).Msg("Failed to publish transcript version")
		}
	}
	return &v, true, nil
}
