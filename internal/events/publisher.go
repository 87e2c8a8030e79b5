// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/metrics"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes transcript versions and evaluation summaries to separate Kafka topics.
type Publisher struct {
	writerVersions  messageWriter
	writerSummaries messageWriter
	principal       string
	topicVersions   string
	topicSummaries  string
	enabled         bool
	metrics         *metrics.Metrics
	now             func() time.Time
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicVersions  string
	TopicSummaries string
	Principal      string
	Enabled        bool
}

// New creates a new Kafka event publisher. Without brokers it runs in log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m, now: time.Now}
	}

	p := &Publisher{
		principal:      cfg.Principal,
		topicVersions:  cfg.TopicVersions,
		topicSummaries: cfg.TopicSummaries,
		metrics:        m,
		now:            time.Now,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.writerVersions = newWriter(cfg.TopicVersions)
	p.writerSummaries = newWriter(cfg.TopicSummaries)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicVersions", cfg.TopicVersions).
		Str("topicSummaries", cfg.TopicSummaries).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// PublishVersion announces an accepted transcript version, keyed by session.
func (p *Publisher) PublishVersion(ctx context.Context, v models.TranscriptVersion) error {
	ev := models.TranscriptVersionEvent{
		EventType:            models.EventTranscriptVersion,
		SessionID:            v.SessionID,
		Version:              v.Version,
		FullTranscript:       v.FullTranscript,
		SpeakerMapping:       v.SpeakerMapping,
		TotalDurationSeconds: v.TotalDurationSeconds,
		SegmentCount:         v.SegmentCount,
		Trigger:              v.Trigger,
		Timestamp:            v.CreatedAt.UnixMilli(),
	}
	return p.publish(ctx, p.writerVersions, p.topicVersions, models.EventTranscriptVersion, v.SessionID, ev)
}

// PublishSummary publishes the session's current summaries after new records arrive.
func (p *Publisher) PublishSummary(ctx context.Context, sessionID string, summaries []models.ParticipantCompetencySummary, overview []models.CompetencyOverview, newRecords int) error {
	ev := models.EvaluationSummaryEvent{
		EventType:  models.EventEvaluationSummary,
		SessionID:  sessionID,
		Summaries:  summaries,
		Overview:   overview,
		NewRecords: newRecords,
		Timestamp:  p.now().UnixMilli(),
	}
	return p.publish(ctx, p.writerSummaries, p.topicSummaries, models.EventEvaluationSummary, sessionID, ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerVersions != nil {
		if e := p.writerVersions.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing versions writer")
			err = e
		}
	}
	if p.writerSummaries != nil {
		if e := p.writerSummaries.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing summaries writer")
			err = e
		}
	}
	return err
}
