package viewer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewReader reads topic partition 0 starting lookback ago. No consumer group is used.
func NewReader(ctx context.Context, brokers []string, topic string, lookback time.Duration) (*kafka.Reader, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if lookback > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-lookback)); err != nil {
			reader.Close()
			return nil, err
		}
	}
	return reader, nil
}

// Decode converts a bus message into a viewer event. The eventType header wins
// over the body field when both are present.
func Decode(msg kafka.Message) (Event, error) {
	var head struct {
		EventType string `json:"eventType"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(msg.Value, &head); err != nil {
		return Event{}, err
	}
	ev := Event{EventType: head.EventType, SessionID: head.SessionID, Payload: json.RawMessage(msg.Value)}
	for _, h := range msg.Headers {
		if h.Key == "eventType" && len(h.Value) > 0 {
			ev.EventType = string(h.Value)
		}
	}
	if ev.SessionID == "" {
		ev.SessionID = string(msg.Key)
	}
	return ev, nil
}

// Consume forwards messages from reader to the hub until ctx is done.
// Read errors are retried after retryDelay.
func (h *Hub) Consume(ctx context.Context, reader MessageReader, retryDelay time.Duration) {
	defer reader.Close()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Warn().Err(err).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		ev, err := Decode(msg)
		if err != nil {
			h.log.Warn().Err(err).Str("topic", msg.Topic).Msg("Skipping malformed event")
			continue
		}
		h.log.Debug().Str("eventType", ev.EventType).Str("sessionId", ev.SessionID).Msg("Event received")
		if err := h.Publish(ctx, ev); err != nil {
			return
		}
	}
}
