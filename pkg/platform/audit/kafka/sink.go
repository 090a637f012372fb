// Package kafka publishes audit events to a Kafka topic and materializes
// them back into a queryable store.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "kanon/pkg/platform/audit"
)

// Sink implements audit.Store by producing each event synchronously, so the
// compliance publisher stays fail-closed when Kafka is the system of record.
type Sink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures the Sink.
type Option func(*Sink)

// WithLogger sets a logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// NewSink connects a producer for topic.
func NewSink(brokers []string, topic string, opts ...Option) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	s := &Sink{client: client, topic: topic}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append produces the event and waits for the broker acknowledgement.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	key, value, err := encode(event)
	if err != nil {
		return err
	}
	if err := s.client.ProduceSync(ctx, &kgo.Record{Key: key, Value: value}).FirstErr(); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "audit event delivery failed",
				"topic", s.topic,
				"action", event.Action,
				"error", err,
			)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (s *Sink) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	return EnsureTopic(ctx, s.client, s.topic, partitions, replicationFactor)
}

// Close flushes pending records and closes the client.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// EnsureTopic creates topic through the admin API, treating an existing
// topic as success.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
