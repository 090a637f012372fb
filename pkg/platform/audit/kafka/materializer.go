package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "kanon/pkg/platform/audit"
)

// EventWriter persists an event under a known ID. Writes must be idempotent:
// Kafka delivers at least once.
type EventWriter interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// Materializer consumes the audit topic and writes every event to a
// queryable store.
type Materializer struct {
	client *kgo.Client
	writer EventWriter
	logger *slog.Logger
}

// NewMaterializer joins group on topic. Offsets are committed only after the
// events of a fetch are stored.
func NewMaterializer(brokers []string, topic, group string, writer EventWriter, logger *slog.Logger) (*Materializer, error) {
	if writer == nil {
		return nil, errors.New("materializer requires an event writer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Materializer{client: client, writer: writer, logger: logger}, nil
}

// Run polls until ctx is cancelled.
func (m *Materializer) Run(ctx context.Context) error {
	defer m.client.Close()
	for {
		fetches := m.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			m.logger.WarnContext(ctx, "audit fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var storeErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if storeErr != nil {
				return
			}
			event, err := decode(r.Key, r.Value)
			if err != nil {
				// Malformed messages must not block the partition.
				m.logger.ErrorContext(ctx, "CRITICAL: undecodable audit event",
					"key", string(r.Key),
					"offset", r.Offset,
					"error", err,
				)
				return
			}
			storeErr = m.writer.AppendWithID(ctx, event.ID, event)
		})
		if storeErr != nil {
			return fmt.Errorf("materialize audit event: %w", storeErr)
		}
		if err := m.client.CommitUncommittedOffsets(ctx); err != nil {
			return fmt.Errorf("commit audit offsets: %w", err)
		}
	}
}
