package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nbasil/medledger/internal/ledger"
	"github.com/nbasil/medledger/internal/metrics"
	"github.com/nbasil/medledger/internal/retry"
)

// Consumer reads remittance records from a clearinghouse feed topic and
// posts them through the same path as the HTTP API. Malformed records are
// logged and skipped; store outages are retried before the message is
// given up on.
type Consumer struct {
	reader  *kafka.Reader
	service *Service
	logger  *slog.Logger
}

// NewConsumer creates a feed consumer for the given brokers and topic.
func NewConsumer(brokers []string, topic, groupID string, service *Service, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
			MaxWait:  time.Second,
		}),
		service: service,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled. Offsets are committed only after a
// message is handled, so a crash replays at-least-once; duplicate replays
// are rejected by the payment ID uniqueness constraint.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("remittance feed consumer started",
		"topic", c.reader.Config().Topic,
		"group", c.reader.Config().GroupID)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch feed message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Warn("feed offset commit failed", "error", err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	if !msg.Time.IsZero() {
		metrics.FeedLagSeconds.Set(time.Since(msg.Time).Seconds())
	}

	var raw RawRecord
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		metrics.PaymentsRejectedTotal.WithLabelValues(SourceFeed).Inc()
		c.logger.Warn("feed record is not valid JSON",
			"offset", msg.Offset, "partition", msg.Partition, "error", err)
		return
	}

	err := retry.Do(ctx, 5, 500*time.Millisecond, func() error {
		_, err := c.service.Post(ctx, &raw, SourceFeed)
		if err != nil && !errors.Is(err, ledger.ErrStoreUnavailable) {
			// Validation and duplicate errors never succeed on retry.
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil {
		return
	}

	var malformed *MalformedRecordError
	switch {
	case errors.As(err, &malformed):
		c.logger.Warn("feed record rejected",
			"offset", msg.Offset, "fields", malformed.Error())
	case errors.Is(err, ledger.ErrDuplicatePayment):
		c.logger.Debug("feed record already posted", "offset", msg.Offset)
	default:
		c.logger.Error("feed record dropped after retries",
			"offset", msg.Offset, "error", err)
	}
}
