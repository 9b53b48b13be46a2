package ingest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nbasil/medledger/internal/ledger"
)

func feedConsumer(store ledger.Store) *Consumer {
	return &Consumer{
		service: NewService(store),
		logger:  slog.New(slog.DiscardHandler),
	}
}

func TestConsumerHandle_PostsValidRecord(t *testing.T) {
	store := ledger.NewMemoryStore()
	c := feedConsumer(store)

	msg := kafka.Message{
		Value: []byte(`{"payer":"Blue Shield","claimId":"clm_x1","paidAmount":"200.00","paymentDate":"2026-06-15"}`),
		Time:  time.Now().Add(-2 * time.Second),
	}
	c.handle(context.Background(), msg)

	payments, err := store.ListPayments(context.Background(), ledger.PaymentFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("stored payments = %d, want 1", len(payments))
	}
	if payments[0].Source != SourceFeed {
		t.Errorf("source = %q, want feed", payments[0].Source)
	}
}

func TestConsumerHandle_SkipsBadRecords(t *testing.T) {
	store := ledger.NewMemoryStore()
	c := feedConsumer(store)

	// Neither message should abort the consumer or land in the store.
	c.handle(context.Background(), kafka.Message{Value: []byte(`not json`)})
	c.handle(context.Background(), kafka.Message{Value: []byte(`{"payer":"","paidAmount":"x"}`)})

	payments, err := store.ListPayments(context.Background(), ledger.PaymentFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 0 {
		t.Errorf("stored payments = %d, want 0", len(payments))
	}
}
