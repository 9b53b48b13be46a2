package ingest

import (
	"context"
	"errors"

	"github.com/nbasil/medledger/internal/idgen"
	"github.com/nbasil/medledger/internal/ledger"
	"github.com/nbasil/medledger/internal/logging"
	"github.com/nbasil/medledger/internal/metrics"
	"github.com/nbasil/medledger/internal/traces"
)

// Service validates raw remittance records and persists them as payments.
type Service struct {
	store ledger.Store
}

// NewService creates an ingestion service backed by the ledger store.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// Post normalizes one raw record and persists it as an unmatched payment.
// Validation failures return a *MalformedRecordError naming every bad field.
func (s *Service) Post(ctx context.Context, raw *RawRecord, source string) (*ledger.Payment, error) {
	ctx, span := traces.StartSpan(ctx, "ingest.post", traces.Payer(raw.Payer))
	defer span.End()

	payment, err := normalize(raw)
	if err != nil {
		metrics.PaymentsRejectedTotal.WithLabelValues(source).Inc()
		return nil, err
	}

	payment.ID = idgen.WithPrefix("pay_")
	payment.Source = source
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.PaymentID(payment.ID), traces.Amount(payment.PaidAmount.String()))

	metrics.PaymentsIngestedTotal.WithLabelValues(source).Inc()
	logging.L(ctx).Info("payment posted",
		"payment_id", payment.ID,
		"payer", payment.Payer,
		"paid", payment.PaidAmount.String(),
		"source", source)
	return payment, nil
}

// BatchResult reports the per-record outcome of a batch post.
type BatchResult struct {
	Accepted []*ledger.Payment `json:"accepted"`
	Rejected []BatchRejected   `json:"rejected"`
}

// BatchRejected is one record that failed validation within a batch.
type BatchRejected struct {
	Index  int                 `json:"index"`
	Errors []map[string]string `json:"errors"`
}

// PostBatch posts each record independently. A malformed record rejects only
// itself; the batch stops early only when the store itself is unavailable.
func (s *Service) PostBatch(ctx context.Context, raws []*RawRecord, source string) (*BatchResult, error) {
	result := &BatchResult{Accepted: make([]*ledger.Payment, 0, len(raws))}
	for i, raw := range raws {
		payment, err := s.Post(ctx, raw, source)
		if err != nil {
			var malformed *MalformedRecordError
			if errors.As(err, &malformed) {
				result.Rejected = append(result.Rejected, BatchRejected{
					Index:  i,
					Errors: fieldErrors(malformed),
				})
				continue
			}
			return nil, err
		}
		result.Accepted = append(result.Accepted, payment)
	}
	logging.L(ctx).Info("payment batch posted",
		"accepted", len(result.Accepted),
		"rejected", len(result.Rejected),
		"source", source)
	return result, nil
}

func fieldErrors(err *MalformedRecordError) []map[string]string {
	out := make([]map[string]string, 0, len(err.Fields))
	for _, f := range err.Fields {
		out = append(out, map[string]string{"field": f.Field, "message": f.Message})
	}
	return out
}
