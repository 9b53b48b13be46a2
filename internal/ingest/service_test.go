package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nbasil/medledger/internal/ledger"
)

func validRecord() *RawRecord {
	return &RawRecord{
		Payer:       "Blue Shield",
		ClaimID:     "clm_abc123",
		PaidAmount:  "850.00",
		PaymentDate: "2026-06-15",
	}
}

func TestPost(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())

	payment, err := svc.Post(context.Background(), validRecord(), SourceAPI)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if payment.ID == "" || !strings.HasPrefix(payment.ID, "pay_") {
		t.Errorf("expected pay_ id, got %q", payment.ID)
	}
	if payment.MatchStatus != ledger.PaymentUnmatched {
		t.Errorf("expected unmatched, got %s", payment.MatchStatus)
	}
	if payment.Source != SourceAPI {
		t.Errorf("expected source api, got %q", payment.Source)
	}
	if payment.PaidAmount.String() != "850" {
		t.Errorf("paid amount = %s, want 850", payment.PaidAmount)
	}
}

func TestPost_TrimsAndTruncates(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())

	raw := validRecord()
	raw.Payer = "  Aetna  "
	raw.PaidAmount = "100.129"
	raw.AdjustmentAmount = "25.5"

	payment, err := svc.Post(context.Background(), raw, SourceAPI)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if payment.Payer != "Aetna" {
		t.Errorf("payer = %q, want trimmed", payment.Payer)
	}
	if payment.PaidAmount.String() != "100.12" {
		t.Errorf("paid = %s, want truncated to 100.12", payment.PaidAmount)
	}
	if payment.Applied().String() != "125.62" {
		t.Errorf("applied = %s, want 125.62", payment.Applied())
	}
}

func TestPost_MalformedRecord(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())

	tests := []struct {
		name   string
		mutate func(*RawRecord)
		field  string
	}{
		{"missing payer", func(r *RawRecord) { r.Payer = "" }, "payer"},
		{"missing amount", func(r *RawRecord) { r.PaidAmount = "" }, "paidAmount"},
		{"junk amount", func(r *RawRecord) { r.PaidAmount = "lots" }, "paidAmount"},
		{"negative amount", func(r *RawRecord) { r.PaidAmount = "-5.00" }, "paidAmount"},
		{"bad date", func(r *RawRecord) { r.PaymentDate = "06/15/2026" }, "paymentDate"},
		{"no claim or patient", func(r *RawRecord) { r.ClaimID = ""; r.PatientID = "" }, "claimId"},
		{"bad claim id", func(r *RawRecord) { r.ClaimID = "clm;drop" }, "claimId"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRecord()
			tc.mutate(raw)

			_, err := svc.Post(context.Background(), raw, SourceAPI)
			var malformed *MalformedRecordError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedRecordError, got %v", err)
			}
			found := false
			for _, f := range malformed.Fields {
				if f.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected field %q in %v", tc.field, malformed.Fields)
			}
		})
	}
}

func TestPost_CollectsAllFieldErrors(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())

	raw := &RawRecord{PaidAmount: "abc", PaymentDate: "yesterday"}
	_, err := svc.Post(context.Background(), raw, SourceAPI)

	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	// payer missing, amount junk, date junk, and no claim/patient reference.
	if len(malformed.Fields) < 4 {
		t.Errorf("expected >= 4 field errors, got %d: %v", len(malformed.Fields), malformed.Fields)
	}
}

func TestPost_PatientTripleWithoutClaimID(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())

	raw := validRecord()
	raw.ClaimID = ""
	raw.PatientID = "PT-1001"

	payment, err := svc.Post(context.Background(), raw, SourceFeed)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if payment.ClaimID != "" || payment.PatientID != "PT-1001" {
		t.Errorf("unexpected references: claim=%q patient=%q", payment.ClaimID, payment.PatientID)
	}
	if payment.Source != SourceFeed {
		t.Errorf("source = %q, want feed", payment.Source)
	}
}

func TestPostBatch_MixedOutcomes(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store)

	bad := validRecord()
	bad.PaidAmount = "not-money"

	result, err := svc.PostBatch(context.Background(), []*RawRecord{
		validRecord(), bad, validRecord(),
	}, SourceAPI)
	if err != nil {
		t.Fatalf("PostBatch failed: %v", err)
	}

	if len(result.Accepted) != 2 {
		t.Errorf("accepted = %d, want 2", len(result.Accepted))
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(result.Rejected))
	}
	if result.Rejected[0].Index != 1 {
		t.Errorf("rejected index = %d, want 1", result.Rejected[0].Index)
	}
	if len(result.Rejected[0].Errors) == 0 {
		t.Error("rejected record carries no field errors")
	}

	stored, err := store.ListPayments(context.Background(), ledger.PaymentFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored payments = %d, want 2", len(stored))
	}
}

func TestPostBatch_AbortsOnStoreOutage(t *testing.T) {
	svc := NewService(&failingStore{Store: ledger.NewMemoryStore()})

	_, err := svc.PostBatch(context.Background(), []*RawRecord{validRecord()}, SourceAPI)
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestMalformedRecordError_Message(t *testing.T) {
	raw := validRecord()
	raw.Payer = ""
	_, err := normalize(raw)

	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if !strings.Contains(malformed.Error(), "payer") {
		t.Errorf("error message %q does not name the field", malformed.Error())
	}
}

// failingStore makes CreatePayment fail as if the backing store were down.
type failingStore struct {
	ledger.Store
}

func (s *failingStore) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	return ledger.ErrStoreUnavailable
}
