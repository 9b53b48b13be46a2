// Package ingest normalizes raw remittance records into ledger payments.
// Records arrive over HTTP or from a clearinghouse feed; both paths go
// through the same validation and land in the ledger as unmatched payments.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nbasil/medledger/internal/ledger"
	"github.com/nbasil/medledger/internal/validation"
)

// Sources a payment record can arrive from.
const (
	SourceAPI  = "api"
	SourceFeed = "feed"
)

// RawRecord is an untrusted remittance record as received from a payer or
// clearinghouse. Amounts are strings so a junk value produces a field error
// instead of a JSON decode failure for the whole batch.
type RawRecord struct {
	Payer            string `json:"payer"`
	ClaimID          string `json:"claimId,omitempty"`
	PatientID        string `json:"patientId,omitempty"`
	BilledHint       string `json:"billedHint,omitempty"`
	PaidAmount       string `json:"paidAmount"`
	AdjustmentAmount string `json:"adjustmentAmount,omitempty"`
	PaymentDate      string `json:"paymentDate"` // YYYY-MM-DD
	DenialReason     string `json:"denialReason,omitempty"`
}

// MalformedRecordError reports every field that failed validation on one
// record. In a batch it rejects only its own record.
type MalformedRecordError struct {
	Fields validation.ValidationErrors
}

func (e *MalformedRecordError) Error() string {
	if len(e.Fields) == 0 {
		return "malformed record"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "malformed record: " + strings.Join(parts, "; ")
}

// normalize validates a raw record and converts it into an unmatched
// ledger payment. All field problems are collected before returning.
func normalize(raw *RawRecord) (*ledger.Payment, error) {
	errs := validation.Validate(
		validation.Required("payer", raw.Payer),
		validation.MaxLength("payer", raw.Payer, 128),
		validation.ValidRecordID("claimId", raw.ClaimID),
		validation.ValidRecordID("patientId", raw.PatientID),
		validation.Required("paidAmount", raw.PaidAmount),
		validation.ValidAmount("paidAmount", raw.PaidAmount),
		validation.ValidAmount("adjustmentAmount", raw.AdjustmentAmount),
		validation.ValidAmount("billedHint", raw.BilledHint),
		validation.Required("paymentDate", raw.PaymentDate),
		validation.ValidDate("paymentDate", raw.PaymentDate),
	)

	// A payment must be attributable: either it names a claim outright, or
	// it carries enough (patient + date + amount) for the fuzzy pass.
	if strings.TrimSpace(raw.ClaimID) == "" && strings.TrimSpace(raw.PatientID) == "" {
		errs = append(errs, validation.ValidationError{
			Field:   "claimId",
			Message: "either claimId or patientId is required",
		})
	}
	if len(errs) > 0 {
		return nil, &MalformedRecordError{Fields: errs}
	}

	paymentDate, err := time.Parse("2006-01-02", raw.PaymentDate)
	if err != nil {
		// ValidDate already passed; this only fires on out-of-range dates.
		return nil, &MalformedRecordError{Fields: validation.ValidationErrors{
			{Field: "paymentDate", Message: fmt.Sprintf("unparseable: %v", err)},
		}}
	}

	payment := &ledger.Payment{
		Payer:        strings.TrimSpace(raw.Payer),
		ClaimID:      strings.TrimSpace(raw.ClaimID),
		PatientID:    strings.TrimSpace(raw.PatientID),
		PaymentDate:  paymentDate,
		DenialReason: validation.SanitizeString(raw.DenialReason, 512),
		MatchStatus:  ledger.PaymentUnmatched,
	}
	payment.PaidAmount = mustDecimal(raw.PaidAmount).Truncate(2)
	payment.AdjustmentAmount = mustDecimal(raw.AdjustmentAmount).Truncate(2)
	payment.BilledHint = mustDecimal(raw.BilledHint).Truncate(2)
	return payment, nil
}

// mustDecimal parses an already-validated amount string; empty means zero.
func mustDecimal(s string) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
