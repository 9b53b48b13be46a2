package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nbasil/medledger/internal/idgen"
	"github.com/nbasil/medledger/internal/logging"
)

// scrubFields are checked on submission; a claim missing any of them is
// routed to review_required instead of entering the payable pipeline.
var scrubFields = []string{"diagnosis codes", "procedure codes", "patient id", "provider"}

// Service wraps the store with claim lifecycle rules.
type Service struct {
	store Store
}

// NewService creates a ledger service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying store for read-side consumers.
func (s *Service) Store() Store {
	return s.store
}

// SubmitClaim validates and records a new claim. Claims that fail the
// completeness scrub are accepted but parked in review_required.
func (s *Service) SubmitClaim(ctx context.Context, claim *Claim) (*Claim, error) {
	done := observeOp("submit_claim")
	defer done()

	if err := validateClaim(claim); err != nil {
		return nil, err
	}
	if claim.ID == "" {
		claim.ID = idgen.WithPrefix("clm_")
	}
	claim.Payer = strings.TrimSpace(claim.Payer)
	claim.PaidAmount = claim.PaidAmount.Truncate(2)
	claim.BilledAmount = claim.BilledAmount.Truncate(2)
	if claim.SubmissionDate.IsZero() {
		claim.SubmissionDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	claim.Status = ClaimSubmitted
	missing := scrubClaim(claim)
	if len(missing) > 0 {
		claim.Status = ClaimReviewRequired
	}

	if err := s.store.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}

	event := &ClaimEvent{
		ID:        idgen.WithPrefix("evt_"),
		ClaimID:   claim.ID,
		ToStatus:  claim.Status,
		Note:      scrubNote(missing),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		logging.L(ctx).Warn("claim event append failed", "claim_id", claim.ID, "error", err)
	}
	return claim, nil
}

// BatchResult reports per-claim outcomes of a batch submission.
type BatchResult struct {
	Accepted []*Claim        `json:"accepted"`
	Rejected []BatchRejected `json:"rejected"`
}

// BatchRejected is one claim that failed validation within a batch.
type BatchRejected struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// SubmitClaimBatch submits each claim independently. A bad claim rejects
// only itself; the rest of the batch proceeds.
func (s *Service) SubmitClaimBatch(ctx context.Context, claims []*Claim) (*BatchResult, error) {
	result := &BatchResult{Accepted: make([]*Claim, 0, len(claims))}
	for i, claim := range claims {
		submitted, err := s.SubmitClaim(ctx, claim)
		if err != nil {
			if isUnavailable(err) {
				return nil, err
			}
			result.Rejected = append(result.Rejected, BatchRejected{Index: i, Reason: err.Error()})
			continue
		}
		result.Accepted = append(result.Accepted, submitted)
	}
	return result, nil
}

// allowedTransitions are the manual status corrections an operator may make.
// Reconciliation sessions move claims to paid/partially_paid/denied; those
// transitions never go through CorrectStatus.
var allowedTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimSubmitted:      {ClaimProcessing, ClaimReviewRequired, ClaimDenied},
	ClaimProcessing:     {ClaimSubmitted, ClaimReviewRequired, ClaimDenied},
	ClaimReviewRequired: {ClaimSubmitted, ClaimProcessing, ClaimDenied},
	ClaimPartiallyPaid:  {ClaimReviewRequired},
	ClaimDenied:         {ClaimReviewRequired}, // appeal path
}

// CorrectStatus applies a manual status correction and records the event.
func (s *Service) CorrectStatus(ctx context.Context, claimID string, to ClaimStatus, note string) (*Claim, error) {
	done := observeOp("correct_status")
	defer done()

	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(claim.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, claim.Status, to)
	}

	from := claim.Status
	claim.Status = to
	if to == ClaimDenied && note != "" {
		claim.DenialReason = note
	}
	if err := s.store.UpdateClaim(ctx, claim); err != nil {
		return nil, err
	}
	event := &ClaimEvent{
		ID:         idgen.WithPrefix("evt_"),
		ClaimID:    claim.ID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		logging.L(ctx).Warn("claim event append failed", "claim_id", claim.ID, "error", err)
	}
	logging.L(ctx).Info("claim status corrected",
		"claim_id", claim.ID, "from", from, "to", to)
	return claim, nil
}

// ReopenPayment flags a resolved payment as disputed so the next
// reconciliation session picks it up again. The matched claim keeps its
// history; nothing is rolled back.
func (s *Service) ReopenPayment(ctx context.Context, paymentID string) (*Payment, error) {
	done := observeOp("reopen_payment")
	defer done()

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.MatchStatus.Open() {
		return nil, fmt.Errorf("%w: payment %s is not resolved", ErrInvalidTransition, paymentID)
	}
	payment.MatchStatus = PaymentDisputed
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("payment reopened", "payment_id", paymentID)
	return payment, nil
}

func transitionAllowed(from, to ClaimStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func validateClaim(claim *Claim) error {
	switch {
	case strings.TrimSpace(claim.Payer) == "":
		return fmt.Errorf("payer is required")
	case claim.BilledAmount.IsNegative() || claim.BilledAmount.IsZero():
		return fmt.Errorf("billed amount must be positive")
	case claim.PaidAmount.IsNegative():
		return fmt.Errorf("paid amount cannot be negative")
	case claim.ServiceDate.IsZero():
		return fmt.Errorf("service date is required")
	case claim.PaidAmount.GreaterThan(claim.BilledAmount):
		return fmt.Errorf("paid amount cannot exceed billed amount")
	}
	return nil
}

// scrubClaim returns the names of required fields the claim is missing.
func scrubClaim(claim *Claim) []string {
	missing := make([]string, 0)
	if len(claim.DiagnosisCodes) == 0 {
		missing = append(missing, scrubFields[0])
	}
	if len(claim.ProcedureCodes) == 0 {
		missing = append(missing, scrubFields[1])
	}
	if strings.TrimSpace(claim.PatientID) == "" {
		missing = append(missing, scrubFields[2])
	}
	if strings.TrimSpace(claim.Provider) == "" {
		missing = append(missing, scrubFields[3])
	}
	return missing
}

func scrubNote(missing []string) string {
	if len(missing) == 0 {
		return "submitted"
	}
	return "routed to review: missing " + strings.Join(missing, ", ")
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
