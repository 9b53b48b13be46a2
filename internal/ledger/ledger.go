// Package ledger is the durable record of claims, payments, and
// reconciliation history.
//
// Flow:
//  1. Providers submit claims; each claim carries billed amount and dates
//  2. Payer remittances post payments against the ledger
//  3. Reconciliation sessions match payments to claims and commit outcomes
//  4. Aging and denial analytics read the ledger, never mutate it
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrClaimNotFound     = errors.New("claim not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrDuplicateClaim    = errors.New("claim already exists")
	ErrDuplicatePayment  = errors.New("payment already exists")
	ErrDuplicateSession  = errors.New("session already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStoreUnavailable  = errors.New("ledger store unavailable")
)

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimSubmitted      ClaimStatus = "submitted"
	ClaimProcessing     ClaimStatus = "processing"
	ClaimReviewRequired ClaimStatus = "review_required"
	ClaimPartiallyPaid  ClaimStatus = "partially_paid"
	ClaimPaid           ClaimStatus = "paid"
	ClaimDenied         ClaimStatus = "denied"
)

// Resolved reports whether the claim has reached a terminal state.
func (s ClaimStatus) Resolved() bool {
	return s == ClaimPaid || s == ClaimDenied
}

// Valid reports whether s is a known claim status.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimSubmitted, ClaimProcessing, ClaimReviewRequired,
		ClaimPartiallyPaid, ClaimPaid, ClaimDenied:
		return true
	}
	return false
}

// MatchStatus is the matching state of a posted payment.
type MatchStatus string

const (
	PaymentUnmatched    MatchStatus = "unmatched"
	PaymentMatched      MatchStatus = "matched"
	PaymentPartialMatch MatchStatus = "partial_match"
	PaymentDisputed     MatchStatus = "disputed"
)

// Open reports whether the payment is still eligible for reconciliation.
func (s MatchStatus) Open() bool {
	return s == PaymentUnmatched || s == PaymentDisputed
}

// Claim is a billed encounter awaiting payment.
type Claim struct {
	ID               string          `json:"id"`
	PatientID        string          `json:"patientId"`
	PatientName      string          `json:"patientName,omitempty"`
	Payer            string          `json:"payer"`
	Provider         string          `json:"provider"`
	Facility         string          `json:"facility,omitempty"`
	BilledAmount     decimal.Decimal `json:"billedAmount"`
	PaidAmount       decimal.Decimal `json:"paidAmount"`
	AdjustmentAmount decimal.Decimal `json:"adjustmentAmount"`
	ServiceDate      time.Time       `json:"serviceDate"`
	SubmissionDate   time.Time       `json:"submissionDate"`
	Status           ClaimStatus     `json:"status"`
	DenialReason     string          `json:"denialReason,omitempty"`
	DiagnosisCodes   []string        `json:"diagnosisCodes,omitempty"`
	ProcedureCodes   []string        `json:"procedureCodes,omitempty"`
	PriorAuth        bool            `json:"priorAuth"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Balance returns the unresolved portion of the claim: billed minus cash
// collected minus contractual adjustments. Never negative.
func (c *Claim) Balance() decimal.Decimal {
	bal := c.BilledAmount.Sub(c.PaidAmount).Sub(c.AdjustmentAmount)
	if bal.IsNegative() {
		return decimal.Zero
	}
	return bal
}

// Clone returns a deep copy of the claim.
func (c *Claim) Clone() *Claim {
	cp := *c
	cp.DiagnosisCodes = append([]string(nil), c.DiagnosisCodes...)
	cp.ProcedureCodes = append([]string(nil), c.ProcedureCodes...)
	return &cp
}

// Payment is a posted remittance record from a payer.
type Payment struct {
	ID               string          `json:"id"`
	Payer            string          `json:"payer"`
	ClaimID          string          `json:"claimId,omitempty"` // asserted by the remittance, may be wrong
	PatientID        string          `json:"patientId,omitempty"`
	BilledHint       decimal.Decimal `json:"billedHint"` // billed amount echoed by the payer
	PaidAmount       decimal.Decimal `json:"paidAmount"`
	AdjustmentAmount decimal.Decimal `json:"adjustmentAmount"`
	PaymentDate      time.Time       `json:"paymentDate"`
	DenialReason     string          `json:"denialReason,omitempty"`
	MatchStatus      MatchStatus     `json:"matchStatus"`
	MatchedClaimID   string          `json:"matchedClaimId,omitempty"` // set by reconciliation
	SessionID        string          `json:"sessionId,omitempty"`      // session that resolved it
	Source           string          `json:"source"`                   // "api" or "feed"
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Applied returns the total the payment settles: cash plus adjustments.
func (p *Payment) Applied() decimal.Decimal {
	return p.PaidAmount.Add(p.AdjustmentAmount)
}

// Clone returns a copy of the payment.
func (p *Payment) Clone() *Payment {
	cp := *p
	return &cp
}

// ClaimEvent is one entry in a claim's append-only status history.
type ClaimEvent struct {
	ID         string      `json:"id"`
	ClaimID    string      `json:"claimId"`
	FromStatus ClaimStatus `json:"fromStatus"`
	ToStatus   ClaimStatus `json:"toStatus"`
	Reference  string      `json:"reference,omitempty"` // payment or session ID
	Note       string      `json:"note,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// DiscrepancyKind classifies a reconciliation finding.
type DiscrepancyKind string

const (
	DiscrepancyAmountMismatch   DiscrepancyKind = "amount_mismatch"
	DiscrepancyMissingClaim     DiscrepancyKind = "missing_claim"
	DiscrepancyDuplicatePayment DiscrepancyKind = "duplicate_payment"
	DiscrepancyStaleClaim       DiscrepancyKind = "stale_claim"
)

// Discrepancy is a finding produced by a reconciliation session. Discrepancies
// are data, not errors: a session full of them still commits successfully.
type Discrepancy struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	Kind        DiscrepancyKind `json:"kind"`
	ClaimID     string          `json:"claimId,omitempty"`
	PaymentID   string          `json:"paymentId"`
	Expected    decimal.Decimal `json:"expected"`
	Actual      decimal.Decimal `json:"actual"`
	Difference  decimal.Decimal `json:"difference"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ReconciliationSession is the committed record of one matching run.
// Sessions are append-only: they are written once, atomically, and never
// updated.
type ReconciliationSession struct {
	ID            string          `json:"id"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
	PaymentsTotal int             `json:"paymentsTotal"`
	Matched       int             `json:"matched"`
	PartialMatch  int             `json:"partialMatch"`
	Unmatched     int             `json:"unmatched"`
	TotalPaid     decimal.Decimal `json:"totalPaid"`
	MatchedAmount decimal.Decimal `json:"matchedAmount"`
	Confidence    float64         `json:"confidence"` // 0..1, rounded to 2 decimals
	Discrepancies []*Discrepancy  `json:"discrepancies"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SessionCommit is everything a reconciliation session writes. Stores apply
// it all-or-nothing: either every claim update, payment update, event, and
// the session record itself land, or none do.
type SessionCommit struct {
	Session  *ReconciliationSession
	Claims   []*Claim
	Payments []*Payment
	Events   []*ClaimEvent
}

// ClaimFilter narrows ListClaims.
type ClaimFilter struct {
	Status    ClaimStatus
	Payer     string
	PatientID string
	Limit     int
	Cursor    *CursorPos
}

// PaymentFilter narrows ListPayments.
type PaymentFilter struct {
	MatchStatus MatchStatus
	Payer       string
	Limit       int
	Cursor      *CursorPos
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Cursor *CursorPos
}

// CursorPos is a keyset position (created_at, id) for stable pagination.
type CursorPos struct {
	CreatedAt time.Time
	ID        string
}

// Store persists the ledger. Implementations must copy on read: callers own
// the returned values and may mutate them freely.
type Store interface {
	CreateClaim(ctx context.Context, claim *Claim) error
	GetClaim(ctx context.Context, id string) (*Claim, error)
	ListClaims(ctx context.Context, f ClaimFilter) ([]*Claim, error)
	UpdateClaim(ctx context.Context, claim *Claim) error
	AppendEvent(ctx context.Context, event *ClaimEvent) error
	ClaimEvents(ctx context.Context, claimID string) ([]*ClaimEvent, error)

	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]*Payment, error)
	UpdatePayment(ctx context.Context, payment *Payment) error

	// OpenClaims returns unresolved claims for a payer/patient pair,
	// ordered by submission date then ID.
	OpenClaims(ctx context.Context, payer, patientID string) ([]*Claim, error)
	// OpenPayments returns payments still eligible for reconciliation,
	// ordered by ID.
	OpenPayments(ctx context.Context) ([]*Payment, error)

	CommitSession(ctx context.Context, commit *SessionCommit) error
	GetSession(ctx context.Context, id string) (*ReconciliationSession, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]*ReconciliationSession, error)

	// DenialStats returns how many claims for the payer/procedure pair were
	// denied out of how many resolved.
	DenialStats(ctx context.Context, payer, procedureCode string) (denied, total int, err error)
}
