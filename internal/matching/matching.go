// Package matching pairs posted payments with open claims and reconciles
// amounts. The engine is pure with respect to the ledger: it reads claims
// through a ClaimSource and returns outcomes; callers decide whether and how
// to commit them.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nbasil/medledger/internal/idgen"
	"github.com/nbasil/medledger/internal/ledger"
)

// ClaimSource provides the engine's read view of the ledger.
type ClaimSource interface {
	GetClaim(ctx context.Context, id string) (*ledger.Claim, error)
	// OpenClaims returns unresolved claims for a payer/patient pair,
	// ordered by submission date then ID.
	OpenClaims(ctx context.Context, payer, patientID string) ([]*ledger.Claim, error)
}

// Tolerance bounds how far a payment may deviate from the expected amount
// and still settle a claim. The allowed deviation is the lesser of the
// absolute bound and the relative bound applied to the expected amount.
type Tolerance struct {
	Abs decimal.Decimal // dollars
	Pct decimal.Decimal // fraction, e.g. 0.01
}

// Allowed returns the permitted deviation for an expected amount.
func (t Tolerance) Allowed(expected decimal.Decimal) decimal.Decimal {
	rel := expected.Mul(t.Pct)
	if rel.LessThan(t.Abs) {
		return rel
	}
	return t.Abs
}

// Config controls engine behavior.
type Config struct {
	Tolerance  Tolerance
	WindowDays int // fuzzy pass service-date window
}

// DefaultConfig returns the standard tolerances: $1.00 or 1% (whichever is
// smaller) and a 120-day date window.
func DefaultConfig() Config {
	return Config{
		Tolerance: Tolerance{
			Abs: decimal.NewFromFloat(1.00),
			Pct: decimal.NewFromFloat(0.01),
		},
		WindowDays: 120,
	}
}

// Outcome is the engine's verdict for one payment.
type Outcome struct {
	Payment       *ledger.Payment // updated copy: match status, matched claim
	Claim         *ledger.Claim   // updated copy, nil when nothing paired
	Result        ledger.MatchStatus
	Discrepancies []*ledger.Discrepancy
	Events        []*ledger.ClaimEvent
}

// Engine matches payments against claims.
type Engine struct {
	cfg Config
}

// New creates an engine with the given config.
func New(cfg Config) *Engine {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultConfig().WindowDays
	}
	return &Engine{cfg: cfg}
}

// Reconcile processes a set of payments against the ledger view and returns
// one outcome per payment. Payments are processed in ID order so results
// depend only on the input set, never on iteration order. Claims touched by
// earlier payments in the same run are seen, with their updates, by later
// ones.
func (e *Engine) Reconcile(ctx context.Context, payments []*ledger.Payment, src ClaimSource) ([]*Outcome, error) {
	sorted := make([]*ledger.Payment, len(payments))
	copy(sorted, payments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	view := newLedgerView(src)
	outcomes := make([]*Outcome, 0, len(sorted))
	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, err := e.matchOne(ctx, view, p.Clone())
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (e *Engine) matchOne(ctx context.Context, view *ledgerView, p *ledger.Payment) (*Outcome, error) {
	// Pass 1: exact claim ID asserted by the remittance.
	if p.ClaimID != "" {
		claim, err := view.get(ctx, p.ClaimID)
		if err != nil && !errors.Is(err, ledger.ErrClaimNotFound) {
			return nil, err
		}
		if claim != nil {
			return e.settle(view, p, claim), nil
		}
		// Asserted ID doesn't exist; fall through to the fuzzy pass.
	}

	// Pass 2: fuzzy match on payer, patient, amount, and date window.
	candidates, stale, settled, err := e.fuzzyCandidates(ctx, view, p)
	if err != nil {
		return nil, err
	}

	switch {
	case len(candidates) == 1:
		return e.settle(view, p, candidates[0]), nil
	case len(candidates) > 1:
		// Deterministic tie-break: earliest submission date, then lowest ID.
		outcome := e.settle(view, p, candidates[0])
		for _, other := range candidates[1:] {
			outcome.Discrepancies = append(outcome.Discrepancies, &ledger.Discrepancy{
				ID:          idgen.WithPrefix("dsc_"),
				Kind:        ledger.DiscrepancyDuplicatePayment,
				ClaimID:     other.ID,
				PaymentID:   p.ID,
				Expected:    other.Balance(),
				Actual:      decimal.Zero,
				Difference:  other.Balance(),
				Description: fmt.Sprintf("payment %s also matches claim %s; applied to %s by earliest submission", p.ID, other.ID, candidates[0].ID),
			})
		}
		return outcome, nil
	case len(settled) > 0:
		// The only fit is a claim that is already paid: a double payment.
		return e.unmatched(p, &ledger.Discrepancy{
			ID:          idgen.WithPrefix("dsc_"),
			Kind:        ledger.DiscrepancyDuplicatePayment,
			ClaimID:     settled[0].ID,
			PaymentID:   p.ID,
			Expected:    decimal.Zero,
			Actual:      p.Applied(),
			Difference:  p.Applied(),
			Description: fmt.Sprintf("payment %s matches settled claim %s", p.ID, settled[0].ID),
		}), nil
	case len(stale) > 0:
		// A claim fits except its service date is outside the window.
		return e.unmatched(p, &ledger.Discrepancy{
			ID:          idgen.WithPrefix("dsc_"),
			Kind:        ledger.DiscrepancyStaleClaim,
			ClaimID:     stale[0].ID,
			PaymentID:   p.ID,
			Expected:    stale[0].Balance(),
			Actual:      p.Applied(),
			Difference:  stale[0].Balance().Sub(p.Applied()).Abs(),
			Description: fmt.Sprintf("claim %s matches payment %s but its service date is outside the %d-day window", stale[0].ID, p.ID, e.cfg.WindowDays),
		}), nil
	default:
		return e.unmatched(p, &ledger.Discrepancy{
			ID:          idgen.WithPrefix("dsc_"),
			Kind:        ledger.DiscrepancyMissingClaim,
			PaymentID:   p.ID,
			Expected:    p.Applied(),
			Actual:      decimal.Zero,
			Difference:  p.Applied(),
			Description: fmt.Sprintf("no open claim found for payment %s (payer %s)", p.ID, p.Payer),
		}), nil
	}
}

// fuzzyCandidates returns in-window candidates, out-of-window near misses,
// and in-window fits that are already settled.
func (e *Engine) fuzzyCandidates(ctx context.Context, view *ledgerView, p *ledger.Payment) (candidates, stale, settled []*ledger.Claim, err error) {
	if p.PatientID == "" {
		return nil, nil, nil, nil
	}
	open, err := view.openClaims(ctx, p.Payer, p.PatientID)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, claim := range open {
		if !e.withinWindow(p.PaymentDate, claim.ServiceDate) {
			if !claim.Status.Resolved() && !claim.Balance().IsZero() && e.amountFits(p, claim) {
				stale = append(stale, claim)
			}
			continue
		}
		if claim.Status.Resolved() || claim.Balance().IsZero() {
			if e.fitsSettled(p, claim) {
				settled = append(settled, claim)
			}
			continue
		}
		if e.amountFits(p, claim) {
			candidates = append(candidates, claim)
		}
	}
	// view.openClaims preserves (submission date, ID) order, so all three
	// slices are already tie-break ordered.
	return candidates, stale, settled, nil
}

// fitsSettled checks a payment against a claim that no longer has an open
// balance, using the billed amount as the comparison point.
func (e *Engine) fitsSettled(p *ledger.Payment, claim *ledger.Claim) bool {
	tol := e.cfg.Tolerance.Allowed(claim.BilledAmount)
	if p.BilledHint.IsPositive() {
		return claim.BilledAmount.Sub(p.BilledHint).Abs().LessThanOrEqual(tol)
	}
	return claim.BilledAmount.Sub(p.Applied()).Abs().LessThanOrEqual(tol)
}

// amountFits checks the payment against the claim's billed amount. When the
// remittance echoes a billed amount, compare against that; otherwise compare
// what the payment settles against the claim's open balance.
func (e *Engine) amountFits(p *ledger.Payment, claim *ledger.Claim) bool {
	if p.PaidAmount.IsZero() && p.DenialReason != "" {
		// Denials carry no amount to compare; the billed hint decides.
		if p.BilledHint.IsPositive() {
			diff := claim.BilledAmount.Sub(p.BilledHint).Abs()
			return diff.LessThanOrEqual(e.cfg.Tolerance.Allowed(claim.BilledAmount))
		}
		return true
	}
	if p.BilledHint.IsPositive() {
		diff := claim.BilledAmount.Sub(p.BilledHint).Abs()
		return diff.LessThanOrEqual(e.cfg.Tolerance.Allowed(claim.BilledAmount))
	}
	// No hint: accept anything that doesn't overshoot the open balance
	// beyond tolerance. Underpayments are fine; they become partials.
	excess := p.Applied().Sub(claim.Balance())
	return excess.LessThanOrEqual(e.cfg.Tolerance.Allowed(claim.Balance()))
}

func (e *Engine) withinWindow(paymentDate, serviceDate time.Time) bool {
	days := paymentDate.Sub(serviceDate).Hours() / 24
	if days < 0 {
		days = -days
	}
	return days <= float64(e.cfg.WindowDays)
}

// settle reconciles amounts between a paired payment and claim, mutating the
// working copies held by the view.
func (e *Engine) settle(view *ledgerView, p *ledger.Payment, claim *ledger.Claim) *Outcome {
	// A fully paid claim never absorbs another payment.
	if claim.Status == ledger.ClaimPaid || claim.Balance().IsZero() {
		return e.unmatched(p, &ledger.Discrepancy{
			ID:          idgen.WithPrefix("dsc_"),
			Kind:        ledger.DiscrepancyDuplicatePayment,
			ClaimID:     claim.ID,
			PaymentID:   p.ID,
			Expected:    decimal.Zero,
			Actual:      p.Applied(),
			Difference:  p.Applied(),
			Description: fmt.Sprintf("payment %s posted against settled claim %s", p.ID, claim.ID),
		})
	}

	outcome := &Outcome{Payment: p}
	from := claim.Status

	// Denial: zero cash with a reason finalizes the claim as denied.
	if p.PaidAmount.IsZero() && p.DenialReason != "" {
		claim.Status = ledger.ClaimDenied
		claim.DenialReason = p.DenialReason
		e.pair(outcome, p, claim, ledger.PaymentMatched)
		if from != ledger.ClaimDenied {
			outcome.Events = append(outcome.Events, statusEvent(claim, from, p.ID, "payer denial: "+p.DenialReason))
		}
		view.put(claim)
		return outcome
	}

	remaining := claim.Balance()
	applied := p.Applied()
	tol := e.cfg.Tolerance.Allowed(remaining)
	diff := applied.Sub(remaining)

	switch {
	case diff.Abs().LessThanOrEqual(tol):
		// Settled in full (within tolerance).
		applyCash(claim, p)
		claim.Status = ledger.ClaimPaid
		e.pair(outcome, p, claim, ledger.PaymentMatched)
		outcome.Events = append(outcome.Events, statusEvent(claim, from, p.ID, "settled by payment"))

	case diff.IsNegative():
		// Underpayment beyond tolerance: partial.
		applyCash(claim, p)
		claim.Status = ledger.ClaimPartiallyPaid
		e.pair(outcome, p, claim, ledger.PaymentPartialMatch)
		outcome.Discrepancies = append(outcome.Discrepancies, &ledger.Discrepancy{
			ID:          idgen.WithPrefix("dsc_"),
			Kind:        ledger.DiscrepancyAmountMismatch,
			ClaimID:     claim.ID,
			PaymentID:   p.ID,
			Expected:    remaining,
			Actual:      applied,
			Difference:  remaining.Sub(applied),
			Description: fmt.Sprintf("payment %s settles %s of %s open on claim %s", p.ID, applied, remaining, claim.ID),
		})
		if from != ledger.ClaimPartiallyPaid {
			outcome.Events = append(outcome.Events, statusEvent(claim, from, p.ID, "partial payment"))
		}

	default:
		// Overpayment beyond tolerance: settle the balance, record the excess.
		applyCash(claim, p)
		claim.Status = ledger.ClaimPaid
		e.pair(outcome, p, claim, ledger.PaymentPartialMatch)
		outcome.Discrepancies = append(outcome.Discrepancies, &ledger.Discrepancy{
			ID:          idgen.WithPrefix("dsc_"),
			Kind:        ledger.DiscrepancyAmountMismatch,
			ClaimID:     claim.ID,
			PaymentID:   p.ID,
			Expected:    remaining,
			Actual:      applied,
			Difference:  diff,
			Description: fmt.Sprintf("payment %s exceeds the %s open on claim %s by %s; excess not applied", p.ID, remaining, claim.ID, diff),
		})
		outcome.Events = append(outcome.Events, statusEvent(claim, from, p.ID, "settled by payment with overpayment"))
	}

	view.put(claim)
	return outcome
}

func (e *Engine) pair(outcome *Outcome, p *ledger.Payment, claim *ledger.Claim, result ledger.MatchStatus) {
	p.MatchStatus = result
	p.MatchedClaimID = claim.ID
	outcome.Claim = claim
	outcome.Result = result
}

func (e *Engine) unmatched(p *ledger.Payment, d *ledger.Discrepancy) *Outcome {
	p.MatchStatus = ledger.PaymentUnmatched
	return &Outcome{
		Payment:       p,
		Result:        ledger.PaymentUnmatched,
		Discrepancies: []*ledger.Discrepancy{d},
	}
}

// applyCash credits the payment's cash and adjustment to the claim, capping
// cash at the billed amount so paid never exceeds billed.
func applyCash(claim *ledger.Claim, p *ledger.Payment) {
	cash := p.PaidAmount
	headroom := claim.BilledAmount.Sub(claim.PaidAmount)
	if cash.GreaterThan(headroom) {
		cash = headroom
	}
	claim.PaidAmount = claim.PaidAmount.Add(cash)
	claim.AdjustmentAmount = claim.AdjustmentAmount.Add(p.AdjustmentAmount)
}

func statusEvent(claim *ledger.Claim, from ledger.ClaimStatus, paymentID, note string) *ledger.ClaimEvent {
	return &ledger.ClaimEvent{
		ID:         idgen.WithPrefix("evt_"),
		ClaimID:    claim.ID,
		FromStatus: from,
		ToStatus:   claim.Status,
		Reference:  paymentID,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	}
}
