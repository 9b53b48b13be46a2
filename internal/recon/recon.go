// Package recon orchestrates reconciliation sessions: one bounded matching
// run over a set of posted payments, committed to the ledger atomically with
// a reproducible audit record.
package recon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nbasil/medledger/internal/idgen"
	"github.com/nbasil/medledger/internal/ledger"
	"github.com/nbasil/medledger/internal/logging"
	"github.com/nbasil/medledger/internal/matching"
	"github.com/nbasil/medledger/internal/metrics"
	"github.com/nbasil/medledger/internal/traces"
)

var (
	// ErrSessionConflict means another session holds a lock on part of the
	// requested payment set. The caller retries after that session ends.
	ErrSessionConflict = errors.New("reconciliation session conflict")
	// ErrSessionFailed means the session ran but could not commit. Nothing
	// was written; the same request can be retried.
	ErrSessionFailed = errors.New("reconciliation session failed")
	// ErrNoOpenPayments means there was nothing eligible to reconcile.
	ErrNoOpenPayments = errors.New("no open payments to reconcile")
)

// Manager runs reconciliation sessions one batch at a time. Sessions over
// overlapping payment sets are rejected, never queued.
type Manager struct {
	store  ledger.Store
	engine *matching.Engine
	locks  *lockTable
}

// NewManager creates a session manager using the given matching configuration.
func NewManager(store ledger.Store, cfg matching.Config) *Manager {
	return &Manager{
		store:  store,
		engine: matching.New(cfg),
		locks:  newLockTable(),
	}
}

// Run reconciles the requested payment IDs, or every open payment when ids
// is empty. On success the committed session is returned; on conflict or
// failure nothing was written to the ledger.
func (m *Manager) Run(ctx context.Context, ids []string) (*ledger.ReconciliationSession, error) {
	startedAt := time.Now().UTC()
	sessionID := idgen.WithPrefix("rs_")

	ctx, span := traces.StartSpan(ctx, "recon.session", traces.SessionID(sessionID))
	defer span.End()

	payments, err := m.loadPayments(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, ErrNoOpenPayments
	}

	keys := make([]string, 0, len(payments))
	for _, p := range payments {
		keys = append(keys, paymentKey(p.ID))
	}
	if err := m.locks.tryAcquire(sessionID, keys); err != nil {
		metrics.SessionsTotal.WithLabelValues("conflict").Inc()
		return nil, err
	}
	defer m.locks.release(sessionID)

	outcomes, err := m.engine.Reconcile(ctx, payments, m.store)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}

	commit := buildCommit(sessionID, startedAt, payments, outcomes)

	// Claims being mutated are only known after matching: the fuzzy pass can
	// pair a payment with a claim nobody asserted. Take those locks now, and
	// treat a holder as a conflicting session.
	claimKeys := make([]string, 0, len(commit.Claims))
	for _, c := range commit.Claims {
		claimKeys = append(claimKeys, claimKey(c.ID))
	}
	if err := m.locks.tryAcquire(sessionID, claimKeys); err != nil {
		metrics.SessionsTotal.WithLabelValues("conflict").Inc()
		return nil, err
	}

	// Matching ran against unlocked claim reads. Re-read each claim now that
	// its lock is held: if another session resolved it in between, the
	// outcomes were computed from a stale balance and must not commit.
	if err := m.verifyClaims(ctx, commit.Claims); err != nil {
		if errors.Is(err, ErrSessionConflict) {
			metrics.SessionsTotal.WithLabelValues("conflict").Inc()
		} else {
			metrics.SessionsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	if err := m.store.CommitSession(ctx, commit); err != nil {
		metrics.SessionsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}

	session := commit.Session
	metrics.SessionsTotal.WithLabelValues("committed").Inc()
	metrics.SessionDuration.Observe(time.Since(startedAt).Seconds())
	metrics.MatchOutcomesTotal.WithLabelValues(string(ledger.PaymentMatched)).Add(float64(session.Matched))
	metrics.MatchOutcomesTotal.WithLabelValues(string(ledger.PaymentPartialMatch)).Add(float64(session.PartialMatch))
	metrics.MatchOutcomesTotal.WithLabelValues(string(ledger.PaymentUnmatched)).Add(float64(session.Unmatched))
	for _, d := range session.Discrepancies {
		metrics.DiscrepanciesTotal.WithLabelValues(string(d.Kind)).Inc()
	}

	logging.L(ctx).Info("reconciliation session committed",
		"session_id", session.ID,
		"payments", session.PaymentsTotal,
		"matched", session.Matched,
		"partial", session.PartialMatch,
		"unmatched", session.Unmatched,
		"discrepancies", len(session.Discrepancies),
		"confidence", session.Confidence)
	return session, nil
}

// verifyClaims re-reads every claim a session wants to mutate and compares
// its UpdatedAt against the working copy's, which still carries the value
// from the matching read. The engine never touches UpdatedAt and every store
// bumps it on write, so any difference means a concurrent commit landed
// between the read and the lock.
func (m *Manager) verifyClaims(ctx context.Context, claims []*ledger.Claim) error {
	for _, c := range claims {
		current, err := m.store.GetClaim(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSessionFailed, err)
		}
		if !current.UpdatedAt.Equal(c.UpdatedAt) {
			return fmt.Errorf("%w: claim %s changed since it was read", ErrSessionConflict, c.ID)
		}
	}
	return nil
}

// loadPayments resolves the input payment set. Explicit IDs must exist and
// still be open; with no IDs, every open payment is taken.
func (m *Manager) loadPayments(ctx context.Context, ids []string) ([]*ledger.Payment, error) {
	if len(ids) == 0 {
		return m.store.OpenPayments(ctx)
	}

	payments := make([]*ledger.Payment, 0, len(ids))
	for _, id := range ids {
		payment, err := m.store.GetPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		if !payment.MatchStatus.Open() {
			return nil, fmt.Errorf("payment %s already resolved (%s)", id, payment.MatchStatus)
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

// buildCommit aggregates matching outcomes into one atomic ledger write.
func buildCommit(sessionID string, startedAt time.Time, payments []*ledger.Payment, outcomes []*matching.Outcome) *ledger.SessionCommit {
	completedAt := time.Now().UTC()
	session := &ledger.ReconciliationSession{
		ID:            sessionID,
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
		PaymentsTotal: len(payments),
		TotalPaid:     decimal.Zero,
		MatchedAmount: decimal.Zero,
		Discrepancies: make([]*ledger.Discrepancy, 0),
		CreatedAt:     completedAt,
	}

	commit := &ledger.SessionCommit{Session: session}
	seenClaims := make(map[string]bool)

	for _, o := range outcomes {
		o.Payment.SessionID = sessionID
		commit.Payments = append(commit.Payments, o.Payment)
		session.TotalPaid = session.TotalPaid.Add(o.Payment.PaidAmount)

		switch o.Result {
		case ledger.PaymentMatched:
			session.Matched++
			session.MatchedAmount = session.MatchedAmount.Add(o.Payment.Applied())
		case ledger.PaymentPartialMatch:
			session.PartialMatch++
			session.MatchedAmount = session.MatchedAmount.Add(o.Payment.Applied())
		default:
			session.Unmatched++
		}

		// Outcomes in one session share working claim copies; dedupe so the
		// commit carries each claim once, in its final state.
		if o.Claim != nil && !seenClaims[o.Claim.ID] {
			seenClaims[o.Claim.ID] = true
			commit.Claims = append(commit.Claims, o.Claim)
		}

		for _, d := range o.Discrepancies {
			d.SessionID = sessionID
			session.Discrepancies = append(session.Discrepancies, d)
		}
		for _, e := range o.Events {
			commit.Events = append(commit.Events, e)
		}
	}

	session.Confidence = confidence(session.Matched, session.PartialMatch, session.PaymentsTotal)
	return commit
}

// confidence scores a session 0..1: full credit per matched payment, half
// per partial match, rounded to two decimals.
func confidence(matched, partial, total int) float64 {
	if total == 0 {
		return 0
	}
	score := (float64(matched) + 0.5*float64(partial)) / float64(total)
	return math.Round(score*100) / 100
}
