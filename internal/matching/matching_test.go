package matching

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nbasil/medledger/internal/ledger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestStore(t *testing.T, claims ...*ledger.Claim) *ledger.MemoryStore {
	t.Helper()
	store := ledger.NewMemoryStore()
	for _, c := range claims {
		if err := store.CreateClaim(context.Background(), c); err != nil {
			t.Fatalf("CreateClaim(%s): %v", c.ID, err)
		}
	}
	return store
}

func testClaim(id string, billed string) *ledger.Claim {
	return &ledger.Claim{
		ID:             id,
		PatientID:      "PT-1001",
		Payer:          "Blue Shield",
		Provider:       "Dr. Chen",
		BilledAmount:   dec(billed),
		ServiceDate:    date("2026-05-01"),
		SubmissionDate: date("2026-05-03"),
		Status:         ledger.ClaimSubmitted,
	}
}

func testPayment(id string, paid string) *ledger.Payment {
	return &ledger.Payment{
		ID:          id,
		Payer:       "Blue Shield",
		PatientID:   "PT-1001",
		PaidAmount:  dec(paid),
		PaymentDate: date("2026-06-15"),
		MatchStatus: ledger.PaymentUnmatched,
	}
}

func reconcileOne(t *testing.T, store *ledger.MemoryStore, p *ledger.Payment) *Outcome {
	t.Helper()
	engine := New(DefaultConfig())
	outcomes, err := engine.Reconcile(context.Background(), []*ledger.Payment{p}, store)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	return outcomes[0]
}

func TestExactMatch_WithAdjustment(t *testing.T) {
	store := newTestStore(t, testClaim("CLM-1", "1500.00"))

	p := testPayment("PAY-1", "1350.00")
	p.ClaimID = "CLM-1"
	p.AdjustmentAmount = dec("150.00")

	outcome := reconcileOne(t, store, p)

	if outcome.Result != ledger.PaymentMatched {
		t.Errorf("result = %s, want matched", outcome.Result)
	}
	if outcome.Claim.Status != ledger.ClaimPaid {
		t.Errorf("claim status = %s, want paid", outcome.Claim.Status)
	}
	if !outcome.Claim.PaidAmount.Equal(dec("1350.00")) {
		t.Errorf("claim paid = %s, want 1350.00", outcome.Claim.PaidAmount)
	}
	if !outcome.Claim.AdjustmentAmount.Equal(dec("150.00")) {
		t.Errorf("claim adjustment = %s, want 150.00", outcome.Claim.AdjustmentAmount)
	}
	if len(outcome.Discrepancies) != 0 {
		t.Errorf("expected no discrepancies, got %d", len(outcome.Discrepancies))
	}
	if outcome.Payment.MatchedClaimID != "CLM-1" {
		t.Errorf("matched claim = %s, want CLM-1", outcome.Payment.MatchedClaimID)
	}
}

func TestDenial_FinalizesClaim(t *testing.T) {
	store := newTestStore(t, testClaim("CLM-1", "800.00"))

	p := testPayment("PAY-1", "0")
	p.ClaimID = "CLM-1"
	p.DenialReason = "Prior authorization required"

	outcome := reconcileOne(t, store, p)

	if outcome.Result != ledger.PaymentMatched {
		t.Errorf("result = %s, want matched", outcome.Result)
	}
	if outcome.Claim.Status != ledger.ClaimDenied {
		t.Errorf("claim status = %s, want denied", outcome.Claim.Status)
	}
	if outcome.Claim.DenialReason != "Prior authorization required" {
		t.Errorf("denial reason = %q", outcome.Claim.DenialReason)
	}
	if len(outcome.Events) != 1 || outcome.Events[0].ToStatus != ledger.ClaimDenied {
		t.Errorf("expected a denied status event, got %+v", outcome.Events)
	}
}

func TestFuzzyMatch_TieBreakEarliestSubmission(t *testing.T) {
	older := testClaim("CLM-B", "500.00")
	older.SubmissionDate = date("2026-05-01")
	newer := testClaim("CLM-A", "500.00")
	newer.SubmissionDate = date("2026-05-10")
	store := newTestStore(t, older, newer)

	p := testPayment("PAY-1", "500.00")
	p.BilledHint = dec("500.00")

	outcome := reconcileOne(t, store, p)

	if outcome.Payment.MatchedClaimID != "CLM-B" {
		t.Errorf("matched %s, want CLM-B (earliest submission)", outcome.Payment.MatchedClaimID)
	}
	if len(outcome.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got %d", len(outcome.Discrepancies))
	}
	d := outcome.Discrepancies[0]
	if d.Kind != ledger.DiscrepancyDuplicatePayment {
		t.Errorf("discrepancy kind = %s, want duplicate_payment", d.Kind)
	}
	if d.ClaimID != "CLM-A" {
		t.Errorf("discrepancy references %s, want CLM-A", d.ClaimID)
	}
}

func TestFuzzyMatch_TieBreakLexicographicID(t *testing.T) {
	a := testClaim("CLM-A", "500.00")
	b := testClaim("CLM-B", "500.00")
	store := newTestStore(t, b, a) // same submission date

	p := testPayment("PAY-1", "500.00")
	p.BilledHint = dec("500.00")

	outcome := reconcileOne(t, store, p)
	if outcome.Payment.MatchedClaimID != "CLM-A" {
		t.Errorf("matched %s, want CLM-A (lowest ID)", outcome.Payment.MatchedClaimID)
	}
}

func TestPaymentAgainstSettledClaim_IsDuplicate(t *testing.T) {
	claim := testClaim("CLM-1", "500.00")
	claim.PaidAmount = dec("500.00")
	claim.Status = ledger.ClaimPaid
	store := newTestStore(t, claim)

	p := testPayment("PAY-2", "500.00")
	p.ClaimID = "CLM-1"

	outcome := reconcileOne(t, store, p)

	if outcome.Result != ledger.PaymentUnmatched {
		t.Errorf("result = %s, want unmatched", outcome.Result)
	}
	if len(outcome.Discrepancies) != 1 || outcome.Discrepancies[0].Kind != ledger.DiscrepancyDuplicatePayment {
		t.Fatalf("expected duplicate_payment discrepancy, got %+v", outcome.Discrepancies)
	}
	if outcome.Claim != nil {
		t.Error("settled claim must not be touched")
	}
}

func TestNoCandidates_MissingClaim(t *testing.T) {
	store := newTestStore(t)

	p := testPayment("PAY-1", "800.00")

	outcome := reconcileOne(t, store, p)

	if outcome.Result != ledger.PaymentUnmatched {
		t.Errorf("result = %s, want unmatched", outcome.Result)
	}
	if len(outcome.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got %d", len(outcome.Discrepancies))
	}
	d := outcome.Discrepancies[0]
	if d.Kind != ledger.DiscrepancyMissingClaim {
		t.Errorf("kind = %s, want missing_claim", d.Kind)
	}
	if !d.Expected.Equal(dec("800.00")) || !d.Actual.IsZero() {
		t.Errorf("expected/actual = %s/%s, want 800.00/0", d.Expected, d.Actual)
	}
}

func TestStaleClaim_OutsideWindow(t *testing.T) {
	claim := testClaim("CLM-1", "500.00")
	claim.ServiceDate = date("2025-06-01")
	store := newTestStore(t, claim)

	p := testPayment("PAY-1", "500.00")
	p.BilledHint = dec("500.00")
	p.PaymentDate = date("2026-06-15") // > 120 days after service

	outcome := reconcileOne(t, store, p)

	if outcome.Result != ledger.PaymentUnmatched {
		t.Errorf("result = %s, want unmatched", outcome.Result)
	}
	if len(outcome.Discrepancies) != 1 || outcome.Discrepancies[0].Kind != ledger.DiscrepancyStaleClaim {
		t.Fatalf("expected stale_claim discrepancy, got %+v", outcome.Discrepancies)
	}
	if outcome.Discrepancies[0].ClaimID != "CLM-1" {
		t.Errorf("stale discrepancy references %s, want CLM-1", outcome.Discrepancies[0].ClaimID)
	}
}

func TestPartialPayment_BeyondTolerance(t *testing.T) {
	store := newTestStore(t, testClaim("CLM-1", "1000.00"))

	p := testPayment("PAY-1", "600.00")
	p.ClaimID = "CLM-1"

	outcome := reconcileOne(t, store, p)

	if outcome.Result != ledger.PaymentPartialMatch {
		t.Errorf("result = %s, want partial_match", outcome.Result)
	}
	if outcome.Claim.Status != ledger.ClaimPartiallyPaid {
		t.Errorf("claim status = %s, want partially_paid", outcome.Claim.Status)
	}
	if len(outcome.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got %d", len(outcome.Discrepancies))
	}
	d := outcome.Discrepancies[0]
	if d.Kind != ledger.DiscrepancyAmountMismatch {
		t.Errorf("kind = %s, want amount_mismatch", d.Kind)
	}
	if !d.Expected.Equal(dec("1000.00")) || !d.Actual.Equal(dec("600.00")) || !d.Difference.Equal(dec("400.00")) {
		t.Errorf("expected/actual/difference = %s/%s/%s", d.Expected, d.Actual, d.Difference)
	}
}

func TestSecondPartial_SettlesClaim(t *testing.T) {
	store := newTestStore(t, testClaim("CLM-1", "1000.00"))

	p1 := testPayment("PAY-1", "600.00")
	p1.ClaimID = "CLM-1"
	reconcileOne(t, store, p1)

	// Apply the first outcome so the second run sees the updated balance.
	claim, _ := store.GetClaim(context.Background(), "CLM-1")
	claim.PaidAmount = dec("600.00")
	claim.Status = ledger.ClaimPartiallyPaid
	if err := store.UpdateClaim(context.Background(), claim); err != nil {
		t.Fatal(err)
	}

	p2 := testPayment("PAY-2", "400.00")
	p2.ClaimID = "CLM-1"
	outcome := reconcileOne(t, store, p2)

	if outcome.Result != ledger.PaymentMatched {
		t.Errorf("result = %s, want matched", outcome.Result)
	}
	if outcome.Claim.Status != ledger.ClaimPaid {
		t.Errorf("claim status = %s, want paid", outcome.Claim.Status)
	}
	if !outcome.Claim.PaidAmount.Equal(dec("1000.00")) {
		t.Errorf("claim paid = %s, want 1000.00", outcome.Claim.PaidAmount)
	}
}

func TestOverpayment_ExcessRecorded(t *testing.T) {
	store := newTestStore(t, testClaim("CLM-1", "500.00"))

	p := testPayment("PAY-1", "620.00")
	p.ClaimID = "CLM-1"

	outcome := reconcileOne(t, store, p)

	if outcome.Result != ledger.PaymentPartialMatch {
		t.Errorf("result = %s, want partial_match", outcome.Result)
	}
	if outcome.Claim.Status != ledger.ClaimPaid {
		t.Errorf("claim status = %s, want paid", outcome.Claim.Status)
	}
	// Paid never exceeds billed; the excess lives only in the discrepancy.
	if !outcome.Claim.PaidAmount.Equal(dec("500.00")) {
		t.Errorf("claim paid = %s, want 500.00", outcome.Claim.PaidAmount)
	}
	if len(outcome.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got %d", len(outcome.Discrepancies))
	}
	if !outcome.Discrepancies[0].Difference.Equal(dec("120.00")) {
		t.Errorf("excess = %s, want 120.00", outcome.Discrepancies[0].Difference)
	}
}

func TestToleranceBoundary(t *testing.T) {
	// Tolerance is the lesser of $1.00 and 1% of the expected amount.
	tests := []struct {
		name   string
		billed string
		paid   string
		want   ledger.MatchStatus
	}{
		{"exact", "100.00", "100.00", ledger.PaymentMatched},
		{"within dollar and percent", "100.00", "99.01", ledger.PaymentMatched},
		{"at the boundary", "100.00", "99.00", ledger.PaymentMatched},
		{"past the boundary", "100.00", "98.99", ledger.PaymentPartialMatch},
		{"percent binds below a dollar", "50.00", "49.40", ledger.PaymentPartialMatch}, // tol = 0.50
		{"within percent bound", "50.00", "49.60", ledger.PaymentMatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, testClaim("CLM-1", tt.billed))
			p := testPayment("PAY-1", tt.paid)
			p.ClaimID = "CLM-1"

			outcome := reconcileOne(t, store, p)
			if outcome.Result != tt.want {
				t.Errorf("result = %s, want %s", outcome.Result, tt.want)
			}
		})
	}
}

func TestReconcile_OrderIndependent(t *testing.T) {
	run := func(order []*ledger.Payment) map[string]ledger.MatchStatus {
		store := newTestStore(t,
			testClaim("CLM-1", "300.00"),
			testClaim("CLM-2", "700.00"),
		)
		engine := New(DefaultConfig())
		outcomes, err := engine.Reconcile(context.Background(), order, store)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		results := make(map[string]ledger.MatchStatus)
		for _, o := range outcomes {
			results[o.Payment.ID] = o.Result
		}
		return results
	}

	p1 := func() *ledger.Payment {
		p := testPayment("PAY-1", "300.00")
		p.ClaimID = "CLM-1"
		return p
	}
	p2 := func() *ledger.Payment {
		p := testPayment("PAY-2", "700.00")
		p.ClaimID = "CLM-2"
		return p
	}
	p3 := func() *ledger.Payment {
		// Fuzzy duplicate against CLM-1 which PAY-1 settles.
		p := testPayment("PAY-3", "300.00")
		p.BilledHint = dec("300.00")
		return p
	}

	forward := run([]*ledger.Payment{p1(), p2(), p3()})
	reverse := run([]*ledger.Payment{p3(), p2(), p1()})

	for id, want := range forward {
		if reverse[id] != want {
			t.Errorf("payment %s: forward %s, reverse %s", id, want, reverse[id])
		}
	}
}

func TestIntraSession_SameClaimAccumulates(t *testing.T) {
	store := newTestStore(t, testClaim("CLM-1", "1000.00"))

	p1 := testPayment("PAY-1", "600.00")
	p1.ClaimID = "CLM-1"
	p2 := testPayment("PAY-2", "400.00")
	p2.ClaimID = "CLM-1"

	engine := New(DefaultConfig())
	outcomes, err := engine.Reconcile(context.Background(), []*ledger.Payment{p2, p1}, store)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Both outcomes share the working claim copy: paid in full.
	for _, o := range outcomes {
		if o.Claim == nil {
			t.Fatalf("payment %s not paired", o.Payment.ID)
		}
		if !o.Claim.PaidAmount.Equal(dec("1000.00")) {
			t.Errorf("claim paid = %s, want 1000.00", o.Claim.PaidAmount)
		}
		if o.Claim.Status != ledger.ClaimPaid {
			t.Errorf("claim status = %s, want paid", o.Claim.Status)
		}
	}
}

func TestFuzzyDuplicate_AfterIntraSessionSettlement(t *testing.T) {
	store := newTestStore(t, testClaim("CLM-1", "300.00"))

	p1 := testPayment("PAY-1", "300.00")
	p1.ClaimID = "CLM-1"
	p2 := testPayment("PAY-2", "300.00")
	p2.BilledHint = dec("300.00")

	engine := New(DefaultConfig())
	outcomes, err := engine.Reconcile(context.Background(), []*ledger.Payment{p1, p2}, store)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	second := outcomes[1]
	if second.Payment.ID != "PAY-2" {
		t.Fatalf("outcomes not in ID order")
	}
	if second.Result != ledger.PaymentUnmatched {
		t.Errorf("result = %s, want unmatched", second.Result)
	}
	if len(second.Discrepancies) != 1 || second.Discrepancies[0].Kind != ledger.DiscrepancyDuplicatePayment {
		t.Fatalf("expected duplicate_payment, got %+v", second.Discrepancies)
	}
	if second.Discrepancies[0].ClaimID != "CLM-1" {
		t.Errorf("duplicate references %s, want CLM-1", second.Discrepancies[0].ClaimID)
	}
}

func TestTolerance_Allowed(t *testing.T) {
	tol := DefaultConfig().Tolerance

	if got := tol.Allowed(dec("1000.00")); !got.Equal(dec("1.00")) {
		t.Errorf("Allowed(1000) = %s, want 1.00 (absolute binds)", got)
	}
	if got := tol.Allowed(dec("50.00")); !got.Equal(dec("0.50")) {
		t.Errorf("Allowed(50) = %s, want 0.50 (percent binds)", got)
	}
}
