package ledger

import (
	"context"
	"errors"
	"testing"
)

func seedClaim(t *testing.T, store *MemoryStore, id string) *Claim {
	t.Helper()
	claim := completeClaim()
	claim.ID = id
	claim.Status = ClaimSubmitted
	if err := store.CreateClaim(context.Background(), claim); err != nil {
		t.Fatalf("CreateClaim %s: %v", id, err)
	}
	return claim
}

func seedPayment(t *testing.T, store *MemoryStore, id string, status MatchStatus) *Payment {
	t.Helper()
	payment := &Payment{
		ID:          id,
		Payer:       "Blue Shield",
		PaidAmount:  dec("850.00"),
		PaymentDate: date("2026-06-15"),
		MatchStatus: status,
	}
	if err := store.CreatePayment(context.Background(), payment); err != nil {
		t.Fatalf("CreatePayment %s: %v", id, err)
	}
	return payment
}

func TestMemoryStore_ClaimCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedClaim(t, store, "clm_a")

	seedClaim(t, store, "clm_b")
	dup := completeClaim()
	dup.ID = "clm_a"
	if err := store.CreateClaim(ctx, dup); !errors.Is(err, ErrDuplicateClaim) {
		t.Errorf("duplicate create: expected ErrDuplicateClaim, got %v", err)
	}

	got, err := store.GetClaim(ctx, "clm_a")
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}

	// Returned value is a copy; mutating it must not leak into the store
	got.Payer = "mutated"
	got.DiagnosisCodes[0] = "mutated"
	again, _ := store.GetClaim(ctx, "clm_a")
	if again.Payer != "Blue Shield" || again.DiagnosisCodes[0] != "M54.5" {
		t.Error("stored claim was mutated through a read copy")
	}

	again.Status = ClaimProcessing
	if err := store.UpdateClaim(ctx, again); err != nil {
		t.Fatalf("UpdateClaim: %v", err)
	}
	updated, _ := store.GetClaim(ctx, "clm_a")
	if updated.Status != ClaimProcessing {
		t.Errorf("status = %q after update, want processing", updated.Status)
	}

	if _, err := store.GetClaim(ctx, "clm_missing"); !errors.Is(err, ErrClaimNotFound) {
		t.Errorf("expected ErrClaimNotFound, got %v", err)
	}
	missing := completeClaim()
	missing.ID = "clm_missing"
	if err := store.UpdateClaim(ctx, missing); !errors.Is(err, ErrClaimNotFound) {
		t.Errorf("update missing: expected ErrClaimNotFound, got %v", err)
	}
}

func TestMemoryStore_ListClaims_CursorPagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"clm_a", "clm_b", "clm_c", "clm_d", "clm_e"} {
		seedClaim(t, store, id)
	}

	first, err := store.ListClaims(ctx, ClaimFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first page = %d claims, want 2", len(first))
	}

	last := first[len(first)-1]
	second, err := store.ListClaims(ctx, ClaimFilter{
		Limit:  10,
		Cursor: &CursorPos{CreatedAt: last.CreatedAt, ID: last.ID},
	})
	if err != nil {
		t.Fatalf("ListClaims page 2: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("second page = %d claims, want 3", len(second))
	}

	seen := map[string]bool{}
	for _, c := range append(first, second...) {
		if seen[c.ID] {
			t.Errorf("claim %s appears on both pages", c.ID)
		}
		seen[c.ID] = true
	}
	if len(seen) != 5 {
		t.Errorf("pages cover %d claims, want 5", len(seen))
	}
}

func TestMemoryStore_ListClaims_Filters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := seedClaim(t, store, "clm_a")
	a.Status = ClaimDenied
	if err := store.UpdateClaim(ctx, a); err != nil {
		t.Fatal(err)
	}
	b := completeClaim()
	b.ID = "clm_b"
	b.Payer = "Aetna"
	b.PatientID = "PT-2002"
	if err := store.CreateClaim(ctx, b); err != nil {
		t.Fatal(err)
	}

	denied, _ := store.ListClaims(ctx, ClaimFilter{Status: ClaimDenied})
	if len(denied) != 1 || denied[0].ID != "clm_a" {
		t.Errorf("status filter returned %+v", denied)
	}

	// Payer filter is case-insensitive
	aetna, _ := store.ListClaims(ctx, ClaimFilter{Payer: "AETNA"})
	if len(aetna) != 1 || aetna[0].ID != "clm_b" {
		t.Errorf("payer filter returned %+v", aetna)
	}

	patient, _ := store.ListClaims(ctx, ClaimFilter{PatientID: "PT-2002"})
	if len(patient) != 1 || patient[0].ID != "clm_b" {
		t.Errorf("patient filter returned %+v", patient)
	}

	// Limit 0 means no limit
	all, _ := store.ListClaims(ctx, ClaimFilter{})
	if len(all) != 2 {
		t.Errorf("unfiltered list = %d claims, want 2", len(all))
	}
}

func TestMemoryStore_OpenClaims_Ordering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	later := completeClaim()
	later.ID = "clm_later"
	later.SubmissionDate = date("2026-05-10")
	earlier := completeClaim()
	earlier.ID = "clm_earlier"
	earlier.SubmissionDate = date("2026-05-03")
	tied := completeClaim()
	tied.ID = "clm_aaa"
	tied.SubmissionDate = date("2026-05-03")
	paid := completeClaim()
	paid.ID = "clm_paid"
	paid.Status = ClaimPaid

	for _, c := range []*Claim{later, earlier, tied, paid} {
		if c.Status == "" {
			c.Status = ClaimSubmitted
		}
		if err := store.CreateClaim(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	open, err := store.OpenClaims(ctx, "blue shield", "PT-1001")
	if err != nil {
		t.Fatalf("OpenClaims: %v", err)
	}
	got := make([]string, len(open))
	for i, c := range open {
		got[i] = c.ID
	}
	want := []string{"clm_aaa", "clm_earlier", "clm_later"}
	if len(got) != len(want) {
		t.Fatalf("open claims = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("open claims = %v, want %v", got, want)
		}
	}
}

func TestMemoryStore_OpenPayments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedPayment(t, store, "pay_c", PaymentUnmatched)
	seedPayment(t, store, "pay_a", PaymentDisputed)
	seedPayment(t, store, "pay_b", PaymentMatched)

	open, err := store.OpenPayments(ctx)
	if err != nil {
		t.Fatalf("OpenPayments: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open payments = %d, want 2", len(open))
	}
	// Ordered by ID for deterministic reconciliation input
	if open[0].ID != "pay_a" || open[1].ID != "pay_c" {
		t.Errorf("open payments order = [%s %s], want [pay_a pay_c]", open[0].ID, open[1].ID)
	}
}

func TestMemoryStore_CommitSession_Atomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	claim := seedClaim(t, store, "clm_a")
	payment := seedPayment(t, store, "pay_a", PaymentUnmatched)

	claim.Status = ClaimPaid
	payment.MatchStatus = PaymentMatched
	ghost := completeClaim()
	ghost.ID = "clm_ghost"

	commit := &SessionCommit{
		Session:  &ReconciliationSession{ID: "rs_1"},
		Claims:   []*Claim{claim, ghost},
		Payments: []*Payment{payment},
	}
	if err := store.CommitSession(ctx, commit); !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound, got %v", err)
	}

	// Nothing from the failed commit is visible
	storedClaim, _ := store.GetClaim(ctx, "clm_a")
	if storedClaim.Status == ClaimPaid {
		t.Error("claim update leaked from failed commit")
	}
	storedPayment, _ := store.GetPayment(ctx, "pay_a")
	if storedPayment.MatchStatus != PaymentUnmatched {
		t.Error("payment update leaked from failed commit")
	}
	if _, err := store.GetSession(ctx, "rs_1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session record leaked from failed commit: %v", err)
	}
}

func TestMemoryStore_CommitSession_AppliesEverything(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	claim := seedClaim(t, store, "clm_a")
	payment := seedPayment(t, store, "pay_a", PaymentUnmatched)

	claim.Status = ClaimPaid
	claim.PaidAmount = dec("850.00")
	payment.MatchStatus = PaymentMatched
	payment.MatchedClaimID = "clm_a"
	payment.SessionID = "rs_1"

	commit := &SessionCommit{
		Session: &ReconciliationSession{
			ID:            "rs_1",
			PaymentsTotal: 1,
			Matched:       1,
			Confidence:    1,
			Discrepancies: []*Discrepancy{},
		},
		Claims:   []*Claim{claim},
		Payments: []*Payment{payment},
		Events: []*ClaimEvent{{
			ID:         "evt_1",
			ClaimID:    "clm_a",
			FromStatus: ClaimSubmitted,
			ToStatus:   ClaimPaid,
			Reference:  "rs_1",
		}},
	}
	if err := store.CommitSession(ctx, commit); err != nil {
		t.Fatalf("CommitSession: %v", err)
	}

	storedClaim, _ := store.GetClaim(ctx, "clm_a")
	if storedClaim.Status != ClaimPaid {
		t.Errorf("claim status = %q, want paid", storedClaim.Status)
	}
	storedPayment, _ := store.GetPayment(ctx, "pay_a")
	if storedPayment.MatchedClaimID != "clm_a" || storedPayment.SessionID != "rs_1" {
		t.Errorf("payment not linked to session: %+v", storedPayment)
	}
	events, _ := store.ClaimEvents(ctx, "clm_a")
	if len(events) != 1 || events[0].Reference != "rs_1" {
		t.Errorf("session event missing: %+v", events)
	}
	session, err := store.GetSession(ctx, "rs_1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Matched != 1 {
		t.Errorf("session matched = %d, want 1", session.Matched)
	}

	// Replaying the same session is rejected
	if err := store.CommitSession(ctx, commit); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestMemoryStore_DenialStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	mk := func(id string, status ClaimStatus, payer, code string) {
		c := completeClaim()
		c.ID = id
		c.Status = status
		c.Payer = payer
		c.ProcedureCodes = []string{code}
		if err := store.CreateClaim(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	mk("clm_1", ClaimDenied, "Blue Shield", "99213")
	mk("clm_2", ClaimPaid, "Blue Shield", "99213")
	mk("clm_3", ClaimDenied, "Blue Shield", "99213")
	mk("clm_4", ClaimSubmitted, "Blue Shield", "99213") // unresolved, excluded
	mk("clm_5", ClaimDenied, "Aetna", "99213")          // other payer
	mk("clm_6", ClaimDenied, "Blue Shield", "99215")    // other procedure

	denied, total, err := store.DenialStats(ctx, "blue shield", "99213")
	if err != nil {
		t.Fatalf("DenialStats: %v", err)
	}
	if denied != 2 || total != 3 {
		t.Errorf("denial stats = %d/%d, want 2/3", denied, total)
	}
}
