package ledger

import (
	"context"
	"testing"
)

func TestAnalytics_DeniedClaimsStayInAR(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	mk := func(id string, status ClaimStatus, billed, paid, adj, reason string) {
		c := completeClaim()
		c.ID = id
		c.Status = status
		c.BilledAmount = dec(billed)
		c.PaidAmount = dec(paid)
		c.AdjustmentAmount = dec(adj)
		c.DenialReason = reason
		if err := store.CreateClaim(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	mk("clm_denied", ClaimDenied, "300.00", "0", "0", "CO-50 medical necessity")
	mk("clm_paid", ClaimPaid, "500.00", "500.00", "0", "")
	mk("clm_open", ClaimSubmitted, "200.00", "0", "0", "")
	// Denied but contractually written off: nothing left to collect.
	mk("clm_written_off", ClaimDenied, "100.00", "0", "100.00", "CO-45 exceeds fee schedule")

	svc := NewService(store)
	a, err := svc.Analytics(ctx)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}

	// Denied claims with an uncollected balance count toward AR, matching
	// the aging report; zero-balance and paid claims do not.
	if !a.OutstandingAR.Equal(dec("500.00")) {
		t.Errorf("outstanding AR = %s, want 500.00", a.OutstandingAR)
	}
	if a.AvgDaysInAR == 0 {
		t.Error("avg days in AR = 0 with claims outstanding")
	}

	// Denied claims still count as resolved for the denial rate.
	if a.DenialRate != 0.67 {
		t.Errorf("denial rate = %v, want 0.67", a.DenialRate)
	}
	if len(a.TopDenialReasons) != 2 {
		t.Errorf("denial reasons = %+v, want 2 entries", a.TopDenialReasons)
	}
	if !a.TotalCollected.Equal(dec("500.00")) {
		t.Errorf("total collected = %s, want 500.00", a.TotalCollected)
	}
}
