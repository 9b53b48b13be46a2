package matching

import (
	"context"

	"github.com/nbasil/medledger/internal/ledger"
)

// ledgerView overlays this run's working claim copies on top of the backing
// source, so later payments in a session see earlier payments' effects.
type ledgerView struct {
	src     ClaimSource
	working map[string]*ledger.Claim
}

func newLedgerView(src ClaimSource) *ledgerView {
	return &ledgerView{
		src:     src,
		working: make(map[string]*ledger.Claim),
	}
}

func (v *ledgerView) get(ctx context.Context, id string) (*ledger.Claim, error) {
	if claim, ok := v.working[id]; ok {
		return claim, nil
	}
	return v.src.GetClaim(ctx, id)
}

func (v *ledgerView) put(claim *ledger.Claim) {
	v.working[claim.ID] = claim
}

// openClaims fetches from the source and substitutes working copies. The
// source's (submission date, ID) ordering is preserved.
func (v *ledgerView) openClaims(ctx context.Context, payer, patientID string) ([]*ledger.Claim, error) {
	claims, err := v.src.OpenClaims(ctx, payer, patientID)
	if err != nil {
		return nil, err
	}
	for i, claim := range claims {
		if updated, ok := v.working[claim.ID]; ok {
			claims[i] = updated
		}
	}
	return claims, nil
}
