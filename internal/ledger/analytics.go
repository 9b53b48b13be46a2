package ledger

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Analytics is a point-in-time revenue summary computed from the ledger.
type Analytics struct {
	AsOf             time.Time           `json:"asOf"`
	TotalClaims      int                 `json:"totalClaims"`
	TotalPayments    int                 `json:"totalPayments"`
	TotalBilled      decimal.Decimal     `json:"totalBilled"`
	TotalCollected   decimal.Decimal     `json:"totalCollected"`
	TotalAdjusted    decimal.Decimal     `json:"totalAdjusted"`
	OutstandingAR    decimal.Decimal     `json:"outstandingAr"`
	CollectionRate   float64             `json:"collectionRate"` // collected / billed
	DenialRate       float64             `json:"denialRate"`     // denied / resolved
	AvgDaysInAR      float64             `json:"avgDaysInAr"`    // mean age of claims still in AR
	TopDenialReasons []DenialReasonCount `json:"topDenialReasons"`
	ByStatus         map[string]int      `json:"byStatus"`
}

// DenialReasonCount is one denial reason with its frequency.
type DenialReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Analytics computes the revenue summary from current ledger state.
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	done := observeOp("analytics")
	defer done()

	claims, err := s.store.ListClaims(ctx, ClaimFilter{})
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, PaymentFilter{})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Analytics{
		AsOf:          now,
		TotalClaims:   len(claims),
		TotalPayments: len(payments),
		ByStatus:      make(map[string]int),
	}

	denied, resolved := 0, 0
	denialReasons := make(map[string]int)
	var ageDaysSum float64
	unresolved := 0

	for _, c := range claims {
		a.TotalBilled = a.TotalBilled.Add(c.BilledAmount)
		a.TotalCollected = a.TotalCollected.Add(c.PaidAmount)
		a.TotalAdjusted = a.TotalAdjusted.Add(c.AdjustmentAmount)
		a.ByStatus[string(c.Status)]++
		if c.Status.Resolved() {
			resolved++
			if c.Status == ClaimDenied {
				denied++
				if c.DenialReason != "" {
					denialReasons[c.DenialReason]++
				}
			}
		}
		// AR membership matches the aging report: denied claims with an
		// uncollected balance stay in AR, since an appeal can recover them.
		if (c.Status.Resolved() && c.Status != ClaimDenied) || c.Balance().IsZero() {
			continue
		}
		a.OutstandingAR = a.OutstandingAR.Add(c.Balance())
		ageDaysSum += now.Sub(c.SubmissionDate).Hours() / 24
		unresolved++
	}

	if !a.TotalBilled.IsZero() {
		rate, _ := a.TotalCollected.Div(a.TotalBilled).Float64()
		a.CollectionRate = round2(rate)
	}
	if resolved > 0 {
		a.DenialRate = round2(float64(denied) / float64(resolved))
	}
	if unresolved > 0 {
		a.AvgDaysInAR = round2(ageDaysSum / float64(unresolved))
	}

	a.TopDenialReasons = make([]DenialReasonCount, 0, len(denialReasons))
	for reason, count := range denialReasons {
		a.TopDenialReasons = append(a.TopDenialReasons, DenialReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(a.TopDenialReasons, func(i, j int) bool {
		if a.TopDenialReasons[i].Count != a.TopDenialReasons[j].Count {
			return a.TopDenialReasons[i].Count > a.TopDenialReasons[j].Count
		}
		return a.TopDenialReasons[i].Reason < a.TopDenialReasons[j].Reason
	})
	if len(a.TopDenialReasons) > 5 {
		a.TopDenialReasons = a.TopDenialReasons[:5]
	}
	return a, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
