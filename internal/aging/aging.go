// Package aging buckets unresolved claims by age for accounts-receivable
// reporting. Reports are pure snapshots: building one never mutates the
// ledger, and the same inputs always produce the same report.
package aging

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nbasil/medledger/internal/ledger"
)

// Basis selects which claim date ages are measured from.
type Basis string

const (
	BasisService    Basis = "service"
	BasisSubmission Basis = "submission"
)

// Bucket boundaries in days. Each bucket covers (lower, upper]; the last is
// open-ended.
var bucketBounds = []struct {
	label string
	upper int
}{
	{"0-30", 30},
	{"31-60", 60},
	{"61-90", 90},
	{"91-120", 120},
	{"120+", math.MaxInt32},
}

// Bucket is one age band of outstanding receivables.
type Bucket struct {
	Label  string          `json:"label"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Priority is one high-value aged claim worth chasing.
type Priority struct {
	ClaimID string          `json:"claimId"`
	Payer   string          `json:"payer"`
	Balance decimal.Decimal `json:"balance"`
	AgeDays int             `json:"ageDays"`
	Bucket  string          `json:"bucket"`
}

// Report is a point-in-time AR aging snapshot.
type Report struct {
	AsOf        time.Time       `json:"asOf"`
	Basis       Basis           `json:"basis"`
	Buckets     []Bucket        `json:"buckets"`
	TotalAR     decimal.Decimal `json:"totalAr"`
	TotalClaims int             `json:"totalClaims"`
	AvgAgeDays  float64         `json:"avgAgeDays"`
	Priorities  []Priority      `json:"priorities"`
}

// BuildReport partitions every unresolved claim into exactly one bucket.
// Denied claims count as unresolved: their balance is still uncollected and
// may be appealed. Claims aged by basis date against asOf; claims dated in
// the future land in the first bucket.
func BuildReport(claims []*ledger.Claim, asOf time.Time, basis Basis) *Report {
	if basis != BasisSubmission {
		basis = BasisService
	}

	report := &Report{
		AsOf:    asOf,
		Basis:   basis,
		Buckets: make([]Bucket, len(bucketBounds)),
		TotalAR: decimal.Zero,
	}
	for i, b := range bucketBounds {
		report.Buckets[i] = Bucket{Label: b.label, Amount: decimal.Zero}
	}

	var ageSum float64
	for _, claim := range claims {
		if claim.Status.Resolved() && claim.Status != ledger.ClaimDenied {
			continue
		}
		balance := claim.Balance()
		if balance.IsZero() {
			continue
		}

		age := ageDays(claim, asOf, basis)
		idx := bucketIndex(age)
		report.Buckets[idx].Count++
		report.Buckets[idx].Amount = report.Buckets[idx].Amount.Add(balance)
		report.TotalAR = report.TotalAR.Add(balance)
		report.TotalClaims++
		ageSum += float64(age)

		report.Priorities = append(report.Priorities, Priority{
			ClaimID: claim.ID,
			Payer:   claim.Payer,
			Balance: balance,
			AgeDays: age,
			Bucket:  bucketBounds[idx].label,
		})
	}

	if report.TotalClaims > 0 {
		report.AvgAgeDays = math.Round(ageSum/float64(report.TotalClaims)*10) / 10
	}

	// Collection priorities: oldest money first, largest balance breaking
	// ties, claim ID breaking those.
	sort.Slice(report.Priorities, func(i, j int) bool {
		a, b := report.Priorities[i], report.Priorities[j]
		if a.AgeDays != b.AgeDays {
			return a.AgeDays > b.AgeDays
		}
		if !a.Balance.Equal(b.Balance) {
			return a.Balance.GreaterThan(b.Balance)
		}
		return a.ClaimID < b.ClaimID
	})
	if len(report.Priorities) > 10 {
		report.Priorities = report.Priorities[:10]
	}
	return report
}

func ageDays(claim *ledger.Claim, asOf time.Time, basis Basis) int {
	from := claim.ServiceDate
	if basis == BasisSubmission {
		from = claim.SubmissionDate
	}
	days := int(asOf.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func bucketIndex(age int) int {
	for i, b := range bucketBounds {
		if age <= b.upper {
			return i
		}
	}
	return len(bucketBounds) - 1
}
