// Package denial estimates the probability that a claim will be denied by
// its payer before the claim goes out the door. Scoring is read-only: it
// never touches the ledger.
package denial

import (
	"time"
)

// Risk tiers.
const (
	TierLow    = "low"
	TierMedium = "medium"
	TierHigh   = "high"
)

// Default tier thresholds: low < 0.3, medium 0.3-0.6, high > 0.6.
const (
	DefaultMediumThreshold = 0.3
	DefaultHighThreshold   = 0.6
)

// Factor weights. History dominates; authorization and documentation gaps
// are strong but secondary signals.
const (
	weightHistory = 0.50
	weightAuth    = 0.30
	weightDocs    = 0.20
)

// Assessment is a scored claim with the reasoning behind the score.
type Assessment struct {
	ID              string             `json:"id"`
	ClaimID         string             `json:"claimId,omitempty"`
	Probability     float64            `json:"probability"` // 0..1, 3 decimal places
	Tier            string             `json:"tier"`
	Factors         map[string]float64 `json:"factors"`
	Recommendations []Recommendation   `json:"recommendations"`
	EvaluatedAt     time.Time          `json:"evaluatedAt"`
}

// Recommendation is one actionable step to reduce denial risk, ordered by
// priority (1 is most urgent).
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"` // authorization, documentation, history, workflow
	Priority    int    `json:"priority"`
}
