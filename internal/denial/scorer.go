package denial

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nbasil/medledger/internal/idgen"
	"github.com/nbasil/medledger/internal/ledger"
	"github.com/nbasil/medledger/internal/logging"
	"github.com/nbasil/medledger/internal/metrics"
)

// HistoryProvider supplies historical denial counts for a payer/procedure
// pair. ledger.Store satisfies this.
type HistoryProvider interface {
	DenialStats(ctx context.Context, payer, procedureCode string) (denied, total int, err error)
}

// minSample is the minimum resolved-claim count before historical rates are
// trusted. Below it, the scorer falls back to a wider medium-band default.
const minSample = 5

// defaultHistoryScore is used when a payer/procedure pair has no usable
// history.
const defaultHistoryScore = 0.35

// authRequiredCodes are procedure codes that payers routinely reject without
// prior authorization: advanced imaging and elective surgery.
var authRequiredCodes = map[string]bool{
	"70551": true, // MRI brain without contrast
	"70553": true, // MRI brain with and without contrast
	"72148": true, // MRI lumbar spine
	"72156": true, // MRI cervical spine with contrast
	"27447": true, // total knee arthroplasty
	"29881": true, // knee arthroscopy with meniscectomy
	"93458": true, // cardiac catheterization
}

// Scorer computes denial risk assessments.
type Scorer struct {
	history         HistoryProvider
	authRequired    map[string]bool
	mediumThreshold float64
	highThreshold   float64
}

// NewScorer creates a scorer backed by the given history provider.
func NewScorer(history HistoryProvider) *Scorer {
	return &Scorer{
		history:         history,
		authRequired:    authRequiredCodes,
		mediumThreshold: DefaultMediumThreshold,
		highThreshold:   DefaultHighThreshold,
	}
}

// WithThresholds overrides the tier boundaries.
func (s *Scorer) WithThresholds(medium, high float64) *Scorer {
	s.mediumThreshold = medium
	s.highThreshold = high
	return s
}

// WithAuthRequired overrides the prior-authorization code set.
func (s *Scorer) WithAuthRequired(codes map[string]bool) *Scorer {
	s.authRequired = codes
	return s
}

// Score evaluates a claim and returns an assessment. The claim itself is
// never modified.
func (s *Scorer) Score(ctx context.Context, claim *ledger.Claim) *Assessment {
	historyScore, historyDetail := s.historyFactor(ctx, claim)
	authScore := s.authFactor(claim)
	docsScore, missing := s.docsFactor(claim)

	factors := map[string]float64{
		"payer_history":       historyScore,
		"prior_authorization": authScore,
		"documentation":       docsScore,
	}

	probability := historyScore*weightHistory +
		authScore*weightAuth +
		docsScore*weightDocs

	// Clamp to [0, 1]
	if probability > 1.0 {
		probability = 1.0
	}
	if probability < 0.0 {
		probability = 0.0
	}
	probability = math.Round(probability*1000) / 1000

	tier := TierLow
	if probability > s.highThreshold {
		tier = TierHigh
	} else if probability >= s.mediumThreshold {
		tier = TierMedium
	}

	assessment := &Assessment{
		ID:              idgen.WithPrefix("dnl_"),
		ClaimID:         claim.ID,
		Probability:     probability,
		Tier:            tier,
		Factors:         factors,
		Recommendations: s.recommend(claim, authScore, missing, historyScore, historyDetail, tier),
		EvaluatedAt:     time.Now().UTC(),
	}

	metrics.DenialScoresTotal.WithLabelValues(tier).Inc()
	logging.L(ctx).Debug("denial risk scored",
		"claim_id", claim.ID, "probability", probability, "tier", tier)
	return assessment
}

// historyFactor returns the worst denial rate across the claim's procedure
// codes, falling back to the default when history is thin.
func (s *Scorer) historyFactor(ctx context.Context, claim *ledger.Claim) (float64, string) {
	if len(claim.ProcedureCodes) == 0 {
		return defaultHistoryScore, "no procedure codes to look up"
	}

	worst := -1.0
	worstCode := ""
	for _, code := range claim.ProcedureCodes {
		denied, total, err := s.history.DenialStats(ctx, claim.Payer, code)
		if err != nil {
			logging.L(ctx).Warn("denial history lookup failed",
				"payer", claim.Payer, "code", code, "error", err)
			continue
		}
		if total < minSample {
			continue
		}
		rate := float64(denied) / float64(total)
		if rate > worst {
			worst = rate
			worstCode = code
		}
	}
	if worst < 0 {
		return defaultHistoryScore, "insufficient payer history"
	}
	return worst, fmt.Sprintf("payer denies %.0f%% of resolved claims for %s", worst*100, worstCode)
}

// authFactor is 1 when any procedure code requires prior authorization and
// the claim lacks it.
func (s *Scorer) authFactor(claim *ledger.Claim) float64 {
	if claim.PriorAuth {
		return 0.0
	}
	for _, code := range claim.ProcedureCodes {
		if s.authRequired[code] {
			return 1.0
		}
	}
	return 0.0
}

// docsFactor is the fraction of required documentation fields the claim is
// missing.
func (s *Scorer) docsFactor(claim *ledger.Claim) (float64, []string) {
	missing := make([]string, 0, 4)
	if len(claim.DiagnosisCodes) == 0 {
		missing = append(missing, "diagnosis codes")
	}
	if len(claim.ProcedureCodes) == 0 {
		missing = append(missing, "procedure codes")
	}
	if strings.TrimSpace(claim.PatientID) == "" {
		missing = append(missing, "patient id")
	}
	if strings.TrimSpace(claim.Provider) == "" {
		missing = append(missing, "provider")
	}
	return float64(len(missing)) / 4.0, missing
}

func (s *Scorer) recommend(claim *ledger.Claim, authScore float64, missing []string, historyScore float64, historyDetail string, tier string) []Recommendation {
	recs := make([]Recommendation, 0, 4)

	if authScore > 0 {
		recs = append(recs, Recommendation{
			Title:       "Obtain prior authorization",
			Description: "One or more procedure codes on this claim require prior authorization; submit the request before filing.",
			Category:    "authorization",
			Priority:    1,
		})
	}
	if len(missing) > 0 {
		recs = append(recs, Recommendation{
			Title:       "Complete claim documentation",
			Description: "Claim is missing: " + strings.Join(missing, ", ") + ". Incomplete claims are routinely denied on first pass.",
			Category:    "documentation",
			Priority:    2,
		})
	}
	if historyScore >= 0.5 && historyDetail != "" {
		recs = append(recs, Recommendation{
			Title:       "Review payer denial history",
			Description: historyDetail + "; verify coding and medical-necessity documentation against this payer's policy.",
			Category:    "history",
			Priority:    3,
		})
	}
	if tier == TierHigh {
		recs = append(recs, Recommendation{
			Title:       "Hold for manual review",
			Description: "Combined risk is high; route this claim through coding review before submission.",
			Category:    "workflow",
			Priority:    1,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority < recs[j].Priority })
	return recs
}
