package denial

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/nbasil/medledger/internal/ledger"
)

// Handler provides HTTP endpoints for denial risk scoring
type Handler struct {
	scorer *Scorer
	claims ClaimGetter
}

// ClaimGetter loads claims for scoring. ledger.Store satisfies this.
type ClaimGetter interface {
	GetClaim(ctx context.Context, id string) (*ledger.Claim, error)
}

// NewHandler creates a new denial risk handler
func NewHandler(scorer *Scorer, claims ClaimGetter) *Handler {
	return &Handler{scorer: scorer, claims: claims}
}

// RegisterRoutes sets up denial risk routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/claims/:id/denial-risk", h.ScoreClaim)
	r.POST("/denial-prediction", h.ScoreDraft)
}

// ScoreClaim handles GET /claims/:id/denial-risk
func (h *Handler) ScoreClaim(c *gin.Context) {
	claim, err := h.claims.GetClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":   "claim_lookup_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessment": h.scorer.Score(c.Request.Context(), claim),
	})
}

// DraftClaimRequest is an unsaved claim scored before submission. When
// ClaimID is set, the stored claim is scored instead and the other fields
// are ignored.
type DraftClaimRequest struct {
	ClaimID        string          `json:"claimId"`
	PatientID      string          `json:"patientId"`
	Payer          string          `json:"payer"`
	Provider       string          `json:"provider"`
	BilledAmount   decimal.Decimal `json:"billedAmount"`
	ServiceDate    string          `json:"serviceDate"`
	DiagnosisCodes []string        `json:"diagnosisCodes"`
	ProcedureCodes []string        `json:"procedureCodes"`
	PriorAuth      bool            `json:"priorAuth"`
}

// ScoreDraft handles POST /denial-risk
func (h *Handler) ScoreDraft(c *gin.Context) {
	var req DraftClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if req.ClaimID != "" {
		claim, err := h.claims.GetClaim(c.Request.Context(), req.ClaimID)
		if err != nil {
			status := http.StatusNotFound
			if errors.Is(err, ledger.ErrStoreUnavailable) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{
				"error":   "claim_lookup_failed",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"assessment": h.scorer.Score(c.Request.Context(), claim),
		})
		return
	}
	if req.Payer == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "payer is required when claimId is not set",
		})
		return
	}

	claim := &ledger.Claim{
		PatientID:      req.PatientID,
		Payer:          req.Payer,
		Provider:       req.Provider,
		BilledAmount:   req.BilledAmount,
		DiagnosisCodes: req.DiagnosisCodes,
		ProcedureCodes: req.ProcedureCodes,
		PriorAuth:      req.PriorAuth,
	}
	if req.ServiceDate != "" {
		if d, err := time.Parse("2006-01-02", req.ServiceDate); err == nil {
			claim.ServiceDate = d
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"assessment": h.scorer.Score(c.Request.Context(), claim),
	})
}
