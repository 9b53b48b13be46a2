package aging

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nbasil/medledger/internal/ledger"
)

// ClaimLister supplies claims for the report. ledger.Store satisfies this.
type ClaimLister interface {
	ListClaims(ctx context.Context, f ledger.ClaimFilter) ([]*ledger.Claim, error)
}

// Handler provides the AR aging report endpoint
type Handler struct {
	claims ClaimLister
}

// NewHandler creates a new aging handler
func NewHandler(claims ClaimLister) *Handler {
	return &Handler{claims: claims}
}

// RegisterRoutes sets up the aging report route
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/aging-report", h.Report)
}

// Report handles GET /aging-report?basis=service|submission&asOf=YYYY-MM-DD
func (h *Handler) Report(c *gin.Context) {
	asOf := time.Now().UTC()
	if s := c.Query("asOf"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "asOf must be YYYY-MM-DD",
			})
			return
		}
		asOf = parsed
	}

	claims, err := h.claims.ListClaims(c.Request.Context(), ledger.ClaimFilter{})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":   "report_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"report": BuildReport(claims, asOf, Basis(c.Query("basis"))),
	})
}
