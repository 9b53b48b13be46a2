package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/nbasil/medledger/internal/pagination"
)

// Handler provides HTTP endpoints for claims and posted payments
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up claim and payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/claims", h.SubmitClaim)
	r.POST("/claims/batch", h.SubmitClaimBatch)
	r.GET("/claims", h.ListClaims)
	r.GET("/claims/:id", h.GetClaim)
	r.GET("/claims/:id/status", h.GetClaimStatus)
	r.POST("/claims/:id/status", h.CorrectStatus)
	r.GET("/payments", h.ListPayments)
	r.GET("/payments/:id", h.GetPayment)
	r.POST("/payments/:id/reopen", h.ReopenPayment)
	r.GET("/analytics", h.Analytics)
}

// SubmitClaimRequest for submitting a claim
type SubmitClaimRequest struct {
	PatientID      string          `json:"patientId"`
	PatientName    string          `json:"patientName"`
	Payer          string          `json:"payer" binding:"required"`
	Provider       string          `json:"provider"`
	Facility       string          `json:"facility"`
	BilledAmount   decimal.Decimal `json:"billedAmount" binding:"required"`
	ServiceDate    string          `json:"serviceDate" binding:"required"` // YYYY-MM-DD
	SubmissionDate string          `json:"submissionDate"`
	DiagnosisCodes []string        `json:"diagnosisCodes"`
	ProcedureCodes []string        `json:"procedureCodes"`
	PriorAuth      bool            `json:"priorAuth"`
}

func (r *SubmitClaimRequest) toClaim() (*Claim, error) {
	serviceDate, err := parseDate(r.ServiceDate)
	if err != nil {
		return nil, errors.New("serviceDate must be YYYY-MM-DD")
	}
	var submissionDate time.Time
	if r.SubmissionDate != "" {
		submissionDate, err = parseDate(r.SubmissionDate)
		if err != nil {
			return nil, errors.New("submissionDate must be YYYY-MM-DD")
		}
	}
	return &Claim{
		PatientID:      r.PatientID,
		PatientName:    r.PatientName,
		Payer:          r.Payer,
		Provider:       r.Provider,
		Facility:       r.Facility,
		BilledAmount:   r.BilledAmount,
		ServiceDate:    serviceDate,
		SubmissionDate: submissionDate,
		DiagnosisCodes: r.DiagnosisCodes,
		ProcedureCodes: r.ProcedureCodes,
		PriorAuth:      r.PriorAuth,
	}, nil
}

// SubmitClaim handles POST /claims
func (h *Handler) SubmitClaim(c *gin.Context) {
	var req SubmitClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	claim, err := req.toClaim()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	result, err := h.service.SubmitClaim(c.Request.Context(), claim)
	if err != nil {
		respondError(c, "submit_failed", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"claim": result})
}

// SubmitClaimBatch handles POST /claims/batch
func (h *Handler) SubmitClaimBatch(c *gin.Context) {
	var reqs []SubmitClaimRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	claims := make([]*Claim, 0, len(reqs))
	preRejected := make([]BatchRejected, 0)
	indexMap := make([]int, 0, len(reqs))
	for i, req := range reqs {
		claim, err := req.toClaim()
		if err != nil {
			preRejected = append(preRejected, BatchRejected{Index: i, Reason: err.Error()})
			continue
		}
		claims = append(claims, claim)
		indexMap = append(indexMap, i)
	}

	result, err := h.service.SubmitClaimBatch(c.Request.Context(), claims)
	if err != nil {
		respondError(c, "batch_failed", err)
		return
	}
	// Restore original batch positions for rejects from the service layer.
	for i := range result.Rejected {
		result.Rejected[i].Index = indexMap[result.Rejected[i].Index]
	}
	result.Rejected = append(result.Rejected, preRejected...)

	c.JSON(http.StatusOK, gin.H{
		"accepted": result.Accepted,
		"rejected": result.Rejected,
		"count":    len(result.Accepted),
	})
}

// ListClaims handles GET /claims
func (h *Handler) ListClaims(c *gin.Context) {
	filter := ClaimFilter{
		Status:    ClaimStatus(c.Query("status")),
		Payer:     c.Query("payer"),
		PatientID: c.Query("patientId"),
		Limit:     queryLimit(c, 50),
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid cursor",
		})
		return
	}
	if cursor != nil {
		filter.Cursor = &CursorPos{CreatedAt: cursor.CreatedAt, ID: cursor.ID}
	}

	limit := filter.Limit
	filter.Limit = limit + 1 // fetch one extra to detect has_more
	claims, err := h.service.Store().ListClaims(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "list_failed", err)
		return
	}

	claims, next, hasMore := pagination.ComputePage(claims, limit, func(cl *Claim) (time.Time, string) {
		return cl.CreatedAt, cl.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"claims":     claims,
		"count":      len(claims),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// GetClaim handles GET /claims/:id
func (h *Handler) GetClaim(c *gin.Context) {
	claim, err := h.service.Store().GetClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get_failed", err)
		return
	}
	events, err := h.service.Store().ClaimEvents(c.Request.Context(), claim.ID)
	if err != nil {
		respondError(c, "get_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"claim":   claim,
		"history": events,
	})
}

// GetClaimStatus handles GET /claims/:id/status
func (h *Handler) GetClaimStatus(c *gin.Context) {
	claim, err := h.service.Store().GetClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"claimId":      claim.ID,
		"status":       claim.Status,
		"paidAmount":   claim.PaidAmount,
		"denialReason": claim.DenialReason,
		"updatedAt":    claim.UpdatedAt,
	})
}

// CorrectStatusRequest for manual claim status corrections
type CorrectStatusRequest struct {
	Status ClaimStatus `json:"status" binding:"required"`
	Note   string      `json:"note"`
}

// CorrectStatus handles POST /claims/:id/status
func (h *Handler) CorrectStatus(c *gin.Context) {
	var req CorrectStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	claim, err := h.service.CorrectStatus(c.Request.Context(), c.Param("id"), req.Status, req.Note)
	if err != nil {
		respondError(c, "correction_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claim": claim})
}

// ListPayments handles GET /payments
func (h *Handler) ListPayments(c *gin.Context) {
	filter := PaymentFilter{
		MatchStatus: MatchStatus(c.Query("matchStatus")),
		Payer:       c.Query("payer"),
		Limit:       queryLimit(c, 50),
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid cursor",
		})
		return
	}
	if cursor != nil {
		filter.Cursor = &CursorPos{CreatedAt: cursor.CreatedAt, ID: cursor.ID}
	}

	limit := filter.Limit
	filter.Limit = limit + 1
	payments, err := h.service.Store().ListPayments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "list_failed", err)
		return
	}

	payments, next, hasMore := pagination.ComputePage(payments, limit, func(p *Payment) (time.Time, string) {
		return p.CreatedAt, p.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"payments":   payments,
		"count":      len(payments),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// GetPayment handles GET /payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	payment, err := h.service.Store().GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

// ReopenPayment handles POST /payments/:id/reopen
func (h *Handler) ReopenPayment(c *gin.Context) {
	payment, err := h.service.ReopenPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "reopen_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

// Analytics handles GET /analytics
func (h *Handler) Analytics(c *gin.Context) {
	analytics, err := h.service.Analytics(c.Request.Context())
	if err != nil {
		respondError(c, "analytics_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analytics": analytics})
}

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, code string, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrClaimNotFound),
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrDuplicateClaim), errors.Is(err, ErrDuplicatePayment):
		status = http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

func queryLimit(c *gin.Context, fallback int) int {
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			return parsed
		}
	}
	return fallback
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
