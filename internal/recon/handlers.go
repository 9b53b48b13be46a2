package recon

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nbasil/medledger/internal/ledger"
	"github.com/nbasil/medledger/internal/pagination"
)

// Handler provides HTTP endpoints for reconciliation sessions
type Handler struct {
	manager *Manager
	store   ledger.Store
}

// NewHandler creates a new reconciliation handler
func NewHandler(manager *Manager, store ledger.Store) *Handler {
	return &Handler{manager: manager, store: store}
}

// RegisterRoutes sets up reconciliation routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reconciliation/auto", h.RunSession)
	r.GET("/reconciliation/sessions", h.ListSessions)
	r.GET("/reconciliation/sessions/:id", h.GetSession)
}

// RunSessionRequest optionally narrows a run to specific payments.
type RunSessionRequest struct {
	PaymentIDs []string `json:"paymentIds"`
}

// RunSession handles POST /reconciliation/auto
func (h *Handler) RunSession(c *gin.Context) {
	var req RunSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	session, err := h.manager.Run(c.Request.Context(), req.PaymentIDs)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionConflict):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "session_conflict",
				"message": err.Error(),
			})
		case errors.Is(err, ErrNoOpenPayments):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "no_open_payments",
				"message": "No open payments to reconcile",
			})
		case errors.Is(err, ledger.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "payment_not_found",
				"message": err.Error(),
			})
		case errors.Is(err, ledger.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "store_unavailable",
				"message": "Ledger store is unavailable",
			})
		case errors.Is(err, ErrSessionFailed):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "session_failed",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "run_failed",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// ListSessions handles GET /reconciliation/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	filter := ledger.SessionFilter{Limit: queryLimit(c, 50)}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "from must be YYYY-MM-DD",
			})
			return
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "to must be YYYY-MM-DD",
			})
			return
		}
		filter.To = t.Add(24 * time.Hour) // inclusive end date
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
		filter.Cursor = &ledger.CursorPos{CreatedAt: cursor.CreatedAt, ID: cursor.ID}
	}

	limit := filter.Limit
	filter.Limit = limit + 1
	sessions, err := h.store.ListSessions(c.Request.Context(), filter)
	if err != nil {
		storeError(c, err)
		return
	}

	sessions, next, hasMore := pagination.ComputePage(sessions, limit, func(s *ledger.ReconciliationSession) (time.Time, string) {
		return s.CreatedAt, s.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"sessions":   sessions,
		"count":      len(sessions),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// GetSession handles GET /reconciliation/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func storeError(c *gin.Context, err error) {
	if errors.Is(err, ledger.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "store_unavailable",
			"message": "Ledger store is unavailable",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}

func queryLimit(c *gin.Context, def int) int {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit
}
