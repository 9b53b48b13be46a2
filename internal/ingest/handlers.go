package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nbasil/medledger/internal/ledger"
)

// Handler provides HTTP endpoints for posting remittance payments
type Handler struct {
	service *Service
}

// NewHandler creates a new ingestion handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment posting routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.PostPayment)
	r.POST("/payments/batch", h.PostPaymentBatch)
}

// PostPayment handles POST /payments
func (h *Handler) PostPayment(c *gin.Context) {
	var raw RawRecord
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	payment, err := h.service.Post(c.Request.Context(), &raw, SourceAPI)
	if err != nil {
		var malformed *MalformedRecordError
		switch {
		case errors.As(err, &malformed):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "malformed_record",
				"message": "Record failed validation",
				"fields":  fieldErrors(malformed),
			})
		case errors.Is(err, ledger.ErrDuplicatePayment):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_payment",
				"message": err.Error(),
			})
		case errors.Is(err, ledger.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "store_unavailable",
				"message": "Ledger store is unavailable",
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "post_failed",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": payment})
}

// PostPaymentBatch handles POST /payments/batch
func (h *Handler) PostPaymentBatch(c *gin.Context) {
	var raws []*RawRecord
	if err := c.ShouldBindJSON(&raws); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if len(raws) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Batch must contain at least one record",
		})
		return
	}

	result, err := h.service.PostBatch(c.Request.Context(), raws, SourceAPI)
	if err != nil {
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "store_unavailable",
				"message": "Ledger store is unavailable",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_failed",
			"message": err.Error(),
		})
		return
	}

	// 207-style: the batch succeeded as an operation even when individual
	// records were rejected.
	c.JSON(http.StatusCreated, gin.H{
		"accepted": result.Accepted,
		"rejected": result.Rejected,
	})
}
