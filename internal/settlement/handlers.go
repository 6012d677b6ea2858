package settlement

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kasuwahq/settlement/internal/gateway"
)

// Handler provides HTTP endpoints for escrow settlement operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the escrow routes. All of them sit behind the
// admin console's auth proxy; the engine itself does not authenticate.
// The :id segment accepts a hold ID or an order ID.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateHold)
	r.GET("/escrows/:id", h.GetHold)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/refund", h.Refund)
	r.GET("/sellers/:sellerId/escrows", h.ListBySeller)
}

// CreateHold handles POST /v1/escrows
func (h *Handler) CreateHold(c *gin.Context) {
	var req CreateHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	hold, err := h.service.CreateHold(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Order total must be a positive amount",
			})
		case errors.Is(err, ErrPODNotAllowed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "pod_not_allowed",
				"message": "Pay-on-delivery is not available for this order amount",
			})
		case errors.Is(err, ErrHoldExists):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "hold_exists",
				"message": "An escrow hold already exists for this order",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "hold_failed",
				"message": "Failed to create escrow hold",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"hold": hold})
}

// GetHold handles GET /v1/escrows/:id
func (h *Handler) GetHold(c *gin.Context) {
	hold, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrHoldNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow hold not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load escrow hold",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hold": hold})
}

type settleRequest struct {
	Reason string `json:"reason"`
}

// Release handles POST /v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	var req settleRequest
	_ = c.ShouldBindJSON(&req) // reason is optional

	hold, err := h.service.Release(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.settleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hold": hold})
}

// Refund handles POST /v1/escrows/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A refund reason is required",
		})
		return
	}

	hold, err := h.service.Refund(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.settleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hold": hold})
}

// ListBySeller handles GET /v1/sellers/:sellerId/escrows
func (h *Handler) ListBySeller(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	holds, err := h.service.ListBySeller(c.Request.Context(), c.Param("sellerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to list escrow holds",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holds": holds, "count": len(holds)})
}

// settleError maps release/refund failures to HTTP statuses.
func (h *Handler) settleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrHoldNotFound), errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow hold not found",
		})
	case errors.Is(err, ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_settled",
			"message": "Escrow hold has already been settled",
		})
	case errors.Is(err, gateway.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_unavailable",
			"message": "Payment gateway is unavailable, retry later",
		})
	case errors.Is(err, gateway.ErrRefundRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "refund_rejected",
			"message": "Payment gateway rejected the refund",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "settlement_failed",
			"message": "Settlement operation failed",
		})
	}
}
