package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for withdrawal operations.
type Handler struct {
	processor *Processor
}

// NewHandler creates a new withdrawal handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// RegisterRoutes sets up withdrawal routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.Create)
	r.GET("/withdrawals/:id", h.Get)
	r.POST("/withdrawals/:id/process", h.Process)
	r.POST("/withdrawals/:id/hold", h.PlaceOnHold)
	r.POST("/withdrawals/:id/resume", h.Resume)
	r.POST("/withdrawals/:id/reject", h.Reject)
	r.POST("/withdrawals/process", h.ProcessBatch)
	r.GET("/sellers/:sellerId/withdrawals", h.ListBySeller)
}

// Create handles POST /v1/withdrawals
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	r, err := h.processor.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Withdrawal amount must be positive",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create withdrawal request",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"withdrawal": r})
}

// Get handles GET /v1/withdrawals/:id
func (h *Handler) Get(c *gin.Context) {
	r, err := h.processor.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": r})
}

// Process handles POST /v1/withdrawals/:id/process
func (h *Handler) Process(c *gin.Context) {
	r, err := h.processor.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": r})
}

type batchRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// ProcessBatch handles POST /v1/withdrawals/process
func (h *Handler) ProcessBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A non-empty ids list is required",
		})
		return
	}

	outcomes, err := h.processor.ProcessAll(c.Request.Context(), req.IDs)
	if err != nil {
		// Context cancelled mid-batch; return what finished.
		c.JSON(http.StatusOK, gin.H{"outcomes": outcomes, "aborted": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// PlaceOnHold handles POST /v1/withdrawals/:id/hold
func (h *Handler) PlaceOnHold(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	r, err := h.processor.PlaceOnHold(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": r})
}

// Resume handles POST /v1/withdrawals/:id/resume
func (h *Handler) Resume(c *gin.Context) {
	r, err := h.processor.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": r})
}

// Reject handles POST /v1/withdrawals/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A rejection reason is required",
		})
		return
	}

	r, err := h.processor.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": r})
}

// ListBySeller handles GET /v1/sellers/:sellerId/withdrawals
func (h *Handler) ListBySeller(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	requests, err := h.processor.ListBySeller(c.Request.Context(), c.Param("sellerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to list withdrawal requests",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": requests, "count": len(requests)})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Withdrawal request not found",
		})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": "Withdrawal request is not in a state that allows this operation",
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Withdrawal request changed concurrently, reload and retry",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_failed",
			"message": "Withdrawal operation failed",
		})
	}
}
