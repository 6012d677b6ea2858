package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for reconciliation.
type Handler struct {
	service *Service
}

// NewHandler creates a new reconciliation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up reconciliation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reconciliation/run", h.Run)
}

// Run handles POST /v1/reconciliation/run
func (h *Handler) Run(c *gin.Context) {
	report, err := h.service.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_failed",
			"message": "Failed to complete reconciliation sweep",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
