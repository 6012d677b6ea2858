package wallet

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides read-only HTTP endpoints for wallets. Balance writes
// happen only through settlement and withdrawal operations.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new wallet handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:sellerId", h.GetWallet)
	r.GET("/wallets/:sellerId/transactions", h.ListTransactions)
}

// GetWallet handles GET /v1/wallets/:sellerId
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.ledger.Balance(c.Request.Context(), c.Param("sellerId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load wallet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// ListTransactions handles GET /v1/wallets/:sellerId/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.History(c.Request.Context(), c.Param("sellerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load transactions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries, "count": len(entries)})
}
