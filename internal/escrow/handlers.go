package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dpayne7/escrowd/internal/auth"
	"github.com/dpayne7/escrowd/internal/validation"
	"github.com/gin-gonic/gin"
)

const defaultListLimit = 50

// Handler serves read access to the transaction ledger.
type Handler struct {
	store Store
}

// NewHandler creates an escrow read handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up transaction read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/receipts/:code", h.GetByReceipt)
	r.GET("/agents/:wallet/transactions", h.ListByAgent)
	r.GET("/merchants/:wallet/transactions", auth.MerchantRequired(), h.ListByMerchant)
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// GetByReceipt handles GET /v1/receipts/:code
func (h *Handler) GetByReceipt(c *gin.Context) {
	tx, err := h.store.GetByReceipt(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ListByAgent handles GET /v1/agents/:wallet/transactions
func (h *Handler) ListByAgent(c *gin.Context) {
	wallet := c.Param("wallet")
	if !validation.IsValidWallet(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_wallet",
			"message": "Not a valid wallet address",
		})
		return
	}

	txs, err := h.store.ListByAgent(c.Request.Context(), validation.SanitizeWallet(wallet), listLimit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// ListByMerchant handles GET /v1/merchants/:wallet/transactions. Merchants
// can only list their own history.
func (h *Handler) ListByMerchant(c *gin.Context) {
	wallet := validation.SanitizeWallet(c.Param("wallet"))
	if wallet != auth.MerchantWallet(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Merchants may only list their own transactions",
		})
		return
	}

	txs, err := h.store.ListByMerchant(c.Request.Context(), wallet, listLimit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrTransactionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to load transactions",
	})
}

func listLimit(c *gin.Context) int {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit
}
