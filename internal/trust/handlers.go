package trust

import (
	"errors"
	"net/http"
	"time"

	"github.com/dpayne7/escrowd/internal/catalog"
	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler serves computed trust scores.
type Handler struct {
	store   escrow.Store
	catalog catalog.Store
}

// NewHandler creates a trust handler.
func NewHandler(store escrow.Store, cat catalog.Store) *Handler {
	return &Handler{store: store, catalog: cat}
}

// RegisterRoutes sets up trust routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:wallet/trust", h.MerchantTrust)
	r.GET("/resources/:id/trust", h.ResourceTrust)
}

// MerchantTrust handles GET /v1/merchants/:wallet/trust
func (h *Handler) MerchantTrust(c *gin.Context) {
	wallet := c.Param("wallet")
	if !validation.IsValidWallet(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_wallet",
			"message": "Not a valid wallet address",
		})
		return
	}
	wallet = validation.SanitizeWallet(wallet)

	agg, err := h.store.AggregateForMerchant(c.Request.Context(), wallet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute trust score",
		})
		return
	}

	score := MerchantScore(agg, time.Now())
	c.JSON(http.StatusOK, gin.H{
		"wallet": wallet,
		"trust":  score,
	})
}

// ResourceTrust handles GET /v1/resources/:id/trust
func (h *Handler) ResourceTrust(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	res, err := h.catalog.GetResource(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrResourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Resource not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load resource",
		})
		return
	}

	own, err := h.store.AggregateForResource(ctx, id)
	if err == nil {
		var merchantAgg *escrow.Aggregate
		merchantAgg, err = h.store.AggregateForMerchant(ctx, res.MerchantWallet)
		if err == nil {
			now := time.Now()
			score := ResourceScore(own, MerchantScore(merchantAgg, now), now)
			c.JSON(http.StatusOK, gin.H{
				"resourceId": id,
				"merchant":   res.MerchantWallet,
				"trust":      score,
			})
			return
		}
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to compute trust score",
	})
}
