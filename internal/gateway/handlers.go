package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dpayne7/escrowd/internal/catalog"
	"github.com/dpayne7/escrowd/pkg/x402"
	"github.com/gin-gonic/gin"
)

// Handler serves the paid-access protocol endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a gateway handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up gateway routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/resource/:id", h.Resource)
	r.GET("/resources/:id/info", h.ResourceInfo)
}

// Resource handles GET /resource/:id, the 402 protocol endpoint.
func (h *Handler) Resource(c *gin.Context) {
	access, err := h.svc.AccessResource(c.Request.Context(), c.Param("id"), paymentHeader(c), c.GetHeader("X-Wallet-Address"))
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
			"message": "Failed to process access request",
		})
		return
	}

	if !access.Granted {
		c.JSON(http.StatusPaymentRequired, access.Challenge)
		return
	}

	tx := access.Transaction
	c.Header(x402.TransactionIDHeader, tx.ID)
	c.Header(x402.ReceiptCodeHeader, tx.ReceiptCode)
	c.Header(x402.AutoSettleAtHeader, tx.AutoSettleAt.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{
		"resource": gin.H{
			"id":    access.Resource.ID,
			"title": access.Resource.Title,
			"kind":  access.Resource.Kind,
		},
		"content":       access.Resource.Content,
		"transactionId": tx.ID,
		"receiptCode":   tx.ReceiptCode,
		"autoSettleAt":  tx.AutoSettleAt.Format(time.RFC3339),
	})
}

// ResourceInfo handles GET /v1/resources/:id/info, public metadata without
// content.
func (h *Handler) ResourceInfo(c *gin.Context) {
	res, err := h.svc.catalog.GetResource(c.Request.Context(), c.Param("id"))
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
	c.JSON(http.StatusOK, res)
}

// paymentHeader extracts the payment proof from X-Payment, falling back to
// Authorization with an optional Bearer prefix.
func paymentHeader(c *gin.Context) string {
	if v := c.GetHeader(x402.PaymentHeader); v != "" {
		return v
	}
	v := c.GetHeader("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
}
