package dispute

import (
	"errors"
	"net/http"

	"github.com/dpayne7/escrowd/internal/auth"
	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/settlement"
	"github.com/dpayne7/escrowd/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler provides the merchant-scoped dispute endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a dispute handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up dispute routes. All of them require an
// authenticated merchant.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	merchant := r.Group("", auth.MerchantRequired())
	merchant.POST("/resolve-dispute", h.ResolveByBody)
	merchant.POST("/disputes/:id/ai-analyze", h.Analyze)
	merchant.POST("/disputes/:id/merchant-explain", h.Explain)
	merchant.POST("/disputes/:id/resolve", h.Resolve)
}

// ResolveByBody handles POST /v1/resolve-dispute
func (h *Handler) ResolveByBody(c *gin.Context) {
	var req struct {
		TransactionID string `json:"transactionId" binding:"required"`
		Decision      string `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}
	h.resolve(c, req.TransactionID, req.Decision)
}

// Resolve handles POST /v1/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req struct {
		Decision string `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}
	h.resolve(c, c.Param("id"), req.Decision)
}

func (h *Handler) resolve(c *gin.Context, transactionID, decision string) {
	var approve bool
	switch decision {
	case "REFUND":
		approve = true
	case "REJECT":
		approve = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": `decision must be "REFUND" or "REJECT"`,
		})
		return
	}

	tx, err := h.svc.Resolve(c.Request.Context(), transactionID, auth.MerchantWallet(c), approve)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"status":      tx.Status,
		"txSignature": tx.PayoutRef,
	})
}

// Analyze handles POST /v1/disputes/:id/ai-analyze
func (h *Handler) Analyze(c *gin.Context) {
	verdict, err := h.svc.Analyze(c.Request.Context(), c.Param("id"), auth.MerchantWallet(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"verdict": verdict,
	})
}

// Explain handles POST /v1/disputes/:id/merchant-explain
func (h *Handler) Explain(c *gin.Context) {
	var req struct {
		Explanation string `json:"explanation" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	explanation := validation.SanitizeText(req.Explanation, validation.MaxReasonLength)
	verdict, err := h.svc.SubmitExplanation(c.Request.Context(), c.Param("id"), auth.MerchantWallet(c), explanation)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"verdict": verdict,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, escrow.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "Transaction not found",
		})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Only the owning merchant may perform this operation",
		})
	case errors.Is(err, escrow.ErrInvalidStateTransition):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Transaction is not under dispute",
		})
	case errors.Is(err, settlement.ErrPayoutFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "Payout could not be completed; the dispute remains open and can be resolved again",
		})
	case errors.Is(err, ErrAnalyzerUnavailable):
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Dispute analysis is currently unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Internal error",
		})
	}
}
