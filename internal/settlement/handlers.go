package settlement

import (
	"context"
	"errors"
	"net/http"

	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/validation"
	"github.com/gin-gonic/gin"
)

// DisputeFiler opens a dispute on a held transaction. Implemented by the
// dispute workflow; an interface here keeps the packages decoupled.
type DisputeFiler interface {
	File(ctx context.Context, transactionID, reason string) (*escrow.Transaction, error)
}

// Handler provides the buyer-facing settle endpoint.
type Handler struct {
	orch     *Orchestrator
	disputes DisputeFiler
}

// NewHandler creates a settlement handler.
func NewHandler(orch *Orchestrator, disputes DisputeFiler) *Handler {
	return &Handler{orch: orch, disputes: disputes}
}

// RegisterRoutes sets up settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/settle", h.Settle)
}

// SettleRequest is the buyer's post-delivery decision.
type SettleRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	Status        string `json:"status" binding:"required"` // "SETTLED" or "DISPUTED"
	Reason        string `json:"reason"`
}

// Settle handles POST /v1/settle
func (h *Handler) Settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	ctx := c.Request.Context()

	switch req.Status {
	case "SETTLED":
		tx, err := h.orch.Settle(ctx, req.TransactionID)
		if err != nil {
			h.writeError(c, req.TransactionID, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  tx.Status,
			"message": "Funds released to merchant",
		})

	case "DISPUTED":
		reason := validation.SanitizeText(req.Reason, validation.MaxReasonLength)
		if reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "A dispute requires a reason",
			})
			return
		}
		tx, err := h.disputes.File(ctx, req.TransactionID, reason)
		if err != nil {
			h.writeError(c, req.TransactionID, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  tx.Status,
			"message": "Dispute filed, funds held pending resolution",
		})

	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": `status must be "SETTLED" or "DISPUTED"`,
		})
	}
}

func (h *Handler) writeError(c *gin.Context, transactionID string, err error) {
	switch {
	case errors.Is(err, escrow.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "Transaction not found",
		})
	case errors.Is(err, escrow.ErrInvalidStateTransition):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Transaction is not in a state that allows this operation",
		})
	case errors.Is(err, ErrPayoutFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "Payout could not be completed; the transaction is unchanged and can be retried",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Internal error",
		})
	}
}
