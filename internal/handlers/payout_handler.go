package handlers

import (
	"net/http"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// PayoutHandler exposes payout cycle operations over HTTP
type PayoutHandler struct {
	payoutSvc *services.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler
func NewPayoutHandler(payoutSvc *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// RunCycle triggers a payout cycle for a period (operator only)
// POST /api/v1/admin/payouts/run
func (h *PayoutHandler) RunCycle(c *gin.Context) {
	var req models.RunPayoutCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	batches, err := h.payoutSvc.RunPayoutCycle(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

// SettleBatch settles one pending batch through the gateway (operator only)
// POST /api/v1/admin/payouts/:id/settle
func (h *PayoutHandler) SettleBatch(c *gin.Context) {
	batch, err := h.payoutSvc.SettleBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// ListConsultantPayouts returns a consultant's payout batches
// GET /api/v1/consultants/:id/payouts
func (h *PayoutHandler) ListConsultantPayouts(c *gin.Context) {
	batches, err := h.payoutSvc.ListForConsultant(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payouts": batches, "count": len(batches)})
}
