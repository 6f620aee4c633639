package handlers

import (
	"errors"
	"net/http"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/gin-gonic/gin"
)

// respondError maps the service error taxonomy onto HTTP responses. Typed
// errors carry their own status; anything else is a 500 with a generic
// message so internals never leak to clients.
func respondError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"field":   validationErr.Field,
			"message": validationErr.Message,
		})
		return
	}

	var conflictErr *models.ConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "conflict",
			"resource": conflictErr.Resource,
			"message":  conflictErr.Message,
			"details":  conflictErr.Details,
		})
		return
	}

	var couponErr *models.CouponRejectedError
	if errors.As(err, &couponErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "coupon_rejected",
			"code":    couponErr.Code,
			"reasons": couponErr.Reasons,
		})
		return
	}

	var transitionErr *models.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "invalid_transition",
			"from":      transitionErr.From,
			"requested": transitionErr.Requested,
		})
		return
	}

	var paymentErr *models.PaymentError
	if errors.As(err, &paymentErr) {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "payment_failed",
			"operation": paymentErr.Op,
			"reference": paymentErr.Reference,
			"retryable": paymentErr.Retryable,
			"message":   paymentErr.Error(),
		})
		return
	}

	var cycleErr *models.PayoutCycleRunningError
	if errors.As(err, &cycleErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "payout_cycle_running",
			"message": cycleErr.Error(),
		})
		return
	}

	var reconErr *models.ReconciliationError
	if errors.As(err, &reconErr) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":           "reconciliation_failed",
			"batch_reference": reconErr.BatchReference,
			"message":         reconErr.Error(),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
