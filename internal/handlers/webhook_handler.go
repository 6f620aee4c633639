package handlers

import (
	"io"
	"net/http"

	"github.com/expertlane/consult-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// signatureHeader carries the gateway's HMAC over the raw body
const signatureHeader = "X-Gateway-Signature"

// WebhookHandler receives payment gateway notifications. Verification and
// dedup happen in the payment service; this handler only routes the
// resulting side effects.
type WebhookHandler struct {
	paymentSvc *services.PaymentService
	bookingSvc *services.BookingService
	payoutSvc  *services.PayoutService
	logger     *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(paymentSvc *services.PaymentService, bookingSvc *services.BookingService, payoutSvc *services.PayoutService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		paymentSvc: paymentSvc,
		bookingSvc: bookingSvc,
		payoutSvc:  payoutSvc,
		logger:     logger,
	}
}

// HandlePaymentWebhook applies one gateway delivery
// POST /api/v1/webhooks/payment
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "failed to read body"})
		return
	}

	outcome, err := h.paymentSvc.ApplyWebhook(body, c.GetHeader(signatureHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	if outcome.Duplicate {
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	if outcome.PaymentSettled && outcome.BookingID != nil {
		if _, err := h.bookingSvc.ConfirmIfPaid(*outcome.BookingID); err != nil {
			// The payment is applied either way; confirmation can be
			// replayed via the recheck endpoint
			h.logger.WithFields(logrus.Fields{
				"booking_id": *outcome.BookingID,
				"error":      err.Error(),
			}).Error("Booking confirmation after webhook failed")
		}
	}

	if outcome.PayoutReference != nil {
		if err := h.payoutSvc.HandleSettlementEvent(outcome.Event.EventType, *outcome.PayoutReference); err != nil {
			h.logger.WithFields(logrus.Fields{
				"batch_reference": *outcome.PayoutReference,
				"error":           err.Error(),
			}).Error("Payout settlement event failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed", "event_id": outcome.Event.ExternalEventID})
}
