package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BookingHandler exposes the booking lifecycle over HTTP
type BookingHandler struct {
	bookingSvc      *services.BookingService
	availabilitySvc *services.AvailabilityService
	paymentSvc      *services.PaymentService
	logger          *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookingSvc *services.BookingService, availabilitySvc *services.AvailabilityService, paymentSvc *services.PaymentService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookingSvc:      bookingSvc,
		availabilitySvc: availabilitySvc,
		paymentSvc:      paymentSvc,
		logger:          logger,
	}
}

// CreateBooking creates a new booking
// POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	// Header takes precedence over the body field
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		req.IdempotencyKey = &key
	}

	booking, err := h.bookingSvc.CreateBooking(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking retrieves a booking by id or by its CB- reference
// GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	id := c.Param("id")

	var booking *models.Booking
	var err error
	if strings.HasPrefix(id, "CB-") {
		booking, err = h.bookingSvc.GetByReference(id)
	} else {
		booking, err = h.bookingSvc.GetBooking(id)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ListConsultantBookings lists a consultant's bookings
// GET /api/v1/consultants/:id/bookings?status=confirmed
func (h *BookingHandler) ListConsultantBookings(c *gin.Context) {
	consultantID := c.Param("id")

	var status *models.BookingStatus
	if raw := c.Query("status"); raw != "" {
		s := models.BookingStatus(raw)
		status = &s
	}

	bookings, err := h.bookingSvc.ListForConsultant(consultantID, status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// CheckAvailability checks a consultant's slot availability
// GET /api/v1/consultants/:id/availability?start=...&end=...
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	consultantID := c.Param("id")

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "start must be RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "end must be RFC3339"})
		return
	}

	result, err := h.availabilitySvc.Check(consultantID, start, end)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Pay initiates the charge for a pending booking
// POST /api/v1/bookings/:id/pay
func (h *BookingHandler) Pay(c *gin.Context) {
	booking, txn, err := h.bookingSvc.Pay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking, "transaction": txn})
}

// Cancel cancels a booking, refunding a paid one per the tier policy
// POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	var req models.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	booking, err := h.bookingSvc.Cancel(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// Start marks a confirmed session as in progress
// POST /api/v1/bookings/:id/start
func (h *BookingHandler) Start(c *gin.Context) {
	booking, err := h.bookingSvc.Start(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// Complete finalizes an in-progress session
// POST /api/v1/bookings/:id/complete
func (h *BookingHandler) Complete(c *gin.Context) {
	booking, err := h.bookingSvc.Complete(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// SubmitFeedback stores rating and feedback on a completed booking
// POST /api/v1/bookings/:id/feedback
func (h *BookingHandler) SubmitFeedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if err := h.bookingSvc.SubmitFeedback(c.Param("id"), &req); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Feedback recorded"})
}

// GetLedger lists the payment transactions for a booking
// GET /api/v1/bookings/:id/transactions
func (h *BookingHandler) GetLedger(c *gin.Context) {
	txns, err := h.paymentSvc.LedgerForBooking(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// noShowRequest selects which party missed the session
type noShowRequest struct {
	Party string `json:"party" binding:"required"`
}

// MarkNoShow records a no-show against a confirmed booking (operator only)
// POST /api/v1/admin/bookings/:id/no-show
func (h *BookingHandler) MarkNoShow(c *gin.Context) {
	var req noShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	var booking *models.Booking
	var err error
	switch req.Party {
	case "client":
		booking, err = h.bookingSvc.MarkClientNoShow(c.Param("id"))
	case "consultant":
		booking, err = h.bookingSvc.MarkConsultantNoShow(c.Request.Context(), c.Param("id"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "party must be 'client' or 'consultant'"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// RecheckPayment re-derives a booking's payment status from its ledger
// (operator only)
// POST /api/v1/admin/bookings/:id/recheck-payment
func (h *BookingHandler) RecheckPayment(c *gin.Context) {
	status, err := h.paymentSvc.ReconcilePaymentStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// A booking that became paid while its confirmation was lost can now
	// confirm
	if status == models.PaymentStatusPaid {
		if _, err := h.bookingSvc.ConfirmIfPaid(c.Param("id")); err != nil {
			h.logger.WithField("booking_id", c.Param("id")).Warnf("Confirmation after recheck failed: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"payment_status": status})
}
