package services

import (
	"context"
	"fmt"
	"time"

	"github.com/expertlane/consult-backend/internal/config"
	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/pkg/notify"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BookingService orchestrates the booking lifecycle: creation with slot and
// coupon checks, payment-driven confirmation, cancellation with refunds,
// no-show handling, and the stale-pending sweep. Status changes go through
// the legal-transition table; money moves before the status that implies it.
type BookingService struct {
	bookingRepo *database.BookingRepository
	couponSvc   *CouponService
	paymentSvc  *PaymentService
	pricing     *PricingEngine
	notifier    notify.Notifier
	cfg         config.BookingConfig
	logger      *logrus.Logger
}

// NewBookingService creates a new BookingService
func NewBookingService(
	bookingRepo *database.BookingRepository,
	couponSvc *CouponService,
	paymentSvc *PaymentService,
	pricing *PricingEngine,
	notifier notify.Notifier,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		bookingRepo: bookingRepo,
		couponSvc:   couponSvc,
		paymentSvc:  paymentSvc,
		pricing:     pricing,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
	}
}

// CreateBooking validates, prices and inserts a new booking in pending
// state. The slot conflict check runs inside the insert transaction; the
// coupon use is consumed first and released again if the insert loses the
// slot race. A replayed idempotency key returns the original booking.
func (s *BookingService) CreateBooking(req *models.CreateBookingRequest) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := s.bookingRepo.GetByIdempotencyKey(*req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			s.logger.WithFields(logrus.Fields{
				"booking_id":      existing.ID,
				"idempotency_key": *req.IdempotencyKey,
			}).Info("Idempotent booking replay")
			return existing, nil
		}
	}

	rate, err := decimal.NewFromString(req.HourlyRate)
	if err != nil {
		return nil, &models.ValidationError{Field: "hourly_rate", Message: "hourly_rate must be a decimal number"}
	}

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	hours := req.Hours()
	subtotal := s.pricing.Subtotal(rate, hours, currency)

	var coupon *models.Coupon
	var usage *models.CouponUsage
	if req.CouponCode != nil && *req.CouponCode != "" {
		couponCtx := &models.CouponContext{
			ConsultantID: req.ConsultantID,
			SessionType:  req.SessionType,
			ClientEmail:  req.ClientEmail,
			OrderValue:   subtotal,
			Currency:     currency,
		}
		found, reasons, err := s.couponSvc.Evaluate(*req.CouponCode, couponCtx)
		if err != nil {
			return nil, err
		}
		if len(reasons) > 0 {
			if found != nil {
				s.couponSvc.recordAttempt(found.ID, couponCtx.ClientEmail, nil, models.CouponUsageRejected, reasons)
			}
			return nil, &models.CouponRejectedError{Code: *req.CouponCode, Reasons: reasons}
		}
		usage, err = s.couponSvc.Redeem(found, couponCtx)
		if err != nil {
			return nil, err
		}
		coupon = found
	}

	pricing := s.pricing.Price(rate, hours, coupon, currency)

	reference, err := s.bookingRepo.GenerateBookingReference()
	if err != nil {
		s.releaseCoupon(coupon)
		return nil, err
	}

	booking := &models.Booking{
		BookingReference: reference,
		ConsultantID:     req.ConsultantID,
		ClientName:       req.ClientName,
		ClientEmail:      req.ClientEmail,
		ClientPhone:      req.ClientPhone,
		SessionType:      req.SessionType,
		ScheduledStart:   req.ScheduledStart,
		ScheduledEnd:     req.ScheduledEnd,
		HourlyRate:       rate,
		TotalHours:       hours,
		Currency:         currency,
		Subtotal:         pricing.Subtotal,
		CouponDiscount:   pricing.Discount,
		TotalAmount:      pricing.Total,
		PlatformFee:      pricing.PlatformFee,
		ConsultantPayout: pricing.ConsultantPayout,
		Status:           models.BookingStatusPending,
		PaymentStatus:    models.PaymentStatusPending,
		IdempotencyKey:   req.IdempotencyKey,
	}
	if coupon != nil {
		booking.CouponID = &coupon.ID
	}

	if err := s.bookingRepo.CreateWithSlotCheck(booking); err != nil {
		s.releaseCoupon(coupon)
		return nil, err
	}

	if usage != nil {
		if err := s.couponSvc.LinkUsage(usage.ID, booking.ID); err != nil {
			s.logger.WithField("usage_id", usage.ID).Warnf("Failed to link coupon usage: %v", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":    booking.ID,
		"reference":     booking.BookingReference,
		"consultant_id": booking.ConsultantID,
		"total":         booking.TotalAmount.String(),
		"currency":      booking.Currency,
	}).Info("Booking created")

	return booking, nil
}

// releaseCoupon returns a consumed coupon use after a failed creation
func (s *BookingService) releaseCoupon(coupon *models.Coupon) {
	if coupon == nil {
		return
	}
	if err := s.couponSvc.Release(coupon.ID); err != nil {
		s.logger.WithField("coupon_id", coupon.ID).Errorf("Failed to release coupon after booking failure: %v", err)
	}
}

// Pay initiates the charge for a pending booking and confirms it when the
// charge settles synchronously
func (s *BookingService) Pay(ctx context.Context, bookingID string) (*models.Booking, *models.PaymentTransaction, error) {
	booking, err := s.mustGet(bookingID)
	if err != nil {
		return nil, nil, err
	}
	if booking.Status != models.BookingStatusPending {
		return nil, nil, &models.InvalidTransitionError{
			Entity: "booking", From: string(booking.Status), Requested: string(models.BookingStatusConfirmed),
		}
	}

	txn, err := s.paymentSvc.InitiateCharge(ctx, booking)
	if err != nil {
		return booking, nil, err
	}

	if txn.Status == models.TransactionStatusCompleted {
		booking, err = s.ConfirmIfPaid(bookingID)
		if err != nil {
			return booking, txn, err
		}
	}

	return booking, txn, nil
}

// ConfirmIfPaid moves a pending booking to confirmed once a completed
// charge covers it. Idempotent: an already-confirmed booking is returned
// as is.
func (s *BookingService) ConfirmIfPaid(bookingID string) (*models.Booking, error) {
	booking, err := s.mustGet(bookingID)
	if err != nil {
		return nil, err
	}

	if booking.Status == models.BookingStatusConfirmed {
		return booking, nil
	}
	if booking.Status != models.BookingStatusPending {
		return nil, &models.InvalidTransitionError{
			Entity: "booking", From: string(booking.Status), Requested: string(models.BookingStatusConfirmed),
		}
	}

	// Confirmation is gated on the ledger, not just the payment flag
	charge, err := s.paymentSvc.txnRepo.GetCompletedCharge(bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to check charge: %w", err)
	}
	if charge == nil {
		return nil, &models.PaymentError{Op: "confirm", Reference: booking.BookingReference,
			Err: fmt.Errorf("no completed charge for booking")}
	}

	moved, err := s.bookingRepo.TransitionStatus(bookingID, models.BookingStatusPending, models.BookingStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	if moved {
		booking.Status = models.BookingStatusConfirmed
		s.notifier.Publish(notify.EventBookingConfirmed, map[string]interface{}{
			"booking_id":    booking.ID,
			"reference":     booking.BookingReference,
			"consultant_id": booking.ConsultantID,
			"start":         booking.ScheduledStart,
		})
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"reference":  booking.BookingReference,
		}).Info("Booking confirmed")
	}

	return booking, nil
}

// Start moves a confirmed booking into the in-progress state when the
// session begins
func (s *BookingService) Start(bookingID string) (*models.Booking, error) {
	return s.transition(bookingID, models.BookingStatusConfirmed, models.BookingStatusInProgress)
}

// Complete finalizes an in-progress session, making the booking eligible
// for the next payout cycle
func (s *BookingService) Complete(bookingID string) (*models.Booking, error) {
	return s.transition(bookingID, models.BookingStatusInProgress, models.BookingStatusCompleted)
}

func (s *BookingService) transition(bookingID string, from, to models.BookingStatus) (*models.Booking, error) {
	booking, err := s.mustGet(bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(to) || booking.Status != from {
		return nil, &models.InvalidTransitionError{
			Entity: "booking", From: string(booking.Status), Requested: string(to),
		}
	}

	moved, err := s.bookingRepo.TransitionStatus(bookingID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to transition booking: %w", err)
	}
	if !moved {
		return nil, &models.ConflictError{Resource: "booking", Message: "booking changed concurrently"}
	}
	booking.Status = to
	return booking, nil
}

// Cancel cancels a pending or confirmed booking. For a paid booking the
// tiered refund is issued before the status changes; a booking is never
// cancelled with the client's money silently kept. Unpaid cancellations
// release any consumed coupon use.
func (s *BookingService) Cancel(ctx context.Context, bookingID string, req *models.CancelBookingRequest) (*models.Booking, error) {
	booking, err := s.mustGet(bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusCancelled) {
		return nil, &models.InvalidTransitionError{
			Entity: "booking", From: string(booking.Status), Requested: string(models.BookingStatusCancelled),
		}
	}

	if booking.IsPaid() {
		now := time.Now()
		fraction := booking.RefundFraction(now)
		amount := booking.TotalAmount.Mul(fraction).RoundBank(MinorUnits(booking.Currency))

		reason := "cancellation"
		if req != nil && req.Reason != nil {
			reason = *req.Reason
		}
		if _, err := s.paymentSvc.Refund(ctx, booking, amount, reason); err != nil {
			// Refund failed: the booking stays confirmed and the client
			// can retry
			return nil, err
		}
	}

	var reason *string
	if req != nil {
		reason = req.Reason
	}
	moved, err := s.bookingRepo.MarkCancelled(bookingID, booking.Status, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if !moved {
		return nil, &models.ConflictError{Resource: "booking", Message: "booking changed concurrently"}
	}

	if !booking.IsPaid() && booking.CouponID != nil {
		if err := s.couponSvc.Release(*booking.CouponID); err != nil {
			s.logger.WithField("booking_id", bookingID).Warnf("Failed to release coupon on cancel: %v", err)
		}
	}

	booking.Status = models.BookingStatusCancelled
	s.notifier.Publish(notify.EventBookingCancelled, map[string]interface{}{
		"booking_id": booking.ID,
		"reference":  booking.BookingReference,
	})
	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"reference":  booking.BookingReference,
	}).Info("Booking cancelled")

	return booking, nil
}

// MarkClientNoShow handles a confirmed session the client missed. The
// charge is kept; under the partial policy the withheld share of the
// consultant's payout is recorded as a negative adjustment against the
// next cycle.
func (s *BookingService) MarkClientNoShow(bookingID string) (*models.Booking, error) {
	booking, err := s.mustGet(bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusNoShowClient) {
		return nil, &models.InvalidTransitionError{
			Entity: "booking", From: string(booking.Status), Requested: string(models.BookingStatusNoShowClient),
		}
	}

	var adjustment *models.PaymentTransaction
	if s.cfg.NoShowPolicy == "partial" && booking.ConsultantPayout.IsPositive() {
		paid := booking.ConsultantPayout.Mul(s.cfg.NoShowPartialRate).RoundBank(MinorUnits(booking.Currency))
		withheld := booking.ConsultantPayout.Sub(paid)
		if withheld.IsPositive() {
			key := "adjustment-noshow-" + booking.ID
			adjustment, err = s.paymentSvc.RecordAdjustment(booking.ID, withheld.Neg(), booking.Currency, key)
			if err != nil {
				return nil, err
			}
		}
	}

	moved, err := s.bookingRepo.TransitionStatus(bookingID, booking.Status, models.BookingStatusNoShowClient)
	if err != nil {
		return nil, fmt.Errorf("failed to mark no-show: %w", err)
	}
	if !moved {
		// The adjustment only stands together with the no-show status; a
		// lost transition voids it
		if adjustment != nil {
			if voidErr := s.paymentSvc.VoidAdjustment(adjustment.ID, "no-show transition lost to a concurrent update"); voidErr != nil {
				s.logger.WithField("booking_id", booking.ID).Errorf("Failed to void no-show adjustment: %v", voidErr)
			}
		}
		return nil, &models.ConflictError{Resource: "booking", Message: "booking changed concurrently"}
	}
	booking.Status = models.BookingStatusNoShowClient

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"policy":     s.cfg.NoShowPolicy,
	}).Info("Client no-show recorded")

	return booking, nil
}

// MarkConsultantNoShow handles a confirmed session the consultant missed:
// the client is refunded in full and the consultant earns nothing
func (s *BookingService) MarkConsultantNoShow(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.mustGet(bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusNoShowConsultant) {
		return nil, &models.InvalidTransitionError{
			Entity: "booking", From: string(booking.Status), Requested: string(models.BookingStatusNoShowConsultant),
		}
	}

	if booking.IsPaid() && booking.TotalAmount.IsPositive() {
		if _, err := s.paymentSvc.Refund(ctx, booking, booking.TotalAmount, "consultant no-show"); err != nil {
			return nil, err
		}
	}

	moved, err := s.bookingRepo.TransitionStatus(bookingID, booking.Status, models.BookingStatusNoShowConsultant)
	if err != nil {
		return nil, fmt.Errorf("failed to mark no-show: %w", err)
	}
	if !moved {
		return nil, &models.ConflictError{Resource: "booking", Message: "booking changed concurrently"}
	}
	booking.Status = models.BookingStatusNoShowConsultant

	s.logger.WithField("booking_id", booking.ID).Info("Consultant no-show recorded")

	return booking, nil
}

// SubmitFeedback stores rating and feedback on a completed booking
func (s *BookingService) SubmitFeedback(bookingID string, req *models.FeedbackRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return s.bookingRepo.SetFeedback(bookingID, req.Rating, req.Feedback)
}

// GetBooking returns a booking by id
func (s *BookingService) GetBooking(bookingID string) (*models.Booking, error) {
	return s.mustGet(bookingID)
}

// GetByReference returns a booking by its human-facing reference
func (s *BookingService) GetByReference(reference string) (*models.Booking, error) {
	booking, err := s.bookingRepo.GetByReference(reference)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, &models.ValidationError{Field: "reference", Message: "booking not found"}
	}
	return booking, nil
}

// ListForConsultant returns a consultant's bookings, optionally filtered by
// status
func (s *BookingService) ListForConsultant(consultantID string, status *models.BookingStatus) ([]models.Booking, error) {
	return s.bookingRepo.GetByConsultantID(consultantID, status)
}

// SweepStalePending cancels pending bookings whose payment never arrived
// within the TTL, releasing their slots and coupon uses. Returns how many
// bookings were swept.
func (s *BookingService) SweepStalePending() (int, error) {
	cutoff := time.Now().Add(-s.cfg.PendingTTL)
	stale, err := s.bookingRepo.FindStalePending(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale bookings: %w", err)
	}

	reason := "payment not received in time"
	swept := 0
	for i := range stale {
		booking := &stale[i]
		moved, err := s.bookingRepo.MarkCancelled(booking.ID, models.BookingStatusPending, &reason)
		if err != nil {
			s.logger.WithField("booking_id", booking.ID).Errorf("Failed to sweep stale booking: %v", err)
			continue
		}
		if !moved {
			continue
		}
		if booking.CouponID != nil {
			if err := s.couponSvc.Release(*booking.CouponID); err != nil {
				s.logger.WithField("booking_id", booking.ID).Warnf("Failed to release coupon on sweep: %v", err)
			}
		}
		swept++
	}

	if swept > 0 {
		s.logger.WithField("count", swept).Info("Swept stale pending bookings")
	}
	return swept, nil
}

func (s *BookingService) mustGet(bookingID string) (*models.Booking, error) {
	booking, err := s.bookingRepo.GetByID(bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, &models.ValidationError{Field: "booking_id", Message: "booking not found"}
	}
	return booking, nil
}
