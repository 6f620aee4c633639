package services

import (
	"context"
	"fmt"
	"time"

	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/pkg/gateway"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// WebhookOutcome describes what a verified webhook delivery did. The
// handler uses it to route follow-up side effects (booking confirmation,
// payout settlement) without the payment service depending on them.
type WebhookOutcome struct {
	Event     *models.GatewayEvent
	Duplicate bool

	// BookingID is set when the event touched a booking's ledger
	BookingID *string
	// PaymentSettled is true when a charge completed and the booking
	// became eligible for confirmation
	PaymentSettled bool
	// PayoutReference is set for payout.* events, which settle batches
	// rather than bookings
	PayoutReference *string
}

// PaymentService owns the payment transaction ledger: charging bookings,
// refunding them, recording adjustments, and applying gateway webhooks
// exactly once.
type PaymentService struct {
	txnRepo     *database.TransactionRepository
	bookingRepo *database.BookingRepository
	gateway     gateway.Gateway
	logger      *logrus.Logger
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(txnRepo *database.TransactionRepository, bookingRepo *database.BookingRepository, gw gateway.Gateway, logger *logrus.Logger) *PaymentService {
	return &PaymentService{
		txnRepo:     txnRepo,
		bookingRepo: bookingRepo,
		gateway:     gw,
		logger:      logger,
	}
}

// InitiateCharge collects payment for a pending booking. The ledger entry
// is written before the gateway call under a per-booking idempotency key,
// so a retry after a crash reuses the same charge instead of double
// charging. Zero-total bookings (free sessions) settle immediately without
// touching the gateway.
func (s *PaymentService) InitiateCharge(ctx context.Context, booking *models.Booking) (*models.PaymentTransaction, error) {
	if existing, err := s.txnRepo.GetCompletedCharge(booking.ID); err != nil {
		return nil, fmt.Errorf("failed to check existing charge: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	if booking.TotalAmount.IsZero() {
		return s.settleFreeSession(booking)
	}

	txn, err := s.ensureChargeEntry(booking)
	if err != nil {
		return nil, err
	}
	if txn.Status == models.TransactionStatusCompleted {
		return txn, nil
	}

	if err := s.bookingRepo.UpdatePaymentStatus(booking.ID, models.PaymentStatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to mark payment processing: %w", err)
	}

	result, err := s.callCreateCharge(ctx, booking)
	if err != nil {
		reason := err.Error()
		if updErr := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusFailed, nil, &reason); updErr != nil {
			s.logger.WithField("transaction_id", txn.ID).Errorf("Failed to record charge failure: %v", updErr)
		}
		if updErr := s.bookingRepo.UpdatePaymentStatus(booking.ID, models.PaymentStatusFailed); updErr != nil {
			s.logger.WithField("booking_id", booking.ID).Errorf("Failed to mark payment failed: %v", updErr)
		}
		return nil, &models.PaymentError{Op: "charge", Reference: booking.BookingReference, Retryable: true, Err: err}
	}

	switch result.Status {
	case gateway.StatusSucceeded:
		if err := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusCompleted, &result.ID, nil); err != nil {
			return nil, fmt.Errorf("failed to complete charge entry: %w", err)
		}
		txn.Status = models.TransactionStatusCompleted
		txn.ExternalReference = &result.ID
		if err := s.bookingRepo.UpdatePaymentStatus(booking.ID, models.PaymentStatusPaid); err != nil {
			return nil, fmt.Errorf("failed to mark booking paid: %w", err)
		}
	default:
		// Pending at the processor; the webhook settles it
		if err := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusProcessing, &result.ID, nil); err != nil {
			return nil, fmt.Errorf("failed to update charge entry: %w", err)
		}
		txn.Status = models.TransactionStatusProcessing
		txn.ExternalReference = &result.ID
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"transaction_id": txn.ID,
		"gateway_ref":    result.ID,
		"status":         txn.Status,
	}).Info("Charge initiated")

	return txn, nil
}

// settleFreeSession records a zero-amount completed charge so the ledger
// still explains why the booking is paid
func (s *PaymentService) settleFreeSession(booking *models.Booking) (*models.PaymentTransaction, error) {
	key := "charge-" + booking.ID
	txn := &models.PaymentTransaction{
		BookingID:      &booking.ID,
		Type:           models.TransactionTypeCharge,
		GrossAmount:    decimal.Zero,
		FeeAmount:      decimal.Zero,
		NetAmount:      decimal.Zero,
		Currency:       booking.Currency,
		Status:         models.TransactionStatusCompleted,
		IdempotencyKey: &key,
	}
	if err := s.txnRepo.Create(txn); err != nil {
		if _, ok := err.(*models.ConflictError); ok {
			return s.txnRepo.GetCompletedCharge(booking.ID)
		}
		return nil, fmt.Errorf("failed to record free session charge: %w", err)
	}
	if err := s.bookingRepo.UpdatePaymentStatus(booking.ID, models.PaymentStatusPaid); err != nil {
		return nil, fmt.Errorf("failed to mark booking paid: %w", err)
	}
	return txn, nil
}

// ensureChargeEntry returns the booking's charge ledger entry, creating it
// when absent. The per-booking idempotency key collapses concurrent
// initiations onto one row.
func (s *PaymentService) ensureChargeEntry(booking *models.Booking) (*models.PaymentTransaction, error) {
	key := "charge-" + booking.ID
	txn := &models.PaymentTransaction{
		BookingID:      &booking.ID,
		Type:           models.TransactionTypeCharge,
		GrossAmount:    booking.TotalAmount,
		FeeAmount:      booking.PlatformFee,
		NetAmount:      booking.ConsultantPayout,
		Currency:       booking.Currency,
		Status:         models.TransactionStatusPending,
		IdempotencyKey: &key,
	}

	err := s.txnRepo.Create(txn)
	if err == nil {
		return txn, nil
	}
	if _, ok := err.(*models.ConflictError); !ok {
		return nil, fmt.Errorf("failed to create charge entry: %w", err)
	}

	existing, err := s.txnRepo.GetByBookingID(booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge entry: %w", err)
	}
	for i := range existing {
		if existing[i].Type == models.TransactionTypeCharge {
			return &existing[i], nil
		}
	}
	return nil, fmt.Errorf("charge entry conflict without existing row for booking %s", booking.ID)
}

// callCreateCharge calls the gateway with bounded exponential backoff.
// Declines are permanent; network failures retry.
func (s *PaymentService) callCreateCharge(ctx context.Context, booking *models.Booking) (*gateway.ChargeResult, error) {
	req := &gateway.ChargeRequest{
		InvoiceID: booking.BookingReference,
		Amount:    booking.TotalAmount,
		Currency:  booking.Currency,
		Customer: gateway.Customer{
			Name:  booking.ClientName,
			Email: booking.ClientEmail,
		},
		Description: fmt.Sprintf("%s session with consultant %s", booking.SessionType, booking.ConsultantID),
	}
	if booking.ClientPhone != nil {
		req.Customer.Phone = *booking.ClientPhone
	}

	var result *gateway.ChargeResult
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := s.gateway.CreateCharge(ctx, req)
		if err != nil {
			if res != nil {
				// The processor answered and declined; retrying will not help
				return err
			}
			return retry.RetryableError(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund returns amount of the booking's completed charge to the client
// and records a refund ledger entry. Requires a completed charge.
func (s *PaymentService) Refund(ctx context.Context, booking *models.Booking, amount decimal.Decimal, reason string) (*models.PaymentTransaction, error) {
	if amount.IsNegative() {
		return nil, &models.ValidationError{Field: "amount", Message: "refund amount cannot be negative"}
	}

	charge, err := s.txnRepo.GetCompletedCharge(booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge: %w", err)
	}
	if charge == nil {
		return nil, &models.PaymentError{Op: "refund", Reference: booking.BookingReference,
			Err: fmt.Errorf("no completed charge to refund")}
	}
	if amount.GreaterThan(charge.GrossAmount) {
		return nil, &models.ValidationError{Field: "amount", Message: "refund exceeds the captured charge"}
	}

	key := "refund-" + booking.ID
	txn := &models.PaymentTransaction{
		BookingID:      &booking.ID,
		Type:           models.TransactionTypeRefund,
		GrossAmount:    amount,
		FeeAmount:      decimal.Zero,
		NetAmount:      amount.Neg(),
		Currency:       booking.Currency,
		Status:         models.TransactionStatusPending,
		IdempotencyKey: &key,
		FailureReason:  nil,
	}
	if err := s.txnRepo.Create(txn); err != nil {
		if _, ok := err.(*models.ConflictError); ok {
			return nil, &models.ConflictError{Resource: "refund", Message: "a refund for this booking is already recorded"}
		}
		return nil, fmt.Errorf("failed to create refund entry: %w", err)
	}

	// Zero refunds (late cancellations can round to nothing) settle
	// without a gateway call
	if amount.IsZero() {
		if err := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusCompleted, nil, nil); err != nil {
			return nil, fmt.Errorf("failed to complete refund entry: %w", err)
		}
		txn.Status = models.TransactionStatusCompleted
		return txn, nil
	}

	if charge.ExternalReference == nil {
		return nil, &models.PaymentError{Op: "refund", Reference: booking.BookingReference,
			Err: fmt.Errorf("charge has no gateway reference")}
	}

	var result *gateway.ChargeResult
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, rErr := s.gateway.Refund(ctx, *charge.ExternalReference, amount, booking.Currency)
		if rErr != nil {
			if res != nil {
				return rErr
			}
			return retry.RetryableError(rErr)
		}
		result = res
		return nil
	})
	if err != nil {
		failReason := err.Error()
		if updErr := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusFailed, nil, &failReason); updErr != nil {
			s.logger.WithField("transaction_id", txn.ID).Errorf("Failed to record refund failure: %v", updErr)
		}
		return nil, &models.PaymentError{Op: "refund", Reference: booking.BookingReference, Retryable: true, Err: err}
	}

	status := models.TransactionStatusProcessing
	if result.Status == gateway.StatusSucceeded {
		status = models.TransactionStatusCompleted
	}
	if err := s.txnRepo.UpdateStatus(txn.ID, status, &result.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to update refund entry: %w", err)
	}
	txn.Status = status
	txn.ExternalReference = &result.ID

	s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"transaction_id": txn.ID,
		"amount":         amount.String(),
		"reason":         reason,
	}).Info("Refund issued")

	return txn, nil
}

// RecordAdjustment appends a completed adjustment entry against a booking.
// Negative net amounts reduce the consultant's next payout (no-show
// withholding); positive ones add to it.
func (s *PaymentService) RecordAdjustment(bookingID string, net decimal.Decimal, currency, key string) (*models.PaymentTransaction, error) {
	txn := &models.PaymentTransaction{
		BookingID:      &bookingID,
		Type:           models.TransactionTypeAdjustment,
		GrossAmount:    net.Abs(),
		FeeAmount:      decimal.Zero,
		NetAmount:      net,
		Currency:       currency,
		Status:         models.TransactionStatusCompleted,
		IdempotencyKey: &key,
	}
	if err := s.txnRepo.Create(txn); err != nil {
		if _, ok := err.(*models.ConflictError); ok {
			// Already recorded by an earlier attempt
			return nil, nil
		}
		return nil, fmt.Errorf("failed to record adjustment: %w", err)
	}
	return txn, nil
}

// VoidAdjustment fails an adjustment entry whose triggering status change
// did not stick, so payout aggregation never picks it up
func (s *PaymentService) VoidAdjustment(txnID, reason string) error {
	if err := s.txnRepo.UpdateStatus(txnID, models.TransactionStatusFailed, nil, &reason); err != nil {
		return fmt.Errorf("failed to void adjustment: %w", err)
	}
	s.logger.WithField("transaction_id", txnID).Warn("Adjustment voided")
	return nil
}

// ApplyWebhook verifies and applies one gateway webhook delivery. The event
// row's unique external id makes this idempotent: a redelivery of an event
// whose effects already landed changes nothing, while a redelivery of an
// event stuck at received (an earlier attempt failed mid-apply) resumes it.
func (s *PaymentService) ApplyWebhook(body []byte, signature string) (*WebhookOutcome, error) {
	event, err := s.gateway.VerifyWebhook(body, signature)
	if err != nil {
		return nil, &models.ValidationError{Field: "signature", Message: err.Error()}
	}

	record := &models.GatewayEvent{
		ExternalEventID: event.EventID,
		EventType:       event.EventType,
		ChargeReference: &event.ChargeReference,
		RawPayload:      body,
		Status:          models.GatewayEventReceived,
	}
	inserted, err := s.txnRepo.InsertGatewayEvent(record)
	if err != nil {
		return nil, fmt.Errorf("failed to record gateway event: %w", err)
	}
	if !inserted {
		existing, err := s.txnRepo.GetGatewayEventByExternalID(event.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load gateway event: %w", err)
		}
		if existing == nil || existing.Status != models.GatewayEventReceived {
			s.logger.WithField("external_event_id", event.EventID).Info("Duplicate webhook delivery skipped")
			return &WebhookOutcome{Event: record, Duplicate: true}, nil
		}
		// An earlier delivery recorded the event but failed before its
		// ledger effects were applied; this one picks the row back up
		record = existing
	}

	outcome := &WebhookOutcome{Event: record}

	switch event.EventType {
	case gateway.EventChargeSucceeded:
		err = s.applyChargeSettled(event, outcome)
	case gateway.EventChargeFailed:
		err = s.applyChargeFailed(event)
	case gateway.EventChargeDisputed:
		err = s.applyChargeDisputed(event)
	case gateway.EventRefundSucceeded:
		err = s.applyRefundSettled(event, outcome)
	case gateway.EventPayoutSucceeded, gateway.EventPayoutFailed:
		// Batch settlement; the caller routes these to the payout service
		outcome.PayoutReference = &event.ChargeReference
	default:
		s.logger.WithField("event_type", event.EventType).Warn("Unknown gateway event type")
		if markErr := s.txnRepo.MarkEventProcessed(record.ID, models.GatewayEventSkipped); markErr != nil {
			return nil, markErr
		}
		return outcome, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.txnRepo.MarkEventProcessed(record.ID, models.GatewayEventProcessed); err != nil {
		return nil, fmt.Errorf("failed to finalize gateway event: %w", err)
	}
	record.Status = models.GatewayEventProcessed

	return outcome, nil
}

// applyChargeSettled completes the charge ledger entry and marks the
// booking paid. Paid is only ever set here or on a synchronous success,
// both after a completed charge row exists.
func (s *PaymentService) applyChargeSettled(event *gateway.WebhookEvent, outcome *WebhookOutcome) error {
	txn, err := s.findChargeByReference(event.ChargeReference)
	if err != nil {
		return err
	}
	if txn == nil || txn.BookingID == nil {
		return fmt.Errorf("charge %s not found in ledger", event.ChargeReference)
	}

	if txn.Status != models.TransactionStatusCompleted {
		if err := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusCompleted, nil, nil); err != nil {
			return fmt.Errorf("failed to complete charge: %w", err)
		}
	}
	if err := s.bookingRepo.UpdatePaymentStatus(*txn.BookingID, models.PaymentStatusPaid); err != nil {
		return fmt.Errorf("failed to mark booking paid: %w", err)
	}

	outcome.BookingID = txn.BookingID
	outcome.PaymentSettled = true

	s.logger.WithFields(logrus.Fields{
		"booking_id":  *txn.BookingID,
		"gateway_ref": event.ChargeReference,
	}).Info("Charge settled via webhook")

	return nil
}

func (s *PaymentService) applyChargeFailed(event *gateway.WebhookEvent) error {
	txn, err := s.findChargeByReference(event.ChargeReference)
	if err != nil {
		return err
	}
	if txn == nil || txn.BookingID == nil {
		return fmt.Errorf("charge %s not found in ledger", event.ChargeReference)
	}

	reason := event.FailureReason
	if reason == "" {
		reason = "charge failed at processor"
	}
	if err := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusFailed, nil, &reason); err != nil {
		return fmt.Errorf("failed to fail charge: %w", err)
	}
	if err := s.bookingRepo.UpdatePaymentStatus(*txn.BookingID, models.PaymentStatusFailed); err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":  *txn.BookingID,
		"gateway_ref": event.ChargeReference,
		"reason":      reason,
	}).Warn("Charge failed via webhook")

	return nil
}

func (s *PaymentService) applyChargeDisputed(event *gateway.WebhookEvent) error {
	txn, err := s.findChargeByReference(event.ChargeReference)
	if err != nil {
		return err
	}
	if txn == nil || txn.BookingID == nil {
		return fmt.Errorf("charge %s not found in ledger", event.ChargeReference)
	}

	if err := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusDisputed, nil, nil); err != nil {
		return fmt.Errorf("failed to mark charge disputed: %w", err)
	}
	if err := s.bookingRepo.UpdatePaymentStatus(*txn.BookingID, models.PaymentStatusDisputed); err != nil {
		return fmt.Errorf("failed to mark payment disputed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":  *txn.BookingID,
		"gateway_ref": event.ChargeReference,
	}).Warn("Charge disputed")

	return nil
}

func (s *PaymentService) applyRefundSettled(event *gateway.WebhookEvent, outcome *WebhookOutcome) error {
	txn, err := s.txnRepo.GetByExternalReference(event.ChargeReference)
	if err != nil {
		return fmt.Errorf("failed to load refund: %w", err)
	}
	if txn == nil || txn.BookingID == nil {
		return fmt.Errorf("refund %s not found in ledger", event.ChargeReference)
	}

	if txn.Status != models.TransactionStatusCompleted {
		if err := s.txnRepo.UpdateStatus(txn.ID, models.TransactionStatusCompleted, nil, nil); err != nil {
			return fmt.Errorf("failed to complete refund: %w", err)
		}
	}
	if err := s.bookingRepo.UpdatePaymentStatus(*txn.BookingID, models.PaymentStatusRefunded); err != nil {
		return fmt.Errorf("failed to mark booking refunded: %w", err)
	}

	outcome.BookingID = txn.BookingID
	return nil
}

// findChargeByReference locates a charge ledger entry by its gateway
// reference, falling back to the booking reference the charge was created
// under (the invoice id doubles as the reference for synchronous-pending
// charges).
func (s *PaymentService) findChargeByReference(ref string) (*models.PaymentTransaction, error) {
	txn, err := s.txnRepo.GetByExternalReference(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up charge: %w", err)
	}
	if txn != nil {
		return txn, nil
	}

	booking, err := s.bookingRepo.GetByReference(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up booking: %w", err)
	}
	if booking == nil {
		return nil, nil
	}
	return s.txnRepo.GetChargeForBooking(booking.ID)
}

// ReconcilePaymentStatus re-derives a booking's payment status from its
// ledger rows. Operator escape hatch for a booking stuck out of sync with
// its transactions.
func (s *PaymentService) ReconcilePaymentStatus(bookingID string) (models.PaymentStatus, error) {
	booking, err := s.bookingRepo.GetByID(bookingID)
	if err != nil {
		return "", fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return "", &models.ValidationError{Field: "booking_id", Message: "booking not found"}
	}

	txns, err := s.txnRepo.GetByBookingID(bookingID)
	if err != nil {
		return "", fmt.Errorf("failed to load ledger: %w", err)
	}

	derived := derivePaymentStatus(txns)
	if derived != booking.PaymentStatus {
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"from":       booking.PaymentStatus,
			"to":         derived,
		}).Warn("Reconciling payment status from ledger")
		if err := s.bookingRepo.UpdatePaymentStatus(bookingID, derived); err != nil {
			return "", fmt.Errorf("failed to update payment status: %w", err)
		}
	}

	return derived, nil
}

// derivePaymentStatus folds ledger entries into the booking-level payment
// status. Later events dominate earlier ones.
func derivePaymentStatus(txns []models.PaymentTransaction) models.PaymentStatus {
	status := models.PaymentStatusPending
	for _, txn := range txns {
		switch txn.Type {
		case models.TransactionTypeCharge:
			switch txn.Status {
			case models.TransactionStatusCompleted:
				status = models.PaymentStatusPaid
			case models.TransactionStatusProcessing:
				status = models.PaymentStatusProcessing
			case models.TransactionStatusFailed:
				status = models.PaymentStatusFailed
			case models.TransactionStatusDisputed:
				status = models.PaymentStatusDisputed
			}
		case models.TransactionTypeRefund:
			if txn.Status == models.TransactionStatusCompleted {
				status = models.PaymentStatusRefunded
			}
		}
	}
	return status
}

// LedgerForBooking returns all ledger entries for a booking
func (s *PaymentService) LedgerForBooking(bookingID string) ([]models.PaymentTransaction, error) {
	return s.txnRepo.GetByBookingID(bookingID)
}
