package database

import (
	"database/sql"
	"fmt"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const transactionColumns = `
	id, booking_id, payout_batch_id, type, gross_amount, fee_amount,
	net_amount, currency, status, external_reference, idempotency_key,
	failure_reason, created_at, updated_at`

// TransactionRepository handles database operations for the payment ledger
type TransactionRepository struct {
	db DB
}

// NewTransactionRepository creates a new TransactionRepository
func NewTransactionRepository(db DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a ledger entry
func (r *TransactionRepository) Create(txn *models.PaymentTransaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}

	err := r.db.QueryRow(`
		INSERT INTO payment_transactions (
			id, booking_id, payout_batch_id, type, gross_amount, fee_amount,
			net_amount, currency, status, external_reference, idempotency_key,
			failure_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING created_at, updated_at
	`,
		txn.ID, txn.BookingID, txn.PayoutBatchID, txn.Type, txn.GrossAmount, txn.FeeAmount,
		txn.NetAmount, txn.Currency, txn.Status, txn.ExternalReference, txn.IdempotencyKey,
		txn.FailureReason,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)

	if err != nil && IsUniqueViolation(err) {
		return &models.ConflictError{Resource: "transaction", Message: "idempotency key already used"}
	}
	return err
}

// UpdateStatus moves a ledger entry to a new status and records the
// external reference and failure reason when present
func (r *TransactionRepository) UpdateStatus(txnID string, status models.TransactionStatus, externalRef, failureReason *string) error {
	result, err := r.db.Exec(`
		UPDATE payment_transactions
		SET status = $2,
			external_reference = COALESCE($3, external_reference),
			failure_reason = $4,
			updated_at = NOW()
		WHERE id = $1
	`, txnID, status, externalRef, failureReason)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return fmt.Errorf("transaction not found")
	}

	return nil
}

// GetByID retrieves a ledger entry by ID
func (r *TransactionRepository) GetByID(txnID string) (*models.PaymentTransaction, error) {
	txn := &models.PaymentTransaction{}
	err := r.db.Get(txn, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, txnID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// GetByBookingID returns all ledger entries for a booking, oldest first
func (r *TransactionRepository) GetByBookingID(bookingID string) ([]models.PaymentTransaction, error) {
	txns := []models.PaymentTransaction{}
	err := r.db.Select(&txns, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE booking_id = $1
		ORDER BY created_at
	`, bookingID)
	return txns, err
}

// GetByExternalReference finds the ledger entry matching a gateway charge
// reference
func (r *TransactionRepository) GetByExternalReference(ref string) (*models.PaymentTransaction, error) {
	txn := &models.PaymentTransaction{}
	err := r.db.Get(txn, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE external_reference = $1
	`, ref)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// GetCompletedCharge returns the completed charge for a booking, or nil
// when none exists. Confirmation requires one.
func (r *TransactionRepository) GetCompletedCharge(bookingID string) (*models.PaymentTransaction, error) {
	txn := &models.PaymentTransaction{}
	err := r.db.Get(txn, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE booking_id = $1 AND type = 'charge' AND status = 'completed'
		ORDER BY created_at
		LIMIT 1
	`, bookingID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// GetChargeForBooking returns the booking's charge entry regardless of
// status, or nil when the booking was never charged
func (r *TransactionRepository) GetChargeForBooking(bookingID string) (*models.PaymentTransaction, error) {
	txn := &models.PaymentTransaction{}
	err := r.db.Get(txn, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE booking_id = $1 AND type = 'charge'
		ORDER BY created_at DESC
		LIMIT 1
	`, bookingID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// SumCompletedForBooking returns completed charges minus completed refunds
// for a booking, the figure the booking's total must reconcile against
func (r *TransactionRepository) SumCompletedForBooking(bookingID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.Get(&sum, `
		SELECT COALESCE(SUM(
			CASE type WHEN 'charge' THEN gross_amount
			          WHEN 'refund' THEN -gross_amount
			          ELSE 0 END
		), 0)
		FROM payment_transactions
		WHERE booking_id = $1 AND status = 'completed'
	`, bookingID)
	return sum, err
}

// InsertGatewayEvent records a webhook delivery. The unique constraint on
// external_event_id makes redelivery detection a plain insert: the second
// arrival reports inserted=false and the caller decides, from the stored
// row's status, whether the event still needs its effects applied.
func (r *TransactionRepository) InsertGatewayEvent(event *models.GatewayEvent) (bool, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	err := r.db.QueryRow(`
		INSERT INTO gateway_events (id, external_event_id, event_type, charge_reference, raw_payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_event_id) DO NOTHING
		RETURNING received_at
	`,
		event.ID, event.ExternalEventID, event.EventType,
		event.ChargeReference, event.RawPayload, event.Status,
	).Scan(&event.ReceivedAt)

	if err == sql.ErrNoRows {
		// Conflict path: the event was already recorded
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetGatewayEventByExternalID loads a recorded webhook delivery by the
// gateway's event id, or nil when the id is unseen
func (r *TransactionRepository) GetGatewayEventByExternalID(externalID string) (*models.GatewayEvent, error) {
	event := &models.GatewayEvent{}
	err := r.db.Get(event, `
		SELECT id, external_event_id, event_type, charge_reference, raw_payload,
		       status, received_at, processed_at
		FROM gateway_events
		WHERE external_event_id = $1
	`, externalID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// MarkEventProcessed finalizes a webhook event after its ledger effects are
// applied
func (r *TransactionRepository) MarkEventProcessed(eventID string, status models.GatewayEventStatus) error {
	_, err := r.db.Exec(`
		UPDATE gateway_events
		SET status = $2, processed_at = NOW()
		WHERE id = $1
	`, eventID, status)
	return err
}
