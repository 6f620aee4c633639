package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ErrPeriodLocked signals that another payout run holds the period lock
var ErrPeriodLocked = errors.New("payout period is locked by another run")

const payoutBatchColumns = `
	id, batch_reference, consultant_id, period_start, period_end,
	booking_ids, gross_earnings, processing_fees, adjustments, net_payout,
	currency, status, failure_reason, created_at, settled_at`

// PayoutRepository handles database operations for payout batches
type PayoutRepository struct {
	db *sqlx.DB
}

// NewPayoutRepository creates a new PayoutRepository
func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// WithPeriodLock runs fn inside one transaction holding a transaction-scoped
// advisory lock on the period key. Overlapping runs for the same period see
// ErrPeriodLocked instead of double-aggregating; the lock releases with the
// transaction either way.
func (r *PayoutRepository) WithPeriodLock(periodKey string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(context.Background(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin payout transaction: %w", err)
	}
	defer tx.Rollback()

	var acquired bool
	if err := tx.Get(&acquired, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, periodKey); err != nil {
		return fmt.Errorf("failed to acquire period lock: %w", err)
	}
	if !acquired {
		return ErrPeriodLocked
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// SelectEligibleTx locks and returns bookings ready for payout in the
// period: session completed (or client no-show, which still earns) inside
// the window, charge settled, not yet claimed by a pending, processing or
// completed batch.
func (r *PayoutRepository) SelectEligibleTx(tx *sqlx.Tx, periodStart, periodEnd time.Time) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := tx.Select(&bookings, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('completed', 'no_show_client')
		  AND payment_status = 'paid'
		  AND payout_batch_id IS NULL
		  AND scheduled_end >= $1
		  AND scheduled_end < $2
		ORDER BY consultant_id, scheduled_end
		FOR UPDATE
	`, periodStart, periodEnd)
	return bookings, err
}

// SumAdjustmentsTx returns the completed adjustment total across the given
// bookings. No-show withholdings land here as negative net amounts.
func (r *PayoutRepository) SumAdjustmentsTx(tx *sqlx.Tx, bookingIDs []string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.Get(&sum, `
		SELECT COALESCE(SUM(net_amount), 0)
		FROM payment_transactions
		WHERE booking_id = ANY($1)
		  AND type = 'adjustment'
		  AND status = 'completed'
	`, pq.Array(bookingIDs))
	return sum, err
}

// SumSettledNetTx returns the summed net amount of completed charges for
// the given bookings. Independent source for reconciling a batch's gross
// earnings against the ledger.
func (r *PayoutRepository) SumSettledNetTx(tx *sqlx.Tx, bookingIDs []string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.Get(&sum, `
		SELECT COALESCE(SUM(net_amount), 0)
		FROM payment_transactions
		WHERE booking_id = ANY($1)
		  AND type = 'charge'
		  AND status = 'completed'
	`, pq.Array(bookingIDs))
	return sum, err
}

// InsertBatchTx inserts a payout batch and stamps its bookings with the
// batch id, all within the cycle transaction
func (r *PayoutRepository) InsertBatchTx(tx *sqlx.Tx, batch *models.PayoutBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	err := tx.QueryRowx(`
		INSERT INTO payout_batches (
			id, batch_reference, consultant_id, period_start, period_end,
			booking_ids, gross_earnings, processing_fees, adjustments,
			net_payout, currency, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING created_at
	`,
		batch.ID, batch.BatchReference, batch.ConsultantID, batch.PeriodStart, batch.PeriodEnd,
		batch.BookingIDs, batch.GrossEarnings, batch.ProcessingFees, batch.Adjustments,
		batch.NetPayout, batch.Currency, batch.Status,
	).Scan(&batch.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return &models.ConflictError{
				Resource: "payout_batch",
				Message:  fmt.Sprintf("batch %s already exists for this period", batch.BatchReference),
			}
		}
		return fmt.Errorf("failed to insert payout batch: %w", err)
	}

	result, err := tx.Exec(`
		UPDATE bookings
		SET payout_batch_id = $1, updated_at = NOW()
		WHERE id = ANY($2) AND payout_batch_id IS NULL
	`, batch.ID, pq.Array([]string(batch.BookingIDs)))
	if err != nil {
		return fmt.Errorf("failed to assign bookings to batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if int(rows) != len(batch.BookingIDs) {
		return fmt.Errorf("expected to assign %d bookings, assigned %d", len(batch.BookingIDs), rows)
	}

	return nil
}

// GetByID retrieves a payout batch by ID
func (r *PayoutRepository) GetByID(batchID string) (*models.PayoutBatch, error) {
	batch := &models.PayoutBatch{}
	err := r.db.Get(batch, `SELECT `+payoutBatchColumns+` FROM payout_batches WHERE id = $1`, batchID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return batch, nil
}

// GetByReference retrieves a payout batch by its batch reference
func (r *PayoutRepository) GetByReference(reference string) (*models.PayoutBatch, error) {
	batch := &models.PayoutBatch{}
	err := r.db.Get(batch, `SELECT `+payoutBatchColumns+` FROM payout_batches WHERE batch_reference = $1`, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return batch, nil
}

// GetByConsultantID returns a consultant's payout batches, newest period
// first, for the earnings view
func (r *PayoutRepository) GetByConsultantID(consultantID string) ([]models.PayoutBatch, error) {
	batches := []models.PayoutBatch{}
	err := r.db.Select(&batches, `
		SELECT `+payoutBatchColumns+`
		FROM payout_batches
		WHERE consultant_id = $1
		ORDER BY period_start DESC, created_at DESC
	`, consultantID)
	return batches, err
}

// GetPendingBatches returns batches awaiting settlement
func (r *PayoutRepository) GetPendingBatches() ([]models.PayoutBatch, error) {
	batches := []models.PayoutBatch{}
	err := r.db.Select(&batches, `
		SELECT `+payoutBatchColumns+`
		FROM payout_batches
		WHERE status = 'pending'
		ORDER BY created_at
	`)
	return batches, err
}

// MarkProcessing moves a pending batch into settlement. Guarded on the
// current status so a double settlement attempt sees false.
func (r *PayoutRepository) MarkProcessing(batchID string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE payout_batches
		SET status = 'processing'
		WHERE id = $1 AND status = 'pending'
	`, batchID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// MarkCompleted finalizes a settled batch
func (r *PayoutRepository) MarkCompleted(batchID string) error {
	result, err := r.db.Exec(`
		UPDATE payout_batches
		SET status = 'completed', settled_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, batchID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return fmt.Errorf("batch not found or not processing")
	}

	return nil
}

// MarkFailed records a failed settlement and releases the batch's bookings
// so the next cycle picks them up again
func (r *PayoutRepository) MarkFailed(batchID string, reason string) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE payout_batches
		SET status = 'failed', failure_reason = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, batchID, reason)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("batch not found or already settled")
	}

	_, err = tx.Exec(`
		UPDATE bookings
		SET payout_batch_id = NULL, updated_at = NOW()
		WHERE payout_batch_id = $1
	`, batchID)
	if err != nil {
		return fmt.Errorf("failed to release batch bookings: %w", err)
	}

	return tx.Commit()
}
