package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const bookingColumns = `
	id, booking_reference, consultant_id, client_name, client_email,
	client_phone, session_type, scheduled_start, scheduled_end,
	hourly_rate, total_hours, currency, subtotal, coupon_discount,
	total_amount, platform_fee, consultant_payout, coupon_id,
	status, payment_status, idempotency_key, cancellation_reason,
	cancelled_at, rating, feedback, created_at, updated_at`

// BookingRepository handles database operations for the bookings table
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// GenerateBookingReference generates a unique booking reference
// Format: CB-YYYYMMDD-XXXXXX (6 char alphanumeric)
// Example: CB-20260829-A1B2C3
func (r *BookingRepository) GenerateBookingReference() (string, error) {
	todayStr := time.Now().Format("20060102")

	for attempts := 0; attempts < 10; attempts++ {
		randomBytes := make([]byte, 3)
		if _, err := rand.Read(randomBytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		randomStr := strings.ToUpper(hex.EncodeToString(randomBytes))

		newRef := fmt.Sprintf("CB-%s-%s", todayStr, randomStr)

		var count int
		err := r.db.Get(&count, `SELECT COUNT(*) FROM bookings WHERE booking_reference = $1`, newRef)
		if err != nil {
			return "", fmt.Errorf("failed to check reference uniqueness: %w", err)
		}

		if count == 0 {
			return newRef, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique booking reference after 10 attempts")
}

// CreateWithSlotCheck inserts a booking only if no active booking overlaps
// its window. The overlap read and the insert run in one serializable
// transaction so two concurrent requests for the same slot cannot both
// succeed; the loser gets a ConflictError carrying the colliding bookings.
func (r *BookingRepository) CreateWithSlotCheck(booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTxx(context.Background(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the consultant's active bookings in the window before deciding
	conflicts := []models.Booking{}
	err = tx.Select(&conflicts, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE consultant_id = $1
		  AND status NOT IN ('cancelled', 'no_show_client', 'no_show_consultant')
		  AND scheduled_start < $3
		  AND $2 < scheduled_end
		FOR UPDATE
	`, booking.ConsultantID, booking.ScheduledStart, booking.ScheduledEnd)
	if err != nil {
		return fmt.Errorf("failed to check slot availability: %w", err)
	}

	if len(conflicts) > 0 {
		return &models.ConflictError{
			Resource: "slot",
			Message:  fmt.Sprintf("consultant already has %d booking(s) in the requested window", len(conflicts)),
			Details:  conflicts,
		}
	}

	err = tx.QueryRowx(`
		INSERT INTO bookings (
			id, booking_reference, consultant_id, client_name, client_email,
			client_phone, session_type, scheduled_start, scheduled_end,
			hourly_rate, total_hours, currency, subtotal, coupon_discount,
			total_amount, platform_fee, consultant_payout, coupon_id,
			status, payment_status, idempotency_key
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21
		)
		RETURNING created_at, updated_at
	`,
		booking.ID, booking.BookingReference, booking.ConsultantID, booking.ClientName, booking.ClientEmail,
		booking.ClientPhone, booking.SessionType, booking.ScheduledStart, booking.ScheduledEnd,
		booking.HourlyRate, booking.TotalHours, booking.Currency, booking.Subtotal, booking.CouponDiscount,
		booking.TotalAmount, booking.PlatformFee, booking.ConsultantPayout, booking.CouponID,
		booking.Status, booking.PaymentStatus, booking.IdempotencyKey,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) || IsSerializationFailure(err) {
			return &models.ConflictError{
				Resource: "slot",
				Message:  "a concurrent request claimed the requested window",
			}
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if err = tx.Commit(); err != nil {
		if IsSerializationFailure(err) {
			return &models.ConflictError{
				Resource: "slot",
				Message:  "a concurrent request claimed the requested window",
			}
		}
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by ID
func (r *BookingRepository) GetByID(bookingID string) (*models.Booking, error) {
	booking := &models.Booking{}
	err := r.db.Get(booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return booking, nil
}

// GetByReference retrieves a booking by booking reference
func (r *BookingRepository) GetByReference(reference string) (*models.Booking, error) {
	booking := &models.Booking{}
	err := r.db.Get(booking, `SELECT `+bookingColumns+` FROM bookings WHERE booking_reference = $1`, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return booking, nil
}

// GetByIdempotencyKey retrieves a booking created under a client-supplied
// idempotency key, or nil when the key is unused
func (r *BookingRepository) GetByIdempotencyKey(key string) (*models.Booking, error) {
	booking := &models.Booking{}
	err := r.db.Get(booking, `SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = $1`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return booking, nil
}

// GetByConsultantID retrieves bookings for a consultant, optionally
// filtered by status
func (r *BookingRepository) GetByConsultantID(consultantID string, status *models.BookingStatus) ([]models.Booking, error) {
	bookings := []models.Booking{}

	if status != nil {
		err := r.db.Select(&bookings, `
			SELECT `+bookingColumns+`
			FROM bookings
			WHERE consultant_id = $1 AND status = $2
			ORDER BY scheduled_start DESC
		`, consultantID, *status)
		return bookings, err
	}

	err := r.db.Select(&bookings, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE consultant_id = $1
		ORDER BY scheduled_start DESC
	`, consultantID)
	return bookings, err
}

// FindOverlapping returns the consultant's active bookings overlapping
// [start, end). Read-only; creation must go through CreateWithSlotCheck.
func (r *BookingRepository) FindOverlapping(consultantID string, start, end time.Time) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := r.db.Select(&bookings, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE consultant_id = $1
		  AND status NOT IN ('cancelled', 'no_show_client', 'no_show_consultant')
		  AND scheduled_start < $3
		  AND $2 < scheduled_end
		ORDER BY scheduled_start
	`, consultantID, start, end)
	return bookings, err
}

// FindActiveInRange returns the consultant's active bookings inside a
// window, used for free-slot suggestions
func (r *BookingRepository) FindActiveInRange(consultantID string, from, to time.Time) ([]models.Booking, error) {
	return r.FindOverlapping(consultantID, from, to)
}

// TransitionStatus moves a booking from one status to another. The guard on
// the current status makes the transition atomic: a retry or a concurrent
// actor sees zero rows affected instead of double-applying.
func (r *BookingRepository) TransitionStatus(bookingID string, from, to models.BookingStatus) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE bookings
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, bookingID, from, to)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// UpdatePaymentStatus updates the payment status of a booking
func (r *BookingRepository) UpdatePaymentStatus(bookingID string, status models.PaymentStatus) error {
	result, err := r.db.Exec(`
		UPDATE bookings
		SET payment_status = $2, updated_at = NOW()
		WHERE id = $1
	`, bookingID, status)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// MarkCancelled records cancellation metadata together with the status
// change, guarded on the current status
func (r *BookingRepository) MarkCancelled(bookingID string, from models.BookingStatus, reason *string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE bookings
		SET status = 'cancelled',
			cancellation_reason = $3,
			cancelled_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, bookingID, from, reason)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// SetFeedback stores post-session rating and feedback on a completed
// booking. The status guard keeps terminal bookings otherwise immutable.
func (r *BookingRepository) SetFeedback(bookingID string, rating int, feedback *string) error {
	result, err := r.db.Exec(`
		UPDATE bookings
		SET rating = $2, feedback = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'completed'
	`, bookingID, rating, feedback)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return fmt.Errorf("booking not found or not completed")
	}

	return nil
}

// FindStalePending returns pending bookings older than the TTL whose
// payment never arrived, for the expiration sweep
func (r *BookingRepository) FindStalePending(olderThan time.Time) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := r.db.Select(&bookings, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND payment_status IN ('pending', 'failed')
		  AND created_at < $1
		ORDER BY created_at
	`, olderThan)
	return bookings, err
}
