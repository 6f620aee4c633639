package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/google/uuid"
)

const couponColumns = `
	id, code, discount_type, discount_value, max_discount_amount,
	min_order_value, max_uses_total, max_uses_per_user,
	current_usage_count, valid_from, valid_until, applies_to,
	consultant_ids, session_types, is_active, created_at, updated_at`

// CouponRepository handles database operations for coupons and their usage
// audit trail
type CouponRepository struct {
	db DB
}

// NewCouponRepository creates a new CouponRepository
func NewCouponRepository(db DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// Create creates a new coupon
func (r *CouponRepository) Create(coupon *models.Coupon) error {
	if coupon.ID == "" {
		coupon.ID = uuid.New().String()
	}
	coupon.Code = strings.ToUpper(coupon.Code)

	err := r.db.QueryRow(`
		INSERT INTO coupons (
			id, code, discount_type, discount_value, max_discount_amount,
			min_order_value, max_uses_total, max_uses_per_user,
			valid_from, valid_until, applies_to, consultant_ids,
			session_types, is_active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING created_at, updated_at
	`,
		coupon.ID, coupon.Code, coupon.DiscountType, coupon.DiscountValue, coupon.MaxDiscountAmount,
		coupon.MinOrderValue, coupon.MaxUsesTotal, coupon.MaxUsesPerUser,
		coupon.ValidFrom, coupon.ValidUntil, coupon.AppliesTo, coupon.ConsultantIDs,
		coupon.SessionTypes, coupon.IsActive,
	).Scan(&coupon.CreatedAt, &coupon.UpdatedAt)

	if err != nil && IsUniqueViolation(err) {
		return &models.ConflictError{Resource: "coupon", Message: fmt.Sprintf("code %s already exists", coupon.Code)}
	}
	return err
}

// GetByCode retrieves a coupon by its code, or nil when none exists
func (r *CouponRepository) GetByCode(code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}
	err := r.db.Get(coupon, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, strings.ToUpper(code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return coupon, nil
}

// IncrementUsage performs an atomic compare-and-increment on the coupon's
// usage counter. The cap check lives inside the UPDATE so concurrent
// redemptions at the cap admit exactly one winner; the loser sees false.
func (r *CouponRepository) IncrementUsage(couponID string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE coupons
		SET current_usage_count = current_usage_count + 1, updated_at = NOW()
		WHERE id = $1
		  AND is_active = TRUE
		  AND (max_uses_total IS NULL OR current_usage_count < max_uses_total)
	`, couponID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// ReverseUsage decrements the usage counter. Compensation path for a
// booking creation that failed after redeeming.
func (r *CouponRepository) ReverseUsage(couponID string) error {
	result, err := r.db.Exec(`
		UPDATE coupons
		SET current_usage_count = current_usage_count - 1, updated_at = NOW()
		WHERE id = $1 AND current_usage_count > 0
	`, couponID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return fmt.Errorf("coupon not found or usage count already zero")
	}

	return nil
}

// RecordUsage persists one redemption attempt, success or failure. Rows are
// append-only.
func (r *CouponRepository) RecordUsage(usage *models.CouponUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}

	return r.db.QueryRow(`
		INSERT INTO coupon_usages (id, coupon_id, client_email, booking_id, outcome, reasons)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`,
		usage.ID, usage.CouponID, strings.ToLower(usage.ClientEmail),
		usage.BookingID, usage.Outcome, usage.Reasons,
	).Scan(&usage.CreatedAt)
}

// LinkUsageToBooking attaches a booking to an accepted usage row once the
// booking exists
func (r *CouponRepository) LinkUsageToBooking(usageID, bookingID string) error {
	_, err := r.db.Exec(`
		UPDATE coupon_usages SET booking_id = $2 WHERE id = $1 AND booking_id IS NULL
	`, usageID, bookingID)
	return err
}

// CountAcceptedUsesByEmail returns how many times an email has successfully
// redeemed a coupon, keyed for the per-user cap
func (r *CouponRepository) CountAcceptedUsesByEmail(couponID, clientEmail string) (int, error) {
	var count int
	err := r.db.Get(&count, `
		SELECT COUNT(*)
		FROM coupon_usages
		WHERE coupon_id = $1
		  AND client_email = $2
		  AND outcome = 'accepted'
	`, couponID, strings.ToLower(clientEmail))
	return count, err
}

// GetUsageHistory returns all recorded attempts for a coupon, newest first
func (r *CouponRepository) GetUsageHistory(couponID string) ([]models.CouponUsage, error) {
	usages := []models.CouponUsage{}
	err := r.db.Select(&usages, `
		SELECT id, coupon_id, client_email, booking_id, outcome, reasons, created_at
		FROM coupon_usages
		WHERE coupon_id = $1
		ORDER BY created_at DESC
	`, couponID)
	return usages, err
}
