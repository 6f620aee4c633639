package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType represents the kind of discount a coupon applies
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
	DiscountTypeFreeSession DiscountType = "free_session"
)

// CouponApplicability restricts which bookings a coupon can discount
type CouponApplicability string

const (
	CouponAppliesToAll          CouponApplicability = "all"
	CouponAppliesToConsultants  CouponApplicability = "specific_consultants"
	CouponAppliesToSessionTypes CouponApplicability = "specific_session_types"
)

// Coupon is a discount rule, independent of any single booking
type Coupon struct {
	ID            string       `json:"id" db:"id"`
	Code          string       `json:"code" db:"code"`
	DiscountType  DiscountType `json:"discount_type" db:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value" db:"discount_value"`

	// MaxDiscountAmount caps percentage discounts; nil means uncapped
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty" db:"max_discount_amount"`
	MinOrderValue     *decimal.Decimal `json:"min_order_value,omitempty" db:"min_order_value"`

	MaxUsesTotal      *int `json:"max_uses_total,omitempty" db:"max_uses_total"`
	MaxUsesPerUser    *int `json:"max_uses_per_user,omitempty" db:"max_uses_per_user"`
	CurrentUsageCount int  `json:"current_usage_count" db:"current_usage_count"`

	ValidFrom  time.Time  `json:"valid_from" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`

	AppliesTo      CouponApplicability `json:"applies_to" db:"applies_to"`
	ConsultantIDs  StringArray         `json:"consultant_ids,omitempty" db:"consultant_ids"`
	SessionTypes   StringArray         `json:"session_types,omitempty" db:"session_types"`

	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsWithinValidityWindow reports whether now falls inside the coupon's
// validity window.
func (c *Coupon) IsWithinValidityWindow(now time.Time) bool {
	if now.Before(c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// HasRemainingUses reports whether the global usage cap still admits a
// redemption. Uncapped coupons always do.
func (c *Coupon) HasRemainingUses() bool {
	if c.MaxUsesTotal == nil {
		return true
	}
	return c.CurrentUsageCount < *c.MaxUsesTotal
}

// AppliesToBooking checks the applicability filter against a booking's
// consultant and session type.
func (c *Coupon) AppliesToBooking(consultantID string, sessionType SessionType) bool {
	switch c.AppliesTo {
	case CouponAppliesToConsultants:
		return c.ConsultantIDs.Contains(consultantID)
	case CouponAppliesToSessionTypes:
		return c.SessionTypes.Contains(string(sessionType))
	default:
		return true
	}
}

// CouponUsageOutcome records whether a redemption attempt succeeded
type CouponUsageOutcome string

const (
	CouponUsageAccepted CouponUsageOutcome = "accepted"
	CouponUsageRejected CouponUsageOutcome = "rejected"
)

// CouponUsage is one attempted redemption, success or failure. Immutable
// once written; kept for audit and fraud analysis even for abandoned
// attempts.
type CouponUsage struct {
	ID          string             `json:"id" db:"id"`
	CouponID    string             `json:"coupon_id" db:"coupon_id"`
	ClientEmail string             `json:"client_email" db:"client_email"`
	BookingID   *string            `json:"booking_id,omitempty" db:"booking_id"`
	Outcome     CouponUsageOutcome `json:"outcome" db:"outcome"`
	Reasons     *string            `json:"reasons,omitempty" db:"reasons"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
}

// CouponContext is the booking context a coupon is validated against
type CouponContext struct {
	ConsultantID string
	SessionType  SessionType
	ClientEmail  string
	OrderValue   decimal.Decimal
	Currency     string
}

// ValidateCouponRequest represents the coupon preview request from the
// booking UI
type ValidateCouponRequest struct {
	Code         string      `json:"code" binding:"required"`
	ConsultantID string      `json:"consultant_id" binding:"required"`
	SessionType  SessionType `json:"session_type" binding:"required"`
	ClientEmail  string      `json:"client_email" binding:"required"`
	OrderValue   string      `json:"order_value" binding:"required"`
	Currency     string      `json:"currency"`
}

// CouponValidationResult is the preview returned before any charge
type CouponValidationResult struct {
	Eligible        bool            `json:"eligible"`
	Reasons         []string        `json:"reasons,omitempty"`
	DiscountPreview decimal.Decimal `json:"discount_preview"`
}

// CreateCouponRequest represents the operator request to create a coupon
type CreateCouponRequest struct {
	Code              string       `json:"code" binding:"required"`
	DiscountType      DiscountType `json:"discount_type" binding:"required"`
	DiscountValue     string       `json:"discount_value" binding:"required"`
	MaxDiscountAmount *string      `json:"max_discount_amount,omitempty"`
	MinOrderValue     *string      `json:"min_order_value,omitempty"`
	MaxUsesTotal      *int         `json:"max_uses_total,omitempty"`
	MaxUsesPerUser    *int         `json:"max_uses_per_user,omitempty"`
	ValidFrom         *time.Time   `json:"valid_from,omitempty"`
	ValidUntil        *time.Time   `json:"valid_until,omitempty"`
	AppliesTo         *CouponApplicability `json:"applies_to,omitempty"`
	ConsultantIDs     []string     `json:"consultant_ids,omitempty"`
	SessionTypes      []string     `json:"session_types,omitempty"`
}

// Validate validates the create coupon request
func (r *CreateCouponRequest) Validate() error {
	if len(r.Code) < 3 || len(r.Code) > 32 {
		return &ValidationError{Field: "code", Message: "code must be 3-32 characters"}
	}

	value, err := decimal.NewFromString(r.DiscountValue)
	if err != nil {
		return &ValidationError{Field: "discount_value", Message: "discount_value must be a decimal number"}
	}

	switch r.DiscountType {
	case DiscountTypePercentage:
		if !value.IsPositive() || value.GreaterThan(decimal.NewFromInt(100)) {
			return &ValidationError{Field: "discount_value", Message: "percentage must be in (0, 100]"}
		}
	case DiscountTypeFixedAmount:
		if !value.IsPositive() {
			return &ValidationError{Field: "discount_value", Message: "fixed amount must be positive"}
		}
	case DiscountTypeFreeSession:
	default:
		return &ValidationError{Field: "discount_type", Message: "unknown discount type"}
	}

	if r.MaxUsesTotal != nil && *r.MaxUsesTotal < 1 {
		return &ValidationError{Field: "max_uses_total", Message: "max_uses_total must be at least 1"}
	}
	if r.MaxUsesPerUser != nil && *r.MaxUsesPerUser < 1 {
		return &ValidationError{Field: "max_uses_per_user", Message: "max_uses_per_user must be at least 1"}
	}

	return nil
}
