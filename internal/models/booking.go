package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the payment lifecycle of a booking, tracked
// independently of the scheduling lifecycle
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusDisputed   PaymentStatus = "disputed"
)

// BookingStatus represents the scheduling status of a booking
type BookingStatus string

const (
	BookingStatusPending          BookingStatus = "pending"
	BookingStatusConfirmed        BookingStatus = "confirmed"
	BookingStatusInProgress       BookingStatus = "in_progress"
	BookingStatusCompleted        BookingStatus = "completed"
	BookingStatusCancelled        BookingStatus = "cancelled"
	BookingStatusNoShowClient     BookingStatus = "no_show_client"
	BookingStatusNoShowConsultant BookingStatus = "no_show_consultant"
)

// legalTransitions is the single source of truth for the booking state
// machine. Anything not listed here is an InvalidTransitionError.
var legalTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:    {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed:  {BookingStatusInProgress, BookingStatusCancelled, BookingStatusNoShowClient, BookingStatusNoShowConsultant},
	BookingStatusInProgress: {BookingStatusCompleted},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
// Terminal bookings stay immutable except for post-hoc feedback fields.
func (s BookingStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// SessionType identifies the kind of consultation being booked
type SessionType string

const (
	SessionTypeCareerGuidance SessionType = "career_guidance"
	SessionTypeCVReview       SessionType = "cv_review"
	SessionTypeMockInterview  SessionType = "mock_interview"
	SessionTypeGeneral        SessionType = "general"
)

// Booking represents one scheduled consultation session
type Booking struct {
	ID               string      `json:"id" db:"id"`
	BookingReference string      `json:"booking_reference" db:"booking_reference"`
	ConsultantID     string      `json:"consultant_id" db:"consultant_id"`
	ClientName       string      `json:"client_name" db:"client_name"`
	ClientEmail      string      `json:"client_email" db:"client_email"`
	ClientPhone      *string     `json:"client_phone,omitempty" db:"client_phone"`
	SessionType      SessionType `json:"session_type" db:"session_type"`
	ScheduledStart   time.Time   `json:"scheduled_start" db:"scheduled_start"`
	ScheduledEnd     time.Time   `json:"scheduled_end" db:"scheduled_end"`

	HourlyRate       decimal.Decimal `json:"hourly_rate" db:"hourly_rate"`
	TotalHours       decimal.Decimal `json:"total_hours" db:"total_hours"`
	Currency         string          `json:"currency" db:"currency"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	CouponDiscount   decimal.Decimal `json:"coupon_discount" db:"coupon_discount"`
	TotalAmount      decimal.Decimal `json:"total_amount" db:"total_amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	ConsultantPayout decimal.Decimal `json:"consultant_payout" db:"consultant_payout"`

	CouponID *string `json:"coupon_id,omitempty" db:"coupon_id"`

	Status        BookingStatus `json:"status" db:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`

	IdempotencyKey     *string    `json:"-" db:"idempotency_key"`
	CancellationReason *string    `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	Rating   *int    `json:"rating,omitempty" db:"rating"`
	Feedback *string `json:"feedback,omitempty" db:"feedback"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the booking still claims its slot. Cancelled and
// no-show bookings release the window for rebooking.
func (b *Booking) IsActive() bool {
	switch b.Status {
	case BookingStatusCancelled, BookingStatusNoShowClient, BookingStatusNoShowConsultant:
		return false
	}
	return true
}

// IsPaid reports whether a completed charge covers this booking
func (b *Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentStatusPaid
}

// Overlaps reports whether the booking's [start, end) window intersects the
// given window.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.ScheduledStart.Before(end) && start.Before(b.ScheduledEnd)
}

// RefundFraction returns the portion of the charge refunded when a client
// cancels, based on how far ahead of the session the cancellation lands.
//
// Refund policy:
// - 24 hours or more before: 100%
// - 12-24 hours before: 75%
// - 6-12 hours before: 50%
// - Less than 6 hours: 25%
func (b *Booking) RefundFraction(cancelledAt time.Time) decimal.Decimal {
	hoursBefore := b.ScheduledStart.Sub(cancelledAt).Hours()

	switch {
	case hoursBefore >= 24:
		return decimal.NewFromInt(1)
	case hoursBefore >= 12:
		return decimal.NewFromFloat(0.75)
	case hoursBefore >= 6:
		return decimal.NewFromFloat(0.50)
	default:
		return decimal.NewFromFloat(0.25)
	}
}

// CreateBookingRequest represents the request to create a booking
type CreateBookingRequest struct {
	ConsultantID   string      `json:"consultant_id" binding:"required"`
	ClientName     string      `json:"client_name" binding:"required"`
	ClientEmail    string      `json:"client_email" binding:"required"`
	ClientPhone    *string     `json:"client_phone,omitempty"`
	SessionType    SessionType `json:"session_type" binding:"required"`
	ScheduledStart time.Time   `json:"scheduled_start" binding:"required"`
	ScheduledEnd   time.Time   `json:"scheduled_end" binding:"required"`
	HourlyRate     string      `json:"hourly_rate" binding:"required"`
	Currency       string      `json:"currency"`
	CouponCode     *string     `json:"coupon_code,omitempty"`
	IdempotencyKey *string     `json:"idempotency_key,omitempty"`
}

// Validate validates the create booking request
func (r *CreateBookingRequest) Validate() error {
	if !r.ScheduledEnd.After(r.ScheduledStart) {
		return &ValidationError{Field: "scheduled_end", Message: "scheduled_end must be after scheduled_start"}
	}

	if r.ScheduledStart.Before(time.Now()) {
		return &ValidationError{Field: "scheduled_start", Message: "cannot book a session in the past"}
	}

	if r.ScheduledEnd.Sub(r.ScheduledStart) > 8*time.Hour {
		return &ValidationError{Field: "scheduled_end", Message: "a session cannot exceed 8 hours"}
	}

	rate, err := decimal.NewFromString(r.HourlyRate)
	if err != nil {
		return &ValidationError{Field: "hourly_rate", Message: "hourly_rate must be a decimal number"}
	}
	if !rate.IsPositive() {
		return &ValidationError{Field: "hourly_rate", Message: "hourly_rate must be positive"}
	}

	switch r.SessionType {
	case SessionTypeCareerGuidance, SessionTypeCVReview, SessionTypeMockInterview, SessionTypeGeneral:
	default:
		return &ValidationError{Field: "session_type", Message: "unknown session type"}
	}

	return nil
}

// Hours returns the session length as fractional hours
func (r *CreateBookingRequest) Hours() decimal.Decimal {
	minutes := r.ScheduledEnd.Sub(r.ScheduledStart).Minutes()
	return decimal.NewFromFloat(minutes).Div(decimal.NewFromInt(60))
}

// CancelBookingRequest represents the request to cancel a booking
type CancelBookingRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// FeedbackRequest carries post-session rating and feedback
type FeedbackRequest struct {
	Rating   int     `json:"rating" binding:"required"`
	Feedback *string `json:"feedback,omitempty"`
}

// Validate validates the feedback request
func (r *FeedbackRequest) Validate() error {
	if r.Rating < 1 || r.Rating > 5 {
		return &ValidationError{Field: "rating", Message: "rating must be between 1 and 5"}
	}
	return nil
}

// SlotSuggestion is a best-effort free window offered when a requested slot
// conflicts. Not guaranteed accurate under further concurrent writes.
type SlotSuggestion struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AvailabilityResult is the outcome of a slot availability check
type AvailabilityResult struct {
	Available   bool             `json:"available"`
	Conflicts   []Booking        `json:"conflicts,omitempty"`
	Suggestions []SlotSuggestion `json:"suggestions,omitempty"`
}
