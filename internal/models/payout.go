package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutBatchStatus represents the settlement state of a payout batch
type PayoutBatchStatus string

const (
	PayoutBatchPending    PayoutBatchStatus = "pending"
	PayoutBatchProcessing PayoutBatchStatus = "processing"
	PayoutBatchCompleted  PayoutBatchStatus = "completed"
	PayoutBatchFailed     PayoutBatchStatus = "failed"
)

// PayoutBatch aggregates one consultant's earnings for a period. A booking
// belongs to at most one non-failed batch.
type PayoutBatch struct {
	ID             string    `json:"id" db:"id"`
	BatchReference string    `json:"batch_reference" db:"batch_reference"`
	ConsultantID   string    `json:"consultant_id" db:"consultant_id"`
	PeriodStart    time.Time `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time `json:"period_end" db:"period_end"`

	BookingIDs StringArray `json:"booking_ids" db:"booking_ids"`

	GrossEarnings  decimal.Decimal `json:"gross_earnings" db:"gross_earnings"`
	ProcessingFees decimal.Decimal `json:"processing_fees" db:"processing_fees"`
	Adjustments    decimal.Decimal `json:"adjustments" db:"adjustments"`
	NetPayout      decimal.Decimal `json:"net_payout" db:"net_payout"`
	Currency       string          `json:"currency" db:"currency"`

	Status        PayoutBatchStatus `json:"status" db:"status"`
	FailureReason *string           `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// IsInFlight reports whether the batch still reserves its bookings.
// Bookings in a failed batch become eligible for the next cycle.
func (b *PayoutBatch) IsInFlight() bool {
	return b.Status == PayoutBatchPending || b.Status == PayoutBatchProcessing
}

// RunPayoutCycleRequest represents the operator request to run a payout
// cycle for a period
type RunPayoutCycleRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

// Validate validates the payout cycle request
func (r *RunPayoutCycleRequest) Validate() error {
	if !r.PeriodEnd.After(r.PeriodStart) {
		return &ValidationError{Field: "period_end", Message: "period_end must be after period_start"}
	}
	if r.PeriodEnd.After(time.Now()) {
		return &ValidationError{Field: "period_end", Message: "cannot run a payout cycle for an open period"}
	}
	return nil
}
