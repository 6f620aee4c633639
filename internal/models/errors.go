package models

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError rejects bad input before any state change
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError signals that a resource is already claimed (slot taken,
// coupon exhausted). No partial writes survive it.
type ConflictError struct {
	Resource string
	Message  string
	Details  interface{}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

// PaymentError wraps a gateway decline or network failure. The booking stays
// pending and the charge is retryable with the same idempotency key.
type PaymentError struct {
	Op        string
	Reference string
	Retryable bool
	Err       error
}

func (e *PaymentError) Error() string {
	msg := fmt.Sprintf("payment %s failed", e.Op)
	if e.Reference != "" {
		msg += fmt.Sprintf(" (ref %s)", e.Reference)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentError) Unwrap() error { return e.Err }

// InvalidTransitionError identifies an illegal state machine transition.
// It is a programming or integration error and must never be swallowed.
type InvalidTransitionError struct {
	Entity    string
	From      string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.Requested)
}

// ReconciliationError halts a payout batch whose member sums do not match
// the computed batch total.
type ReconciliationError struct {
	BatchReference string
	Expected       string
	Actual         string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payout batch %s failed reconciliation: expected %s, got %s",
		e.BatchReference, e.Expected, e.Actual)
}

// CouponRejectedError carries the full list of reasons a coupon attempt was
// refused, for the validation preview endpoint.
type CouponRejectedError struct {
	Code    string
	Reasons []string
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, strings.Join(e.Reasons, "; "))
}

// PayoutCycleRunningError signals an overlapping payout run for the same
// period was refused by the advisory lock.
type PayoutCycleRunningError struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
}

func (e *PayoutCycleRunningError) Error() string {
	return fmt.Sprintf("payout cycle for %s..%s is already running",
		e.PeriodStart.Format("2006-01-02"), e.PeriodEnd.Format("2006-01-02"))
}
