// Package gateway wraps the external payment processor behind a narrow
// contract: create charge, refund, create payout, verify webhook. The core
// engine depends only on the Gateway interface, never on the wire details.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Customer identifies the paying client on a charge
type Customer struct {
	Name  string
	Email string
	Phone string
}

// ChargeRequest asks the processor to collect a payment
type ChargeRequest struct {
	InvoiceID   string
	Amount      decimal.Decimal
	Currency    string
	Customer    Customer
	Description string
}

// ChargeResult is the processor's answer to a charge request
type ChargeResult struct {
	ID     string
	Status string
}

// PayoutRequest asks the processor to transfer funds to a consultant
type PayoutRequest struct {
	BatchReference    string
	ConsultantAccount string
	Amount            decimal.Decimal
	Currency          string
}

// PayoutResult is the processor's answer to a payout request
type PayoutResult struct {
	ID     string
	Status string
}

// WebhookEvent is a verified, parsed payment notification
type WebhookEvent struct {
	EventID         string `json:"event_id"`
	EventType       string `json:"event_type"`
	ChargeReference string `json:"charge_reference"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// Statuses reported by the processor
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// Event types delivered over the webhook
const (
	EventChargeSucceeded = "charge.succeeded"
	EventChargeFailed    = "charge.failed"
	EventChargeDisputed  = "charge.disputed"
	EventRefundSucceeded = "refund.succeeded"
	EventPayoutSucceeded = "payout.succeeded"
	EventPayoutFailed    = "payout.failed"
)

// Gateway is the payment processor contract consumed by the engine
type Gateway interface {
	CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (*ChargeResult, error)
	CreatePayout(ctx context.Context, req *PayoutRequest) (*PayoutResult, error)
	VerifyWebhook(body []byte, signature string) (*WebhookEvent, error)
}
