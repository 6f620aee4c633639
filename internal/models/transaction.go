package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of financial event being recorded
type TransactionType string

const (
	TransactionTypeCharge     TransactionType = "charge"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypePayout     TransactionType = "payout"
	TransactionTypeFee        TransactionType = "fee"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// TransactionStatus represents the state of a ledger entry
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusDisputed   TransactionStatus = "disputed"
)

// PaymentTransaction is one financial event against a booking or payout
// batch. Entries are append-only; status is the only mutable column.
type PaymentTransaction struct {
	ID            string          `json:"id" db:"id"`
	BookingID     *string         `json:"booking_id,omitempty" db:"booking_id"`
	PayoutBatchID *string         `json:"payout_batch_id,omitempty" db:"payout_batch_id"`
	Type          TransactionType `json:"type" db:"type"`

	GrossAmount decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	FeeAmount   decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	NetAmount   decimal.Decimal `json:"net_amount" db:"net_amount"`
	Currency    string          `json:"currency" db:"currency"`

	Status            TransactionStatus `json:"status" db:"status"`
	ExternalReference *string           `json:"external_reference,omitempty" db:"external_reference"`
	IdempotencyKey    *string           `json:"-" db:"idempotency_key"`
	FailureReason     *string           `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsSettled reports whether the entry reached a final successful state
func (t *PaymentTransaction) IsSettled() bool {
	return t.Status == TransactionStatusCompleted
}

// GatewayEventStatus tracks how far webhook processing got for an event
type GatewayEventStatus string

const (
	GatewayEventReceived  GatewayEventStatus = "received"
	GatewayEventProcessed GatewayEventStatus = "processed"
	GatewayEventSkipped   GatewayEventStatus = "skipped"
)

// GatewayEvent is one webhook delivery from the payment gateway. The
// external event id is unique; a redelivery hits the constraint and is
// skipped once the stored row has moved past received.
type GatewayEvent struct {
	ID              string             `json:"id" db:"id"`
	ExternalEventID string             `json:"external_event_id" db:"external_event_id"`
	EventType       string             `json:"event_type" db:"event_type"`
	ChargeReference *string            `json:"charge_reference,omitempty" db:"charge_reference"`
	RawPayload      []byte             `json:"-" db:"raw_payload"`
	Status          GatewayEventStatus `json:"status" db:"status"`
	ReceivedAt      time.Time          `json:"received_at" db:"received_at"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty" db:"processed_at"`
}
