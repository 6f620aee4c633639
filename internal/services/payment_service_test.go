package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/pkg/gateway"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway implements gateway.Gateway with pluggable behavior
type fakeGateway struct {
	createCharge  func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error)
	refund        func(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (*gateway.ChargeResult, error)
	createPayout  func(ctx context.Context, req *gateway.PayoutRequest) (*gateway.PayoutResult, error)
	verifyWebhook func(body []byte, signature string) (*gateway.WebhookEvent, error)
}

func (f *fakeGateway) CreateCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	return f.createCharge(ctx, req)
}

func (f *fakeGateway) Refund(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (*gateway.ChargeResult, error) {
	return f.refund(ctx, chargeID, amount, currency)
}

func (f *fakeGateway) CreatePayout(ctx context.Context, req *gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	return f.createPayout(ctx, req)
}

func (f *fakeGateway) VerifyWebhook(body []byte, signature string) (*gateway.WebhookEvent, error) {
	return f.verifyWebhook(body, signature)
}

func setupPaymentTest(t *testing.T, gw gateway.Gateway) (*PaymentService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	postgresDB := &database.PostgresDB{DB: sqlxDB}
	txnRepo := database.NewTransactionRepository(postgresDB)
	bookingRepo := database.NewBookingRepository(sqlxDB)
	service := NewPaymentService(txnRepo, bookingRepo, gw, newTestLogger())

	cleanup := func() {
		db.Close()
	}

	return service, mock, cleanup
}

var transactionColumns = []string{
	"id", "booking_id", "payout_batch_id", "type", "gross_amount", "fee_amount",
	"net_amount", "currency", "status", "external_reference", "idempotency_key",
	"failure_reason", "created_at", "updated_at",
}

func chargeTxnRow(txnID, bookingID, status string, externalRef interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(transactionColumns).AddRow(
		txnID, bookingID, nil, "charge", "40.00", "6.00",
		"34.00", "USD", status, externalRef, "charge-"+bookingID,
		nil, now, now,
	)
}

func testBooking() *models.Booking {
	return &models.Booking{
		ID:               uuid.New().String(),
		BookingReference: "CB-20260310-A1B2C3",
		ConsultantID:     uuid.New().String(),
		ClientName:       "Amara Silva",
		ClientEmail:      "amara@example.com",
		Currency:         "USD",
		TotalAmount:      dec("40.00"),
		PlatformFee:      dec("6.00"),
		ConsultantPayout: dec("34.00"),
		Status:           models.BookingStatusPending,
		PaymentStatus:    models.PaymentStatusPending,
	}
}

func TestInitiateCharge(t *testing.T) {
	t.Run("Synchronous Success", func(t *testing.T) {
		gw := &fakeGateway{
			createCharge: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
				return &gateway.ChargeResult{ID: "pay_123", Status: gateway.StatusSucceeded}, nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		booking := testBooking()
		now := time.Now()

		// No completed charge yet
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(sqlmock.NewRows(transactionColumns))
		// Ledger entry is written before the gateway is called
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "processing").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WithArgs(sqlmock.AnyArg(), "completed", "pay_123", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "paid").
			WillReturnResult(sqlmock.NewResult(0, 1))

		txn, err := service.InitiateCharge(context.Background(), booking)
		require.NoError(t, err)
		require.NotNil(t, txn)
		assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
		require.NotNil(t, txn.ExternalReference)
		assert.Equal(t, "pay_123", *txn.ExternalReference)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Existing Completed Charge Short Circuits", func(t *testing.T) {
		gw := &fakeGateway{
			createCharge: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
				t.Fatal("gateway must not be called when a completed charge exists")
				return nil, nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		booking := testBooking()
		txnID := uuid.New().String()
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(chargeTxnRow(txnID, booking.ID, "completed", "pay_123"))

		txn, err := service.InitiateCharge(context.Background(), booking)
		require.NoError(t, err)
		assert.Equal(t, txnID, txn.ID)
	})

	t.Run("Decline Is Permanent", func(t *testing.T) {
		calls := 0
		gw := &fakeGateway{
			createCharge: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
				calls++
				// The processor answered; this is a decline, not an outage
				return &gateway.ChargeResult{Status: gateway.StatusFailed}, errors.New("card declined")
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		booking := testBooking()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(sqlmock.NewRows(transactionColumns))
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "processing").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WithArgs(sqlmock.AnyArg(), "failed", nil, "card declined").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "failed").
			WillReturnResult(sqlmock.NewResult(0, 1))

		txn, err := service.InitiateCharge(context.Background(), booking)
		assert.Nil(t, txn)

		var payErr *models.PaymentError
		require.ErrorAs(t, err, &payErr)
		assert.Equal(t, "charge", payErr.Op)
		assert.Equal(t, 1, calls, "declines must not be retried")

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Free Session Settles Without Gateway", func(t *testing.T) {
		gw := &fakeGateway{
			createCharge: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
				t.Fatal("gateway must not be called for a zero-total booking")
				return nil, nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		booking := testBooking()
		booking.TotalAmount = decimal.Zero
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(sqlmock.NewRows(transactionColumns))
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "paid").
			WillReturnResult(sqlmock.NewResult(0, 1))

		txn, err := service.InitiateCharge(context.Background(), booking)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
		assert.True(t, txn.GrossAmount.IsZero())

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplyWebhook(t *testing.T) {
	event := func(eventType string) *gateway.WebhookEvent {
		return &gateway.WebhookEvent{
			EventID:         "evt_001",
			EventType:       eventType,
			ChargeReference: "pay_123",
			Amount:          "40.00",
			Currency:        "USD",
		}
	}

	t.Run("Charge Settled", func(t *testing.T) {
		gw := &fakeGateway{
			verifyWebhook: func(body []byte, signature string) (*gateway.WebhookEvent, error) {
				return event(gateway.EventChargeSucceeded), nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		bookingID := uuid.New().String()
		txnID := uuid.New().String()

		mock.ExpectQuery(`INSERT INTO gateway_events`).
			WillReturnRows(sqlmock.NewRows([]string{"received_at"}).AddRow(time.Now()))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs("pay_123").
			WillReturnRows(chargeTxnRow(txnID, bookingID, "processing", "pay_123"))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WithArgs(txnID, "completed", nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(bookingID, "paid").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE gateway_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := service.ApplyWebhook([]byte(`{}`), "sig")
		require.NoError(t, err)
		assert.False(t, outcome.Duplicate)
		assert.True(t, outcome.PaymentSettled)
		require.NotNil(t, outcome.BookingID)
		assert.Equal(t, bookingID, *outcome.BookingID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	gatewayEventRow := func(id, status string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "external_event_id", "event_type", "charge_reference",
			"raw_payload", "status", "received_at", "processed_at",
		}).AddRow(id, "evt_001", gateway.EventChargeSucceeded, "pay_123", []byte(`{}`), status, time.Now(), nil)
	}

	t.Run("Duplicate Delivery Is A No Op", func(t *testing.T) {
		gw := &fakeGateway{
			verifyWebhook: func(body []byte, signature string) (*gateway.WebhookEvent, error) {
				return event(gateway.EventChargeSucceeded), nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		// ON CONFLICT DO NOTHING returns no row for the second delivery.
		// The stored row already reached processed, so the ledger must not
		// be touched again.
		mock.ExpectQuery(`INSERT INTO gateway_events`).
			WillReturnRows(sqlmock.NewRows([]string{"received_at"}))
		mock.ExpectQuery(`SELECT (.+) FROM gateway_events`).
			WithArgs("evt_001").
			WillReturnRows(gatewayEventRow(uuid.New().String(), "processed"))

		outcome, err := service.ApplyWebhook([]byte(`{}`), "sig")
		require.NoError(t, err)
		assert.True(t, outcome.Duplicate)
		assert.False(t, outcome.PaymentSettled)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Redelivery Resumes A Stalled Event", func(t *testing.T) {
		gw := &fakeGateway{
			verifyWebhook: func(body []byte, signature string) (*gateway.WebhookEvent, error) {
				return event(gateway.EventChargeSucceeded), nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		bookingID := uuid.New().String()
		txnID := uuid.New().String()
		eventRowID := uuid.New().String()

		// First delivery records the event, then dies before the ledger
		// effects land, leaving the row at received
		mock.ExpectQuery(`INSERT INTO gateway_events`).
			WillReturnRows(sqlmock.NewRows([]string{"received_at"}).AddRow(time.Now()))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs("pay_123").
			WillReturnError(errors.New("connection reset"))

		_, err := service.ApplyWebhook([]byte(`{}`), "sig")
		require.Error(t, err)

		// The redelivery hits the unique constraint, finds the row still at
		// received, and applies the effects against the original row
		mock.ExpectQuery(`INSERT INTO gateway_events`).
			WillReturnRows(sqlmock.NewRows([]string{"received_at"}))
		mock.ExpectQuery(`SELECT (.+) FROM gateway_events`).
			WithArgs("evt_001").
			WillReturnRows(gatewayEventRow(eventRowID, "received"))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs("pay_123").
			WillReturnRows(chargeTxnRow(txnID, bookingID, "processing", "pay_123"))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WithArgs(txnID, "completed", nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(bookingID, "paid").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE gateway_events`).
			WithArgs(eventRowID, "processed").
			WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := service.ApplyWebhook([]byte(`{}`), "sig")
		require.NoError(t, err)
		assert.False(t, outcome.Duplicate)
		assert.True(t, outcome.PaymentSettled)
		require.NotNil(t, outcome.BookingID)
		assert.Equal(t, bookingID, *outcome.BookingID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invalid Signature", func(t *testing.T) {
		gw := &fakeGateway{
			verifyWebhook: func(body []byte, signature string) (*gateway.WebhookEvent, error) {
				return nil, fmt.Errorf("signature mismatch")
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		outcome, err := service.ApplyWebhook([]byte(`{}`), "bad")
		assert.Nil(t, outcome)

		var ve *models.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Payout Event Routes To Caller", func(t *testing.T) {
		gw := &fakeGateway{
			verifyWebhook: func(body []byte, signature string) (*gateway.WebhookEvent, error) {
				ev := event(gateway.EventPayoutSucceeded)
				ev.ChargeReference = "PB-20260316-AB12CD34"
				return ev, nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		mock.ExpectQuery(`INSERT INTO gateway_events`).
			WillReturnRows(sqlmock.NewRows([]string{"received_at"}).AddRow(time.Now()))
		mock.ExpectExec(`UPDATE gateway_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		outcome, err := service.ApplyWebhook([]byte(`{}`), "sig")
		require.NoError(t, err)
		require.NotNil(t, outcome.PayoutReference)
		assert.Equal(t, "PB-20260316-AB12CD34", *outcome.PayoutReference)
		assert.False(t, outcome.PaymentSettled)
	})
}

func TestRefund(t *testing.T) {
	t.Run("Requires Completed Charge", func(t *testing.T) {
		service, mock, cleanup := setupPaymentTest(t, &fakeGateway{})
		defer cleanup()

		booking := testBooking()
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(sqlmock.NewRows(transactionColumns))

		txn, err := service.Refund(context.Background(), booking, dec("10.00"), "client cancelled")
		assert.Nil(t, txn)

		var payErr *models.PaymentError
		require.ErrorAs(t, err, &payErr)
		assert.Equal(t, "refund", payErr.Op)
	})

	t.Run("Cannot Exceed Captured Charge", func(t *testing.T) {
		service, mock, cleanup := setupPaymentTest(t, &fakeGateway{})
		defer cleanup()

		booking := testBooking()
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(chargeTxnRow(uuid.New().String(), booking.ID, "completed", "pay_123"))

		_, err := service.Refund(context.Background(), booking, dec("100.00"), "too much")

		var ve *models.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "amount", ve.Field)
	})

	t.Run("Full Refund Succeeds", func(t *testing.T) {
		gw := &fakeGateway{
			refund: func(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (*gateway.ChargeResult, error) {
				assert.Equal(t, "pay_123", chargeID)
				assert.True(t, amount.Equal(dec("40.00")))
				return &gateway.ChargeResult{ID: "ref_456", Status: gateway.StatusSucceeded}, nil
			},
		}
		service, mock, cleanup := setupPaymentTest(t, gw)
		defer cleanup()

		booking := testBooking()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(chargeTxnRow(uuid.New().String(), booking.ID, "completed", "pay_123"))
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WithArgs(sqlmock.AnyArg(), "completed", "ref_456", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		txn, err := service.Refund(context.Background(), booking, dec("40.00"), "consultant no-show")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
		// Refunds carry negative net so payout aggregation nets them out
		assert.True(t, txn.NetAmount.Equal(dec("-40.00")))

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordAdjustment(t *testing.T) {
	t.Run("Duplicate Key Means Already Recorded", func(t *testing.T) {
		service, mock, cleanup := setupPaymentTest(t, &fakeGateway{})
		defer cleanup()

		bookingID := uuid.New().String()
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnError(&pq.Error{Code: "23505"})

		txn, err := service.RecordAdjustment(bookingID, dec("-17.00"), "USD", "adjustment-noshow-"+bookingID)
		assert.NoError(t, err)
		assert.Nil(t, txn)
	})
}

func TestDerivePaymentStatus(t *testing.T) {
	charge := func(status models.TransactionStatus) models.PaymentTransaction {
		return models.PaymentTransaction{Type: models.TransactionTypeCharge, Status: status}
	}
	refund := func(status models.TransactionStatus) models.PaymentTransaction {
		return models.PaymentTransaction{Type: models.TransactionTypeRefund, Status: status}
	}

	cases := []struct {
		name string
		txns []models.PaymentTransaction
		want models.PaymentStatus
	}{
		{"Empty Ledger", nil, models.PaymentStatusPending},
		{"Completed Charge", []models.PaymentTransaction{charge(models.TransactionStatusCompleted)}, models.PaymentStatusPaid},
		{"Processing Charge", []models.PaymentTransaction{charge(models.TransactionStatusProcessing)}, models.PaymentStatusProcessing},
		{"Failed Charge", []models.PaymentTransaction{charge(models.TransactionStatusFailed)}, models.PaymentStatusFailed},
		{"Failed Then Succeeded Retry", []models.PaymentTransaction{charge(models.TransactionStatusFailed), charge(models.TransactionStatusCompleted)}, models.PaymentStatusPaid},
		{"Charge Then Refund", []models.PaymentTransaction{charge(models.TransactionStatusCompleted), refund(models.TransactionStatusCompleted)}, models.PaymentStatusRefunded},
		{"Pending Refund Does Not Flip", []models.PaymentTransaction{charge(models.TransactionStatusCompleted), refund(models.TransactionStatusPending)}, models.PaymentStatusPaid},
		{"Disputed", []models.PaymentTransaction{charge(models.TransactionStatusCompleted), charge(models.TransactionStatusDisputed)}, models.PaymentStatusDisputed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, derivePaymentStatus(tc.txns))
		})
	}
}
