package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/expertlane/consult-backend/internal/config"
	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/pkg/gateway"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBookingTest(t *testing.T, gw gateway.Gateway) (*BookingService, sqlmock.Sqlmock, *captureNotifier, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	postgresDB := &database.PostgresDB{DB: sqlxDB}

	bookingRepo := database.NewBookingRepository(sqlxDB)
	couponRepo := database.NewCouponRepository(postgresDB)
	txnRepo := database.NewTransactionRepository(postgresDB)

	pricing := newTestPricingEngine()
	couponSvc := NewCouponService(couponRepo, pricing, newTestLogger())
	paymentSvc := NewPaymentService(txnRepo, bookingRepo, gw, newTestLogger())
	notifier := &captureNotifier{}

	cfg := config.BookingConfig{
		PlatformFeeRate:   dec("0.15"),
		DefaultCurrency:   "USD",
		PendingTTL:        30 * time.Minute,
		NoShowPolicy:      "partial",
		NoShowPartialRate: dec("0.50"),
	}
	service := NewBookingService(bookingRepo, couponSvc, paymentSvc, pricing, notifier, cfg, newTestLogger())

	cleanup := func() {
		db.Close()
	}

	return service, mock, notifier, cleanup
}

// storedBooking builds a sqlmock row for one persisted booking
func storedBooking(b *models.Booking) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(bookingTestColumns).AddRow(
		b.ID, b.BookingReference, b.ConsultantID, b.ClientName, b.ClientEmail,
		nil, string(b.SessionType), b.ScheduledStart, b.ScheduledEnd,
		b.HourlyRate.String(), b.TotalHours.String(), b.Currency, b.Subtotal.String(), b.CouponDiscount.String(),
		b.TotalAmount.String(), b.PlatformFee.String(), b.ConsultantPayout.String(), b.CouponID,
		string(b.Status), string(b.PaymentStatus), nil, nil,
		nil, nil, nil, now, now,
	)
}

func confirmedPaidBooking() *models.Booking {
	return &models.Booking{
		ID:               uuid.New().String(),
		BookingReference: "CB-20260310-A1B2C3",
		ConsultantID:     uuid.New().String(),
		ClientName:       "Amara Silva",
		ClientEmail:      "amara@example.com",
		SessionType:      models.SessionTypeCareerGuidance,
		ScheduledStart:   time.Now().Add(48 * time.Hour),
		ScheduledEnd:     time.Now().Add(49 * time.Hour),
		HourlyRate:       dec("100.00"),
		TotalHours:       dec("1"),
		Currency:         "USD",
		Subtotal:         dec("100.00"),
		CouponDiscount:   dec("0"),
		TotalAmount:      dec("40.00"),
		PlatformFee:      dec("6.00"),
		ConsultantPayout: dec("34.00"),
		Status:           models.BookingStatusConfirmed,
		PaymentStatus:    models.PaymentStatusPaid,
	}
}

func TestCreateBooking(t *testing.T) {
	validReq := func() *models.CreateBookingRequest {
		return &models.CreateBookingRequest{
			ConsultantID:   uuid.New().String(),
			ClientName:     "Amara Silva",
			ClientEmail:    "amara@example.com",
			SessionType:    models.SessionTypeCareerGuidance,
			ScheduledStart: time.Now().Add(48 * time.Hour).Truncate(time.Minute),
			ScheduledEnd:   time.Now().Add(49 * time.Hour).Truncate(time.Minute),
			HourlyRate:     "100.00",
		}
	}

	t.Run("Success With Coupon", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		req := validReq()
		code := "WELCOME20"
		req.CouponCode = &code
		couponID := uuid.New().String()
		now := time.Now()

		// Coupon evaluation and atomic redemption
		mock.ExpectQuery(`SELECT (.+) FROM coupons WHERE code`).
			WithArgs("WELCOME20").
			WillReturnRows(couponRow(couponID, true, now.Add(-time.Hour), nil, nil, nil, 0))
		mock.ExpectExec(`UPDATE coupons`).
			WithArgs(couponID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO coupon_usages`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		// Reference uniqueness probe
		mock.ExpectQuery(`SELECT COUNT(.+) FROM bookings WHERE booking_reference`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		// Slot check and insert in one serializable transaction
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WillReturnRows(sqlmock.NewRows(bookingTestColumns))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()
		// Usage row gets the booking id once it exists
		mock.ExpectExec(`UPDATE coupon_usages`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		booking, err := service.CreateBooking(req)
		require.NoError(t, err)

		// 100.00 subtotal, 20% capped at 15.00, 15% fee on the total
		assert.Equal(t, "100.00", booking.Subtotal.StringFixed(2))
		assert.Equal(t, "15.00", booking.CouponDiscount.StringFixed(2))
		assert.Equal(t, "85.00", booking.TotalAmount.StringFixed(2))
		assert.Equal(t, "12.75", booking.PlatformFee.StringFixed(2))
		assert.Equal(t, "72.25", booking.ConsultantPayout.StringFixed(2))
		assert.Equal(t, models.BookingStatusPending, booking.Status)
		assert.Equal(t, models.PaymentStatusPending, booking.PaymentStatus)
		require.NotNil(t, booking.CouponID)
		assert.Equal(t, couponID, *booking.CouponID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Slot Conflict Releases Coupon", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		req := validReq()
		code := "WELCOME20"
		req.CouponCode = &code
		couponID := uuid.New().String()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM coupons WHERE code`).
			WillReturnRows(couponRow(couponID, true, now.Add(-time.Hour), nil, nil, nil, 0))
		mock.ExpectExec(`UPDATE coupons`).
			WithArgs(couponID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO coupon_usages`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectQuery(`SELECT COUNT(.+) FROM bookings WHERE booking_reference`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectBegin()
		// Another active booking already holds the window
		conflicting := sqlmock.NewRows(bookingTestColumns)
		addEligibleBooking(conflicting, uuid.New().String(), req.ConsultantID, "34.00", req.ScheduledEnd)
		mock.ExpectQuery(`SELECT (.+) FROM bookings`).
			WillReturnRows(conflicting)
		mock.ExpectRollback()
		// The consumed coupon use goes back to the pool
		mock.ExpectExec(`UPDATE coupons`).
			WithArgs(couponID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		booking, err := service.CreateBooking(req)
		assert.Nil(t, booking)

		var conflict *models.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "slot", conflict.Resource)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Idempotency Key Replay", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		req := validReq()
		key := "client-key-1"
		req.IdempotencyKey = &key

		existing := confirmedPaidBooking()
		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE idempotency_key`).
			WithArgs(key).
			WillReturnRows(storedBooking(existing))

		booking, err := service.CreateBooking(req)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, booking.ID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Ineligible Coupon Rejects Creation", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		req := validReq()
		code := "WELCOME20"
		req.CouponCode = &code

		mock.ExpectQuery(`SELECT (.+) FROM coupons WHERE code`).
			WillReturnRows(sqlmock.NewRows(couponColumns))

		_, err := service.CreateBooking(req)

		var rejected *models.CouponRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Contains(t, rejected.Reasons, "coupon not found")
	})

	t.Run("Expired Coupon Rejection Is Audited", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		req := validReq()
		code := "WELCOME20"
		req.CouponCode = &code
		couponID := uuid.New().String()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM coupons WHERE code`).
			WithArgs("WELCOME20").
			WillReturnRows(couponRow(couponID, true, now.Add(-2*time.Hour), now.Add(-time.Hour), nil, nil, 0))
		// The rejection lands in the usage trail before the error surfaces
		mock.ExpectQuery(`INSERT INTO coupon_usages`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

		booking, err := service.CreateBooking(req)
		assert.Nil(t, booking)

		var rejected *models.CouponRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Contains(t, rejected.Reasons, "coupon has expired")

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCancelBooking(t *testing.T) {
	t.Run("Refund Issued Before Cancellation", func(t *testing.T) {
		refunded := false
		gw := &fakeGateway{
			refund: func(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (*gateway.ChargeResult, error) {
				refunded = true
				// 48 hours out means the full amount comes back
				assert.True(t, amount.Equal(dec("40.00")))
				return &gateway.ChargeResult{ID: "ref_1", Status: gateway.StatusSucceeded}, nil
			},
		}
		service, mock, notifier, cleanup := setupBookingTest(t, gw)
		defer cleanup()

		booking := confirmedPaidBooking()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id`).
			WithArgs(booking.ID).
			WillReturnRows(storedBooking(booking))
		// Refund ledger flow runs before any status change
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(chargeTxnRow(uuid.New().String(), booking.ID, "completed", "pay_123"))
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// Only now does the booking become cancelled
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "confirmed", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		cancelled, err := service.Cancel(context.Background(), booking.ID, nil)
		require.NoError(t, err)
		assert.True(t, refunded)
		assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
		assert.Contains(t, notifier.events, "booking.cancelled")

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unpaid Cancellation Releases Coupon", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		booking := confirmedPaidBooking()
		booking.Status = models.BookingStatusPending
		booking.PaymentStatus = models.PaymentStatusPending
		couponID := uuid.New().String()
		booking.CouponID = &couponID

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id`).
			WithArgs(booking.ID).
			WillReturnRows(storedBooking(booking))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "pending", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE coupons`).
			WithArgs(couponID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		cancelled, err := service.Cancel(context.Background(), booking.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Completed Booking Cannot Be Cancelled", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		booking := confirmedPaidBooking()
		booking.Status = models.BookingStatusCompleted

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id`).
			WithArgs(booking.ID).
			WillReturnRows(storedBooking(booking))

		_, err := service.Cancel(context.Background(), booking.ID, nil)

		var invalid *models.InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestMarkClientNoShow(t *testing.T) {
	t.Run("Partial Policy Withholds Adjustment", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		booking := confirmedPaidBooking()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id`).
			WithArgs(booking.ID).
			WillReturnRows(storedBooking(booking))
		// Half of the 34.00 payout is withheld as a negative adjustment
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "confirmed", "no_show_client").
			WillReturnResult(sqlmock.NewResult(0, 1))

		updated, err := service.MarkClientNoShow(booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusNoShowClient, updated.Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Lost Transition Voids Adjustment", func(t *testing.T) {
		service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
		defer cleanup()

		booking := confirmedPaidBooking()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id`).
			WithArgs(booking.ID).
			WillReturnRows(storedBooking(booking))
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		// A concurrent update already moved the booking; zero rows match
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "confirmed", "no_show_client").
			WillReturnResult(sqlmock.NewResult(0, 0))
		// The orphaned adjustment is failed so payouts never count it
		mock.ExpectExec(`UPDATE payment_transactions`).
			WithArgs(sqlmock.AnyArg(), "failed", nil, "no-show transition lost to a concurrent update").
			WillReturnResult(sqlmock.NewResult(0, 1))

		updated, err := service.MarkClientNoShow(booking.ID)
		assert.Nil(t, updated)

		var conflict *models.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "booking", conflict.Resource)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkConsultantNoShow(t *testing.T) {
	t.Run("Client Refunded In Full", func(t *testing.T) {
		gw := &fakeGateway{
			refund: func(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (*gateway.ChargeResult, error) {
				assert.True(t, amount.Equal(dec("40.00")))
				return &gateway.ChargeResult{ID: "ref_1", Status: gateway.StatusSucceeded}, nil
			},
		}
		service, mock, _, cleanup := setupBookingTest(t, gw)
		defer cleanup()

		booking := confirmedPaidBooking()
		now := time.Now()

		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id`).
			WithArgs(booking.ID).
			WillReturnRows(storedBooking(booking))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(booking.ID).
			WillReturnRows(chargeTxnRow(uuid.New().String(), booking.ID, "completed", "pay_123"))
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, "confirmed", "no_show_consultant").
			WillReturnResult(sqlmock.NewResult(0, 1))

		updated, err := service.MarkConsultantNoShow(context.Background(), booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusNoShowConsultant, updated.Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSweepStalePending(t *testing.T) {
	service, mock, _, cleanup := setupBookingTest(t, &fakeGateway{})
	defer cleanup()

	stale1 := confirmedPaidBooking()
	stale1.Status = models.BookingStatusPending
	stale1.PaymentStatus = models.PaymentStatusPending
	stale2 := confirmedPaidBooking()
	stale2.Status = models.BookingStatusPending
	stale2.PaymentStatus = models.PaymentStatusPending
	couponID := uuid.New().String()
	stale2.CouponID = &couponID

	rows := storedBooking(stale1)
	now := time.Now()
	rows.AddRow(
		stale2.ID, stale2.BookingReference, stale2.ConsultantID, stale2.ClientName, stale2.ClientEmail,
		nil, string(stale2.SessionType), stale2.ScheduledStart, stale2.ScheduledEnd,
		"100.00", "1", "USD", "100.00", "0",
		"40.00", "6.00", "34.00", stale2.CouponID,
		"pending", "pending", nil, nil,
		nil, nil, nil, now, now,
	)

	mock.ExpectQuery(`SELECT (.+) FROM bookings`).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE bookings`).
		WithArgs(stale1.ID, "pending", "payment not received in time").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings`).
		WithArgs(stale2.ID, "pending", "payment not received in time").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE coupons`).
		WithArgs(couponID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	swept, err := service.SweepStalePending()
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	assert.NoError(t, mock.ExpectationsWereMet())
}
