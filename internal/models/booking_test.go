package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	allowed := []struct {
		from BookingStatus
		to   BookingStatus
	}{
		{BookingStatusPending, BookingStatusConfirmed},
		{BookingStatusPending, BookingStatusCancelled},
		{BookingStatusConfirmed, BookingStatusInProgress},
		{BookingStatusConfirmed, BookingStatusCancelled},
		{BookingStatusConfirmed, BookingStatusNoShowClient},
		{BookingStatusConfirmed, BookingStatusNoShowConsultant},
		{BookingStatusInProgress, BookingStatusCompleted},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	forbidden := []struct {
		from BookingStatus
		to   BookingStatus
	}{
		{BookingStatusPending, BookingStatusInProgress},
		{BookingStatusPending, BookingStatusCompleted},
		{BookingStatusPending, BookingStatusNoShowClient},
		{BookingStatusConfirmed, BookingStatusCompleted},
		{BookingStatusInProgress, BookingStatusCancelled},
		{BookingStatusInProgress, BookingStatusNoShowClient},
		{BookingStatusCompleted, BookingStatusCancelled},
		{BookingStatusCancelled, BookingStatusConfirmed},
		{BookingStatusNoShowClient, BookingStatusCompleted},
		{BookingStatusCompleted, BookingStatusCompleted},
	}
	for _, tc := range forbidden {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, BookingStatusPending.IsTerminal())
	assert.False(t, BookingStatusConfirmed.IsTerminal())
	assert.False(t, BookingStatusInProgress.IsTerminal())
	assert.True(t, BookingStatusCompleted.IsTerminal())
	assert.True(t, BookingStatusCancelled.IsTerminal())
	assert.True(t, BookingStatusNoShowClient.IsTerminal())
	assert.True(t, BookingStatusNoShowConsultant.IsTerminal())
}

func TestRefundFraction(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	booking := &Booking{ScheduledStart: start}

	cases := []struct {
		name        string
		cancelledAt time.Time
		want        string
	}{
		{"48 hours before", start.Add(-48 * time.Hour), "1"},
		{"exactly 24 hours before", start.Add(-24 * time.Hour), "1"},
		{"18 hours before", start.Add(-18 * time.Hour), "0.75"},
		{"exactly 12 hours before", start.Add(-12 * time.Hour), "0.75"},
		{"8 hours before", start.Add(-8 * time.Hour), "0.5"},
		{"exactly 6 hours before", start.Add(-6 * time.Hour), "0.5"},
		{"1 hour before", start.Add(-1 * time.Hour), "0.25"},
		{"after start", start.Add(1 * time.Hour), "0.25"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := booking.RefundFraction(tc.cancelledAt)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
				"want %s, got %s", tc.want, got)
		})
	}
}

func TestBookingOverlaps(t *testing.T) {
	booking := &Booking{
		ScheduledStart: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
	}

	t.Run("Identical Window", func(t *testing.T) {
		assert.True(t, booking.Overlaps(booking.ScheduledStart, booking.ScheduledEnd))
	})

	t.Run("Partial Overlap", func(t *testing.T) {
		assert.True(t, booking.Overlaps(
			time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC),
			time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC),
		))
	})

	t.Run("Back To Back Does Not Overlap", func(t *testing.T) {
		assert.False(t, booking.Overlaps(
			time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		))
		assert.False(t, booking.Overlaps(
			time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		))
	})
}

func TestCreateBookingRequestValidate(t *testing.T) {
	valid := func() *CreateBookingRequest {
		return &CreateBookingRequest{
			ConsultantID:   "c-1",
			ClientName:     "Amara Silva",
			ClientEmail:    "amara@example.com",
			SessionType:    SessionTypeCareerGuidance,
			ScheduledStart: time.Now().Add(48 * time.Hour),
			ScheduledEnd:   time.Now().Add(49 * time.Hour),
			HourlyRate:     "100.00",
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("End Before Start", func(t *testing.T) {
		req := valid()
		req.ScheduledEnd = req.ScheduledStart.Add(-time.Hour)
		err := req.Validate()
		assert.Error(t, err)
		assert.IsType(t, &ValidationError{}, err)
	})

	t.Run("In The Past", func(t *testing.T) {
		req := valid()
		req.ScheduledStart = time.Now().Add(-2 * time.Hour)
		req.ScheduledEnd = time.Now().Add(-1 * time.Hour)
		assert.Error(t, req.Validate())
	})

	t.Run("Over Eight Hours", func(t *testing.T) {
		req := valid()
		req.ScheduledEnd = req.ScheduledStart.Add(9 * time.Hour)
		assert.Error(t, req.Validate())
	})

	t.Run("Bad Rate", func(t *testing.T) {
		req := valid()
		req.HourlyRate = "not-a-number"
		assert.Error(t, req.Validate())

		req.HourlyRate = "-10"
		assert.Error(t, req.Validate())

		req.HourlyRate = "0"
		assert.Error(t, req.Validate())
	})

	t.Run("Unknown Session Type", func(t *testing.T) {
		req := valid()
		req.SessionType = "astrology"
		assert.Error(t, req.Validate())
	})
}

func TestCreateBookingRequestHours(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	req := &CreateBookingRequest{ScheduledStart: start, ScheduledEnd: start.Add(90 * time.Minute)}
	assert.True(t, req.Hours().Equal(decimal.RequireFromString("1.5")))

	req.ScheduledEnd = start.Add(30 * time.Minute)
	assert.True(t, req.Hours().Equal(decimal.RequireFromString("0.5")))
}

func TestFeedbackRequestValidate(t *testing.T) {
	assert.NoError(t, (&FeedbackRequest{Rating: 1}).Validate())
	assert.NoError(t, (&FeedbackRequest{Rating: 5}).Validate())
	assert.Error(t, (&FeedbackRequest{Rating: 0}).Validate())
	assert.Error(t, (&FeedbackRequest{Rating: 6}).Validate())
}
