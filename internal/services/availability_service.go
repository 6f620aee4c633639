package services

import (
	"fmt"
	"time"

	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// maxSlotSuggestions caps how many alternative windows a conflict response
// carries
const maxSlotSuggestions = 3

// AvailabilityService answers slot availability queries. Results are
// advisory: the authoritative conflict check happens inside the booking
// insert transaction, so a window reported free here can still be claimed
// by a concurrent request.
type AvailabilityService struct {
	bookingRepo *database.BookingRepository
	logger      *logrus.Logger
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(bookingRepo *database.BookingRepository, logger *logrus.Logger) *AvailabilityService {
	return &AvailabilityService{
		bookingRepo: bookingRepo,
		logger:      logger,
	}
}

// Check reports whether [start, end) is free for the consultant. When it is
// not, the result carries the colliding bookings and up to three nearby
// free windows of the same length.
func (s *AvailabilityService) Check(consultantID string, start, end time.Time) (*models.AvailabilityResult, error) {
	if !end.After(start) {
		return nil, &models.ValidationError{Field: "end", Message: "end must be after start"}
	}

	conflicts, err := s.bookingRepo.FindOverlapping(consultantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}

	if len(conflicts) == 0 {
		return &models.AvailabilityResult{Available: true}, nil
	}

	suggestions, err := s.suggestNearby(consultantID, start, end)
	if err != nil {
		// Suggestions are best effort; a failure degrades the response
		// instead of failing the check
		s.logger.WithFields(logrus.Fields{
			"consultant_id": consultantID,
			"error":         err.Error(),
		}).Warn("Failed to compute slot suggestions")
		suggestions = nil
	}

	return &models.AvailabilityResult{
		Available:   false,
		Conflicts:   conflicts,
		Suggestions: suggestions,
	}, nil
}

// suggestNearby scans the 24 hours around the requested window for free
// slots of the same duration, walking the consultant's booked windows in
// order and collecting the gaps.
func (s *AvailabilityService) suggestNearby(consultantID string, start, end time.Time) ([]models.SlotSuggestion, error) {
	duration := end.Sub(start)
	searchFrom := start.Add(-12 * time.Hour)
	searchTo := end.Add(12 * time.Hour)

	if now := time.Now(); searchFrom.Before(now) {
		searchFrom = now
	}

	booked, err := s.bookingRepo.FindActiveInRange(consultantID, searchFrom, searchTo)
	if err != nil {
		return nil, err
	}

	suggestions := []models.SlotSuggestion{}
	cursor := searchFrom

	for _, b := range booked {
		if b.ScheduledStart.Sub(cursor) >= duration {
			suggestions = append(suggestions, models.SlotSuggestion{
				Start: cursor,
				End:   cursor.Add(duration),
			})
			if len(suggestions) >= maxSlotSuggestions {
				return suggestions, nil
			}
		}
		if b.ScheduledEnd.After(cursor) {
			cursor = b.ScheduledEnd
		}
	}

	if searchTo.Sub(cursor) >= duration && len(suggestions) < maxSlotSuggestions {
		suggestions = append(suggestions, models.SlotSuggestion{
			Start: cursor,
			End:   cursor.Add(duration),
		})
	}

	return suggestions, nil
}
