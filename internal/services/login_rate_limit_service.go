package services

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/expertlane/consult-backend/internal/database"
)

// LoginRateLimitService throttles operator login attempts per email and
// per source IP, backed by the login_attempts table
type LoginRateLimitService struct {
	db database.DB
}

// NewLoginRateLimitService creates a new login rate limit service
func NewLoginRateLimitService(db database.DB) *LoginRateLimitService {
	return &LoginRateLimitService{
		db: db,
	}
}

// LoginRateLimitConfig holds rate limiting configuration
type LoginRateLimitConfig struct {
	MaxEmailAttempts int           // Max failed attempts per email
	EmailWindow      time.Duration // Time window for the email limit
	MaxIPAttempts    int           // Max failed attempts per IP
	IPWindow         time.Duration // Time window for the IP limit
}

// DefaultLoginRateLimitConfig returns the default rate limit configuration
func DefaultLoginRateLimitConfig() LoginRateLimitConfig {
	return LoginRateLimitConfig{
		MaxEmailAttempts: 5,
		EmailWindow:      15 * time.Minute,
		MaxIPAttempts:    20,
		IPWindow:         1 * time.Hour,
	}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	Type       string // "email" or "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// CheckLoginRateLimit checks whether an email or IP has exceeded the failed
// login limits
func (s *LoginRateLimitService) CheckLoginRateLimit(email, ip string) error {
	config := DefaultLoginRateLimitConfig()

	if email != "" {
		count, lastAttempt, err := s.getAttemptCount(strings.ToLower(email), "email", config.EmailWindow)
		if err != nil {
			return fmt.Errorf("failed to check email rate limit: %w", err)
		}

		if count >= config.MaxEmailAttempts {
			retryAfter := lastAttempt.Add(config.EmailWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many failed login attempts for this account. Please try again after %s", retryAfter.Format("15:04:05")),
				RetryAfter: retryAfter,
				Type:       "email",
			}
		}
	}

	if ip != "" {
		count, lastAttempt, err := s.getAttemptCount(ip, "ip", config.IPWindow)
		if err != nil {
			return fmt.Errorf("failed to check IP rate limit: %w", err)
		}

		if count >= config.MaxIPAttempts {
			retryAfter := lastAttempt.Add(config.IPWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many failed login attempts from this address. Please try again after %s", retryAfter.Format("15:04:05")),
				RetryAfter: retryAfter,
				Type:       "ip",
			}
		}
	}

	return nil
}

// getAttemptCount counts failed attempts within the time window
func (s *LoginRateLimitService) getAttemptCount(identifier, identifierType string, window time.Duration) (int, time.Time, error) {
	windowStart := time.Now().Add(-window)

	query := `
		SELECT COUNT(*), COALESCE(MAX(created_at), NOW())
		FROM login_attempts
		WHERE identifier = $1
		  AND identifier_type = $2
		  AND created_at > $3
	`

	var count int
	var lastAttempt time.Time

	err := s.db.QueryRow(query, identifier, identifierType, windowStart).Scan(&count, &lastAttempt)
	if err != nil && err != sql.ErrNoRows {
		return 0, time.Time{}, err
	}

	return count, lastAttempt, nil
}

// RecordFailedLogin records a failed login attempt for both identifiers
func (s *LoginRateLimitService) RecordFailedLogin(email, ip string) error {
	if email != "" {
		if err := s.recordAttempt(strings.ToLower(email), "email"); err != nil {
			return fmt.Errorf("failed to record email attempt: %w", err)
		}
	}

	if ip != "" {
		if err := s.recordAttempt(ip, "ip"); err != nil {
			return fmt.Errorf("failed to record IP attempt: %w", err)
		}
	}

	return nil
}

func (s *LoginRateLimitService) recordAttempt(identifier, identifierType string) error {
	query := `
		INSERT INTO login_attempts (identifier, identifier_type, created_at)
		VALUES ($1, $2, NOW())
	`

	_, err := s.db.Exec(query, identifier, identifierType)
	return err
}

// ClearFailedLogins removes recorded failures for an email after a
// successful login
func (s *LoginRateLimitService) ClearFailedLogins(email string) error {
	query := `
		DELETE FROM login_attempts
		WHERE identifier = $1 AND identifier_type = 'email'
	`

	_, err := s.db.Exec(query, strings.ToLower(email))
	if err != nil {
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}

	return nil
}

// CleanupExpired removes attempt records older than the longest window
func (s *LoginRateLimitService) CleanupExpired() (int64, error) {
	config := DefaultLoginRateLimitConfig()

	maxWindow := config.IPWindow
	if config.EmailWindow > maxWindow {
		maxWindow = config.EmailWindow
	}

	cutoffTime := time.Now().Add(-maxWindow)

	query := `
		DELETE FROM login_attempts
		WHERE created_at < $1
	`

	result, err := s.db.Exec(query, cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup login attempts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
