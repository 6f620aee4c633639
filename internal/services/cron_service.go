package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/expertlane/consult-backend/internal/config"
	"github.com/robfig/cron/v3"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron         *cron.Cron
	bookingSvc   *BookingService
	payoutSvc    *PayoutService
	authSvc      *OperatorAuthService
	rateLimitSvc *LoginRateLimitService
	cfg          config.PayoutConfig
}

// NewCronService creates a new CronService
func NewCronService(
	bookingSvc *BookingService,
	payoutSvc *PayoutService,
	authSvc *OperatorAuthService,
	rateLimitSvc *LoginRateLimitService,
	cfg config.PayoutConfig,
) *CronService {
	// Cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:         c,
		bookingSvc:   bookingSvc,
		payoutSvc:    payoutSvc,
		authSvc:      authSvc,
		rateLimitSvc: rateLimitSvc,
		cfg:          cfg,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	log.Println("Starting cron service...")

	// Job 1: Sweep stale pending bookings every 5 minutes
	// Cron format: second minute hour day month weekday
	_, err := s.cron.AddFunc("0 */5 * * * *", s.sweepStaleBookingsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule stale booking sweep: %w", err)
	}
	log.Println("Scheduled: Stale pending booking sweep (every 5 minutes)")

	// Job 2: Weekly payout cycle, schedule from config
	if s.cfg.CycleEnabled {
		_, err = s.cron.AddFunc(s.cfg.CycleSchedule, s.payoutCycleJob)
		if err != nil {
			return fmt.Errorf("failed to schedule payout cycle: %w", err)
		}
		log.Printf("Scheduled: Payout cycle (%s)\n", s.cfg.CycleSchedule)
	} else {
		log.Println("Automatic payout cycle disabled; manual runs only")
	}

	// Job 3: Daily auth housekeeping at 03:00
	_, err = s.cron.AddFunc("0 0 3 * * *", s.authCleanupJob)
	if err != nil {
		return fmt.Errorf("failed to schedule auth cleanup: %w", err)
	}
	log.Println("Scheduled: Auth housekeeping (daily at 03:00)")

	s.cron.Start()
	log.Println("Cron service started")

	return nil
}

// Stop stops all cron jobs and waits for running ones to finish
func (s *CronService) Stop() {
	log.Println("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Cron service stopped")
}

// sweepStaleBookingsJob cancels pending bookings whose payment never
// arrived, releasing their slots
func (s *CronService) sweepStaleBookingsJob() {
	startTime := time.Now()

	swept, err := s.bookingSvc.SweepStalePending()
	if err != nil {
		log.Printf("[CRON ERROR] Stale booking sweep failed: %v\n", err)
		return
	}

	if swept > 0 {
		log.Printf("[CRON] Swept %d stale bookings in %v\n", swept, time.Since(startTime))
	}
}

// payoutCycleJob aggregates and settles the most recent closed week
func (s *CronService) payoutCycleJob() {
	log.Println("[CRON] Starting payout cycle...")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.payoutSvc.RunScheduledCycle(ctx); err != nil {
		log.Printf("[CRON ERROR] Payout cycle failed: %v\n", err)
		return
	}

	log.Printf("[CRON] Payout cycle finished in %v\n", time.Since(startTime))
}

// authCleanupJob drops expired refresh tokens and stale login attempt records
func (s *CronService) authCleanupJob() {
	tokens, err := s.authSvc.CleanupExpiredTokens()
	if err != nil {
		log.Printf("[CRON ERROR] Refresh token cleanup failed: %v\n", err)
	} else if tokens > 0 {
		log.Printf("[CRON] Removed %d expired refresh tokens\n", tokens)
	}

	attempts, err := s.rateLimitSvc.CleanupExpired()
	if err != nil {
		log.Printf("[CRON ERROR] Login attempt cleanup failed: %v\n", err)
	} else if attempts > 0 {
		log.Printf("[CRON] Removed %d stale login attempt records\n", attempts)
	}
}

// RunSweepNow runs the stale booking sweep immediately (for testing)
func (s *CronService) RunSweepNow() {
	log.Println("[MANUAL] Running stale booking sweep now...")
	s.sweepStaleBookingsJob()
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
