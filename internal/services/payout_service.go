package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/expertlane/consult-backend/internal/config"
	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/pkg/gateway"
	"github.com/expertlane/consult-backend/pkg/notify"
	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ConsultantDirectory answers payout-readiness questions about consultants.
// The identity system lives outside this service; only the account handle
// and verification flag cross the boundary.
type ConsultantDirectory interface {
	PayoutAccount(consultantID string) (account string, verified bool, err error)
}

// PayoutService aggregates settled earnings into per-consultant batches and
// settles them through the gateway. A cycle for a period runs under an
// advisory lock, so overlapping runs cannot double-aggregate; failed
// batches release their bookings for the next run.
type PayoutService struct {
	payoutRepo *database.PayoutRepository
	gateway    gateway.Gateway
	directory  ConsultantDirectory
	notifier   notify.Notifier
	cfg        config.PayoutConfig
	logger     *logrus.Logger
}

// NewPayoutService creates a new PayoutService
func NewPayoutService(
	payoutRepo *database.PayoutRepository,
	gw gateway.Gateway,
	directory ConsultantDirectory,
	notifier notify.Notifier,
	cfg config.PayoutConfig,
	logger *logrus.Logger,
) *PayoutService {
	return &PayoutService{
		payoutRepo: payoutRepo,
		gateway:    gw,
		directory:  directory,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// payoutGroup collects one consultant's eligible bookings in one currency
type payoutGroup struct {
	consultantID string
	currency     string
	bookingIDs   []string
	gross        decimal.Decimal
}

// RunPayoutCycle aggregates all eligible bookings in [start, end) into
// pending payout batches, one per consultant and currency. Consultants
// without a verified payout account are skipped; their bookings stay
// unclaimed for a later cycle. A reconciliation mismatch between booking
// figures and the ledger aborts the whole cycle with nothing written.
func (s *PayoutService) RunPayoutCycle(req *models.RunPayoutCycleRequest) ([]models.PayoutBatch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	periodKey := fmt.Sprintf("payout:%s:%s",
		req.PeriodStart.UTC().Format("2006-01-02"), req.PeriodEnd.UTC().Format("2006-01-02"))

	var batches []models.PayoutBatch
	err := s.payoutRepo.WithPeriodLock(periodKey, func(tx *sqlx.Tx) error {
		eligible, err := s.payoutRepo.SelectEligibleTx(tx, req.PeriodStart, req.PeriodEnd)
		if err != nil {
			return fmt.Errorf("failed to select eligible bookings: %w", err)
		}
		if len(eligible) == 0 {
			return nil
		}

		for _, group := range groupByConsultant(eligible) {
			batch, err := s.buildBatchTx(tx, group, req.PeriodStart, req.PeriodEnd)
			if err != nil {
				return err
			}
			if batch != nil {
				batches = append(batches, *batch)
			}
		}
		return nil
	})
	if err != nil {
		if err == database.ErrPeriodLocked {
			return nil, &models.PayoutCycleRunningError{PeriodStart: req.PeriodStart, PeriodEnd: req.PeriodEnd}
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"period_start": req.PeriodStart,
		"period_end":   req.PeriodEnd,
		"batches":      len(batches),
	}).Info("Payout cycle completed")

	return batches, nil
}

// groupByConsultant buckets bookings by consultant and currency, in a
// stable order
func groupByConsultant(bookings []models.Booking) []payoutGroup {
	byKey := map[string]*payoutGroup{}
	for _, b := range bookings {
		key := b.ConsultantID + "|" + b.Currency
		group, ok := byKey[key]
		if !ok {
			group = &payoutGroup{consultantID: b.ConsultantID, currency: b.Currency}
			byKey[key] = group
		}
		group.bookingIDs = append(group.bookingIDs, b.ID)
		group.gross = group.gross.Add(b.ConsultantPayout)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]payoutGroup, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, *byKey[key])
	}
	return groups
}

// buildBatchTx reconciles and inserts one consultant's batch inside the
// cycle transaction. Returns nil without error when the consultant is
// skipped (unverified account).
func (s *PayoutService) buildBatchTx(tx *sqlx.Tx, group payoutGroup, periodStart, periodEnd time.Time) (*models.PayoutBatch, error) {
	_, verified, err := s.directory.PayoutAccount(group.consultantID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up consultant %s: %w", group.consultantID, err)
	}
	if !verified {
		s.logger.WithField("consultant_id", group.consultantID).
			Warn("Skipping payout for unverified consultant")
		return nil, nil
	}

	reference := BatchReference(periodEnd, group.consultantID)
	units := MinorUnits(group.currency)

	// Cross-check the booking figures against the ledger before any money
	// is promised
	ledgerNet, err := s.payoutRepo.SumSettledNetTx(tx, group.bookingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger for batch %s: %w", reference, err)
	}
	if !ledgerNet.Equal(group.gross) {
		return nil, &models.ReconciliationError{
			BatchReference: reference,
			Expected:       group.gross.StringFixed(units),
			Actual:         ledgerNet.StringFixed(units),
		}
	}

	adjustments, err := s.payoutRepo.SumAdjustmentsTx(tx, group.bookingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to sum adjustments for batch %s: %w", reference, err)
	}

	fees := s.cfg.ProcessingFeeFlat.Add(group.gross.Mul(s.cfg.ProcessingFeeRate)).RoundBank(units)
	net := group.gross.Add(adjustments).Sub(fees)
	if net.IsNegative() {
		net = decimal.Zero.RoundBank(units)
	}

	batch := &models.PayoutBatch{
		BatchReference: reference,
		ConsultantID:   group.consultantID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		BookingIDs:     models.StringArray(group.bookingIDs),
		GrossEarnings:  group.gross,
		ProcessingFees: fees,
		Adjustments:    adjustments,
		NetPayout:      net,
		Currency:       group.currency,
		Status:         models.PayoutBatchPending,
	}

	if err := s.payoutRepo.InsertBatchTx(tx, batch); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"batch_reference": batch.BatchReference,
		"consultant_id":   batch.ConsultantID,
		"bookings":        len(batch.BookingIDs),
		"net_payout":      batch.NetPayout.String(),
		"currency":        batch.Currency,
	}).Info("Payout batch created")

	return batch, nil
}

// BatchReference builds the deterministic batch reference for a period and
// consultant: PB-YYYYMMDD-XXXXXXXX
func BatchReference(periodEnd time.Time, consultantID string) string {
	prefix := strings.ToUpper(strings.ReplaceAll(consultantID, "-", ""))
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("PB-%s-%s", periodEnd.UTC().Format("20060102"), prefix)
}

// SettleBatch transfers a pending batch to the consultant's account. The
// pending -> processing guard makes double settlement a no-op; a gateway
// failure marks the batch failed and releases its bookings.
func (s *PayoutService) SettleBatch(ctx context.Context, batchID string) (*models.PayoutBatch, error) {
	batch, err := s.payoutRepo.GetByID(batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	if batch == nil {
		return nil, &models.ValidationError{Field: "batch_id", Message: "payout batch not found"}
	}

	moved, err := s.payoutRepo.MarkProcessing(batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to start settlement: %w", err)
	}
	if !moved {
		return nil, &models.ConflictError{Resource: "payout_batch",
			Message: fmt.Sprintf("batch %s is not pending", batch.BatchReference)}
	}
	batch.Status = models.PayoutBatchProcessing

	// Nothing to transfer; fees or adjustments consumed the whole batch
	if !batch.NetPayout.IsPositive() {
		if err := s.payoutRepo.MarkCompleted(batchID); err != nil {
			return nil, err
		}
		batch.Status = models.PayoutBatchCompleted
		return batch, nil
	}

	account, verified, err := s.directory.PayoutAccount(batch.ConsultantID)
	if err != nil || !verified {
		reason := "payout account not verified"
		if err != nil {
			reason = err.Error()
		}
		if failErr := s.payoutRepo.MarkFailed(batchID, reason); failErr != nil {
			return nil, failErr
		}
		batch.Status = models.PayoutBatchFailed
		return batch, &models.PaymentError{Op: "payout", Reference: batch.BatchReference,
			Err: fmt.Errorf("%s", reason)}
	}

	var result *gateway.PayoutResult
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, pErr := s.gateway.CreatePayout(ctx, &gateway.PayoutRequest{
			BatchReference:    batch.BatchReference,
			ConsultantAccount: account,
			Amount:            batch.NetPayout,
			Currency:          batch.Currency,
		})
		if pErr != nil {
			if res != nil {
				return pErr
			}
			return retry.RetryableError(pErr)
		}
		result = res
		return nil
	})
	if err != nil {
		if failErr := s.payoutRepo.MarkFailed(batchID, err.Error()); failErr != nil {
			s.logger.WithField("batch_id", batchID).Errorf("Failed to mark batch failed: %v", failErr)
		}
		batch.Status = models.PayoutBatchFailed
		return batch, &models.PaymentError{Op: "payout", Reference: batch.BatchReference, Retryable: true, Err: err}
	}

	if result.Status == gateway.StatusSucceeded {
		if err := s.payoutRepo.MarkCompleted(batchID); err != nil {
			return nil, err
		}
		batch.Status = models.PayoutBatchCompleted
		s.notifier.Publish(notify.EventPayoutCompleted, map[string]interface{}{
			"batch_reference": batch.BatchReference,
			"consultant_id":   batch.ConsultantID,
			"net_payout":      batch.NetPayout.String(),
			"currency":        batch.Currency,
		})
	}
	// StatusPending leaves the batch processing; the payout webhook
	// finishes it

	s.logger.WithFields(logrus.Fields{
		"batch_reference": batch.BatchReference,
		"status":          batch.Status,
	}).Info("Payout batch settled")

	return batch, nil
}

// SettlePendingBatches settles every pending batch, best effort. Used by
// the cron cycle after aggregation.
func (s *PayoutService) SettlePendingBatches(ctx context.Context) error {
	pending, err := s.payoutRepo.GetPendingBatches()
	if err != nil {
		return fmt.Errorf("failed to list pending batches: %w", err)
	}
	for i := range pending {
		if _, err := s.SettleBatch(ctx, pending[i].ID); err != nil {
			s.logger.WithField("batch_id", pending[i].ID).Errorf("Batch settlement failed: %v", err)
		}
	}
	return nil
}

// HandleSettlementEvent applies a payout webhook to its batch
func (s *PayoutService) HandleSettlementEvent(eventType, batchReference string) error {
	batch, err := s.payoutRepo.GetByReference(batchReference)
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}
	if batch == nil {
		return fmt.Errorf("payout batch %s not found", batchReference)
	}

	switch eventType {
	case gateway.EventPayoutSucceeded:
		if err := s.payoutRepo.MarkCompleted(batch.ID); err != nil {
			return err
		}
		s.notifier.Publish(notify.EventPayoutCompleted, map[string]interface{}{
			"batch_reference": batch.BatchReference,
			"consultant_id":   batch.ConsultantID,
			"net_payout":      batch.NetPayout.String(),
			"currency":        batch.Currency,
		})
	case gateway.EventPayoutFailed:
		if err := s.payoutRepo.MarkFailed(batch.ID, "payout failed at processor"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unexpected payout event type %s", eventType)
	}
	return nil
}

// ListForConsultant returns a consultant's payout batches for the earnings
// view
func (s *PayoutService) ListForConsultant(consultantID string) ([]models.PayoutBatch, error) {
	return s.payoutRepo.GetByConsultantID(consultantID)
}

// RunScheduledCycle runs the cycle for the most recent closed week and
// settles the resulting batches. Invoked by cron.
func (s *PayoutService) RunScheduledCycle(ctx context.Context) error {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -7)

	_, err := s.RunPayoutCycle(&models.RunPayoutCycleRequest{PeriodStart: start, PeriodEnd: end})
	if err != nil {
		if _, running := err.(*models.PayoutCycleRunningError); running {
			s.logger.Warn("Scheduled payout cycle skipped: already running")
			return nil
		}
		return err
	}

	return s.SettlePendingBatches(ctx)
}
