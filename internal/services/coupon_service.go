package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CouponService validates and redeems coupons. Validation collects every
// failing rule instead of stopping at the first; redemption is an atomic
// compare-and-increment so the usage cap admits exactly one winner under
// concurrency.
type CouponService struct {
	couponRepo *database.CouponRepository
	pricing    *PricingEngine
	logger     *logrus.Logger
}

// NewCouponService creates a new CouponService
func NewCouponService(couponRepo *database.CouponRepository, pricing *PricingEngine, logger *logrus.Logger) *CouponService {
	return &CouponService{
		couponRepo: couponRepo,
		pricing:    pricing,
		logger:     logger,
	}
}

// CreateCoupon creates a new coupon from an operator request
func (s *CouponService) CreateCoupon(req *models.CreateCouponRequest) (*models.Coupon, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(req.DiscountValue)
	if err != nil {
		return nil, &models.ValidationError{Field: "discount_value", Message: "discount_value must be a decimal number"}
	}

	coupon := &models.Coupon{
		Code:           strings.ToUpper(req.Code),
		DiscountType:   req.DiscountType,
		DiscountValue:  value,
		MaxUsesTotal:   req.MaxUsesTotal,
		MaxUsesPerUser: req.MaxUsesPerUser,
		ValidFrom:      time.Now(),
		ValidUntil:     req.ValidUntil,
		AppliesTo:      models.CouponAppliesToAll,
		ConsultantIDs:  models.StringArray(req.ConsultantIDs),
		SessionTypes:   models.StringArray(req.SessionTypes),
		IsActive:       true,
	}

	if req.ValidFrom != nil {
		coupon.ValidFrom = *req.ValidFrom
	}
	if req.AppliesTo != nil {
		coupon.AppliesTo = *req.AppliesTo
	}
	if req.MaxDiscountAmount != nil {
		cap, err := decimal.NewFromString(*req.MaxDiscountAmount)
		if err != nil || !cap.IsPositive() {
			return nil, &models.ValidationError{Field: "max_discount_amount", Message: "max_discount_amount must be a positive decimal"}
		}
		coupon.MaxDiscountAmount = &cap
	}
	if req.MinOrderValue != nil {
		minOrder, err := decimal.NewFromString(*req.MinOrderValue)
		if err != nil || minOrder.IsNegative() {
			return nil, &models.ValidationError{Field: "min_order_value", Message: "min_order_value must be a non-negative decimal"}
		}
		coupon.MinOrderValue = &minOrder
	}

	if err := s.couponRepo.Create(coupon); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"coupon_id":     coupon.ID,
		"code":          coupon.Code,
		"discount_type": coupon.DiscountType,
	}).Info("Coupon created")

	return coupon, nil
}

// Evaluate loads a coupon and checks every eligibility rule against the
// booking context. It returns the coupon (when found) together with the
// full list of failure reasons; an empty list means eligible. Evaluate
// never mutates usage counters.
func (s *CouponService) Evaluate(code string, ctx *models.CouponContext) (*models.Coupon, []string, error) {
	coupon, err := s.couponRepo.GetByCode(code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	if coupon == nil {
		return nil, []string{"coupon not found"}, nil
	}

	var reasons []string

	if !coupon.IsActive {
		reasons = append(reasons, "coupon is not active")
	}

	now := time.Now()
	if now.Before(coupon.ValidFrom) {
		reasons = append(reasons, "coupon is not valid yet")
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		reasons = append(reasons, "coupon has expired")
	}

	if !coupon.AppliesToBooking(ctx.ConsultantID, ctx.SessionType) {
		switch coupon.AppliesTo {
		case models.CouponAppliesToConsultants:
			reasons = append(reasons, "coupon does not apply to this consultant")
		case models.CouponAppliesToSessionTypes:
			reasons = append(reasons, "coupon does not apply to this session type")
		}
	}

	if !coupon.HasRemainingUses() {
		reasons = append(reasons, "coupon usage limit reached")
	}

	if coupon.MaxUsesPerUser != nil {
		used, err := s.couponRepo.CountAcceptedUsesByEmail(coupon.ID, ctx.ClientEmail)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to count coupon uses: %w", err)
		}
		if used >= *coupon.MaxUsesPerUser {
			reasons = append(reasons, "per-user usage limit reached")
		}
	}

	if coupon.MinOrderValue != nil && ctx.OrderValue.LessThan(*coupon.MinOrderValue) {
		reasons = append(reasons, fmt.Sprintf("order value below minimum of %s", coupon.MinOrderValue.String()))
	}

	return coupon, reasons, nil
}

// Preview is the validation endpoint behind the booking UI: it evaluates a
// coupon and computes the discount it would give, without redeeming.
// Rejected previews are still persisted to the usage audit trail.
func (s *CouponService) Preview(req *models.ValidateCouponRequest) (*models.CouponValidationResult, error) {
	orderValue, err := decimal.NewFromString(req.OrderValue)
	if err != nil || orderValue.IsNegative() {
		return nil, &models.ValidationError{Field: "order_value", Message: "order_value must be a non-negative decimal"}
	}

	ctx := &models.CouponContext{
		ConsultantID: req.ConsultantID,
		SessionType:  req.SessionType,
		ClientEmail:  req.ClientEmail,
		OrderValue:   orderValue,
		Currency:     req.Currency,
	}

	coupon, reasons, err := s.Evaluate(req.Code, ctx)
	if err != nil {
		return nil, err
	}

	if len(reasons) > 0 {
		if coupon != nil {
			s.recordAttempt(coupon.ID, ctx.ClientEmail, nil, models.CouponUsageRejected, reasons)
		}
		return &models.CouponValidationResult{
			Eligible:        false,
			Reasons:         reasons,
			DiscountPreview: decimal.Zero,
		}, nil
	}

	return &models.CouponValidationResult{
		Eligible:        true,
		DiscountPreview: s.pricing.Discount(coupon, orderValue, ctx.Currency),
	}, nil
}

// Redeem consumes one use of an eligible coupon. The cap check and the
// counter increment are one UPDATE, so two concurrent redemptions of the
// last remaining use resolve to exactly one accepted usage; the loser gets
// a CouponRejectedError.
func (s *CouponService) Redeem(coupon *models.Coupon, ctx *models.CouponContext) (*models.CouponUsage, error) {
	won, err := s.couponRepo.IncrementUsage(coupon.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem coupon: %w", err)
	}
	if !won {
		reasons := []string{"coupon usage limit reached"}
		s.recordAttempt(coupon.ID, ctx.ClientEmail, nil, models.CouponUsageRejected, reasons)
		return nil, &models.CouponRejectedError{Code: coupon.Code, Reasons: reasons}
	}

	usage := &models.CouponUsage{
		CouponID:    coupon.ID,
		ClientEmail: ctx.ClientEmail,
		Outcome:     models.CouponUsageAccepted,
	}
	if err := s.couponRepo.RecordUsage(usage); err != nil {
		// The counter moved but the audit row did not; surface loudly
		s.logger.WithFields(logrus.Fields{
			"coupon_id": coupon.ID,
			"error":     err.Error(),
		}).Error("Failed to record accepted coupon usage")
		return nil, fmt.Errorf("failed to record coupon usage: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"coupon_id": coupon.ID,
		"code":      coupon.Code,
		"usage_id":  usage.ID,
	}).Info("Coupon redeemed")

	return usage, nil
}

// Release reverses a redemption after the surrounding booking creation
// failed, returning the consumed use to the pool
func (s *CouponService) Release(couponID string) error {
	if err := s.couponRepo.ReverseUsage(couponID); err != nil {
		return fmt.Errorf("failed to release coupon use: %w", err)
	}
	s.logger.WithField("coupon_id", couponID).Info("Coupon use released")
	return nil
}

// LinkUsage attaches the created booking to an accepted usage row
func (s *CouponService) LinkUsage(usageID, bookingID string) error {
	return s.couponRepo.LinkUsageToBooking(usageID, bookingID)
}

// UsageHistory returns the audit trail for a coupon
func (s *CouponService) UsageHistory(couponID string) ([]models.CouponUsage, error) {
	return s.couponRepo.GetUsageHistory(couponID)
}

// recordAttempt persists a usage row best-effort; audit write failures are
// logged, not propagated
func (s *CouponService) recordAttempt(couponID, clientEmail string, bookingID *string, outcome models.CouponUsageOutcome, reasons []string) {
	usage := &models.CouponUsage{
		CouponID:    couponID,
		ClientEmail: clientEmail,
		BookingID:   bookingID,
		Outcome:     outcome,
	}
	if len(reasons) > 0 {
		joined := strings.Join(reasons, "; ")
		usage.Reasons = &joined
	}

	if err := s.couponRepo.RecordUsage(usage); err != nil {
		s.logger.WithFields(logrus.Fields{
			"coupon_id": couponID,
			"outcome":   outcome,
			"error":     err.Error(),
		}).Warn("Failed to record coupon usage attempt")
	}
}
