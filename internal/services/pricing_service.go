package services

import (
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/shopspring/decimal"
)

// currencyMinorUnits maps ISO currency codes to the number of decimal
// places the currency settles at. Unknown currencies fall back to 2.
var currencyMinorUnits = map[string]int32{
	"USD": 2,
	"LKR": 2,
	"EUR": 2,
	"GBP": 2,
	"JPY": 0,
	"BHD": 3,
}

// MinorUnits returns the number of decimal places for a currency
func MinorUnits(currency string) int32 {
	if units, ok := currencyMinorUnits[currency]; ok {
		return units
	}
	return 2
}

// PricingEngine computes the full price breakdown for a booking. All
// arithmetic is exact decimal; rounding is half-to-even at the currency's
// minor unit and happens once per derived figure, never on intermediates.
type PricingEngine struct {
	platformFeeRate decimal.Decimal
}

// NewPricingEngine creates a pricing engine with the given platform fee
// rate (e.g. 0.15 for 15%)
func NewPricingEngine(platformFeeRate decimal.Decimal) *PricingEngine {
	return &PricingEngine{platformFeeRate: platformFeeRate}
}

// Subtotal computes rate * hours rounded to the currency's minor unit
func (e *PricingEngine) Subtotal(hourlyRate, hours decimal.Decimal, currency string) decimal.Decimal {
	return hourlyRate.Mul(hours).RoundBank(MinorUnits(currency))
}

// Discount computes the amount a coupon takes off a subtotal. A nil coupon
// discounts nothing. The result never exceeds the subtotal.
func (e *PricingEngine) Discount(coupon *models.Coupon, subtotal decimal.Decimal, currency string) decimal.Decimal {
	if coupon == nil {
		return decimal.Zero.RoundBank(MinorUnits(currency))
	}

	units := MinorUnits(currency)
	var discount decimal.Decimal

	switch coupon.DiscountType {
	case models.DiscountTypePercentage:
		discount = subtotal.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100)).RoundBank(units)
		if coupon.MaxDiscountAmount != nil && discount.GreaterThan(*coupon.MaxDiscountAmount) {
			discount = coupon.MaxDiscountAmount.RoundBank(units)
		}
	case models.DiscountTypeFixedAmount:
		discount = coupon.DiscountValue.RoundBank(units)
	case models.DiscountTypeFreeSession:
		discount = subtotal
	default:
		discount = decimal.Zero
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	return discount
}

// Price computes the full breakdown for one booking. The consultant payout
// is derived by subtraction from the total, so
// platform_fee + consultant_payout == total holds exactly.
func (e *PricingEngine) Price(hourlyRate, hours decimal.Decimal, coupon *models.Coupon, currency string) models.PricingResult {
	units := MinorUnits(currency)

	subtotal := e.Subtotal(hourlyRate, hours, currency)
	discount := e.Discount(coupon, subtotal, currency)

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero.RoundBank(units)
	}

	fee := total.Mul(e.platformFeeRate).RoundBank(units)
	payout := total.Sub(fee)

	return models.PricingResult{
		Subtotal:         subtotal,
		Discount:         discount,
		Total:            total,
		PlatformFee:      fee,
		ConsultantPayout: payout,
		Currency:         currency,
	}
}
