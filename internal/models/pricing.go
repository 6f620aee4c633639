package models

import "github.com/shopspring/decimal"

// PricingResult is the full price breakdown for one booking. The sum
// invariant platform_fee + consultant_payout == total holds exactly because
// the payout is derived by subtraction, never computed independently.
type PricingResult struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	Total            decimal.Decimal `json:"total"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	ConsultantPayout decimal.Decimal `json:"consultant_payout"`
	Currency         string          `json:"currency"`
}
