package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BillingRates holds the billing constants injected into the statement and scheduler services.
type BillingRates struct {
	DailyPenaltyRate         decimal.Decimal // fraction of debt per overdue day
	MaxPenaltyRateCap        decimal.Decimal // fraction of debt the penalty never exceeds
	MinimumPaymentPercentage decimal.Decimal
	MinimumPaymentThreshold  int64 // debts below this need no minimum payment and draw no penalty
	MonthlyInterestRate      decimal.Decimal
	DefaultGraceDays         int
}

// DefaultBillingRates mirrors the production defaults.
func DefaultBillingRates() BillingRates {
	return BillingRates{
		DailyPenaltyRate:         decimal.RequireFromString("0.02"),
		MaxPenaltyRateCap:        decimal.RequireFromString("0.20"),
		MinimumPaymentPercentage: decimal.RequireFromString("0.10"),
		MinimumPaymentThreshold:  100000,
		MonthlyInterestRate:      decimal.RequireFromString("0.02"),
		DefaultGraceDays:         5,
	}
}

func (r BillingRates) Validate() error {
	rates := map[string]decimal.Decimal{
		"daily penalty rate":         r.DailyPenaltyRate,
		"max penalty rate cap":       r.MaxPenaltyRateCap,
		"minimum payment percentage": r.MinimumPaymentPercentage,
		"monthly interest rate":      r.MonthlyInterestRate,
	}
	for name, v := range rates {
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: %s must be within [0, 1], got %s", ErrInvalidInput, name, v)
		}
	}
	if r.MinimumPaymentThreshold < 0 {
		return fmt.Errorf("%w: minimum payment threshold must not be negative", ErrInvalidInput)
	}
	if r.DefaultGraceDays < 0 {
		return fmt.Errorf("%w: default grace days must not be negative", ErrInvalidInput)
	}
	return nil
}

// Portion returns floor(amount × rate) for a non-negative amount in minor units.
func Portion(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}

// PortionCeil returns ceil(amount × rate) for a non-negative amount in minor units.
func PortionCeil(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Ceil().IntPart()
}
