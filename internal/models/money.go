package models

import (
	"github.com/shopspring/decimal"
)

// Monetary amounts are decimal.Decimal end to end and live in numeric(12,2)
// columns. Floats never touch balance or charge math.

var daysPerWeek = decimal.NewFromInt(7)

// RoundHalfUp rounds an amount to two decimal places, ties away from zero.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ProRate computes price × days / periodDays rounded half-up to the minor
// unit. Full coverage short-circuits to the undivided price so the common
// whole-period case never picks up rounding drift.
func ProRate(price decimal.Decimal, days, periodDays int) decimal.Decimal {
	if days >= periodDays {
		return price
	}
	return price.
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(int64(periodDays))).
		Round(2)
}

// WeeklyRate computes weeklyPrice / 7 × days rounded half-up. Weekly packages
// bill per elapsed day, not per calendar month.
func WeeklyRate(weeklyPrice decimal.Decimal, days int) decimal.Decimal {
	return weeklyPrice.
		Mul(decimal.NewFromInt(int64(days))).
		Div(daysPerWeek).
		Round(2)
}
