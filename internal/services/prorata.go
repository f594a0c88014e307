package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stablebook/backend/internal/models"
)

// ProRataCharge is the calculator's output: the rounded charge plus the
// human-readable rationale that ends up in the ledger description.
type ProRataCharge struct {
	Amount       decimal.Decimal
	Rationale    string
	BillableDays int
	PeriodDays   int
}

// ProRataCalculator turns a billing period, a package definition, and a
// horse's livery window into a charge. It is pure: no clock, no storage.
type ProRataCalculator struct{}

// Charge computes the pro-rata charge for one horse over one period.
// A nil result with nil error means no charge: the horse had zero billable
// days, so no zero-amount entry should be written.
//
// Monthly packages charge monthly_price × billable/period days; full
// coverage charges the undivided monthly price. Weekly packages charge
// weekly_price / 7 per billable day. Month lengths come from the calendar,
// never a constant, so leap Februaries just work.
func (ProRataCalculator) Charge(period models.Period, pkg models.LiveryPackage, liveryStart, liveryEnd *time.Time) (*ProRataCharge, error) {
	from := models.DateOnly(period.Start)
	to := models.DateOnly(period.End)
	if to.Before(from) {
		return nil, NewValidationError("billing period end precedes start")
	}

	if liveryStart != nil && models.DateOnly(*liveryStart).After(from) {
		from = models.DateOnly(*liveryStart)
	}
	if liveryEnd != nil && models.DateOnly(*liveryEnd).Before(to) {
		to = models.DateOnly(*liveryEnd)
	}
	// Assigned and unassigned inside the same period can clip to an empty
	// window; that is a no-charge, not an error.
	if to.Before(from) {
		return nil, nil
	}

	billable := int(to.Sub(from).Hours()/24) + 1
	periodDays := period.Days()

	var amount decimal.Decimal
	switch pkg.BillingType {
	case models.BillingMonthly:
		if pkg.MonthlyPrice == nil {
			return nil, NewValidationError("package %q has no monthly price", pkg.Name)
		}
		amount = models.ProRate(*pkg.MonthlyPrice, billable, periodDays)
	case models.BillingWeekly:
		if pkg.WeeklyPrice == nil {
			return nil, NewValidationError("package %q has no weekly price", pkg.Name)
		}
		amount = models.WeeklyRate(*pkg.WeeklyPrice, billable)
	default:
		return nil, NewValidationError("package %q has unknown billing type %q", pkg.Name, pkg.BillingType)
	}

	monthLabel := period.Start.Format("January 2006")
	rationale := fmt.Sprintf("%d of %d days in %s", billable, periodDays, monthLabel)
	if billable == periodDays {
		rationale = fmt.Sprintf("full period, %s", monthLabel)
	}

	return &ProRataCharge{
		Amount:       amount,
		Rationale:    rationale,
		BillableDays: billable,
		PeriodDays:   periodDays,
	}, nil
}
