package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSummary is the staff-facing snapshot of one account: derived
// balance, work done but not yet invoiced, and where the next invoice
// period should start.
type AccountSummary struct {
	AccountID              string          `json:"accountId"`
	DisplayName            string          `json:"displayName"`
	Email                  string          `json:"email,omitempty"`
	Balance                decimal.Decimal `json:"balance"`
	UnbilledServiceCharges int             `json:"unbilledServiceCharges"`
	LastInvoicedThrough    *time.Time      `json:"lastInvoicedThrough,omitempty"`
	CurrentPeriodStart     *time.Time      `json:"currentPeriodStart,omitempty"`
}

// AgedDebtRow buckets one holder's outstanding charges by age relative to
// the report's as-of date.
type AgedDebtRow struct {
	AccountID   string          `json:"accountId"`
	DisplayName string          `json:"displayName"`
	Current     decimal.Decimal `json:"current"`
	Month1      decimal.Decimal `json:"oneMonth"`
	Month2      decimal.Decimal `json:"twoMonths"`
	Month3Plus  decimal.Decimal `json:"threePlusMonths"`
	Total       decimal.Decimal `json:"total"`
}

type AgedDebtReport struct {
	AsOf   time.Time     `json:"asOf"`
	Rows   []AgedDebtRow `json:"rows"`
	Totals AgedDebtRow   `json:"totals"`
}

// MonthIncome is one calendar month of the income summary, broken down by
// entry kind. Payments and Credits hold the (positive) sums of money
// received; charge columns hold money billed.
type MonthIncome struct {
	Month          string          `json:"month"`
	PackageCharges decimal.Decimal `json:"packageCharges"`
	ServiceCharges decimal.Decimal `json:"serviceCharges"`
	Adjustments    decimal.Decimal `json:"adjustments"`
	Payments       decimal.Decimal `json:"payments"`
	Credits        decimal.Decimal `json:"credits"`
}

type IncomeSummary struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Months       []MonthIncome   `json:"months"`
	TotalCharges decimal.Decimal `json:"totalCharges"`
	TotalIncome  decimal.Decimal `json:"totalIncome"`
}

// BillingRunResult summarizes one execution of the monthly billing job.
type BillingRunResult struct {
	Period    Period           `json:"period"`
	Charged   int              `json:"charged"`
	Skipped   int              `json:"skipped"`
	Failures  []BillingFailure `json:"failures,omitempty"`
	EntryIDs  []int64          `json:"entryIds"`
	StartedAt time.Time        `json:"startedAt"`
}

type BillingFailure struct {
	HorseID int64  `json:"horseId"`
	OwnerID string `json:"ownerId"`
	Reason  string `json:"reason"`
}
