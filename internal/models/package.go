package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillingType string

const (
	BillingMonthly BillingType = "monthly"
	BillingWeekly  BillingType = "weekly"
)

// LiveryPackage is a subscription-like price definition referenced by horses
// and by package-charge ledger entries. Packages are deactivated, never
// deleted, while anything references them.
type LiveryPackage struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	BillingType  BillingType      `json:"billingType"`
	MonthlyPrice *decimal.Decimal `json:"monthlyPrice,omitempty"`
	WeeklyPrice  *decimal.Decimal `json:"weeklyPrice,omitempty"`
	Active       bool             `json:"active"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// HorseLivery is the billing job's view of a horse: who pays, which package
// applies, and the livery window. Nil start means "before the billing
// period"; nil end means "still on livery".
type HorseLivery struct {
	HorseID     int64      `json:"horseId"`
	HorseName   string     `json:"horseName"`
	OwnerID     string     `json:"ownerId"`
	PackageID   int64      `json:"packageId"`
	LiveryStart *time.Time `json:"liveryStart,omitempty"`
	LiveryEnd   *time.Time `json:"liveryEnd,omitempty"`
}
