package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry. Amount signs follow the kind:
// charges are non-negative (money owed), payments and credits are
// non-positive (money received), adjustments may carry either sign.
type EntryKind string

const (
	KindPackageCharge EntryKind = "package_charge"
	KindServiceCharge EntryKind = "service_charge"
	KindPayment       EntryKind = "payment"
	KindCredit        EntryKind = "credit"
	KindAdjustment    EntryKind = "adjustment"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindPackageCharge, KindServiceCharge, KindPayment, KindCredit, KindAdjustment:
		return true
	}
	return false
}

// IsCharge reports whether the kind increases what the account holder owes.
func (k EntryKind) IsCharge() bool {
	return k == KindPackageCharge || k == KindServiceCharge
}

// IsCredit reports whether the kind represents money received or credited.
func (k EntryKind) IsCredit() bool {
	return k == KindPayment || k == KindCredit
}

// Payment methods accepted when recording payment entries.
const (
	MethodCash         = "cash"
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodCheque       = "cheque"
)

// LedgerEntry is one immutable financial event. Rows are never deleted;
// the only mutation ever applied is the void protocol, which sets the
// void fields and inserts a linked equal-and-opposite reversal entry.
type LedgerEntry struct {
	ID               int64           `json:"id"`
	AccountID        string          `json:"accountId"`
	Kind             EntryKind       `json:"kind"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	Note             string          `json:"note,omitempty"`
	ServiceRequestID *int64          `json:"serviceRequestId,omitempty"`
	PackageID        *int64          `json:"packageId,omitempty"`
	PeriodStart      *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd        *time.Time      `json:"periodEnd,omitempty"`
	PaymentMethod    string          `json:"paymentMethod,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	ReceiptNumber    *int64          `json:"receiptNumber,omitempty"`
	Voided           bool            `json:"voided"`
	VoidedAt         *time.Time      `json:"voidedAt,omitempty"`
	VoidedBy         string          `json:"voidedBy,omitempty"`
	VoidReason       string          `json:"voidReason,omitempty"`
	OriginalEntryID  *int64          `json:"originalEntryId,omitempty"`
	TransactionDate  time.Time       `json:"transactionDate"`
	CreatedBy        string          `json:"createdBy"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// EntryDraft is the caller-supplied input to LedgerService.Record. Sign/kind
// consistency is checked in code because validator tags cannot inspect
// decimal values.
type EntryDraft struct {
	AccountID        string          `json:"accountId" validate:"required,max=64"`
	Kind             EntryKind       `json:"kind" validate:"required,oneof=package_charge service_charge payment credit adjustment"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description" validate:"required,max=500"`
	Note             string          `json:"note,omitempty" validate:"max=1000"`
	ServiceRequestID *int64          `json:"serviceRequestId,omitempty"`
	PackageID        *int64          `json:"packageId,omitempty"`
	PeriodStart      *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd        *time.Time      `json:"periodEnd,omitempty"`
	PaymentMethod    string          `json:"paymentMethod,omitempty" validate:"omitempty,oneof=cash card bank_transfer cheque"`
	PaymentReference string          `json:"paymentReference,omitempty" validate:"max=100"`
	ReceiptNumber    *int64          `json:"receiptNumber,omitempty"`
	TransactionDate  *time.Time      `json:"transactionDate,omitempty"`
	CreatedBy        string          `json:"-"`
}

// Period is a closed day range; Start and End are inclusive calendar dates.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthPeriod returns the period covering one calendar month.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}

// Days returns the inclusive day count of the period.
func (p Period) Days() int {
	return int(DateOnly(p.End).Sub(DateOnly(p.Start)).Hours()/24) + 1
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
