package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusIssued    InvoiceStatus = "issued"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
)

// CanTransition enforces the forward-only invoice state machine:
// draft → issued → paid, with cancelled reachable from any pre-paid status.
func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	switch to {
	case StatusIssued:
		return s == StatusDraft
	case StatusPaid:
		return s == StatusIssued
	case StatusCancelled:
		return s == StatusDraft || s == StatusIssued
	}
	return false
}

// Invoice freezes a date-bounded slice of ledger activity. Once issued, line
// items and subtotal never change; corrections become new invoices or new
// ledger entries.
type Invoice struct {
	ID               int64             `json:"id"`
	AccountID        string            `json:"accountId"`
	InvoiceNumber    string            `json:"invoiceNumber"`
	PeriodStart      time.Time         `json:"periodStart"`
	PeriodEnd        time.Time         `json:"periodEnd"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	PaymentsReceived decimal.Decimal   `json:"paymentsReceived"`
	BalanceDue       decimal.Decimal   `json:"balanceDue"`
	Status           InvoiceStatus     `json:"status"`
	IssueDate        *time.Time        `json:"issueDate,omitempty"`
	DueDate          time.Time         `json:"dueDate"`
	PaidDate         *time.Time        `json:"paidDate,omitempty"`
	DocumentRef      string            `json:"documentRef,omitempty"`
	CreatedBy        string            `json:"createdBy"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	LineItems        []InvoiceLineItem `json:"lineItems"`
}

// Overdue is a derived display state, never stored: an issued invoice past
// its due date with money still owing.
func (inv *Invoice) Overdue(today time.Time) bool {
	return inv.Status == StatusIssued &&
		DateOnly(inv.DueDate).Before(DateOnly(today)) &&
		inv.BalanceDue.IsPositive()
}

type InvoiceLineItem struct {
	ID            int64           `json:"id"`
	InvoiceID     int64           `json:"invoiceId"`
	LedgerEntryID *int64          `json:"ledgerEntryId,omitempty"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category,omitempty"`
	PeriodStart   *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd     *time.Time      `json:"periodEnd,omitempty"`
}

// Reconciles reports whether amount = quantity × unit price to the minor unit.
func (li *InvoiceLineItem) Reconciles() bool {
	return li.Amount.Equal(RoundHalfUp(li.Quantity.Mul(li.UnitPrice)))
}
