package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stablebook/backend/internal/config"
	"github.com/stablebook/backend/internal/models"
)

// InvoiceService rolls ledger activity into immutable invoice documents.
// Generation and numbering are transactional; rendering and notification
// happen after commit and never roll the invoice back.
type InvoiceService struct {
	db       *sql.DB
	cfg      *config.BillingConfig
	renderer DocumentRenderer
	notifier Notifier
}

func NewInvoiceService(db *sql.DB, cfg *config.BillingConfig, renderer DocumentRenderer, notifier Notifier) *InvoiceService {
	return &InvoiceService{db: db, cfg: cfg, renderer: renderer, notifier: notifier}
}

// ManualLineItem is a staff-supplied invoice line. Amount must equal
// quantity × unit price to the minor unit.
type ManualLineItem struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category" validate:"max=100"`
	PeriodStart *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time      `json:"periodEnd,omitempty"`
}

// GenerateInvoiceParams collects everything Generate needs. CreatedBy is the
// acting staff member, taken from the auth context by the handler.
type GenerateInvoiceParams struct {
	AccountID    string
	Period       models.Period
	DueDate      time.Time
	AutoPopulate bool
	ManualItems  []ManualLineItem
	CreatedBy    string
}

// Generate assembles a draft invoice for the period. With AutoPopulate, every
// unbilled non-voided charge entry in the period becomes a line item (qty 1,
// unit price = entry amount, linked back to the entry). Payments received is
// the negated sum of payment and credit entries dated inside the same period;
// the aged-debt report reconciles against the same ledger rows.
func (s *InvoiceService) Generate(p GenerateInvoiceParams) (*models.Invoice, error) {
	if p.AccountID == "" {
		return nil, NewValidationError("accountId is required")
	}
	if models.DateOnly(p.Period.End).Before(models.DateOnly(p.Period.Start)) {
		return nil, NewValidationError("invoice period end precedes start")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := lockHolder(tx, p.AccountID); err != nil {
		return nil, err
	}

	var items []models.InvoiceLineItem
	if p.AutoPopulate {
		items, err = s.unbilledChargeItems(tx, p.AccountID, p.Period)
		if err != nil {
			return nil, err
		}
	}
	for i := range p.ManualItems {
		li, err := manualItem(&p.ManualItems[i])
		if err != nil {
			return nil, err
		}
		items = append(items, *li)
	}
	if len(items) == 0 {
		return nil, ErrEmptyInvoice
	}

	// Final reconciliation before anything persists: every line must still
	// equal quantity × unit price, and the recomputed total is the subtotal.
	// A mismatch means corrupted assembly and aborts the whole generation.
	subtotal := decimal.Zero
	for i := range items {
		if !items[i].Reconciles() {
			return nil, NewConsistencyError("line item %q: amount %s does not equal quantity × unit price",
				items[i].Description, items[i].Amount)
		}
		subtotal = subtotal.Add(items[i].Amount)
	}

	var paymentsReceived decimal.Decimal
	err = tx.QueryRow(`
		SELECT COALESCE(-SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND voided = false
		  AND kind IN ($2, $3)
		  AND transaction_date >= $4 AND transaction_date <= $5`,
		p.AccountID, models.KindPayment, models.KindCredit,
		models.DateOnly(p.Period.Start), models.DateOnly(p.Period.End)).
		Scan(&paymentsReceived)
	if err != nil {
		return nil, err
	}

	year := time.Now().UTC().Year()
	number, err := s.nextInvoiceNumber(tx, year)
	if err != nil {
		return nil, err
	}

	inv := &models.Invoice{
		AccountID:        p.AccountID,
		InvoiceNumber:    number,
		PeriodStart:      models.DateOnly(p.Period.Start),
		PeriodEnd:        models.DateOnly(p.Period.End),
		Subtotal:         subtotal,
		PaymentsReceived: paymentsReceived,
		BalanceDue:       subtotal.Sub(paymentsReceived),
		Status:           models.StatusDraft,
		DueDate:          models.DateOnly(p.DueDate),
		CreatedBy:        p.CreatedBy,
	}
	err = tx.QueryRow(`
		INSERT INTO invoices (
			account_id, invoice_number, period_start, period_end,
			subtotal, payments_received, balance_due, status, due_date, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		inv.AccountID, inv.InvoiceNumber, inv.PeriodStart, inv.PeriodEnd,
		inv.Subtotal, inv.PaymentsReceived, inv.BalanceDue, inv.Status,
		inv.DueDate, inv.CreatedBy).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewConflictError("invoice number %s already allocated", number)
		}
		return nil, err
	}

	for i := range items {
		items[i].InvoiceID = inv.ID
		err = tx.QueryRow(`
			INSERT INTO invoice_line_items (
				invoice_id, ledger_entry_id, description, quantity,
				unit_price, amount, category, period_start, period_end
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			items[i].InvoiceID, items[i].LedgerEntryID, items[i].Description,
			items[i].Quantity, items[i].UnitPrice, items[i].Amount,
			nullStr(items[i].Category), items[i].PeriodStart, items[i].PeriodEnd).
			Scan(&items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	inv.LineItems = items

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inv, nil
}

func manualItem(m *ManualLineItem) (*models.InvoiceLineItem, error) {
	qty := m.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	if qty.IsNegative() {
		return nil, NewValidationError("line item quantity must be positive")
	}
	li := &models.InvoiceLineItem{
		Description: m.Description,
		Quantity:    qty,
		UnitPrice:   m.UnitPrice,
		Amount:      m.Amount,
		Category:    m.Category,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
	}
	if li.Amount.IsZero() {
		li.Amount = models.RoundHalfUp(qty.Mul(m.UnitPrice))
	}
	if !li.Reconciles() {
		return nil, NewValidationError("line item %q: amount %s does not equal quantity × unit price",
			m.Description, m.Amount)
	}
	if li.Description == "" {
		return nil, NewValidationError("line item description is required")
	}
	return li, nil
}

// unbilledChargeItems converts the period's unbilled charge entries into line
// items. Payment and credit kinds are excluded (they feed payments_received),
// as is anything already referenced by a non-cancelled invoice.
func (s *InvoiceService) unbilledChargeItems(tx *sql.Tx, accountID string, period models.Period) ([]models.InvoiceLineItem, error) {
	rows, err := tx.Query(`
		SELECT e.id, e.kind, e.amount, e.description, e.period_start, e.period_end
		FROM ledger_entries e
		WHERE e.account_id = $1 AND e.voided = false
		  AND e.kind NOT IN ($2, $3)
		  AND e.transaction_date >= $4 AND e.transaction_date <= $5
		  AND NOT EXISTS (
			SELECT 1 FROM invoice_line_items li
			JOIN invoices i ON i.id = li.invoice_id
			WHERE li.ledger_entry_id = e.id AND i.status <> $6
		  )
		ORDER BY e.transaction_date, e.id`,
		accountID, models.KindPayment, models.KindCredit,
		models.DateOnly(period.Start), models.DateOnly(period.End),
		models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.InvoiceLineItem
	one := decimal.NewFromInt(1)
	for rows.Next() {
		var (
			entryID int64
			kind    models.EntryKind
			amount  decimal.Decimal
			desc    string
			ps, pe  *time.Time
		)
		if err := rows.Scan(&entryID, &kind, &amount, &desc, &ps, &pe); err != nil {
			return nil, err
		}
		id := entryID
		items = append(items, models.InvoiceLineItem{
			LedgerEntryID: &id,
			Description:   desc,
			Quantity:      one,
			UnitPrice:     amount,
			Amount:        amount,
			Category:      string(kind),
			PeriodStart:   ps,
			PeriodEnd:     pe,
		})
	}
	return items, rows.Err()
}

// nextInvoiceNumber allocates the next number in the year's sequence.
// Allocation is a single upsert so concurrent generators serialize on the
// counter row; numbers may gap (a rolled-back generation burns one) but are
// never reused.
func (s *InvoiceService) nextInvoiceNumber(tx *sql.Tx, year int) (string, error) {
	var seq int64
	err := tx.QueryRow(`
		INSERT INTO invoice_counters (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = invoice_counters.last_value + 1
		RETURNING last_value`, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%0*d", s.cfg.InvoicePrefix, year, s.cfg.InvoiceSeqPad, seq), nil
}

// Issue moves a draft invoice to issued, stamping the issue date and
// freezing its content. Rendering and notification follow the commit.
func (s *InvoiceService) Issue(invoiceID int64, actorID string) (*models.Invoice, error) {
	if err := s.transition(invoiceID, models.StatusIssued, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE invoices SET status = $1, issue_date = now(), updated_at = now()
			WHERE id = $2`, models.StatusIssued, invoiceID)
		return err
	}); err != nil {
		return nil, err
	}

	inv, err := s.Get(invoiceID)
	if err != nil {
		return nil, err
	}

	go s.renderAndNotify(inv)
	return inv, nil
}

// Cancel is reachable from any pre-paid status.
func (s *InvoiceService) Cancel(invoiceID int64, actorID string) (*models.Invoice, error) {
	if err := s.transition(invoiceID, models.StatusCancelled, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE invoices SET status = $1, updated_at = now()
			WHERE id = $2`, models.StatusCancelled, invoiceID)
		return err
	}); err != nil {
		return nil, err
	}
	return s.Get(invoiceID)
}

// MarkPaid records settlement of an issued invoice.
func (s *InvoiceService) MarkPaid(invoiceID int64, paidDate time.Time) (*models.Invoice, error) {
	if paidDate.IsZero() {
		paidDate = time.Now().UTC()
	}
	if err := s.transition(invoiceID, models.StatusPaid, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE invoices SET status = $1, paid_date = $2, updated_at = now()
			WHERE id = $3`, models.StatusPaid, models.DateOnly(paidDate), invoiceID)
		return err
	}); err != nil {
		return nil, err
	}
	return s.Get(invoiceID)
}

// transition locks the invoice row, checks the state machine, and applies
// the update inside one transaction.
func (s *InvoiceService) transition(invoiceID int64, to models.InvoiceStatus, apply func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status models.InvoiceStatus
	err = tx.QueryRow(`SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID).Scan(&status)
	if err == sql.ErrNoRows {
		return NewNotFoundError("invoice %d not found", invoiceID)
	}
	if err != nil {
		return err
	}
	if !status.CanTransition(to) {
		return NewConflictError("invoice %d cannot move from %s to %s", invoiceID, status, to)
	}
	if err := apply(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *InvoiceService) renderAndNotify(inv *models.Invoice) {
	ref, err := s.renderer.Render(inv)
	if err != nil {
		log.Printf("[INVOICE] render failed for %s: %v", inv.InvoiceNumber, err)
	} else if ref != "" {
		if _, err := s.db.Exec(
			`UPDATE invoices SET document_ref = $1, updated_at = now() WHERE id = $2`,
			ref, inv.ID); err != nil {
			log.Printf("[INVOICE] storing document ref failed for %s: %v", inv.InvoiceNumber, err)
		}
	}

	err = s.notifier.Notify(context.Background(), BillingEvent{
		Type:      EventInvoiceIssued,
		AccountID: inv.AccountID,
		InvoiceID: inv.ID,
		Detail:    inv.InvoiceNumber,
	})
	if err != nil {
		log.Printf("[INVOICE] issue notification failed for %s: %v", inv.InvoiceNumber, err)
	}
}

// Get loads an invoice with its line items.
func (s *InvoiceService) Get(invoiceID int64) (*models.Invoice, error) {
	inv, err := s.scanInvoice(s.db.QueryRow(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID))
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("invoice %d not found", invoiceID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, invoice_id, ledger_entry_id, description, quantity,
		       unit_price, amount, COALESCE(category, ''), period_start, period_end
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var li models.InvoiceLineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.LedgerEntryID, &li.Description,
			&li.Quantity, &li.UnitPrice, &li.Amount, &li.Category,
			&li.PeriodStart, &li.PeriodEnd); err != nil {
			return nil, err
		}
		inv.LineItems = append(inv.LineItems, li)
	}
	return inv, rows.Err()
}

// ListByAccount returns the holder's invoices, newest first, without items.
func (s *InvoiceService) ListByAccount(accountID string) ([]models.Invoice, error) {
	rows, err := s.db.Query(
		`SELECT `+invoiceColumns+` FROM invoices WHERE account_id = $1 ORDER BY id DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := s.scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

const invoiceColumns = `id, account_id, invoice_number, period_start, period_end,
	subtotal, payments_received, balance_due, status, issue_date, due_date,
	paid_date, document_ref, created_by, created_at, updated_at`

func (s *InvoiceService) scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var docRef sql.NullString
	err := row.Scan(&inv.ID, &inv.AccountID, &inv.InvoiceNumber, &inv.PeriodStart,
		&inv.PeriodEnd, &inv.Subtotal, &inv.PaymentsReceived, &inv.BalanceDue,
		&inv.Status, &inv.IssueDate, &inv.DueDate, &inv.PaidDate, &docRef,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.DocumentRef = docRef.String
	return &inv, nil
}
