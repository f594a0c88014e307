package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/stablebook/backend/internal/models"
)

// LedgerService owns the append-only account ledger: recording entries,
// the void/reversal protocol, derived balances, and receipt numbering.
// Balances are never stored; they are always recomputed from non-voided rows.
type LedgerService struct {
	db        *sql.DB
	validator *ValidationHelper
	notifier  Notifier
}

func NewLedgerService(db *sql.DB, notifier Notifier) *LedgerService {
	return &LedgerService{
		db:        db,
		validator: NewValidationHelper(),
		notifier:  notifier,
	}
}

const entryColumns = `id, account_id, kind, amount, description, note,
	service_request_id, package_id, period_start, period_end,
	payment_method, payment_reference, receipt_number,
	voided, voided_at, voided_by, void_reason, original_entry_id,
	transaction_date, created_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var note, method, reference, voidedBy, voidReason sql.NullString
	err := row.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.Description, &note,
		&e.ServiceRequestID, &e.PackageID, &e.PeriodStart, &e.PeriodEnd,
		&method, &reference, &e.ReceiptNumber,
		&e.Voided, &e.VoidedAt, &voidedBy, &voidReason, &e.OriginalEntryID,
		&e.TransactionDate, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Note = note.String
	e.PaymentMethod = method.String
	e.PaymentReference = reference.String
	e.VoidedBy = voidedBy.String
	e.VoidReason = voidReason.String
	return &e, nil
}

// lockHolder serializes write activity per account holder. Billing runs,
// voids and invoice generation for one holder must not interleave.
func lockHolder(tx *sql.Tx, accountID string) error {
	_, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, accountID)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Record validates and persists a ledger entry. Payment-kind entries are
// atomically assigned the next receipt number unless the draft carries an
// explicit one (imports); an explicit collision fails with ErrDuplicateReceipt.
func (s *LedgerService) Record(draft models.EntryDraft) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.RecordTx(tx, draft)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordTx is the transactional body of Record, composable with invoice
// generation and the billing job.
func (s *LedgerService) RecordTx(tx *sql.Tx, draft models.EntryDraft) (*models.LedgerEntry, error) {
	if err := s.validateDraft(&draft); err != nil {
		return nil, err
	}
	if err := lockHolder(tx, draft.AccountID); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		AccountID:        draft.AccountID,
		Kind:             draft.Kind,
		Amount:           models.RoundHalfUp(draft.Amount),
		Description:      draft.Description,
		Note:             draft.Note,
		ServiceRequestID: draft.ServiceRequestID,
		PackageID:        draft.PackageID,
		PeriodStart:      draft.PeriodStart,
		PeriodEnd:        draft.PeriodEnd,
		PaymentMethod:    draft.PaymentMethod,
		PaymentReference: draft.PaymentReference,
		ReceiptNumber:    draft.ReceiptNumber,
		TransactionDate:  models.DateOnly(time.Now()),
		CreatedBy:        draft.CreatedBy,
	}
	if draft.TransactionDate != nil {
		entry.TransactionDate = models.DateOnly(*draft.TransactionDate)
	}

	if entry.Kind == models.KindPayment {
		if entry.ReceiptNumber == nil {
			n, err := s.nextReceiptNumber(tx)
			if err != nil {
				return nil, err
			}
			entry.ReceiptNumber = &n
		}
		if entry.PaymentReference == "" {
			entry.PaymentReference = uuid.New().String()
		}
	}

	if err := s.insertEntry(tx, entry); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReceipt
		}
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) validateDraft(draft *models.EntryDraft) error {
	if err := s.validator.ValidateStruct(draft); err != nil {
		return NewValidationError("invalid entry: %v", err)
	}
	switch {
	case draft.Kind.IsCharge() && draft.Amount.IsNegative():
		return NewValidationError("%s amount must not be negative", draft.Kind)
	case draft.Kind.IsCredit() && draft.Amount.IsPositive():
		return NewValidationError("%s amount must not be positive", draft.Kind)
	case draft.ReceiptNumber != nil && draft.Kind != models.KindPayment:
		return NewValidationError("receipt numbers belong to payment entries only")
	case draft.Kind == models.KindPayment && draft.PaymentMethod == "":
		return NewValidationError("payment entries require a payment method")
	}
	return nil
}

func (s *LedgerService) nextReceiptNumber(tx *sql.Tx) (int64, error) {
	var n int64
	err := tx.QueryRow(`SELECT nextval('receipt_number_seq')`).Scan(&n)
	return n, err
}

func (s *LedgerService) insertEntry(tx *sql.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(`
		INSERT INTO ledger_entries (
			account_id, kind, amount, description, note,
			service_request_id, package_id, period_start, period_end,
			payment_method, payment_reference, receipt_number,
			voided, original_entry_id, transaction_date, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at`,
		e.AccountID, e.Kind, e.Amount, e.Description, nullStr(e.Note),
		e.ServiceRequestID, e.PackageID, e.PeriodStart, e.PeriodEnd,
		nullStr(e.PaymentMethod), nullStr(e.PaymentReference), e.ReceiptNumber,
		e.Voided, e.OriginalEntryID, e.TransactionDate, e.CreatedBy).
		Scan(&e.ID, &e.CreatedAt)
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Void marks an entry voided and inserts the equal-and-opposite reversal in
// the same transaction. The original row keeps its amount and kind; the pair
// nets to zero. Reversal entries can themselves be voided, chaining further
// reversals.
func (s *LedgerService) Void(entryID int64, actorID, reason string) (voided, reversal *models.LedgerEntry, err error) {
	if reason == "" {
		return nil, nil, NewValidationError("void reason is required")
	}
	if actorID == "" {
		return nil, nil, NewValidationError("voiding actor is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var accountID string
	err = tx.QueryRow(`SELECT account_id FROM ledger_entries WHERE id = $1`, entryID).Scan(&accountID)
	if err == sql.ErrNoRows {
		return nil, nil, NewNotFoundError("ledger entry %d not found", entryID)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := lockHolder(tx, accountID); err != nil {
		return nil, nil, err
	}

	entry, err := scanEntry(tx.QueryRow(
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, entryID))
	if err != nil {
		return nil, nil, err
	}
	if entry.Voided {
		return nil, nil, ErrAlreadyVoided
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE ledger_entries
		SET voided = true, voided_at = $1, voided_by = $2, void_reason = $3
		WHERE id = $4`, now, actorID, reason, entryID); err != nil {
		return nil, nil, err
	}
	entry.Voided = true
	entry.VoidedAt = &now
	entry.VoidedBy = actorID
	entry.VoidReason = reason

	// Reversals skip draft validation on purpose: a payment reversal is a
	// positive payment-kind row, which Record would reject. Receipt numbers
	// are never carried over or reused.
	rev := &models.LedgerEntry{
		AccountID:        entry.AccountID,
		Kind:             entry.Kind,
		Amount:           entry.Amount.Neg(),
		Description:      "REVERSAL: " + entry.Description,
		Note:             reason,
		ServiceRequestID: entry.ServiceRequestID,
		PackageID:        entry.PackageID,
		PeriodStart:      entry.PeriodStart,
		PeriodEnd:        entry.PeriodEnd,
		OriginalEntryID:  &entry.ID,
		TransactionDate:  models.DateOnly(now),
		CreatedBy:        actorID,
	}
	if err := s.insertEntry(tx, rev); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	go func() {
		err := s.notifier.Notify(context.Background(), BillingEvent{
			Type:      EventEntryVoided,
			AccountID: entry.AccountID,
			EntryID:   entry.ID,
			Detail:    reason,
		})
		if err != nil {
			log.Printf("[LEDGER] void notification failed for entry %d: %v", entry.ID, err)
		}
	}()

	return entry, rev, nil
}

// Balance returns the signed sum over the holder's non-voided entries.
// Positive means owed, negative means in credit.
func (s *LedgerService) Balance(accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND voided = false`, accountID).Scan(&balance)
	return balance, err
}

// EntriesForPeriod returns the holder's non-voided entries with a
// transaction date inside the closed period, ordered by date then id.
func (s *LedgerService) EntriesForPeriod(accountID string, period models.Period) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1 AND voided = false
		  AND transaction_date >= $2 AND transaction_date <= $3
		ORDER BY transaction_date, id`,
		accountID, models.DateOnly(period.Start), models.DateOnly(period.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Entry fetches a single entry by id.
func (s *LedgerService) Entry(entryID int64) (*models.LedgerEntry, error) {
	entry, err := scanEntry(s.db.QueryRow(
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID))
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("ledger entry %d not found", entryID)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// --- HTTP handlers ---

// PaymentRequest is the public payload for recording a payment. Clients
// send the amount paid as a positive figure; the ledger stores it negated.
type PaymentRequest struct {
	AccountID       string          `json:"accountId" validate:"required,max=64"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method" validate:"required,oneof=cash card bank_transfer cheque"`
	Reference       string          `json:"reference" validate:"max=100"`
	Note            string          `json:"note" validate:"max=1000"`
	TransactionDate *time.Time      `json:"transactionDate,omitempty"`
}

// RecordPayment records a payment against an account
// @Summary Record a payment
// @Description Record a payment received from an account holder; assigns the next receipt number
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payment body PaymentRequest true "Payment data"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /ledger/payments [post]
func (s *LedgerService) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "payment amount must be positive", http.StatusBadRequest, nil)
		return
	}

	entry, err := s.Record(models.EntryDraft{
		AccountID:        req.AccountID,
		Kind:             models.KindPayment,
		Amount:           req.Amount.Neg(),
		Description:      "Payment received (" + req.Method + ")",
		Note:             req.Note,
		PaymentMethod:    req.Method,
		PaymentReference: req.Reference,
		TransactionDate:  req.TransactionDate,
		CreatedBy:        actorID(r),
	})
	if err != nil {
		SendCoreError(w, err)
		return
	}

	go func() {
		err := s.notifier.Notify(context.Background(), BillingEvent{
			Type:      EventPaymentRecorded,
			AccountID: entry.AccountID,
			EntryID:   entry.ID,
		})
		if err != nil {
			log.Printf("[LEDGER] payment notification failed for entry %d: %v", entry.ID, err)
		}
	}()

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "entry": entry})
}

// RecordEntry records a charge, credit, or adjustment
// @Summary Record a ledger entry
// @Description Record a charge, credit, or adjustment entry; payments go through /ledger/payments
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param entry body models.EntryDraft true "Entry draft"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/entries [post]
func (s *LedgerService) RecordEntry(w http.ResponseWriter, r *http.Request) {
	var draft models.EntryDraft
	if !decodeJSON(w, r, &draft) {
		return
	}
	if draft.Kind == models.KindPayment {
		SendErrorResponse(w, "payments must be recorded via /ledger/payments", http.StatusBadRequest, nil)
		return
	}
	draft.CreatedBy = actorID(r)

	entry, err := s.Record(draft)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "entry": entry})
}

// VoidEntry voids a ledger entry
// @Summary Void a ledger entry
// @Description Mark an entry voided and insert the equal-and-opposite reversal; both rows are returned
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param entryId path int true "Entry ID"
// @Param request body object{reason=string} true "Void reason"
// @Success 200 {object} object{voided=models.LedgerEntry,reversal=models.LedgerEntry}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /ledger/entries/{entryId}/void [post]
func (s *LedgerService) VoidEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	voided, reversal, err := s.Void(entryID, actorID(r), req.Reason)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"voided":   voided,
		"reversal": reversal,
	})
}

// GetBalance returns the derived account balance
// @Summary Account balance
// @Description Signed sum over the holder's non-voided entries; positive = owed
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param accountId query string true "Account holder id"
// @Success 200 {object} object{accountId=string,balance=string}
// @Router /ledger/balance [get]
func (s *LedgerService) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}
	balance, err := s.Balance(accountID)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "balance": balance})
}

// ListEntries lists non-voided entries for an account within a date range
// @Summary List ledger entries
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param accountId query string true "Account holder id"
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {array} models.LedgerEntry
// @Router /ledger/entries [get]
func (s *LedgerService) ListEntries(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	entries, err := s.EntriesForPeriod(accountID, period)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// GetReceiptQR returns a verification QR code for a payment receipt
// @Summary Receipt verification QR
// @Description Encode the receipt's payment details into a scannable QR image
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param receiptNo path int true "Receipt number"
// @Success 200 {object} object{receiptNumber=int64,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /ledger/receipts/{receiptNo}/qr [get]
func (s *LedgerService) GetReceiptQR(w http.ResponseWriter, r *http.Request) {
	receiptNo, err := strconv.ParseInt(chi.URLParam(r, "receiptNo"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid receipt number", http.StatusBadRequest, nil)
		return
	}

	entry, err := scanEntry(s.db.QueryRow(
		`SELECT `+entryColumns+` FROM ledger_entries WHERE receipt_number = $1 AND kind = $2`,
		receiptNo, models.KindPayment))
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Receipt not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendCoreError(w, err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"receiptNumber": receiptNo,
		"accountId":     entry.AccountID,
		"amount":        entry.Amount.Neg(),
		"method":        entry.PaymentMethod,
		"reference":     entry.PaymentReference,
		"date":          entry.TransactionDate.Format("2006-01-02"),
		"voided":        entry.Voided,
	})
	if err != nil {
		SendCoreError(w, err)
		return
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"receiptNumber": receiptNo,
		"qrImage":       base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// --- shared handler plumbing ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func actorID(r *http.Request) string {
	id, _ := r.Context().Value("userID").(string)
	return id
}

func parsePeriod(from, to string) (models.Period, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return models.Period{}, errors.New("invalid from date, expected YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return models.Period{}, errors.New("invalid to date, expected YYYY-MM-DD")
	}
	if end.Before(start) {
		return models.Period{}, errors.New("to date precedes from date")
	}
	return models.Period{Start: start, End: end}, nil
}
