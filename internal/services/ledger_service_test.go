package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stablebook/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumnList = []string{
	"id", "account_id", "kind", "amount", "description", "note",
	"service_request_id", "package_id", "period_start", "period_end",
	"payment_method", "payment_reference", "receipt_number",
	"voided", "voided_at", "voided_by", "void_reason", "original_entry_id",
	"transaction_date", "created_by", "created_at",
}

func expectLockHolder(mock sqlmock.Sqlmock, accountID string) {
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(accountID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func insertReturning(id int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, time.Now())
}

func TestLedgerService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, nopNotifier{})

	t.Run("records a service charge", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(insertReturning(42))
		mock.ExpectCommit()

		entry, err := service.Record(models.EntryDraft{
			AccountID:   "acct-1",
			Kind:        models.KindServiceCharge,
			Amount:      decimal.RequireFromString("25.00"),
			Description: "Farrier visit",
			CreatedBy:   "user-1",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(42), entry.ID)
		assert.Nil(t, entry.ReceiptNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("payment gets the next receipt number", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("SELECT nextval").
			WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(1007))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(insertReturning(43))
		mock.ExpectCommit()

		entry, err := service.Record(models.EntryDraft{
			AccountID:     "acct-1",
			Kind:          models.KindPayment,
			Amount:        decimal.RequireFromString("-120.00"),
			Description:   "Payment received (cash)",
			PaymentMethod: models.MethodCash,
			CreatedBy:     "user-1",
		})
		assert.NoError(t, err)
		require.NotNil(t, entry.ReceiptNumber)
		assert.Equal(t, int64(1007), *entry.ReceiptNumber)
		assert.NotEmpty(t, entry.PaymentReference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("explicit receipt number is kept", func(t *testing.T) {
		receipt := int64(555)
		mock.ExpectBegin()
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(insertReturning(44))
		mock.ExpectCommit()

		entry, err := service.Record(models.EntryDraft{
			AccountID:     "acct-1",
			Kind:          models.KindPayment,
			Amount:        decimal.RequireFromString("-50.00"),
			Description:   "Imported payment",
			PaymentMethod: models.MethodCheque,
			ReceiptNumber: &receipt,
			CreatedBy:     "user-1",
		})
		assert.NoError(t, err)
		require.NotNil(t, entry.ReceiptNumber)
		assert.Equal(t, receipt, *entry.ReceiptNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("explicit receipt collision", func(t *testing.T) {
		receipt := int64(555)
		mock.ExpectBegin()
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "ledger_entries_receipt_number_key"})
		mock.ExpectRollback()

		_, err := service.Record(models.EntryDraft{
			AccountID:     "acct-1",
			Kind:          models.KindPayment,
			Amount:        decimal.RequireFromString("-50.00"),
			Description:   "Imported payment",
			PaymentMethod: models.MethodCheque,
			ReceiptNumber: &receipt,
			CreatedBy:     "user-1",
		})
		assert.ErrorIs(t, err, ErrDuplicateReceipt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects negative charge", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Record(models.EntryDraft{
			AccountID:   "acct-1",
			Kind:        models.KindPackageCharge,
			Amount:      decimal.RequireFromString("-10.00"),
			Description: "bad sign",
			CreatedBy:   "user-1",
		})
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects positive payment", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Record(models.EntryDraft{
			AccountID:     "acct-1",
			Kind:          models.KindPayment,
			Amount:        decimal.RequireFromString("10.00"),
			Description:   "bad sign",
			PaymentMethod: models.MethodCash,
			CreatedBy:     "user-1",
		})
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects receipt number on a charge", func(t *testing.T) {
		receipt := int64(9)
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Record(models.EntryDraft{
			AccountID:     "acct-1",
			Kind:          models.KindServiceCharge,
			Amount:        decimal.RequireFromString("10.00"),
			Description:   "has receipt",
			ReceiptNumber: &receipt,
			CreatedBy:     "user-1",
		})
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects payment without method", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Record(models.EntryDraft{
			AccountID:   "acct-1",
			Kind:        models.KindPayment,
			Amount:      decimal.RequireFromString("-10.00"),
			Description: "no method",
			CreatedBy:   "user-1",
		})
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_ReceiptNumbersAreUnique(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	service := NewLedgerService(db, nopNotifier{})

	const n = 1000
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("SELECT nextval").
			WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(i + 1)))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(insertReturning(int64(i + 1)))
		mock.ExpectCommit()
	}

	receipts := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := service.Record(models.EntryDraft{
				AccountID:     "acct-1",
				Kind:          models.KindPayment,
				Amount:        decimal.RequireFromString("-5.00"),
				Description:   fmt.Sprintf("payment %d", i),
				PaymentMethod: models.MethodCard,
				CreatedBy:     "user-1",
			})
			if assert.NoError(t, err) && assert.NotNil(t, entry.ReceiptNumber) {
				receipts[i] = *entry.ReceiptNumber
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, r := range receipts {
		assert.False(t, seen[r], "receipt %d allocated twice", r)
		seen[r] = true
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Void(t *testing.T) {
	newService := func(t *testing.T) (*LedgerService, sqlmock.Sqlmock, func()) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		return NewLedgerService(db, nopNotifier{}), mock, func() { db.Close() }
	}

	entryRow := func(id int64, voided bool) *sqlmock.Rows {
		return sqlmock.NewRows(entryColumnList).AddRow(
			id, "acct-1", "service_charge", "25.00", "Farrier visit", nil,
			nil, nil, nil, nil,
			nil, nil, nil,
			voided, nil, nil, nil, nil,
			time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "user-1", time.Now())
	}

	t.Run("voids and inserts the reversal in one transaction", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id FROM ledger_entries WHERE id = \\$1").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct-1"))
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("FROM ledger_entries WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(entryRow(7, false))
		mock.ExpectExec("UPDATE ledger_entries").
			WithArgs(sqlmock.AnyArg(), "user-2", "duplicate entry", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(insertReturning(8))
		mock.ExpectCommit()

		voided, reversal, err := service.Void(7, "user-2", "duplicate entry")
		require.NoError(t, err)

		assert.True(t, voided.Voided)
		assert.Equal(t, "user-2", voided.VoidedBy)
		assert.Equal(t, "duplicate entry", voided.VoidReason)

		assert.Equal(t, voided.Kind, reversal.Kind)
		assert.True(t, reversal.Amount.Equal(voided.Amount.Neg()))
		assert.True(t, voided.Amount.Add(reversal.Amount).IsZero(), "pair must net to zero")
		assert.Equal(t, "REVERSAL: Farrier visit", reversal.Description)
		require.NotNil(t, reversal.OriginalEntryID)
		assert.Equal(t, voided.ID, *reversal.OriginalEntryID)
		assert.Nil(t, reversal.ReceiptNumber)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("voiding a payment reverses it without reusing the receipt", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		paymentRow := sqlmock.NewRows(entryColumnList).AddRow(
			int64(9), "acct-1", "payment", "-150.00", "Payment received (bank_transfer)", nil,
			nil, nil, nil, nil,
			"bank_transfer", "ref-9", int64(1009),
			false, nil, nil, nil, nil,
			time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), "user-1", time.Now())

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id FROM ledger_entries WHERE id = \\$1").
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct-1"))
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("FROM ledger_entries WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(9)).
			WillReturnRows(paymentRow)
		mock.ExpectExec("UPDATE ledger_entries").
			WithArgs(sqlmock.AnyArg(), "user-2", "bank reversal", int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(insertReturning(10))
		mock.ExpectCommit()

		voided, reversal, err := service.Void(9, "user-2", "bank reversal")
		require.NoError(t, err)

		// Reversal of a -150.00 payment is a +150.00 payment-kind row.
		assert.Equal(t, models.KindPayment, reversal.Kind)
		assert.True(t, reversal.Amount.Equal(decimal.RequireFromString("150.00")))
		assert.True(t, voided.Amount.Add(reversal.Amount).IsZero())
		assert.Nil(t, reversal.ReceiptNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown entry", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id FROM ledger_entries WHERE id = \\$1").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}))
		mock.ExpectRollback()

		_, _, err := service.Void(99, "user-2", "oops")
		var ne *NotFoundError
		assert.ErrorAs(t, err, &ne)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already voided", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id FROM ledger_entries WHERE id = \\$1").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct-1"))
		expectLockHolder(mock, "acct-1")
		mock.ExpectQuery("FROM ledger_entries WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(entryRow(7, true))
		mock.ExpectRollback()

		_, _, err := service.Void(7, "user-2", "again")
		assert.ErrorIs(t, err, ErrAlreadyVoided)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reason is required", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		_, _, err := service.Void(7, "user-2", "")
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, nopNotifier{})

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("135.50"))

	balance, err := service.Balance("acct-1")
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("135.50")), "got %s", balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_EntriesForPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, nopNotifier{})

	rows := sqlmock.NewRows(entryColumnList).
		AddRow(int64(1), "acct-1", "package_charge", "300.00", "Livery for Biscuit: Full (full period, March 2026)", nil,
			nil, int64(2), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
			nil, nil, nil,
			false, nil, nil, nil, nil,
			time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "system", time.Now()).
		AddRow(int64(2), "acct-1", "payment", "-300.00", "Payment received (bank_transfer)", nil,
			nil, nil, nil, nil,
			"bank_transfer", "ref-1", int64(1001),
			false, nil, nil, nil, nil,
			time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), "user-1", time.Now())

	mock.ExpectQuery("FROM ledger_entries").
		WithArgs("acct-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	entries, err := service.EntriesForPeriod("acct-1", models.MonthPeriod(2026, time.March))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.KindPackageCharge, entries[0].Kind)
	assert.Equal(t, "bank_transfer", entries[1].PaymentMethod)
	require.NotNil(t, entries[1].ReceiptNumber)
	assert.Equal(t, int64(1001), *entries[1].ReceiptNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}
