package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stablebook/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReportService(t *testing.T) (*ReportService, sqlmock.Sqlmock, *MockIdentityDirectory, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	identity := new(MockIdentityDirectory)
	ledger := NewLedgerService(db, nopNotifier{})
	// nil redis: caching is skipped, every call recomputes
	service := NewReportService(db, nil, ledger, identity)
	return service, mock, identity, func() { db.Close() }
}

func TestReportService_AccountSummary(t *testing.T) {
	service, mock, identity, closeDB := newReportService(t)
	defer closeDB()

	identity.On("Holder", "acct-1").Return(models.AccountHolder{
		ID: "acct-1", FirstName: "Jo", LastName: "Hartley", Email: "jo@example.com",
	}, nil)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("87.50"))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	lastEnd := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT MAX\\(period_end\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(lastEnd))

	summary, err := service.AccountSummary("acct-1")
	require.NoError(t, err)

	assert.Equal(t, "Jo Hartley", summary.DisplayName)
	assert.True(t, summary.Balance.Equal(decimal.RequireFromString("87.50")))
	assert.Equal(t, 3, summary.UnbilledServiceCharges)
	require.NotNil(t, summary.LastInvoicedThrough)
	assert.Equal(t, lastEnd, *summary.LastInvoicedThrough)
	require.NotNil(t, summary.CurrentPeriodStart)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *summary.CurrentPeriodStart)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportService_AccountSummary_NeverInvoiced(t *testing.T) {
	service, mock, identity, closeDB := newReportService(t)
	defer closeDB()

	identity.On("Holder", "acct-2").Return(models.AccountHolder{ID: "acct-2"}, nil)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT MAX\\(period_end\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	summary, err := service.AccountSummary("acct-2")
	require.NoError(t, err)
	assert.Nil(t, summary.LastInvoicedThrough)
	assert.Nil(t, summary.CurrentPeriodStart)
	assert.Equal(t, "acct-2", summary.DisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportService_AgedDebt(t *testing.T) {
	asOf := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	ledgerRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"account_id", "amount", "transaction_date"})
	}

	t.Run("payments consume the oldest charges first", func(t *testing.T) {
		service, mock, identity, closeDB := newReportService(t)
		defer closeDB()

		// acct-1: 300 four months old, 300 two months old, 300 current,
		// has paid 450. FIFO wipes the oldest charge and half the next,
		// leaving 150 at two months and 300 current.
		mock.ExpectQuery("FROM ledger_entries").
			WithArgs(asOf).
			WillReturnRows(ledgerRows().
				AddRow("acct-1", "300.00", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)).
				AddRow("acct-1", "300.00", time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)).
				AddRow("acct-1", "-450.00", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)).
				AddRow("acct-1", "300.00", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
		identity.On("Holder", "acct-1").Return(models.AccountHolder{ID: "acct-1", FirstName: "Jo"}, nil)

		report, err := service.AgedDebt(context.Background(), asOf)
		require.NoError(t, err)
		require.Len(t, report.Rows, 1)

		row := report.Rows[0]
		assert.True(t, row.Current.Equal(decimal.RequireFromString("300.00")), "current %s", row.Current)
		assert.True(t, row.Month1.Equal(decimal.RequireFromString("150.00")), "month1 %s", row.Month1)
		assert.True(t, row.Month2.IsZero())
		assert.True(t, row.Month3Plus.IsZero(), "oldest charge fully consumed, got %s", row.Month3Plus)
		assert.True(t, row.Total.Equal(decimal.RequireFromString("450.00")))

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("buckets by charge age", func(t *testing.T) {
		service, mock, identity, closeDB := newReportService(t)
		defer closeDB()

		mock.ExpectQuery("FROM ledger_entries").
			WithArgs(asOf).
			WillReturnRows(ledgerRows().
				AddRow("acct-1", "100.00", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)).  // current
				AddRow("acct-1", "200.00", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)).  // 1 month
				AddRow("acct-1", "300.00", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)).  // 2 months
				AddRow("acct-1", "400.00", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))) // 3+ months
		identity.On("Holder", "acct-1").Return(models.AccountHolder{ID: "acct-1"}, nil)

		report, err := service.AgedDebt(context.Background(), asOf)
		require.NoError(t, err)
		require.Len(t, report.Rows, 1)

		row := report.Rows[0]
		assert.True(t, row.Current.Equal(decimal.RequireFromString("100.00")))
		assert.True(t, row.Month1.Equal(decimal.RequireFromString("200.00")))
		assert.True(t, row.Month2.Equal(decimal.RequireFromString("300.00")))
		assert.True(t, row.Month3Plus.Equal(decimal.RequireFromString("400.00")))
		assert.True(t, row.Total.Equal(decimal.RequireFromString("1000.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("totals row sums the columns and settled holders drop out", func(t *testing.T) {
		service, mock, identity, closeDB := newReportService(t)
		defer closeDB()

		mock.ExpectQuery("FROM ledger_entries").
			WithArgs(asOf).
			WillReturnRows(ledgerRows().
				AddRow("acct-1", "100.00", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)).
				AddRow("acct-2", "250.00", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)).
				// acct-3 has paid everything off
				AddRow("acct-3", "80.00", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)).
				AddRow("acct-3", "-80.00", time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)))
		identity.On("Holder", "acct-1").Return(models.AccountHolder{ID: "acct-1"}, nil)
		identity.On("Holder", "acct-2").Return(models.AccountHolder{ID: "acct-2"}, nil)

		report, err := service.AgedDebt(context.Background(), asOf)
		require.NoError(t, err)

		require.Len(t, report.Rows, 2)
		assert.Equal(t, "acct-1", report.Rows[0].AccountID)
		assert.Equal(t, "acct-2", report.Rows[1].AccountID)

		sumCurrent := report.Rows[0].Current.Add(report.Rows[1].Current)
		sumMonth1 := report.Rows[0].Month1.Add(report.Rows[1].Month1)
		sumTotal := report.Rows[0].Total.Add(report.Rows[1].Total)
		assert.True(t, report.Totals.Current.Equal(sumCurrent))
		assert.True(t, report.Totals.Month1.Equal(sumMonth1))
		assert.True(t, report.Totals.Total.Equal(sumTotal))
		assert.True(t, report.Totals.Total.Equal(decimal.RequireFromString("350.00")))

		identity.AssertNotCalled(t, "Holder", "acct-3")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReportService_IncomeSummary(t *testing.T) {
	service, mock, _, closeDB := newReportService(t)
	defer closeDB()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("GROUP BY").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"month", "kind", "sum"}).
			AddRow("2026-01", "package_charge", "900.00").
			AddRow("2026-01", "payment", "-700.00").
			AddRow("2026-01", "service_charge", "120.00").
			AddRow("2026-02", "adjustment", "-15.00").
			AddRow("2026-02", "credit", "-50.00").
			AddRow("2026-02", "package_charge", "900.00"))

	summary, err := service.IncomeSummary(from, to)
	require.NoError(t, err)

	require.Len(t, summary.Months, 2)
	jan, feb := summary.Months[0], summary.Months[1]

	assert.Equal(t, "2026-01", jan.Month)
	assert.True(t, jan.PackageCharges.Equal(decimal.RequireFromString("900.00")))
	assert.True(t, jan.ServiceCharges.Equal(decimal.RequireFromString("120.00")))
	// Money received reads positive in the report.
	assert.True(t, jan.Payments.Equal(decimal.RequireFromString("700.00")))

	assert.Equal(t, "2026-02", feb.Month)
	assert.True(t, feb.Adjustments.Equal(decimal.RequireFromString("-15.00")))
	assert.True(t, feb.Credits.Equal(decimal.RequireFromString("50.00")))

	// Charges include adjustments with their stored sign; income is the
	// negated sum of payments and credits.
	assert.True(t, summary.TotalCharges.Equal(decimal.RequireFromString("1905.00")), "charges %s", summary.TotalCharges)
	assert.True(t, summary.TotalIncome.Equal(decimal.RequireFromString("750.00")), "income %s", summary.TotalIncome)

	assert.NoError(t, mock.ExpectationsWereMet())
}
