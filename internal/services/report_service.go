package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stablebook/backend/internal/models"
)

// ReportService derives every figure by replaying ledger rows; it never
// stores aggregates of its own. Reads are lock-free.
type ReportService struct {
	db       *sql.DB
	redis    *redis.Client
	ledger   *LedgerService
	identity IdentityDirectory
}

func NewReportService(db *sql.DB, redis *redis.Client, ledger *LedgerService, identity IdentityDirectory) *ReportService {
	return &ReportService{db: db, redis: redis, ledger: ledger, identity: identity}
}

// AccountSummary returns the holder's derived balance, how much completed
// work awaits invoicing, and where the next invoice period starts (the day
// after the last issued invoice's period end).
func (s *ReportService) AccountSummary(accountID string) (*models.AccountSummary, error) {
	holder, err := s.identity.Holder(accountID)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(accountID)
	if err != nil {
		return nil, err
	}

	summary := &models.AccountSummary{
		AccountID:   accountID,
		DisplayName: holder.DisplayName(),
		Email:       holder.Email,
		Balance:     balance,
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*)
		FROM ledger_entries e
		WHERE e.account_id = $1 AND e.voided = false AND e.kind = $2
		  AND NOT EXISTS (
			SELECT 1 FROM invoice_line_items li
			JOIN invoices i ON i.id = li.invoice_id
			WHERE li.ledger_entry_id = e.id AND i.status <> $3
		  )`,
		accountID, models.KindServiceCharge, models.StatusCancelled).
		Scan(&summary.UnbilledServiceCharges)
	if err != nil {
		return nil, err
	}

	var lastEnd *time.Time
	err = s.db.QueryRow(`
		SELECT MAX(period_end)
		FROM invoices
		WHERE account_id = $1 AND status IN ($2, $3)`,
		accountID, models.StatusIssued, models.StatusPaid).Scan(&lastEnd)
	if err != nil {
		return nil, err
	}
	if lastEnd != nil {
		summary.LastInvoicedThrough = lastEnd
		next := lastEnd.AddDate(0, 0, 1)
		summary.CurrentPeriodStart = &next
	}
	return summary, nil
}

const agedDebtCacheTTL = 5 * time.Minute

// AgedDebt buckets outstanding charges by age as of the given date. Payments
// and credits consume the oldest charges first; whatever a holder's payments
// do not cover stays bucketed by the originating charge's transaction date,
// regardless of which invoice (if any) referenced it.
func (s *ReportService) AgedDebt(ctx context.Context, asOf time.Time) (*models.AgedDebtReport, error) {
	asOf = models.DateOnly(asOf)

	if cached := s.cachedAgedDebt(ctx, asOf); cached != nil {
		return cached, nil
	}

	rows, err := s.db.Query(`
		SELECT account_id, amount, transaction_date
		FROM ledger_entries
		WHERE voided = false AND transaction_date <= $1
		ORDER BY account_id, transaction_date, id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type datedCharge struct {
		amount decimal.Decimal
		date   time.Time
	}
	charges := make(map[string][]datedCharge)
	credit := make(map[string]decimal.Decimal)

	for rows.Next() {
		var (
			accountID string
			amount    decimal.Decimal
			txDate    time.Time
		)
		if err := rows.Scan(&accountID, &amount, &txDate); err != nil {
			return nil, err
		}
		if amount.IsNegative() {
			credit[accountID] = credit[accountID].Add(amount.Neg())
			continue
		}
		charges[accountID] = append(charges[accountID], datedCharge{amount: amount, date: txDate})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report := &models.AgedDebtReport{AsOf: asOf}
	for accountID, owed := range charges {
		row := models.AgedDebtRow{AccountID: accountID}
		remaining := credit[accountID]
		for _, c := range owed {
			outstanding := c.amount
			if remaining.IsPositive() {
				applied := decimal.Min(remaining, outstanding)
				outstanding = outstanding.Sub(applied)
				remaining = remaining.Sub(applied)
			}
			if !outstanding.IsPositive() {
				continue
			}
			switch {
			case c.date.After(asOf.AddDate(0, -1, 0)):
				row.Current = row.Current.Add(outstanding)
			case c.date.After(asOf.AddDate(0, -2, 0)):
				row.Month1 = row.Month1.Add(outstanding)
			case c.date.After(asOf.AddDate(0, -3, 0)):
				row.Month2 = row.Month2.Add(outstanding)
			default:
				row.Month3Plus = row.Month3Plus.Add(outstanding)
			}
			row.Total = row.Total.Add(outstanding)
		}
		if !row.Total.IsPositive() {
			continue
		}
		holder, err := s.identity.Holder(accountID)
		if err != nil {
			return nil, err
		}
		row.DisplayName = holder.DisplayName()
		report.Rows = append(report.Rows, row)
	}

	sort.Slice(report.Rows, func(i, j int) bool {
		return report.Rows[i].AccountID < report.Rows[j].AccountID
	})

	totals := models.AgedDebtRow{DisplayName: "Total"}
	for _, row := range report.Rows {
		totals.Current = totals.Current.Add(row.Current)
		totals.Month1 = totals.Month1.Add(row.Month1)
		totals.Month2 = totals.Month2.Add(row.Month2)
		totals.Month3Plus = totals.Month3Plus.Add(row.Month3Plus)
		totals.Total = totals.Total.Add(row.Total)
	}
	report.Totals = totals

	s.cacheAgedDebt(ctx, asOf, report)
	return report, nil
}

func (s *ReportService) cachedAgedDebt(ctx context.Context, asOf time.Time) *models.AgedDebtReport {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, agedDebtCacheKey(asOf)).Bytes()
	if err != nil {
		return nil
	}
	var report models.AgedDebtReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil
	}
	return &report
}

func (s *ReportService) cacheAgedDebt(ctx context.Context, asOf time.Time, report *models.AgedDebtReport) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, agedDebtCacheKey(asOf), data, agedDebtCacheTTL).Err(); err != nil {
		log.Printf("[REPORTS] aged-debt cache write failed: %v", err)
	}
}

func agedDebtCacheKey(asOf time.Time) string {
	return "reports:aged_debt:" + asOf.Format("2006-01-02")
}

// IncomeSummary sums ledger amounts by kind and calendar month. Charge kinds
// contribute to total charges with their stored sign; payment and credit
// sums are negated so both totals read as positive figures.
func (s *ReportService) IncomeSummary(from, to time.Time) (*models.IncomeSummary, error) {
	rows, err := s.db.Query(`
		SELECT to_char(transaction_date, 'YYYY-MM') AS month, kind, SUM(amount)
		FROM ledger_entries
		WHERE voided = false AND transaction_date >= $1 AND transaction_date <= $2
		GROUP BY 1, 2
		ORDER BY 1, 2`, models.DateOnly(from), models.DateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &models.IncomeSummary{From: models.DateOnly(from), To: models.DateOnly(to)}
	byMonth := make(map[string]*models.MonthIncome)
	var order []string

	for rows.Next() {
		var (
			month string
			kind  models.EntryKind
			sum   decimal.Decimal
		)
		if err := rows.Scan(&month, &kind, &sum); err != nil {
			return nil, err
		}
		mi, ok := byMonth[month]
		if !ok {
			mi = &models.MonthIncome{Month: month}
			byMonth[month] = mi
			order = append(order, month)
		}
		switch kind {
		case models.KindPackageCharge:
			mi.PackageCharges = sum
			summary.TotalCharges = summary.TotalCharges.Add(sum)
		case models.KindServiceCharge:
			mi.ServiceCharges = sum
			summary.TotalCharges = summary.TotalCharges.Add(sum)
		case models.KindAdjustment:
			mi.Adjustments = sum
			summary.TotalCharges = summary.TotalCharges.Add(sum)
		case models.KindPayment:
			mi.Payments = sum.Neg()
			summary.TotalIncome = summary.TotalIncome.Add(sum.Neg())
		case models.KindCredit:
			mi.Credits = sum.Neg()
			summary.TotalIncome = summary.TotalIncome.Add(sum.Neg())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, month := range order {
		summary.Months = append(summary.Months, *byMonth[month])
	}
	return summary, nil
}

// --- HTTP handlers ---

// GetAccountSummary returns one holder's account summary
// @Summary Account summary
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param accountId query string true "Account holder id"
// @Success 200 {object} models.AccountSummary
// @Router /reports/account-summary [get]
func (s *ReportService) GetAccountSummary(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}
	summary, err := s.AccountSummary(accountID)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetAgedDebt returns the aged-debt report
// @Summary Aged-debt report
// @Description Outstanding charges bucketed current / 1 month / 2 months / 3+ months, with a totals row
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param asOf query string false "Reference date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} models.AgedDebtReport
// @Router /reports/aged-debt [get]
func (s *ReportService) GetAgedDebt(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			SendErrorResponse(w, "invalid asOf date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		asOf = parsed
	}
	report, err := s.AgedDebt(r.Context(), asOf)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetIncomeSummary returns the income summary for a date range
// @Summary Income summary
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} models.IncomeSummary
// @Router /reports/income [get]
func (s *ReportService) GetIncomeSummary(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	summary, err := s.IncomeSummary(period.Start, period.End)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
