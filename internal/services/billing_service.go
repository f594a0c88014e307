package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/stablebook/backend/internal/models"
)

// BillingService runs the periodic package-charge job: for every horse on
// livery in a month it asks the calculator for the pro-rata charge and writes
// a package-charge ledger entry attributed to the package and period.
// Re-running a month is safe; periods already charged are skipped.
type BillingService struct {
	db        *sql.DB
	ledger    *LedgerService
	calc      ProRataCalculator
	packages  PackageRegistry
	horses    HorseRegistry
	validator *ValidationHelper
}

func NewBillingService(db *sql.DB, ledger *LedgerService, packages PackageRegistry, horses HorseRegistry) *BillingService {
	return &BillingService{
		db:        db,
		ledger:    ledger,
		packages:  packages,
		horses:    horses,
		validator: NewValidationHelper(),
	}
}

// RunForMonth bills every active livery for the given calendar month.
// Individual horse failures are collected, not fatal; each charge commits in
// its own transaction so one bad package definition cannot hold up the run.
func (s *BillingService) RunForMonth(year int, month time.Month, actorID string) (*models.BillingRunResult, error) {
	period := models.MonthPeriod(year, month)
	result := &models.BillingRunResult{
		Period:    period,
		StartedAt: time.Now().UTC(),
	}

	liveries, err := s.horses.ActiveLiveries(period)
	if err != nil {
		return nil, err
	}

	for _, livery := range liveries {
		entry, err := s.chargeHorse(period, livery, actorID)
		if err != nil {
			result.Failures = append(result.Failures, models.BillingFailure{
				HorseID: livery.HorseID,
				OwnerID: livery.OwnerID,
				Reason:  err.Error(),
			})
			log.Printf("[BILLING] charge failed for horse %d (%s): %v", livery.HorseID, livery.OwnerID, err)
			continue
		}
		if entry == nil {
			result.Skipped++
			continue
		}
		result.Charged++
		result.EntryIDs = append(result.EntryIDs, entry.ID)
	}

	log.Printf("[BILLING] run %s: %d charged, %d skipped, %d failed",
		period.Start.Format("2006-01"), result.Charged, result.Skipped, len(result.Failures))
	return result, nil
}

// chargeHorse returns (nil, nil) when there is nothing to charge: zero
// billable days, or the period was already billed for this horse's package.
func (s *BillingService) chargeHorse(period models.Period, livery models.HorseLivery, actorID string) (*models.LedgerEntry, error) {
	pkg, err := s.packages.PackageByID(livery.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return nil, nil
	}

	charge, err := s.calc.Charge(period, *pkg, livery.LiveryStart, livery.LiveryEnd)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, nil
	}

	billed, err := s.alreadyBilled(livery.OwnerID, pkg.ID, period)
	if err != nil {
		return nil, err
	}
	if billed {
		return nil, nil
	}

	start, end := period.Start, period.End
	return s.ledger.Record(models.EntryDraft{
		AccountID:       livery.OwnerID,
		Kind:            models.KindPackageCharge,
		Amount:          charge.Amount,
		Description:     fmt.Sprintf("Livery for %s: %s (%s)", livery.HorseName, pkg.Name, charge.Rationale),
		PackageID:       &pkg.ID,
		PeriodStart:     &start,
		PeriodEnd:       &end,
		TransactionDate: &start,
		CreatedBy:       actorID,
	})
}

// alreadyBilled checks for an existing package charge with the same package
// and billing period. Reversal rows are excluded so a charge-and-void pair
// still counts as billed; re-billing after a deliberate void is a manual
// staff decision, not an automatic one.
func (s *BillingService) alreadyBilled(accountID string, packageID int64, period models.Period) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE account_id = $1 AND kind = $2 AND package_id = $3
			  AND period_start = $4 AND period_end = $5
			  AND original_entry_id IS NULL
		)`,
		accountID, models.KindPackageCharge, packageID,
		models.DateOnly(period.Start), models.DateOnly(period.End)).Scan(&exists)
	return exists, err
}

// StartScheduler drives the periodic billing run: on the first day of each
// month it bills the month just ended. The loop stops when ctx is cancelled.
func (s *BillingService) StartScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastRun string
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			now = now.UTC()
			if now.Day() != 1 {
				continue
			}
			prev := now.AddDate(0, -1, 0)
			key := prev.Format("2006-01")
			if key == lastRun {
				continue
			}
			if _, err := s.RunForMonth(prev.Year(), prev.Month(), "scheduler"); err != nil {
				log.Printf("[BILLING] scheduled run for %s failed: %v", key, err)
				continue
			}
			lastRun = key
		}
	}
}

// RunBilling triggers a billing run for one month
// @Summary Run monthly billing
// @Description Charge every active livery for the given calendar month; already-billed periods are skipped
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{year=int,month=int} true "Billing month"
// @Success 200 {object} models.BillingRunResult
// @Failure 400 {object} services.ErrorResponse
// @Router /billing/run [post]
func (s *BillingService) RunBilling(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year  int `json:"year" validate:"required,min=2000,max=2200"`
		Month int `json:"month" validate:"required,min=1,max=12"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.RunForMonth(req.Year, time.Month(req.Month), actorID(r))
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}
