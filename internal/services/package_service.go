package services

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stablebook/backend/internal/models"
)

// PackageService is the staff data-entry surface for livery packages. It is
// deliberately thin; the billing core only ever consumes packages through
// the PackageRegistry interface.
type PackageService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewPackageService(db *sql.DB) *PackageService {
	return &PackageService{db: db, validator: NewValidationHelper()}
}

type PackageRequest struct {
	Name         string           `json:"name" validate:"required,max=100"`
	BillingType  string           `json:"billingType" validate:"required,oneof=monthly weekly"`
	MonthlyPrice *decimal.Decimal `json:"monthlyPrice,omitempty"`
	WeeklyPrice  *decimal.Decimal `json:"weeklyPrice,omitempty"`
}

func (r *PackageRequest) price() (*decimal.Decimal, error) {
	switch models.BillingType(r.BillingType) {
	case models.BillingMonthly:
		if r.MonthlyPrice == nil || !r.MonthlyPrice.IsPositive() {
			return nil, NewValidationError("monthly packages require a positive monthly price")
		}
		return r.MonthlyPrice, nil
	case models.BillingWeekly:
		if r.WeeklyPrice == nil || !r.WeeklyPrice.IsPositive() {
			return nil, NewValidationError("weekly packages require a positive weekly price")
		}
		return r.WeeklyPrice, nil
	}
	return nil, NewValidationError("unknown billing type %q", r.BillingType)
}

// ListPackages lists all livery packages
// @Summary List packages
// @Tags packages
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.LiveryPackage
// @Router /packages [get]
func (s *PackageService) ListPackages(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT id, name, billing_type, monthly_price, weekly_price, active, created_at, updated_at
		FROM livery_packages
		ORDER BY name`)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	defer rows.Close()

	var pkgs []models.LiveryPackage
	for rows.Next() {
		var pkg models.LiveryPackage
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.BillingType, &pkg.MonthlyPrice,
			&pkg.WeeklyPrice, &pkg.Active, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			SendCoreError(w, err)
			return
		}
		pkgs = append(pkgs, pkg)
	}
	if err := rows.Err(); err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": pkgs, "count": len(pkgs)})
}

// CreatePackage creates a livery package
// @Summary Create package
// @Tags packages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param package body PackageRequest true "Package definition"
// @Success 201 {object} models.LiveryPackage
// @Failure 400 {object} services.ErrorResponse
// @Router /packages [post]
func (s *PackageService) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req PackageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if _, err := req.price(); err != nil {
		SendCoreError(w, err)
		return
	}

	pkg := models.LiveryPackage{
		Name:         req.Name,
		BillingType:  models.BillingType(req.BillingType),
		MonthlyPrice: req.MonthlyPrice,
		WeeklyPrice:  req.WeeklyPrice,
		Active:       true,
	}
	err := s.db.QueryRow(`
		INSERT INTO livery_packages (name, billing_type, monthly_price, weekly_price, active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id, created_at, updated_at`,
		pkg.Name, pkg.BillingType, pkg.MonthlyPrice, pkg.WeeklyPrice).
		Scan(&pkg.ID, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "package": pkg})
}

// UpdatePackage edits a livery package
// @Summary Update package
// @Tags packages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Package ID"
// @Param package body PackageRequest true "Package definition"
// @Success 200 {object} models.LiveryPackage
// @Failure 404 {object} services.ErrorResponse
// @Router /packages/{id} [put]
func (s *PackageService) UpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid package id", http.StatusBadRequest, nil)
		return
	}

	var req PackageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if _, err := req.price(); err != nil {
		SendCoreError(w, err)
		return
	}

	res, err := s.db.Exec(`
		UPDATE livery_packages
		SET name = $1, billing_type = $2, monthly_price = $3, weekly_price = $4, updated_at = now()
		WHERE id = $5`,
		req.Name, req.BillingType, req.MonthlyPrice, req.WeeklyPrice, id)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Package not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// DeactivatePackage retires a package. Packages referenced by a horse still
// on livery cannot be retired; ledger history always keeps its references.
// @Summary Deactivate package
// @Tags packages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Package ID"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /packages/{id} [delete]
func (s *PackageService) DeactivatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid package id", http.StatusBadRequest, nil)
		return
	}

	var inUse bool
	err = s.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM horses
			WHERE package_id = $1 AND (livery_end IS NULL OR livery_end >= CURRENT_DATE)
		)`, id).Scan(&inUse)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	if inUse {
		SendErrorResponse(w, "Package is assigned to a horse on livery", http.StatusConflict, nil)
		return
	}

	res, err := s.db.Exec(`
		UPDATE livery_packages SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		SendCoreError(w, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Package not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
