package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/stablebook/backend/internal/models"
)

// Collaborator boundaries consumed by the billing core. The core only ever
// sees plain ids and values through these; no live object graphs.

// PackageRegistry resolves a livery package's billing type and prices.
type PackageRegistry interface {
	PackageByID(id int64) (*models.LiveryPackage, error)
}

// HorseRegistry lists the horses on livery during a billing period, with
// owner and package attribution.
type HorseRegistry interface {
	ActiveLiveries(period models.Period) ([]models.HorseLivery, error)
}

// IdentityDirectory resolves an account-holder id to display details.
// Reporting only.
type IdentityDirectory interface {
	Holder(accountID string) (models.AccountHolder, error)
}

// DocumentRenderer produces a stored document from an invoice and returns
// its reference. The core stores only the reference; render failures never
// roll back committed invoice state.
type DocumentRenderer interface {
	Render(inv *models.Invoice) (string, error)
}

// SQLPackageRegistry reads the venue app's livery_packages table.
type SQLPackageRegistry struct {
	db *sql.DB
}

func NewSQLPackageRegistry(db *sql.DB) *SQLPackageRegistry {
	return &SQLPackageRegistry{db: db}
}

func (r *SQLPackageRegistry) PackageByID(id int64) (*models.LiveryPackage, error) {
	var pkg models.LiveryPackage
	err := r.db.QueryRow(`
		SELECT id, name, billing_type, monthly_price, weekly_price, active, created_at, updated_at
		FROM livery_packages
		WHERE id = $1`, id).
		Scan(&pkg.ID, &pkg.Name, &pkg.BillingType, &pkg.MonthlyPrice, &pkg.WeeklyPrice,
			&pkg.Active, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("package %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// SQLHorseRegistry reads the venue app's horses table.
type SQLHorseRegistry struct {
	db *sql.DB
}

func NewSQLHorseRegistry(db *sql.DB) *SQLHorseRegistry {
	return &SQLHorseRegistry{db: db}
}

// ActiveLiveries returns horses whose livery window overlaps the period and
// that have an assigned package.
func (r *SQLHorseRegistry) ActiveLiveries(period models.Period) ([]models.HorseLivery, error) {
	rows, err := r.db.Query(`
		SELECT id, name, owner_id, package_id, livery_start, livery_end
		FROM horses
		WHERE package_id IS NOT NULL
		  AND (livery_start IS NULL OR livery_start <= $2)
		  AND (livery_end IS NULL OR livery_end >= $1)
		ORDER BY id`, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var liveries []models.HorseLivery
	for rows.Next() {
		var h models.HorseLivery
		if err := rows.Scan(&h.HorseID, &h.HorseName, &h.OwnerID, &h.PackageID,
			&h.LiveryStart, &h.LiveryEnd); err != nil {
			return nil, err
		}
		liveries = append(liveries, h)
	}
	return liveries, rows.Err()
}

// SQLIdentityDirectory reads the venue app's users table.
type SQLIdentityDirectory struct {
	db *sql.DB
}

func NewSQLIdentityDirectory(db *sql.DB) *SQLIdentityDirectory {
	return &SQLIdentityDirectory{db: db}
}

func (d *SQLIdentityDirectory) Holder(accountID string) (models.AccountHolder, error) {
	holder := models.AccountHolder{ID: accountID}
	err := d.db.QueryRow(`
		SELECT COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, '')
		FROM users
		WHERE account_id = $1`, accountID).
		Scan(&holder.FirstName, &holder.LastName, &holder.Email)
	if err == sql.ErrNoRows {
		// Unknown holders still appear in reports under their raw id.
		return holder, nil
	}
	if err != nil {
		return holder, err
	}
	return holder, nil
}

// FileDocumentRenderer writes the invoice as a JSON document under a local
// directory and returns a static-server reference. A real PDF renderer sits
// behind the same interface in production.
type FileDocumentRenderer struct {
	Dir string
}

func (f *FileDocumentRenderer) Render(inv *models.Invoice) (string, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.json", inv.InvoiceNumber, uuid.New().String())
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(f.Dir, name), data, 0o644); err != nil {
		return "", err
	}
	return "/static/invoices/" + name, nil
}

// NopRenderer is used when document rendering is disabled.
type NopRenderer struct{}

func (NopRenderer) Render(*models.Invoice) (string, error) { return "", nil }
