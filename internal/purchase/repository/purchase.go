package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rxledger/pharmacy-backend/pkg/database"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Purchase represents one supplier invoice. Its total amount is derived
// from its line items and rewritten after every mutation that changes
// quantities or rates.
type Purchase struct {
	ID            string          `db:"id" json:"id"`
	PharmacyID    string          `db:"pharmacy_id" json:"pharmacy_id"`
	SupplierName  string          `db:"supplier_name" json:"supplier_name"`
	InvoiceNumber string          `db:"invoice_number" json:"invoice_number"`
	PurchaseDate  time.Time       `db:"purchase_date" json:"purchase_date"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// PurchaseRepository handles purchase persistence
type PurchaseRepository struct {
	db *database.DB
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db *database.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// GetByID gets a purchase by ID
func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*Purchase, error) {
	var p Purchase
	query := `
		SELECT id, pharmacy_id, supplier_name, invoice_number, purchase_date,
		       total_amount, created_at, updated_at
		FROM purchases WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("purchase")
		}
		return nil, err
	}
	return &p, nil
}

// SetTotal writes a recomputed total amount
func (r *PurchaseRepository) SetTotal(ctx context.Context, id string, total decimal.Decimal) error {
	query := `UPDATE purchases SET total_amount = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, total)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("purchase")
	}

	return nil
}

// Delete removes an orphaned purchase and reports how many rows were deleted
func (r *PurchaseRepository) Delete(ctx context.Context, id string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM purchases WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
