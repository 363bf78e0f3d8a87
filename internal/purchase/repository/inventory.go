package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rxledger/pharmacy-backend/pkg/database"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// InventoryRecord is the current on-hand snapshot for one lot key.
// At most one record exists per lot key; lots consumed before the
// snapshot feature existed may have none.
type InventoryRecord struct {
	ID               string              `db:"id" json:"id"`
	MedicineID       string              `db:"medicine_id" json:"medicine_id"`
	BatchNumber      string              `db:"batch_number" json:"batch_number"`
	ExpiryDate       time.Time           `db:"expiry_date" json:"expiry_date"`
	CurrentStock     int                 `db:"current_stock" json:"current_stock"`
	LastPurchaseRate decimal.NullDecimal `db:"last_purchase_rate" json:"last_purchase_rate"`
	CurrentMRP       decimal.NullDecimal `db:"current_mrp" json:"current_mrp"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// InventoryPatch is a partial set of inventory fields to mirror from an
// edited purchase item. Nil fields are left untouched.
type InventoryPatch struct {
	BatchNumber      *string
	ExpiryDate       *time.Time
	CurrentStock     *int
	LastPurchaseRate *decimal.Decimal
	CurrentMRP       *decimal.Decimal
}

// IsEmpty reports whether the patch writes nothing
func (p *InventoryPatch) IsEmpty() bool {
	return p.BatchNumber == nil && p.ExpiryDate == nil && p.CurrentStock == nil &&
		p.LastPurchaseRate == nil && p.CurrentMRP == nil
}

// InventoryRepository handles the current-stock snapshot table.
// Every mutation is expressed as a filtered command on the lot key, so
// repeated or partially completed cascades converge: zero affected rows
// simply means the snapshot never existed.
type InventoryRepository struct {
	db *database.DB
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *database.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// GetByLotKey gets the snapshot row for one lot key
func (r *InventoryRepository) GetByLotKey(ctx context.Context, key LotKey) (*InventoryRecord, error) {
	var rec InventoryRecord
	query := `
		SELECT id, medicine_id, batch_number, expiry_date, current_stock,
		       last_purchase_rate, current_mrp, created_at, updated_at
		FROM current_inventory
		WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3
	`
	if err := r.db.GetContext(ctx, &rec, query, key.MedicineID, key.BatchNumber, key.ExpiryDate); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory record")
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateByLotKey writes the non-nil patch fields to the snapshot row(s)
// matching the lot key and returns the affected count. Zero is normal.
func (r *InventoryRepository) UpdateByLotKey(ctx context.Context, key LotKey, patch *InventoryPatch) (int64, error) {
	sets := []string{}
	args := []interface{}{key.MedicineID, key.BatchNumber, key.ExpiryDate}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.BatchNumber != nil {
		add("batch_number", *patch.BatchNumber)
	}
	if patch.ExpiryDate != nil {
		add("expiry_date", *patch.ExpiryDate)
	}
	if patch.CurrentStock != nil {
		add("current_stock", *patch.CurrentStock)
	}
	if patch.LastPurchaseRate != nil {
		add("last_purchase_rate", *patch.LastPurchaseRate)
	}
	if patch.CurrentMRP != nil {
		add("current_mrp", *patch.CurrentMRP)
	}

	if len(sets) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(
		`UPDATE current_inventory SET %s, updated_at = NOW()
		 WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3`,
		strings.Join(sets, ", "),
	)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// DeleteByLotKey removes the snapshot row(s) matching the lot key and
// returns the affected count. Zero is normal.
func (r *InventoryRepository) DeleteByLotKey(ctx context.Context, key LotKey) (int64, error) {
	query := `
		DELETE FROM current_inventory
		WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3
	`
	result, err := r.db.ExecContext(ctx, query, key.MedicineID, key.BatchNumber, key.ExpiryDate)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// CountByLotKey counts snapshot rows matching the lot key (0 or 1 expected)
func (r *InventoryRepository) CountByLotKey(ctx context.Context, key LotKey) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM current_inventory
		WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3
	`
	if err := r.db.GetContext(ctx, &count, query, key.MedicineID, key.BatchNumber, key.ExpiryDate); err != nil {
		return 0, err
	}
	return count, nil
}

// ExistsForMedicine reports whether any snapshot row references the medicine
func (r *InventoryRepository) ExistsForMedicine(ctx context.Context, medicineID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM current_inventory WHERE medicine_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, medicineID); err != nil {
		return false, err
	}
	return exists, nil
}
