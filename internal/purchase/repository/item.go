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

// LotKey is the natural key identifying one purchased lot across the
// purchase_items, current_inventory and stock_transactions tables.
type LotKey struct {
	MedicineID  string
	BatchNumber string
	ExpiryDate  time.Time
}

// PurchaseItem represents one purchased lot line on a supplier invoice.
// Gross and net amounts are maintained by a store-side trigger on
// quantity/rate writes; application code never recomputes them here.
type PurchaseItem struct {
	ID           string              `db:"id" json:"id"`
	PurchaseID   string              `db:"purchase_id" json:"purchase_id"`
	MedicineID   string              `db:"medicine_id" json:"medicine_id"`
	BatchNumber  string              `db:"batch_number" json:"batch_number"`
	ExpiryDate   time.Time           `db:"expiry_date" json:"expiry_date"`
	Quantity     int                 `db:"quantity" json:"quantity"`
	FreeQuantity int                 `db:"free_quantity" json:"free_quantity"`
	PurchaseRate decimal.Decimal     `db:"purchase_rate" json:"purchase_rate"`
	MRP          decimal.Decimal     `db:"mrp" json:"mrp"`
	GrossAmount  decimal.NullDecimal `db:"gross_amount" json:"gross_amount"`
	NetAmount    decimal.NullDecimal `db:"net_amount" json:"net_amount"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
}

// LotKey returns the item's current lot key
func (i *PurchaseItem) LotKey() LotKey {
	return LotKey{
		MedicineID:  i.MedicineID,
		BatchNumber: i.BatchNumber,
		ExpiryDate:  i.ExpiryDate,
	}
}

// LineTotal returns the item's contribution to its purchase total:
// the stored net amount when present, quantity times rate otherwise.
func (i *PurchaseItem) LineTotal() decimal.Decimal {
	if i.NetAmount.Valid {
		return i.NetAmount.Decimal
	}
	return decimal.NewFromInt(int64(i.Quantity)).Mul(i.PurchaseRate)
}

// ItemPatch is a partial set of purchase item fields to write. Nil
// fields are left untouched.
type ItemPatch struct {
	MedicineID   *string
	BatchNumber  *string
	ExpiryDate   *time.Time
	Quantity     *int
	FreeQuantity *int
	PurchaseRate *decimal.Decimal
	MRP          *decimal.Decimal
}

// IsEmpty reports whether the patch writes nothing
func (p *ItemPatch) IsEmpty() bool {
	return p.MedicineID == nil && p.BatchNumber == nil && p.ExpiryDate == nil &&
		p.Quantity == nil && p.FreeQuantity == nil && p.PurchaseRate == nil && p.MRP == nil
}

// ExpiredLot is one cleanup candidate: a purchase item whose expiry date
// has aged past the retention cutoff, annotated for reporting.
type ExpiredLot struct {
	ItemID       string    `db:"item_id" json:"item_id"`
	PurchaseID   string    `db:"purchase_id" json:"purchase_id"`
	MedicineID   string    `db:"medicine_id" json:"medicine_id"`
	MedicineName string    `db:"medicine_name" json:"medicine_name"`
	BatchNumber  string    `db:"batch_number" json:"batch_number"`
	ExpiryDate   time.Time `db:"expiry_date" json:"expiry_date"`
	Quantity     int       `db:"quantity" json:"quantity"`
}

// LotKey returns the expired lot's key
func (l *ExpiredLot) LotKey() LotKey {
	return LotKey{
		MedicineID:  l.MedicineID,
		BatchNumber: l.BatchNumber,
		ExpiryDate:  l.ExpiryDate,
	}
}

// ItemRepository handles purchase item persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// GetByID gets a purchase item by ID
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*PurchaseItem, error) {
	var item PurchaseItem
	query := `
		SELECT id, purchase_id, medicine_id, batch_number, expiry_date, quantity,
		       free_quantity, purchase_rate, mrp, gross_amount, net_amount,
		       created_at, updated_at
		FROM purchase_items WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("purchase item")
		}
		return nil, err
	}
	return &item, nil
}

// ApplyPatch writes the non-nil fields of the patch to one item in a
// single statement. An empty patch is a no-op.
func (r *ItemRepository) ApplyPatch(ctx context.Context, id string, patch *ItemPatch) error {
	sets := []string{}
	args := []interface{}{id}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.MedicineID != nil {
		add("medicine_id", *patch.MedicineID)
	}
	if patch.BatchNumber != nil {
		add("batch_number", *patch.BatchNumber)
	}
	if patch.ExpiryDate != nil {
		add("expiry_date", *patch.ExpiryDate)
	}
	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}
	if patch.FreeQuantity != nil {
		add("free_quantity", *patch.FreeQuantity)
	}
	if patch.PurchaseRate != nil {
		add("purchase_rate", *patch.PurchaseRate)
	}
	if patch.MRP != nil {
		add("mrp", *patch.MRP)
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`UPDATE purchase_items SET %s, updated_at = NOW() WHERE id = $1`,
		strings.Join(sets, ", "),
	)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("purchase item")
	}

	return nil
}

// Delete removes a purchase item and reports how many rows were deleted
func (r *ItemRepository) Delete(ctx context.Context, id string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM purchase_items WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// ListByPurchase lists the current items of one purchase
func (r *ItemRepository) ListByPurchase(ctx context.Context, purchaseID string) ([]*PurchaseItem, error) {
	var items []*PurchaseItem
	query := `
		SELECT id, purchase_id, medicine_id, batch_number, expiry_date, quantity,
		       free_quantity, purchase_rate, mrp, gross_amount, net_amount,
		       created_at, updated_at
		FROM purchase_items WHERE purchase_id = $1
		ORDER BY created_at
	`
	if err := r.db.SelectContext(ctx, &items, query, purchaseID); err != nil {
		return nil, err
	}
	return items, nil
}

// LotKeyInUse reports whether any purchase item other than excludeItemID
// already holds the given lot key.
func (r *ItemRepository) LotKeyInUse(ctx context.Context, key LotKey, excludeItemID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM purchase_items
			WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3 AND id <> $4
		)
	`
	err := r.db.GetContext(ctx, &exists, query, key.MedicineID, key.BatchNumber, key.ExpiryDate, excludeItemID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ExistsForMedicine reports whether any purchase item references the medicine
func (r *ItemRepository) ExistsForMedicine(ctx context.Context, medicineID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM purchase_items WHERE medicine_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, medicineID); err != nil {
		return false, err
	}
	return exists, nil
}

// ListExpiredBefore enumerates the lots whose expiry date is strictly
// before the cutoff, oldest first, annotated with medicine name and
// owning purchase. An empty pharmacyID spans all pharmacies.
func (r *ItemRepository) ListExpiredBefore(ctx context.Context, cutoff time.Time, pharmacyID string) ([]*ExpiredLot, error) {
	var lots []*ExpiredLot

	query := `
		SELECT pi.id AS item_id, pi.purchase_id, pi.medicine_id, m.name AS medicine_name,
		       pi.batch_number, pi.expiry_date, pi.quantity
		FROM purchase_items pi
		JOIN medicines m ON m.id = pi.medicine_id
		JOIN purchases p ON p.id = pi.purchase_id
		WHERE pi.expiry_date < $1
	`
	args := []interface{}{cutoff}

	if pharmacyID != "" {
		query += ` AND p.pharmacy_id = $2`
		args = append(args, pharmacyID)
	}

	query += ` ORDER BY pi.expiry_date ASC`

	if err := r.db.SelectContext(ctx, &lots, query, args...); err != nil {
		return nil, err
	}
	return lots, nil
}

// CountPurchasesFullyExpired counts the purchases whose every item
// expires before the cutoff, i.e. the purchases a cleanup run would
// remove entirely. Used by the dry-run estimate only.
func (r *ItemRepository) CountPurchasesFullyExpired(ctx context.Context, cutoff time.Time, pharmacyID string) (int, error) {
	var count int

	query := `
		SELECT COUNT(DISTINCT pi.purchase_id)
		FROM purchase_items pi
		JOIN purchases p ON p.id = pi.purchase_id
		WHERE pi.expiry_date < $1
		  AND NOT EXISTS (
			SELECT 1 FROM purchase_items other
			WHERE other.purchase_id = pi.purchase_id AND other.expiry_date >= $1
		  )
	`
	args := []interface{}{cutoff}

	if pharmacyID != "" {
		query += ` AND p.pharmacy_id = $2`
		args = append(args, pharmacyID)
	}

	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, err
	}
	return count, nil
}
