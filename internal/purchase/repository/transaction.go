package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rxledger/pharmacy-backend/pkg/database"
	"github.com/shopspring/decimal"
)

// StockTransaction is one movement-ledger row for a lot key. The ledger
// is retained for audit history but is updated in place to mirror
// purchase item edits and deleted alongside the item.
type StockTransaction struct {
	ID              string              `db:"id" json:"id"`
	MedicineID      string              `db:"medicine_id" json:"medicine_id"`
	BatchNumber     string              `db:"batch_number" json:"batch_number"`
	ExpiryDate      time.Time           `db:"expiry_date" json:"expiry_date"`
	TransactionType string              `db:"transaction_type" json:"transaction_type"`
	QuantityIn      int                 `db:"quantity_in" json:"quantity_in"`
	Rate            decimal.NullDecimal `db:"rate" json:"rate"`
	Amount          decimal.NullDecimal `db:"amount" json:"amount"`
	Reference       *string             `db:"reference" json:"reference,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// TransactionPatch is a partial set of ledger fields to mirror from an
// edited purchase item. Nil fields are left untouched.
type TransactionPatch struct {
	BatchNumber *string
	ExpiryDate  *time.Time
	QuantityIn  *int
	Rate        *decimal.Decimal
	Amount      *decimal.Decimal
}

// IsEmpty reports whether the patch writes nothing
func (p *TransactionPatch) IsEmpty() bool {
	return p.BatchNumber == nil && p.ExpiryDate == nil && p.QuantityIn == nil &&
		p.Rate == nil && p.Amount == nil
}

// TransactionRepository handles the stock movement ledger. Like the
// inventory snapshot, every mutation is a filtered command on the lot
// key and zero affected rows is a normal outcome.
type TransactionRepository struct {
	db *database.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ListByLotKey lists ledger rows for one lot key, oldest first
func (r *TransactionRepository) ListByLotKey(ctx context.Context, key LotKey) ([]*StockTransaction, error) {
	var txns []*StockTransaction
	query := `
		SELECT id, medicine_id, batch_number, expiry_date, transaction_type,
		       quantity_in, rate, amount, reference, created_at, updated_at
		FROM stock_transactions
		WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3
		ORDER BY created_at
	`
	if err := r.db.SelectContext(ctx, &txns, query, key.MedicineID, key.BatchNumber, key.ExpiryDate); err != nil {
		return nil, err
	}
	return txns, nil
}

// UpdateByLotKey writes the non-nil patch fields to the ledger rows
// matching the lot key and returns the affected count. Zero is normal.
func (r *TransactionRepository) UpdateByLotKey(ctx context.Context, key LotKey, patch *TransactionPatch) (int64, error) {
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
	if patch.QuantityIn != nil {
		add("quantity_in", *patch.QuantityIn)
	}
	if patch.Rate != nil {
		add("rate", *patch.Rate)
	}
	if patch.Amount != nil {
		add("amount", *patch.Amount)
	}

	if len(sets) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(
		`UPDATE stock_transactions SET %s, updated_at = NOW()
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

// DeleteByLotKey removes all ledger rows matching the lot key and
// returns the affected count. Zero is normal.
func (r *TransactionRepository) DeleteByLotKey(ctx context.Context, key LotKey) (int64, error) {
	query := `
		DELETE FROM stock_transactions
		WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3
	`
	result, err := r.db.ExecContext(ctx, query, key.MedicineID, key.BatchNumber, key.ExpiryDate)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// CountByLotKey counts ledger rows matching the lot key
func (r *TransactionRepository) CountByLotKey(ctx context.Context, key LotKey) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM stock_transactions
		WHERE medicine_id = $1 AND batch_number = $2 AND expiry_date = $3
	`
	if err := r.db.GetContext(ctx, &count, query, key.MedicineID, key.BatchNumber, key.ExpiryDate); err != nil {
		return 0, err
	}
	return count, nil
}

// ExistsForMedicine reports whether any ledger row references the medicine
func (r *TransactionRepository) ExistsForMedicine(ctx context.Context, medicineID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM stock_transactions WHERE medicine_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, medicineID); err != nil {
		return false, err
	}
	return exists, nil
}
