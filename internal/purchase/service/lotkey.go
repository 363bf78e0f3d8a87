package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
)

// LotSnapshot captures a purchase item's lot key and quantitative
// fields before any mutation. Cascades match dependent rows by the old
// key while writing new values, so the snapshot must be taken first.
type LotSnapshot struct {
	ItemID       string
	PurchaseID   string
	MedicineID   string
	BatchNumber  string
	ExpiryDate   time.Time
	Quantity     int
	PurchaseRate decimal.Decimal
	MRP          decimal.Decimal
}

// Key returns the snapshot's lot key
func (s *LotSnapshot) Key() repository.LotKey {
	return repository.LotKey{
		MedicineID:  s.MedicineID,
		BatchNumber: s.BatchNumber,
		ExpiryDate:  s.ExpiryDate,
	}
}

// ResolveLotKey fetches the pre-mutation snapshot for an item.
// Returns NotFound when the item does not exist.
func ResolveLotKey(ctx context.Context, items ItemStore, itemID string) (*LotSnapshot, error) {
	item, err := items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	return &LotSnapshot{
		ItemID:       item.ID,
		PurchaseID:   item.PurchaseID,
		MedicineID:   item.MedicineID,
		BatchNumber:  item.BatchNumber,
		ExpiryDate:   item.ExpiryDate,
		Quantity:     item.Quantity,
		PurchaseRate: item.PurchaseRate,
		MRP:          item.MRP,
	}, nil
}
