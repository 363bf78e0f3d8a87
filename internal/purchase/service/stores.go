package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
)

// The engines are written against per-table store interfaces rather
// than the concrete sqlx repositories, so tests can drive them with
// in-memory fakes. The repository package provides the production
// implementations.

// ItemStore is the purchase_items command surface used by the engines.
type ItemStore interface {
	GetByID(ctx context.Context, id string) (*repository.PurchaseItem, error)
	ApplyPatch(ctx context.Context, id string, patch *repository.ItemPatch) error
	Delete(ctx context.Context, id string) (int64, error)
	ListByPurchase(ctx context.Context, purchaseID string) ([]*repository.PurchaseItem, error)
	LotKeyInUse(ctx context.Context, key repository.LotKey, excludeItemID string) (bool, error)
	ExistsForMedicine(ctx context.Context, medicineID string) (bool, error)
	ListExpiredBefore(ctx context.Context, cutoff time.Time, pharmacyID string) ([]*repository.ExpiredLot, error)
	CountPurchasesFullyExpired(ctx context.Context, cutoff time.Time, pharmacyID string) (int, error)
}

// MedicineStore is the medicine catalog surface used by the engines.
type MedicineStore interface {
	GetByName(ctx context.Context, name string) (*repository.Medicine, error)
	Create(ctx context.Context, m *repository.Medicine) error
	Delete(ctx context.Context, id string) (int64, error)
}

// InventoryStore is the current-stock snapshot surface.
type InventoryStore interface {
	UpdateByLotKey(ctx context.Context, key repository.LotKey, patch *repository.InventoryPatch) (int64, error)
	DeleteByLotKey(ctx context.Context, key repository.LotKey) (int64, error)
	CountByLotKey(ctx context.Context, key repository.LotKey) (int, error)
	ExistsForMedicine(ctx context.Context, medicineID string) (bool, error)
}

// TransactionStore is the stock movement ledger surface.
type TransactionStore interface {
	UpdateByLotKey(ctx context.Context, key repository.LotKey, patch *repository.TransactionPatch) (int64, error)
	DeleteByLotKey(ctx context.Context, key repository.LotKey) (int64, error)
	CountByLotKey(ctx context.Context, key repository.LotKey) (int, error)
	ExistsForMedicine(ctx context.Context, medicineID string) (bool, error)
}

// PurchaseStore is the purchase header surface.
type PurchaseStore interface {
	SetTotal(ctx context.Context, id string, total decimal.Decimal) error
	Delete(ctx context.Context, id string) (int64, error)
}

// PharmacyStore is the cleanup bookkeeping surface.
type PharmacyStore interface {
	ListDueCleanup(ctx context.Context, before time.Time) ([]*repository.Pharmacy, error)
	StampCleanup(ctx context.Context, pharmacyID string, at time.Time) error
}

// purchaseTotal sums each item's net amount, falling back to
// quantity times rate where the net amount was never computed.
func purchaseTotal(items []*repository.PurchaseItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// recomputePurchaseTotal rewrites a purchase's total from its current
// items. Callers must know the purchase still has items.
func recomputePurchaseTotal(ctx context.Context, items ItemStore, purchases PurchaseStore, purchaseID string) error {
	current, err := items.ListByPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	return purchases.SetTotal(ctx, purchaseID, purchaseTotal(current))
}
