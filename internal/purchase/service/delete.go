package service

import (
	"context"

	"github.com/rxledger/pharmacy-backend/internal/purchase/events"
	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
	"github.com/rxledger/pharmacy-backend/pkg/logger"
)

// DeleteOutcome reports what one item deletion removed
type DeleteOutcome struct {
	ItemID              string `json:"item_id"`
	PurchaseID          string `json:"purchase_id"`
	MedicineID          string `json:"medicine_id"`
	InventoryRemoved    int64  `json:"inventory_removed"`
	TransactionsRemoved int64  `json:"transactions_removed"`
	PurchaseRemoved     bool   `json:"purchase_removed"`
	MedicineRemoved     bool   `json:"medicine_removed"`
}

// FailedDelete identifies one item a bulk delete could not remove
type FailedDelete struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkDeleteResult aggregates a multi-item delete. Failures are
// isolated per item; the batch never aborts early.
type BulkDeleteResult struct {
	Deleted int            `json:"deleted"`
	Failed  []FailedDelete `json:"failed"`
}

// DeleteEngine removes a purchase line item together with its
// dependent snapshot and ledger rows, reclaims the parent purchase
// when it becomes empty, and reclaims the medicine when nothing
// references it anymore. The retention cleanup drives the same
// per-item primitive in bulk.
type DeleteEngine struct {
	items        ItemStore
	medicines    MedicineStore
	inventory    InventoryStore
	transactions TransactionStore
	purchases    PurchaseStore
	publisher    *events.PurchasePublisher
	logger       *logger.Logger
}

// NewDeleteEngine creates a new cascade delete engine
func NewDeleteEngine(
	items ItemStore,
	medicines MedicineStore,
	inventory InventoryStore,
	transactions TransactionStore,
	purchases PurchaseStore,
	publisher *events.PurchasePublisher,
	log *logger.Logger,
) *DeleteEngine {
	return &DeleteEngine{
		items:        items,
		medicines:    medicines,
		inventory:    inventory,
		transactions: transactions,
		purchases:    purchases,
		publisher:    publisher,
		logger:       log.WithComponent("delete-engine"),
	}
}

// DeleteItem removes one purchase item and everything that depends on
// it. Returns NotFound when the item does not exist.
func (e *DeleteEngine) DeleteItem(ctx context.Context, itemID string) (*DeleteOutcome, error) {
	snapshot, err := ResolveLotKey(ctx, e.items, itemID)
	if err != nil {
		return nil, err
	}

	counts, err := e.purgeLot(ctx, snapshot.ItemID, snapshot.PurchaseID, snapshot.MedicineID, snapshot.Key())
	if err != nil {
		return nil, err
	}

	outcome := &DeleteOutcome{
		ItemID:              snapshot.ItemID,
		PurchaseID:          snapshot.PurchaseID,
		MedicineID:          snapshot.MedicineID,
		InventoryRemoved:    counts.inventory,
		TransactionsRemoved: counts.transactions,
		PurchaseRemoved:     counts.purchases > 0,
		MedicineRemoved:     counts.medicineRemoved,
	}

	e.publisher.PublishItemDeleted(ctx, outcome.ItemID, outcome.PurchaseID, outcome.MedicineID,
		outcome.PurchaseRemoved, outcome.MedicineRemoved)

	return outcome, nil
}

// DeleteItems removes many items sequentially, isolating each failure.
func (e *DeleteEngine) DeleteItems(ctx context.Context, ids []string) *BulkDeleteResult {
	result := &BulkDeleteResult{Failed: []FailedDelete{}}

	for _, id := range ids {
		if _, err := e.DeleteItem(ctx, id); err != nil {
			e.logger.Error().Err(err).Str("item_id", id).Msg("bulk delete: item failed")
			result.Failed = append(result.Failed, FailedDelete{ID: id, Reason: err.Error()})
			continue
		}
		result.Deleted++
	}

	return result
}

// purgeCounts accumulates rows removed per table by one lot purge
type purgeCounts struct {
	items           int64
	inventory       int64
	transactions    int64
	purchases       int64
	medicineRemoved bool
}

// purgeLot performs the shared deletion primitive: remove the item row,
// its snapshot and ledger rows by lot key, then reconcile the medicine
// and the owning purchase. Zero affected rows on the dependent tables
// is normal. Any other store error aborts the purge; completed steps
// stay in place since every command is an idempotent filtered delete.
func (e *DeleteEngine) purgeLot(ctx context.Context, itemID, purchaseID, medicineID string, key repository.LotKey) (*purgeCounts, error) {
	counts := &purgeCounts{}

	affected, err := e.items.Delete(ctx, itemID)
	if err != nil {
		return nil, err
	}
	counts.items = affected

	if counts.inventory, err = e.inventory.DeleteByLotKey(ctx, key); err != nil {
		return nil, err
	}

	if counts.transactions, err = e.transactions.DeleteByLotKey(ctx, key); err != nil {
		return nil, err
	}

	counts.medicineRemoved = e.reclaimMedicine(ctx, medicineID)

	removed, err := e.reconcilePurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if removed {
		counts.purchases = 1
	}

	return counts, nil
}

// reclaimMedicine deletes the medicine when no purchase item, inventory
// record or stock transaction references it anymore. Any failure while
// checking is treated as "still referenced": a stale catalog row is
// harmless, a wrongly deleted one is not.
func (e *DeleteEngine) reclaimMedicine(ctx context.Context, medicineID string) bool {
	for _, check := range []func(context.Context, string) (bool, error){
		e.items.ExistsForMedicine,
		e.inventory.ExistsForMedicine,
		e.transactions.ExistsForMedicine,
	} {
		referenced, err := check(ctx, medicineID)
		if err != nil {
			e.logger.Warn().Err(err).Str("medicine_id", medicineID).Msg("medicine reference check failed, keeping medicine")
			return false
		}
		if referenced {
			return false
		}
	}

	affected, err := e.medicines.Delete(ctx, medicineID)
	if err != nil {
		e.logger.Warn().Err(err).Str("medicine_id", medicineID).Msg("failed to reclaim unreferenced medicine")
		return false
	}
	return affected > 0
}

// reconcilePurchase deletes the purchase when its last item is gone,
// otherwise rewrites its total from the remaining items. Reports
// whether the purchase row was removed.
func (e *DeleteEngine) reconcilePurchase(ctx context.Context, purchaseID string) (bool, error) {
	remaining, err := e.items.ListByPurchase(ctx, purchaseID)
	if err != nil {
		return false, err
	}

	if len(remaining) == 0 {
		affected, err := e.purchases.Delete(ctx, purchaseID)
		if err != nil {
			return false, err
		}
		return affected > 0, nil
	}

	if err := e.purchases.SetTotal(ctx, purchaseID, purchaseTotal(remaining)); err != nil {
		return false, err
	}
	return false, nil
}
