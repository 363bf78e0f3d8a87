package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxledger/pharmacy-backend/internal/purchase/events"
	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
	"github.com/rxledger/pharmacy-backend/pkg/logger"
)

// ItemChanges is the partial field set accepted by an item update.
// Nil fields are left unchanged. MedicineName is resolved to a catalog
// row, creating one if the name is new.
type ItemChanges struct {
	MedicineName *string
	BatchNumber  *string
	ExpiryDate   *time.Time
	Quantity     *int
	FreeQuantity *int
	PurchaseRate *decimal.Decimal
	MRP          *decimal.Decimal
}

// UpdateEngine propagates an edit to one purchase line item across the
// stock snapshot and movement ledger, then recomputes the owning
// purchase's total. The store enforces no cascades, so each step is an
// ordered filtered command; dependent-row steps are best effort and a
// failure in one never rolls back the ones before it.
type UpdateEngine struct {
	items        ItemStore
	medicines    MedicineStore
	inventory    InventoryStore
	transactions TransactionStore
	purchases    PurchaseStore
	publisher    *events.PurchasePublisher
	logger       *logger.Logger
}

// NewUpdateEngine creates a new cascade update engine
func NewUpdateEngine(
	items ItemStore,
	medicines MedicineStore,
	inventory InventoryStore,
	transactions TransactionStore,
	purchases PurchaseStore,
	publisher *events.PurchasePublisher,
	log *logger.Logger,
) *UpdateEngine {
	return &UpdateEngine{
		items:        items,
		medicines:    medicines,
		inventory:    inventory,
		transactions: transactions,
		purchases:    purchases,
		publisher:    publisher,
		logger:       log.WithComponent("update-engine"),
	}
}

// UpdateItem applies a partial edit to one purchase item and cascades
// it through current_inventory, stock_transactions and the purchase
// total. Returns NotFound when the item is absent and Conflict when
// the effective lot key is already taken by another item; on Conflict
// nothing has been written.
func (e *UpdateEngine) UpdateItem(ctx context.Context, itemID string, changes *ItemChanges) (*repository.PurchaseItem, error) {
	old, err := ResolveLotKey(ctx, e.items, itemID)
	if err != nil {
		return nil, err
	}

	patch := &repository.ItemPatch{
		BatchNumber:  changes.BatchNumber,
		ExpiryDate:   changes.ExpiryDate,
		Quantity:     changes.Quantity,
		FreeQuantity: changes.FreeQuantity,
		PurchaseRate: changes.PurchaseRate,
		MRP:          changes.MRP,
	}

	if changes.MedicineName != nil {
		medicineID, err := e.resolveMedicine(ctx, *changes.MedicineName)
		if err != nil {
			return nil, err
		}

		// The lot key can only collide when the medicine actually
		// changes; batch/expiry edits on the same medicine keep the
		// key owned by this item.
		if medicineID != old.MedicineID {
			candidate := repository.LotKey{
				MedicineID:  medicineID,
				BatchNumber: effectiveString(changes.BatchNumber, old.BatchNumber),
				ExpiryDate:  effectiveTime(changes.ExpiryDate, old.ExpiryDate),
			}
			inUse, err := e.items.LotKeyInUse(ctx, candidate, itemID)
			if err != nil {
				return nil, err
			}
			if inUse {
				return nil, errors.Conflict("another item already holds this medicine, batch and expiry combination")
			}
			patch.MedicineID = &medicineID
		}
	}

	if err := e.items.ApplyPatch(ctx, itemID, patch); err != nil {
		return nil, err
	}

	lotChanged := patch.MedicineID != nil || changes.BatchNumber != nil || changes.ExpiryDate != nil
	amountsChanged := changes.Quantity != nil || changes.PurchaseRate != nil || changes.MRP != nil

	// Steps below act on the OLD lot key and are independent best-effort
	// propagations. Zero affected rows means the dependent row never
	// existed, which is normal.
	if lotChanged || amountsChanged {
		e.propagateInventory(ctx, old, changes)
		e.propagateTransactions(ctx, old, changes)
	}

	if amountsChanged {
		if err := recomputePurchaseTotal(ctx, e.items, e.purchases, old.PurchaseID); err != nil {
			e.logger.Error().Err(err).
				Str("purchase_id", old.PurchaseID).
				Msg("failed to recompute purchase total after item update")
		}
	}

	updated, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	e.publisher.PublishItemUpdated(ctx, updated.ID, updated.PurchaseID, updated.MedicineID, changedFields(changes))

	return updated, nil
}

// resolveMedicine looks up a medicine by exact name, creating a catalog
// row with placeholder fields when the name is new.
func (e *UpdateEngine) resolveMedicine(ctx context.Context, name string) (string, error) {
	medicine, err := e.medicines.GetByName(ctx, name)
	if err == nil {
		return medicine.ID, nil
	}
	if !errors.IsNotFound(err) {
		return "", err
	}

	created := &repository.Medicine{Name: name}
	if err := e.medicines.Create(ctx, created); err != nil {
		return "", err
	}

	e.logger.Info().Str("medicine_id", created.ID).Str("name", name).Msg("created medicine for renamed item")
	return created.ID, nil
}

func (e *UpdateEngine) propagateInventory(ctx context.Context, old *LotSnapshot, changes *ItemChanges) {
	patch := &repository.InventoryPatch{
		BatchNumber:      changes.BatchNumber,
		ExpiryDate:       changes.ExpiryDate,
		CurrentStock:     changes.Quantity,
		LastPurchaseRate: changes.PurchaseRate,
		CurrentMRP:       changes.MRP,
	}
	if patch.IsEmpty() {
		return
	}

	affected, err := e.inventory.UpdateByLotKey(ctx, old.Key(), patch)
	if err != nil {
		e.logger.Error().Err(err).
			Str("item_id", old.ItemID).
			Msg("failed to propagate update to current inventory")
		return
	}
	if affected == 0 {
		e.logger.Debug().Str("item_id", old.ItemID).Msg("no inventory record for lot, nothing to propagate")
	}
}

func (e *UpdateEngine) propagateTransactions(ctx context.Context, old *LotSnapshot, changes *ItemChanges) {
	patch := &repository.TransactionPatch{
		BatchNumber: changes.BatchNumber,
		ExpiryDate:  changes.ExpiryDate,
		QuantityIn:  changes.Quantity,
		Rate:        changes.PurchaseRate,
	}

	// The ledger carries a derived amount; keep it in step with the
	// effective quantity and rate whenever either moves.
	if changes.Quantity != nil || changes.PurchaseRate != nil {
		quantity := effectiveInt(changes.Quantity, old.Quantity)
		rate := effectiveDecimal(changes.PurchaseRate, old.PurchaseRate)
		amount := decimal.NewFromInt(int64(quantity)).Mul(rate)
		patch.Amount = &amount
	}

	if patch.IsEmpty() {
		return
	}

	if _, err := e.transactions.UpdateByLotKey(ctx, old.Key(), patch); err != nil {
		e.logger.Error().Err(err).
			Str("item_id", old.ItemID).
			Msg("failed to propagate update to stock transactions")
	}
}

// changedFields summarizes an edit for the mutation event
func changedFields(changes *ItemChanges) map[string]any {
	fields := map[string]any{}
	if changes.MedicineName != nil {
		fields["medicine_name"] = *changes.MedicineName
	}
	if changes.BatchNumber != nil {
		fields["batch_number"] = *changes.BatchNumber
	}
	if changes.ExpiryDate != nil {
		fields["expiry_date"] = changes.ExpiryDate.Format("2006-01-02")
	}
	if changes.Quantity != nil {
		fields["quantity"] = *changes.Quantity
	}
	if changes.FreeQuantity != nil {
		fields["free_quantity"] = *changes.FreeQuantity
	}
	if changes.PurchaseRate != nil {
		fields["purchase_rate"] = changes.PurchaseRate.String()
	}
	if changes.MRP != nil {
		fields["mrp"] = changes.MRP.String()
	}
	return fields
}

func effectiveString(change *string, old string) string {
	if change != nil {
		return *change
	}
	return old
}

func effectiveTime(change *time.Time, old time.Time) time.Time {
	if change != nil {
		return *change
	}
	return old
}

func effectiveInt(change *int, old int) int {
	if change != nil {
		return *change
	}
	return old
}

func effectiveDecimal(change *decimal.Decimal, old decimal.Decimal) decimal.Decimal {
	if change != nil {
		return *change
	}
	return old
}
