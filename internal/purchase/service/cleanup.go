package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rxledger/pharmacy-backend/internal/purchase/events"
	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
	"github.com/rxledger/pharmacy-backend/pkg/logger"
	"github.com/rxledger/pharmacy-backend/pkg/messaging"
)

// CleanupStats counts rows removed per table by one cleanup run
type CleanupStats struct {
	CurrentInventory  int64 `json:"current_inventory"`
	StockTransactions int64 `json:"stock_transactions"`
	PurchaseItems     int64 `json:"purchase_items"`
	Purchases         int64 `json:"purchases"`
}

// CleanupResult is the outcome of one retention cleanup run. On
// failure only the message, error and computed cutoff are meaningful;
// no partial counts are reported.
type CleanupResult struct {
	Success          bool         `json:"success"`
	Message          string       `json:"message"`
	CutoffDate       time.Time    `json:"cutoff_date"`
	BatchesProcessed int          `json:"batches_processed"`
	Stats            CleanupStats `json:"stats"`
	Error            string       `json:"error,omitempty"`
}

// CleanupPreview is the dry-run report: the batches a real run would
// purge and estimated per-table counts. Nothing is mutated.
type CleanupPreview struct {
	CutoffDate time.Time                `json:"cutoff_date"`
	Batches    []*repository.ExpiredLot `json:"batches"`
	Stats      CleanupStats             `json:"stats"`
}

// CleanupEngine purges every lot whose expiry date has aged past the
// retention horizon, driving the same per-lot deletion primitive the
// interactive delete uses. Re-running it is safe: purged lots simply
// no longer appear in the enumeration.
type CleanupEngine struct {
	deletes        *DeleteEngine
	items          ItemStore
	inventory      InventoryStore
	transactions   TransactionStore
	pharmacies     PharmacyStore
	publisher      *events.PurchasePublisher
	logger         *logger.Logger
	retentionYears int
	now            func() time.Time
}

// NewCleanupEngine creates a new retention cleanup engine
func NewCleanupEngine(
	deletes *DeleteEngine,
	items ItemStore,
	inventory InventoryStore,
	transactions TransactionStore,
	pharmacies PharmacyStore,
	publisher *events.PurchasePublisher,
	retentionYears int,
	log *logger.Logger,
) *CleanupEngine {
	return &CleanupEngine{
		deletes:        deletes,
		items:          items,
		inventory:      inventory,
		transactions:   transactions,
		pharmacies:     pharmacies,
		publisher:      publisher,
		logger:         log.WithComponent("cleanup-engine"),
		retentionYears: retentionYears,
		now:            time.Now,
	}
}

// CutoffDate returns January 1 of (current year - retention years).
// Lots expiring strictly before it are eligible for purge.
func (e *CleanupEngine) CutoffDate() time.Time {
	return time.Date(e.now().Year()-e.retentionYears, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// Run purges all expired lots in the given pharmacy scope, or across
// all pharmacies when pharmacyID is empty. Individual missing-dependent
// conditions are tolerated and counted as zero; any unexpected store
// error aborts the whole run with a failure result.
func (e *CleanupEngine) Run(ctx context.Context, pharmacyID string) *CleanupResult {
	cutoff := e.CutoffDate()
	log := e.logger.With().Str("pharmacy_id", pharmacyID).Time("cutoff", cutoff).Logger()

	lots, err := e.items.ListExpiredBefore(ctx, cutoff, pharmacyID)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed to enumerate expired lots")
		return e.failure(cutoff, "failed to enumerate expired lots", err)
	}

	if len(lots) == 0 {
		if err := e.pharmacies.StampCleanup(ctx, pharmacyID, e.now()); err != nil {
			log.Error().Err(err).Msg("cleanup failed to record completion timestamp")
			return e.failure(cutoff, "failed to record cleanup completion", err)
		}
		log.Info().Msg("cleanup found no expired lots")
		return &CleanupResult{
			Success:    true,
			Message:    "no expired batches found",
			CutoffDate: cutoff,
		}
	}

	stats := CleanupStats{}
	for _, lot := range lots {
		counts, err := e.deletes.purgeLot(ctx, lot.ItemID, lot.PurchaseID, lot.MedicineID, lot.LotKey())
		if err != nil {
			log.Error().Err(err).
				Str("item_id", lot.ItemID).
				Str("medicine", lot.MedicineName).
				Msg("cleanup aborted on unexpected error")
			return e.failure(cutoff, fmt.Sprintf("failed while purging batch %s of %s", lot.BatchNumber, lot.MedicineName), err)
		}

		stats.PurchaseItems += counts.items
		stats.CurrentInventory += counts.inventory
		stats.StockTransactions += counts.transactions
		stats.Purchases += counts.purchases
	}

	if err := e.pharmacies.StampCleanup(ctx, pharmacyID, e.now()); err != nil {
		log.Error().Err(err).Msg("cleanup failed to record completion timestamp")
		return e.failure(cutoff, "failed to record cleanup completion", err)
	}

	log.Info().
		Int("batches", len(lots)).
		Int64("items", stats.PurchaseItems).
		Int64("purchases", stats.Purchases).
		Msg("cleanup completed")

	e.publisher.PublishCleanupCompleted(ctx, messaging.CleanupCompletedEvent{
		PharmacyID:       pharmacyID,
		CutoffDate:       cutoff.Format("2006-01-02"),
		BatchesProcessed: len(lots),
		ItemsDeleted:     int(stats.PurchaseItems),
		PurchasesDeleted: int(stats.Purchases),
	})

	return &CleanupResult{
		Success:          true,
		Message:          fmt.Sprintf("purged %d expired batches", len(lots)),
		CutoffDate:       cutoff,
		BatchesProcessed: len(lots),
		Stats:            stats,
	}
}

// DryRun enumerates what a real run would purge without mutating
// anything. Inventory and ledger counts are estimated per lot; the
// purchase count estimates purchases whose every item is expired.
func (e *CleanupEngine) DryRun(ctx context.Context, pharmacyID string) (*CleanupPreview, error) {
	cutoff := e.CutoffDate()

	lots, err := e.items.ListExpiredBefore(ctx, cutoff, pharmacyID)
	if err != nil {
		return nil, err
	}

	preview := &CleanupPreview{
		CutoffDate: cutoff,
		Batches:    lots,
	}
	preview.Stats.PurchaseItems = int64(len(lots))

	for _, lot := range lots {
		key := lot.LotKey()
		if n, err := e.inventory.CountByLotKey(ctx, key); err == nil {
			preview.Stats.CurrentInventory += int64(n)
		}
		if n, err := e.transactions.CountByLotKey(ctx, key); err == nil {
			preview.Stats.StockTransactions += int64(n)
		}
	}

	if n, err := e.items.CountPurchasesFullyExpired(ctx, cutoff, pharmacyID); err == nil {
		preview.Stats.Purchases = int64(n)
	}

	return preview, nil
}

func (e *CleanupEngine) failure(cutoff time.Time, message string, err error) *CleanupResult {
	return &CleanupResult{
		Success:    false,
		Message:    message,
		CutoffDate: cutoff,
		Error:      err.Error(),
	}
}
