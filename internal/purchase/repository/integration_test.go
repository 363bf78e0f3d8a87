package repository_test

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
	"github.com/rxledger/pharmacy-backend/internal/purchase/service"
	"github.com/rxledger/pharmacy-backend/pkg/database"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
	"github.com/rxledger/pharmacy-backend/pkg/logger"
	"github.com/rxledger/pharmacy-backend/pkg/testutil"
)

var integrationDB *database.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	db, err := container.Connect(ctx)
	if err != nil {
		container.Terminate(ctx)
		log.Fatalf("failed to connect to test database: %v", err)
	}

	if err := container.ApplyPurchaseSchema(ctx, db); err != nil {
		db.Close()
		container.Terminate(ctx)
		log.Fatalf("failed to apply schema: %v", err)
	}

	integrationDB = database.Wrap(db, logger.New("repository-test", "test"))

	code := m.Run()

	db.Close()
	container.Terminate(ctx)
	os.Exit(code)
}

// resetTables empties every table so tests do not see each other's rows
func resetTables(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := integrationDB.ExecContext(ctx, `
		TRUNCATE pharmacies, medicines, purchases, purchase_items,
		         current_inventory, stock_transactions
	`)
	require.NoError(t, err)
}

type lotFixture struct {
	pharmacyID string
	medicineID string
	purchaseID string
	itemID     string
	key        repository.LotKey
}

func seedPharmacy(t *testing.T, ctx context.Context, name string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := integrationDB.ExecContext(ctx,
		`INSERT INTO pharmacies (id, name) VALUES ($1, $2)`, id, name)
	require.NoError(t, err)
	return id
}

func seedMedicine(t *testing.T, ctx context.Context, name string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := integrationDB.ExecContext(ctx,
		`INSERT INTO medicines (id, name) VALUES ($1, $2)`, id, name)
	require.NoError(t, err)
	return id
}

func seedPurchase(t *testing.T, ctx context.Context, pharmacyID string, total decimal.Decimal) string {
	t.Helper()
	id := uuid.New().String()
	_, err := integrationDB.ExecContext(ctx, `
		INSERT INTO purchases (id, pharmacy_id, supplier_name, invoice_number, purchase_date, total_amount)
		VALUES ($1, $2, 'Acme Pharma Distributors', 'INV-001', '2023-01-15', $3)
	`, id, pharmacyID, total)
	require.NoError(t, err)
	return id
}

// seedItem inserts a purchase item; the schema trigger fills gross and
// net amounts from quantity and rate.
func seedItem(t *testing.T, ctx context.Context, purchaseID, medicineID, batch string, expiry time.Time, qty int, rate decimal.Decimal) string {
	t.Helper()
	id := uuid.New().String()
	_, err := integrationDB.ExecContext(ctx, `
		INSERT INTO purchase_items (id, purchase_id, medicine_id, batch_number, expiry_date, quantity, purchase_rate, mrp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, purchaseID, medicineID, batch, expiry, qty, rate)
	require.NoError(t, err)
	return id
}

func seedInventory(t *testing.T, ctx context.Context, key repository.LotKey, stock int) {
	t.Helper()
	_, err := integrationDB.ExecContext(ctx, `
		INSERT INTO current_inventory (id, medicine_id, batch_number, expiry_date, current_stock)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), key.MedicineID, key.BatchNumber, key.ExpiryDate, stock)
	require.NoError(t, err)
}

func seedTransaction(t *testing.T, ctx context.Context, key repository.LotKey, qty int, rate decimal.Decimal) {
	t.Helper()
	amount := decimal.NewFromInt(int64(qty)).Mul(rate)
	_, err := integrationDB.ExecContext(ctx, `
		INSERT INTO stock_transactions (id, medicine_id, batch_number, expiry_date, transaction_type, quantity_in, rate, amount)
		VALUES ($1, $2, $3, $4, 'purchase', $5, $6, $7)
	`, uuid.New().String(), key.MedicineID, key.BatchNumber, key.ExpiryDate, qty, rate, amount)
	require.NoError(t, err)
}

// seedLot creates a pharmacy, medicine, purchase and item plus matching
// inventory and stock transaction rows for one lot.
func seedLot(t *testing.T, ctx context.Context, medicineName, batch string, expiry time.Time, qty int, rate decimal.Decimal) *lotFixture {
	t.Helper()

	pharmacyID := seedPharmacy(t, ctx, "Corner Pharmacy")
	medicineID := seedMedicine(t, ctx, medicineName)
	purchaseID := seedPurchase(t, ctx, pharmacyID, decimal.NewFromInt(int64(qty)).Mul(rate))
	itemID := seedItem(t, ctx, purchaseID, medicineID, batch, expiry, qty, rate)

	key := repository.LotKey{MedicineID: medicineID, BatchNumber: batch, ExpiryDate: expiry}
	seedInventory(t, ctx, key, qty)
	seedTransaction(t, ctx, key, qty, rate)

	return &lotFixture{
		pharmacyID: pharmacyID,
		medicineID: medicineID,
		purchaseID: purchaseID,
		itemID:     itemID,
		key:        key,
	}
}

func newIntegrationEngines(t *testing.T, retentionYears int) (*service.UpdateEngine, *service.DeleteEngine, *service.CleanupEngine) {
	t.Helper()
	testLog := logger.New("repository-test", "test")

	items := repository.NewItemRepository(integrationDB)
	medicines := repository.NewMedicineRepository(integrationDB)
	inventory := repository.NewInventoryRepository(integrationDB)
	transactions := repository.NewTransactionRepository(integrationDB)
	purchases := repository.NewPurchaseRepository(integrationDB)
	pharmacies := repository.NewPharmacyRepository(integrationDB)

	updates := service.NewUpdateEngine(items, medicines, inventory, transactions, purchases, nil, testLog)
	deletes := service.NewDeleteEngine(items, medicines, inventory, transactions, purchases, nil, testLog)
	cleanup := service.NewCleanupEngine(deletes, items, inventory, transactions, pharmacies, nil, retentionYears, testLog)
	return updates, deletes, cleanup
}

func TestIntegration_QuantityChangeCascades(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	resetTables(t, ctx)

	rate := decimal.NewFromInt(10)
	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	lot := seedLot(t, ctx, "Paracetamol 500mg", "PCM-2401", expiry, 5, rate)

	// Second item on the same purchase so the total reflects both lines
	otherMed := seedMedicine(t, ctx, "Ibuprofen 200mg")
	seedItem(t, ctx, lot.purchaseID, otherMed, "IBU-2401", expiry, 2, decimal.NewFromInt(20))

	updates, _, _ := newIntegrationEngines(t, 2)

	qty := 7
	item, err := updates.UpdateItem(ctx, lot.itemID, &service.ItemChanges{Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, 7, item.Quantity)

	// Trigger recomputed the derived amounts
	require.True(t, item.NetAmount.Valid)
	assert.True(t, item.NetAmount.Decimal.Equal(decimal.NewFromInt(70)),
		"net_amount = %s, want 70", item.NetAmount.Decimal)

	// Inventory snapshot mirrors the new quantity
	inv, err := repository.NewInventoryRepository(integrationDB).GetByLotKey(ctx, lot.key)
	require.NoError(t, err)
	assert.Equal(t, 7, inv.CurrentStock)

	// Stock transaction mirrors quantity and amount
	txns, err := repository.NewTransactionRepository(integrationDB).ListByLotKey(ctx, lot.key)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, 7, txns[0].QuantityIn)
	require.True(t, txns[0].Amount.Valid)
	assert.True(t, txns[0].Amount.Decimal.Equal(decimal.NewFromInt(70)),
		"amount = %s, want 70", txns[0].Amount.Decimal)

	// Purchase total re-derived from both lines: 7*10 + 2*20
	p, err := repository.NewPurchaseRepository(integrationDB).GetByID(ctx, lot.purchaseID)
	require.NoError(t, err)
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(110)),
		"total_amount = %s, want 110", p.TotalAmount)
}

func TestIntegration_DeleteLastItemRemovesPurchaseAndMedicine(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	resetTables(t, ctx)

	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	lot := seedLot(t, ctx, "Amoxicillin 250mg", "AMX-2401", expiry, 10, decimal.NewFromInt(5))

	_, deletes, _ := newIntegrationEngines(t, 2)

	outcome, err := deletes.DeleteItem(ctx, lot.itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcome.InventoryRemoved)
	assert.Equal(t, int64(1), outcome.TransactionsRemoved)
	assert.True(t, outcome.PurchaseRemoved)
	assert.True(t, outcome.MedicineRemoved)

	// Every related row is gone
	_, err = repository.NewPurchaseRepository(integrationDB).GetByID(ctx, lot.purchaseID)
	assert.True(t, errors.IsNotFound(err))

	_, err = repository.NewMedicineRepository(integrationDB).GetByID(ctx, lot.medicineID)
	assert.True(t, errors.IsNotFound(err))

	count, err := repository.NewInventoryRepository(integrationDB).CountByLotKey(ctx, lot.key)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIntegration_DeleteItemKeepsSharedMedicine(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	resetTables(t, ctx)

	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	lot := seedLot(t, ctx, "Cetirizine 10mg", "CTZ-2401", expiry, 10, decimal.NewFromInt(3))

	// A second lot of the same medicine on another purchase keeps it referenced
	otherPurchase := seedPurchase(t, ctx, lot.pharmacyID, decimal.NewFromInt(30))
	seedItem(t, ctx, otherPurchase, lot.medicineID, "CTZ-2402", expiry.AddDate(0, 6, 0), 10, decimal.NewFromInt(3))

	_, deletes, _ := newIntegrationEngines(t, 2)

	outcome, err := deletes.DeleteItem(ctx, lot.itemID)
	require.NoError(t, err)
	assert.False(t, outcome.MedicineRemoved)

	med, err := repository.NewMedicineRepository(integrationDB).GetByID(ctx, lot.medicineID)
	require.NoError(t, err)
	assert.Equal(t, "Cetirizine 10mg", med.Name)
}

func TestIntegration_CleanupPurgesExpiredLots(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	resetTables(t, ctx)

	// With a two-year retention the cutoff is January 1 two years back,
	// so anchor the fixtures to the cutoff rather than fixed dates.
	cutoff := time.Date(time.Now().UTC().Year()-2, time.January, 1, 0, 0, 0, 0, time.UTC)

	expired := seedLot(t, ctx, "Ranitidine 150mg", "RAN-OLD", cutoff.AddDate(0, -6, 0), 20, decimal.NewFromInt(2))

	freshMed := seedMedicine(t, ctx, "Omeprazole 20mg")
	freshPurchase := seedPurchase(t, ctx, expired.pharmacyID, decimal.NewFromInt(40))
	freshItemID := seedItem(t, ctx, freshPurchase, freshMed, "OMZ-NEW", cutoff.AddDate(0, 6, 0), 10, decimal.NewFromInt(4))

	_, _, cleanup := newIntegrationEngines(t, 2)

	result := cleanup.Run(ctx, expired.pharmacyID)
	require.True(t, result.Success, "cleanup failed: %s", result.Message)
	assert.Equal(t, 1, result.BatchesProcessed)
	assert.Equal(t, int64(1), result.Stats.PurchaseItems)
	assert.Equal(t, int64(1), result.Stats.CurrentInventory)
	assert.Equal(t, int64(1), result.Stats.StockTransactions)
	assert.Equal(t, int64(1), result.Stats.Purchases)

	items := repository.NewItemRepository(integrationDB)

	// Expired lot and its orphaned purchase are gone
	_, err := items.GetByID(ctx, expired.itemID)
	assert.True(t, errors.IsNotFound(err))
	_, err = repository.NewPurchaseRepository(integrationDB).GetByID(ctx, expired.purchaseID)
	assert.True(t, errors.IsNotFound(err))

	// Fresh lot survives
	fresh, err := items.GetByID(ctx, freshItemID)
	require.NoError(t, err)
	assert.Equal(t, "OMZ-NEW", fresh.BatchNumber)

	// The pharmacy is stamped as cleaned
	pharmacy, err := repository.NewPharmacyRepository(integrationDB).GetByID(ctx, expired.pharmacyID)
	require.NoError(t, err)
	require.NotNil(t, pharmacy.LastCleanupAt)
	assert.WithinDuration(t, time.Now(), *pharmacy.LastCleanupAt, time.Minute)
}

func TestIntegration_CleanupWithNoExpiredLotsStillStamps(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	resetTables(t, ctx)

	pharmacyID := seedPharmacy(t, ctx, "Corner Pharmacy")

	_, _, cleanup := newIntegrationEngines(t, 2)

	result := cleanup.Run(ctx, pharmacyID)
	require.True(t, result.Success)
	assert.Equal(t, 0, result.BatchesProcessed)

	pharmacy, err := repository.NewPharmacyRepository(integrationDB).GetByID(ctx, pharmacyID)
	require.NoError(t, err)
	require.NotNil(t, pharmacy.LastCleanupAt)
}
