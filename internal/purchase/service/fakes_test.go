package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
)

// fakeStore is an in-memory implementation of every store interface the
// engines use. Individual operations can be made to fail by name via
// the fail map, e.g. fail["inventory.ExistsForMedicine"].
type fakeStore struct {
	items        []*repository.PurchaseItem
	medicines    []*repository.Medicine
	inventory    []*repository.InventoryRecord
	transactions []*repository.StockTransaction
	purchases    []*repository.Purchase
	pharmacies   []*repository.Pharmacy

	fail map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{fail: map[string]error{}}
}

func (s *fakeStore) failing(op string) error {
	return s.fail[op]
}

// --- fixture builders ---

func (s *fakeStore) addPharmacy(id, name string) *repository.Pharmacy {
	p := &repository.Pharmacy{ID: id, Name: name}
	s.pharmacies = append(s.pharmacies, p)
	return p
}

func (s *fakeStore) addMedicine(id, name string) *repository.Medicine {
	m := &repository.Medicine{ID: id, Name: name, Manufacturer: "Unknown", UnitType: "Unknown"}
	s.medicines = append(s.medicines, m)
	return m
}

func (s *fakeStore) addPurchase(id, pharmacyID string, total decimal.Decimal) *repository.Purchase {
	p := &repository.Purchase{
		ID:           id,
		PharmacyID:   pharmacyID,
		SupplierName: "Acme Pharma Distributors",
		TotalAmount:  total,
	}
	s.purchases = append(s.purchases, p)
	return p
}

func (s *fakeStore) addItem(id, purchaseID, medicineID, batch string, expiry time.Time, qty int, rate decimal.Decimal) *repository.PurchaseItem {
	item := &repository.PurchaseItem{
		ID:           id,
		PurchaseID:   purchaseID,
		MedicineID:   medicineID,
		BatchNumber:  batch,
		ExpiryDate:   expiry,
		Quantity:     qty,
		PurchaseRate: rate,
		MRP:          rate.Mul(decimal.NewFromInt(2)),
	}
	s.items = append(s.items, item)
	return item
}

func (s *fakeStore) addInventory(key repository.LotKey, stock int) *repository.InventoryRecord {
	rec := &repository.InventoryRecord{
		ID:           uuid.New().String(),
		MedicineID:   key.MedicineID,
		BatchNumber:  key.BatchNumber,
		ExpiryDate:   key.ExpiryDate,
		CurrentStock: stock,
	}
	s.inventory = append(s.inventory, rec)
	return rec
}

func (s *fakeStore) addTransaction(key repository.LotKey, qtyIn int, rate decimal.Decimal) *repository.StockTransaction {
	txn := &repository.StockTransaction{
		ID:              uuid.New().String(),
		MedicineID:      key.MedicineID,
		BatchNumber:     key.BatchNumber,
		ExpiryDate:      key.ExpiryDate,
		TransactionType: "purchase",
		QuantityIn:      qtyIn,
		Rate:            decimal.NewNullDecimal(rate),
		Amount:          decimal.NewNullDecimal(decimal.NewFromInt(int64(qtyIn)).Mul(rate)),
	}
	s.transactions = append(s.transactions, txn)
	return txn
}

// --- lookup helpers ---

func (s *fakeStore) findItem(id string) *repository.PurchaseItem {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (s *fakeStore) findPurchase(id string) *repository.Purchase {
	for _, p := range s.purchases {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *fakeStore) findMedicine(id string) *repository.Medicine {
	for _, m := range s.medicines {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *fakeStore) findPharmacy(id string) *repository.Pharmacy {
	for _, p := range s.pharmacies {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func sameLot(key repository.LotKey, medicineID, batch string, expiry time.Time) bool {
	return key.MedicineID == medicineID && key.BatchNumber == batch && key.ExpiryDate.Equal(expiry)
}

// --- ItemStore ---

func (s *fakeStore) GetByID(ctx context.Context, id string) (*repository.PurchaseItem, error) {
	if err := s.failing("items.GetByID"); err != nil {
		return nil, err
	}
	if item := s.findItem(id); item != nil {
		copied := *item
		return &copied, nil
	}
	return nil, errors.NotFound("purchase item")
}

func (s *fakeStore) ApplyPatch(ctx context.Context, id string, patch *repository.ItemPatch) error {
	if err := s.failing("items.ApplyPatch"); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	item := s.findItem(id)
	if item == nil {
		return errors.NotFound("purchase item")
	}
	if patch.MedicineID != nil {
		item.MedicineID = *patch.MedicineID
	}
	if patch.BatchNumber != nil {
		item.BatchNumber = *patch.BatchNumber
	}
	if patch.ExpiryDate != nil {
		item.ExpiryDate = *patch.ExpiryDate
	}
	if patch.Quantity != nil {
		item.Quantity = *patch.Quantity
	}
	if patch.FreeQuantity != nil {
		item.FreeQuantity = *patch.FreeQuantity
	}
	if patch.PurchaseRate != nil {
		item.PurchaseRate = *patch.PurchaseRate
	}
	if patch.MRP != nil {
		item.MRP = *patch.MRP
	}
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) (int64, error) {
	if err := s.failing("items.Delete"); err != nil {
		return 0, err
	}
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) ListByPurchase(ctx context.Context, purchaseID string) ([]*repository.PurchaseItem, error) {
	if err := s.failing("items.ListByPurchase"); err != nil {
		return nil, err
	}
	result := []*repository.PurchaseItem{}
	for _, item := range s.items {
		if item.PurchaseID == purchaseID {
			result = append(result, item)
		}
	}
	return result, nil
}

func (s *fakeStore) LotKeyInUse(ctx context.Context, key repository.LotKey, excludeItemID string) (bool, error) {
	if err := s.failing("items.LotKeyInUse"); err != nil {
		return false, err
	}
	for _, item := range s.items {
		if item.ID != excludeItemID && sameLot(key, item.MedicineID, item.BatchNumber, item.ExpiryDate) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ExistsForMedicine(ctx context.Context, medicineID string) (bool, error) {
	if err := s.failing("items.ExistsForMedicine"); err != nil {
		return false, err
	}
	for _, item := range s.items {
		if item.MedicineID == medicineID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ListExpiredBefore(ctx context.Context, cutoff time.Time, pharmacyID string) ([]*repository.ExpiredLot, error) {
	if err := s.failing("items.ListExpiredBefore"); err != nil {
		return nil, err
	}
	lots := []*repository.ExpiredLot{}
	for _, item := range s.items {
		if !item.ExpiryDate.Before(cutoff) {
			continue
		}
		if pharmacyID != "" {
			purchase := s.findPurchase(item.PurchaseID)
			if purchase == nil || purchase.PharmacyID != pharmacyID {
				continue
			}
		}
		name := ""
		if m := s.findMedicine(item.MedicineID); m != nil {
			name = m.Name
		}
		lots = append(lots, &repository.ExpiredLot{
			ItemID:       item.ID,
			PurchaseID:   item.PurchaseID,
			MedicineID:   item.MedicineID,
			MedicineName: name,
			BatchNumber:  item.BatchNumber,
			ExpiryDate:   item.ExpiryDate,
			Quantity:     item.Quantity,
		})
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].ExpiryDate.Before(lots[j].ExpiryDate) })
	return lots, nil
}

func (s *fakeStore) CountPurchasesFullyExpired(ctx context.Context, cutoff time.Time, pharmacyID string) (int, error) {
	if err := s.failing("items.CountPurchasesFullyExpired"); err != nil {
		return 0, err
	}
	count := 0
	for _, purchase := range s.purchases {
		if pharmacyID != "" && purchase.PharmacyID != pharmacyID {
			continue
		}
		items, _ := s.ListByPurchase(ctx, purchase.ID)
		if len(items) == 0 {
			continue
		}
		allExpired := true
		for _, item := range items {
			if !item.ExpiryDate.Before(cutoff) {
				allExpired = false
				break
			}
		}
		if allExpired {
			count++
		}
	}
	return count, nil
}

// --- MedicineStore ---

func (s *fakeStore) GetByName(ctx context.Context, name string) (*repository.Medicine, error) {
	if err := s.failing("medicines.GetByName"); err != nil {
		return nil, err
	}
	for _, m := range s.medicines {
		if m.Name == name {
			copied := *m
			return &copied, nil
		}
	}
	return nil, errors.NotFound("medicine")
}

func (s *fakeStore) Create(ctx context.Context, m *repository.Medicine) error {
	if err := s.failing("medicines.Create"); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Manufacturer == "" {
		m.Manufacturer = "Unknown"
	}
	if m.UnitType == "" {
		m.UnitType = "Unknown"
	}
	copied := *m
	s.medicines = append(s.medicines, &copied)
	return nil
}

// --- medicineStore / purchaseStore delete disambiguation ---
//
// MedicineStore.Delete and PurchaseStore.Delete share a signature with
// ItemStore.Delete, so the fake cannot implement all three on one type.
// Small view types forward to the shared state instead.

type fakeMedicines struct{ *fakeStore }

func (s fakeMedicines) Delete(ctx context.Context, id string) (int64, error) {
	if err := s.failing("medicines.Delete"); err != nil {
		return 0, err
	}
	for i, m := range s.medicines {
		if m.ID == id {
			s.fakeStore.medicines = append(s.medicines[:i], s.medicines[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

type fakePurchases struct{ *fakeStore }

func (s fakePurchases) SetTotal(ctx context.Context, id string, total decimal.Decimal) error {
	if err := s.failing("purchases.SetTotal"); err != nil {
		return err
	}
	purchase := s.findPurchase(id)
	if purchase == nil {
		return errors.NotFound("purchase")
	}
	purchase.TotalAmount = total
	return nil
}

func (s fakePurchases) Delete(ctx context.Context, id string) (int64, error) {
	if err := s.failing("purchases.Delete"); err != nil {
		return 0, err
	}
	for i, p := range s.purchases {
		if p.ID == id {
			s.fakeStore.purchases = append(s.purchases[:i], s.purchases[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// --- InventoryStore ---

type fakeInventory struct{ *fakeStore }

func (s fakeInventory) UpdateByLotKey(ctx context.Context, key repository.LotKey, patch *repository.InventoryPatch) (int64, error) {
	if err := s.failing("inventory.UpdateByLotKey"); err != nil {
		return 0, err
	}
	if patch.IsEmpty() {
		return 0, nil
	}
	var affected int64
	for _, rec := range s.inventory {
		if !sameLot(key, rec.MedicineID, rec.BatchNumber, rec.ExpiryDate) {
			continue
		}
		if patch.BatchNumber != nil {
			rec.BatchNumber = *patch.BatchNumber
		}
		if patch.ExpiryDate != nil {
			rec.ExpiryDate = *patch.ExpiryDate
		}
		if patch.CurrentStock != nil {
			rec.CurrentStock = *patch.CurrentStock
		}
		if patch.LastPurchaseRate != nil {
			rec.LastPurchaseRate = decimal.NewNullDecimal(*patch.LastPurchaseRate)
		}
		if patch.CurrentMRP != nil {
			rec.CurrentMRP = decimal.NewNullDecimal(*patch.CurrentMRP)
		}
		affected++
	}
	return affected, nil
}

func (s fakeInventory) DeleteByLotKey(ctx context.Context, key repository.LotKey) (int64, error) {
	if err := s.failing("inventory.DeleteByLotKey"); err != nil {
		return 0, err
	}
	kept := s.inventory[:0]
	var affected int64
	for _, rec := range s.inventory {
		if sameLot(key, rec.MedicineID, rec.BatchNumber, rec.ExpiryDate) {
			affected++
			continue
		}
		kept = append(kept, rec)
	}
	s.fakeStore.inventory = kept
	return affected, nil
}

func (s fakeInventory) CountByLotKey(ctx context.Context, key repository.LotKey) (int, error) {
	if err := s.failing("inventory.CountByLotKey"); err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range s.inventory {
		if sameLot(key, rec.MedicineID, rec.BatchNumber, rec.ExpiryDate) {
			count++
		}
	}
	return count, nil
}

func (s fakeInventory) ExistsForMedicine(ctx context.Context, medicineID string) (bool, error) {
	if err := s.failing("inventory.ExistsForMedicine"); err != nil {
		return false, err
	}
	for _, rec := range s.inventory {
		if rec.MedicineID == medicineID {
			return true, nil
		}
	}
	return false, nil
}

// --- TransactionStore ---

type fakeTransactions struct{ *fakeStore }

func (s fakeTransactions) UpdateByLotKey(ctx context.Context, key repository.LotKey, patch *repository.TransactionPatch) (int64, error) {
	if err := s.failing("transactions.UpdateByLotKey"); err != nil {
		return 0, err
	}
	if patch.IsEmpty() {
		return 0, nil
	}
	var affected int64
	for _, txn := range s.transactions {
		if !sameLot(key, txn.MedicineID, txn.BatchNumber, txn.ExpiryDate) {
			continue
		}
		if patch.BatchNumber != nil {
			txn.BatchNumber = *patch.BatchNumber
		}
		if patch.ExpiryDate != nil {
			txn.ExpiryDate = *patch.ExpiryDate
		}
		if patch.QuantityIn != nil {
			txn.QuantityIn = *patch.QuantityIn
		}
		if patch.Rate != nil {
			txn.Rate = decimal.NewNullDecimal(*patch.Rate)
		}
		if patch.Amount != nil {
			txn.Amount = decimal.NewNullDecimal(*patch.Amount)
		}
		affected++
	}
	return affected, nil
}

func (s fakeTransactions) DeleteByLotKey(ctx context.Context, key repository.LotKey) (int64, error) {
	if err := s.failing("transactions.DeleteByLotKey"); err != nil {
		return 0, err
	}
	kept := s.transactions[:0]
	var affected int64
	for _, txn := range s.transactions {
		if sameLot(key, txn.MedicineID, txn.BatchNumber, txn.ExpiryDate) {
			affected++
			continue
		}
		kept = append(kept, txn)
	}
	s.fakeStore.transactions = kept
	return affected, nil
}

func (s fakeTransactions) CountByLotKey(ctx context.Context, key repository.LotKey) (int, error) {
	if err := s.failing("transactions.CountByLotKey"); err != nil {
		return 0, err
	}
	count := 0
	for _, txn := range s.transactions {
		if sameLot(key, txn.MedicineID, txn.BatchNumber, txn.ExpiryDate) {
			count++
		}
	}
	return count, nil
}

func (s fakeTransactions) ExistsForMedicine(ctx context.Context, medicineID string) (bool, error) {
	if err := s.failing("transactions.ExistsForMedicine"); err != nil {
		return false, err
	}
	for _, txn := range s.transactions {
		if txn.MedicineID == medicineID {
			return true, nil
		}
	}
	return false, nil
}

// --- PharmacyStore ---

type fakePharmacies struct{ *fakeStore }

func (s fakePharmacies) ListDueCleanup(ctx context.Context, before time.Time) ([]*repository.Pharmacy, error) {
	if err := s.failing("pharmacies.ListDueCleanup"); err != nil {
		return nil, err
	}
	due := []*repository.Pharmacy{}
	for _, p := range s.pharmacies {
		if p.LastCleanupAt == nil || p.LastCleanupAt.Before(before) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (s fakePharmacies) StampCleanup(ctx context.Context, pharmacyID string, at time.Time) error {
	if err := s.failing("pharmacies.StampCleanup"); err != nil {
		return err
	}
	if pharmacyID == "" {
		for _, p := range s.pharmacies {
			stamped := at
			p.LastCleanupAt = &stamped
		}
		return nil
	}
	p := s.findPharmacy(pharmacyID)
	if p == nil {
		return errors.NotFound("pharmacy")
	}
	stamped := at
	p.LastCleanupAt = &stamped
	return nil
}
