package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rxledger/pharmacy-backend/pkg/database"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
)

// Medicine represents a catalog entry shared across purchase line items,
// inventory records and stock transactions.
type Medicine struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Manufacturer string    `db:"manufacturer" json:"manufacturer"`
	UnitType     string    `db:"unit_type" json:"unit_type"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// MedicineRepository handles medicine catalog persistence
type MedicineRepository struct {
	db *database.DB
}

// NewMedicineRepository creates a new medicine repository
func NewMedicineRepository(db *database.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

// GetByID gets a medicine by ID
func (r *MedicineRepository) GetByID(ctx context.Context, id string) (*Medicine, error) {
	var m Medicine
	query := `
		SELECT id, name, manufacturer, unit_type, created_at, updated_at
		FROM medicines WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &m, nil
}

// GetByName gets a medicine by exact, case-sensitive name
func (r *MedicineRepository) GetByName(ctx context.Context, name string) (*Medicine, error) {
	var m Medicine
	query := `
		SELECT id, name, manufacturer, unit_type, created_at, updated_at
		FROM medicines WHERE name = $1
	`
	if err := r.db.GetContext(ctx, &m, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &m, nil
}

// Create creates a new medicine. Manufacturer and unit type default to
// placeholder values when the caller only knows the name.
func (r *MedicineRepository) Create(ctx context.Context, m *Medicine) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Manufacturer == "" {
		m.Manufacturer = "Unknown"
	}
	if m.UnitType == "" {
		m.UnitType = "Unknown"
	}

	query := `
		INSERT INTO medicines (id, name, manufacturer, unit_type)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowxContext(ctx, query,
		m.ID, m.Name, m.Manufacturer, m.UnitType,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

// Delete removes a medicine row and reports how many rows were deleted.
// Zero affected rows is not an error: a concurrent reclamation may
// already have removed it.
func (r *MedicineRepository) Delete(ctx context.Context, id string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM medicines WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
