package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/rxledger/pharmacy-backend/pkg/database"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
)

// Pharmacy is one tenant of the service. LastCleanupAt records when the
// retention sweep last completed for it, nil if never.
type Pharmacy struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	LastCleanupAt *time.Time `db:"last_cleanup_at" json:"last_cleanup_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// PharmacyRepository handles pharmacy data access
type PharmacyRepository struct {
	db *database.DB
}

// NewPharmacyRepository creates a new pharmacy repository
func NewPharmacyRepository(db *database.DB) *PharmacyRepository {
	return &PharmacyRepository{db: db}
}

// GetByID retrieves a pharmacy by its ID
func (r *PharmacyRepository) GetByID(ctx context.Context, id string) (*Pharmacy, error) {
	var pharmacy Pharmacy
	query := `
		SELECT id, name, last_cleanup_at, created_at, updated_at
		FROM pharmacies
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &pharmacy, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("pharmacy")
		}
		return nil, err
	}
	return &pharmacy, nil
}

// Create inserts a new pharmacy
func (r *PharmacyRepository) Create(ctx context.Context, name string) (*Pharmacy, error) {
	pharmacy := &Pharmacy{ID: uuid.New().String(), Name: name}
	query := `
		INSERT INTO pharmacies (id, name)
		VALUES ($1, $2)
		RETURNING id, name, last_cleanup_at, created_at, updated_at
	`
	if err := r.db.GetContext(ctx, pharmacy, query, pharmacy.ID, pharmacy.Name); err != nil {
		return nil, database.MapPQError(err)
	}
	return pharmacy, nil
}

// List returns all pharmacies ordered by name
func (r *PharmacyRepository) List(ctx context.Context) ([]*Pharmacy, error) {
	var pharmacies []*Pharmacy
	query := `
		SELECT id, name, last_cleanup_at, created_at, updated_at
		FROM pharmacies
		ORDER BY name
	`
	if err := r.db.SelectContext(ctx, &pharmacies, query); err != nil {
		return nil, err
	}
	return pharmacies, nil
}

// ListDueCleanup returns pharmacies whose last sweep finished before the
// given instant, including those never swept at all.
func (r *PharmacyRepository) ListDueCleanup(ctx context.Context, before time.Time) ([]*Pharmacy, error) {
	var pharmacies []*Pharmacy
	query := `
		SELECT id, name, last_cleanup_at, created_at, updated_at
		FROM pharmacies
		WHERE last_cleanup_at IS NULL OR last_cleanup_at < $1
		ORDER BY last_cleanup_at NULLS FIRST
	`
	if err := r.db.SelectContext(ctx, &pharmacies, query, before); err != nil {
		return nil, err
	}
	return pharmacies, nil
}

// StampCleanup records a completed sweep. An empty pharmacyID stamps
// every pharmacy, matching a sweep run without a tenant filter.
func (r *PharmacyRepository) StampCleanup(ctx context.Context, pharmacyID string, at time.Time) error {
	if pharmacyID == "" {
		query := `UPDATE pharmacies SET last_cleanup_at = $1, updated_at = NOW()`
		_, err := r.db.ExecContext(ctx, query, at)
		return err
	}

	query := `UPDATE pharmacies SET last_cleanup_at = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, at, pharmacyID)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFound("pharmacy")
	}
	return nil
}
