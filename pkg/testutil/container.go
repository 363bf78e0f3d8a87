// Package testutil provides testing utilities for the pharmacy backend:
// a sqlmock harness for repository unit tests and a testcontainers
// PostgreSQL instance for the opt-in integration suite.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "pharmacy_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "pharmacy_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// ApplyPurchaseSchema creates the tables the cascade and cleanup engines
// operate on. It mirrors the production migrations, including the trigger
// that recomputes a line item's derived amounts on quantity/rate writes.
func (c *PostgresContainer) ApplyPurchaseSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS pharmacies (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			last_cleanup_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS medicines (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			manufacturer TEXT NOT NULL DEFAULT 'Unknown',
			unit_type TEXT NOT NULL DEFAULT 'Unknown',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS purchases (
			id UUID PRIMARY KEY,
			pharmacy_id UUID NOT NULL,
			supplier_name TEXT NOT NULL,
			invoice_number TEXT NOT NULL,
			purchase_date DATE NOT NULL,
			total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS purchase_items (
			id UUID PRIMARY KEY,
			purchase_id UUID NOT NULL,
			medicine_id UUID NOT NULL,
			batch_number TEXT NOT NULL,
			expiry_date DATE NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			free_quantity INT NOT NULL DEFAULT 0,
			purchase_rate NUMERIC(12,2) NOT NULL CHECK (purchase_rate >= 0),
			mrp NUMERIC(12,2) NOT NULL CHECK (mrp >= 0),
			gross_amount NUMERIC(14,2),
			net_amount NUMERIC(14,2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS current_inventory (
			id UUID PRIMARY KEY,
			medicine_id UUID NOT NULL,
			batch_number TEXT NOT NULL,
			expiry_date DATE NOT NULL,
			current_stock INT NOT NULL DEFAULT 0,
			last_purchase_rate NUMERIC(12,2),
			current_mrp NUMERIC(12,2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS stock_transactions (
			id UUID PRIMARY KEY,
			medicine_id UUID NOT NULL,
			batch_number TEXT NOT NULL,
			expiry_date DATE NOT NULL,
			transaction_type TEXT NOT NULL DEFAULT 'purchase',
			quantity_in INT NOT NULL DEFAULT 0,
			rate NUMERIC(12,2),
			amount NUMERIC(14,2),
			reference UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE OR REPLACE FUNCTION recompute_item_amounts() RETURNS trigger AS $$
		BEGIN
			NEW.gross_amount := NEW.quantity * NEW.purchase_rate;
			NEW.net_amount := NEW.gross_amount;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS purchase_items_amounts ON purchase_items;
		CREATE TRIGGER purchase_items_amounts
			BEFORE INSERT OR UPDATE OF quantity, purchase_rate ON purchase_items
			FOR EACH ROW EXECUTE FUNCTION recompute_item_amounts();
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply purchase schema: %w", err)
	}
	return nil
}
