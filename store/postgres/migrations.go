package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Rental store.
var Migrations = migrate.NewGroup("rental")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_rental_registry",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rental_registry (
    slot       INT PRIMARY KEY CHECK (slot = 1),
    id         TEXT NOT NULL,
    size       INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rental_registry`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rental_assets",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rental_assets (
    idx        INT PRIMARY KEY CHECK (idx >= 0),
    state_kind TEXT NOT NULL DEFAULT 'available'
               CHECK (state_kind IN ('available', 'in_use', 'inspection')),
    holder     TEXT NOT NULL DEFAULT '',
    version    BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_rental_assets_state ON rental_assets (state_kind, holder);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rental_assets`)
				return err
			},
		},
	)
}
