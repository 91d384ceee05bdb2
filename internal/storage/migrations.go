package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one idempotent DDL step.
type Migration struct {
	Name string
	SQL  string
}

// Migrations are applied in order by RunMigrations.
var Migrations = []Migration{
	{"categories", `
		CREATE TABLE IF NOT EXISTS categories (
			id                UUID PRIMARY KEY,
			name              TEXT NOT NULL,
			color             TEXT NOT NULL DEFAULT '',
			icon              TEXT NOT NULL DEFAULT '',
			fields_definition JSONB NOT NULL DEFAULT '[]',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`},
	{"shapes", `
		CREATE TABLE IF NOT EXISTS shapes (
			id               UUID PRIMARY KEY,
			type             TEXT NOT NULL CHECK (type IN ('point', 'line', 'polygon')),
			name             TEXT NOT NULL DEFAULT '',
			description      TEXT NOT NULL DEFAULT '',
			location_address TEXT NOT NULL DEFAULT '',
			category_id      UUID REFERENCES categories (id) ON DELETE SET NULL,
			metadata         JSONB NOT NULL DEFAULT '{}',
			creator_id       UUID NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_shapes_category ON shapes (category_id);
		CREATE INDEX IF NOT EXISTS idx_shapes_page ON shapes (created_at, id);
	`},
	{"points", `
		CREATE TABLE IF NOT EXISTS points (
			id        UUID PRIMARY KEY,
			latitude  DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL
		);

		CREATE TABLE IF NOT EXISTS shape_points (
			shape_id       UUID NOT NULL REFERENCES shapes (id) ON DELETE CASCADE,
			point_id       UUID NOT NULL REFERENCES points (id) ON DELETE CASCADE,
			sequence_order INT NOT NULL CHECK (sequence_order > 0),
			PRIMARY KEY (shape_id, sequence_order)
		);
	`},
	{"map_configuration", `
		CREATE TABLE IF NOT EXISTS map_configuration (
			id         INT PRIMARY KEY CHECK (id = 1),
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`},
	{"plugins", `
		CREATE TABLE IF NOT EXISTS plugins (
			id            UUID PRIMARY KEY,
			name          TEXT NOT NULL,
			endpoint      TEXT NOT NULL,
			subscribed_events TEXT[] NOT NULL DEFAULT '{}',
			status        TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`},
}

// RunMigrations creates every table the store needs.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range Migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("migrate %s: %w", m.Name, err)
		}
	}
	return nil
}
