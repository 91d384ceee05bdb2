package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PluginStore persists plugin registrations.
type PluginStore interface {
	// SavePlugin inserts p, or overwrites the registration with the same id.
	SavePlugin(ctx context.Context, p *Plugin) error
	DeletePlugin(ctx context.Context, id uuid.UUID) error
	// ListPlugins returns the plugins matching f, oldest first.
	ListPlugins(ctx context.Context, f PluginFilter) ([]*Plugin, error)
}

// PostgresPluginStore keeps registrations in the plugins table, with the
// subscribed events as a TEXT[] column.
type PostgresPluginStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresPluginStore creates a PluginStore on pool. A zero timeout
// leaves the caller's deadline alone.
func NewPostgresPluginStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresPluginStore {
	return &PostgresPluginStore{pool: pool, timeout: timeout}
}

func (s *PostgresPluginStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, s.timeout)
}

const upsertPlugin = `
	INSERT INTO plugins (id, name, endpoint, subscribed_events, status, created_at)
	VALUES (@id, @name, @endpoint, @events, @status, @created_at)
	ON CONFLICT (id) DO UPDATE SET
		name              = EXCLUDED.name,
		endpoint          = EXCLUDED.endpoint,
		subscribed_events = EXCLUDED.subscribed_events,
		status            = EXCLUDED.status`

func (s *PostgresPluginStore) SavePlugin(ctx context.Context, p *Plugin) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	args := pgx.NamedArgs{
		"id":         p.ID,
		"name":       p.Name,
		"endpoint":   p.Endpoint,
		"events":     p.SubscribedEvents,
		"status":     string(p.Status),
		"created_at": p.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, upsertPlugin, args); err != nil {
		return fmt.Errorf("save plugin %s: %w", p.Name, err)
	}
	return nil
}

func (s *PostgresPluginStore) DeletePlugin(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM plugins WHERE id = $1`, id)
	switch {
	case err != nil:
		return fmt.Errorf("delete plugin: %w", err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return nil
}

// ListPlugins filters in SQL: an event matches through the subscribed_events array.
func (s *PostgresPluginStore) ListPlugins(ctx context.Context, f PluginFilter) ([]*Plugin, error) {
	var (
		where []string
		args  = pgx.NamedArgs{}
	)
	if f.Event != "" {
		where = append(where, "@event = ANY(subscribed_events)")
		args["event"] = f.Event
	}
	if f.Status != "" {
		where = append(where, "status = @status")
		args["status"] = string(f.Status)
	}
	query := `SELECT id, name, endpoint, subscribed_events, status, created_at FROM plugins`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	plugins, err := pgx.CollectRows(rows, collectPlugin)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	return plugins, nil
}

func collectPlugin(row pgx.CollectableRow) (*Plugin, error) {
	var (
		p      Plugin
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Endpoint, &p.SubscribedEvents, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = PluginStatus(status)
	return &p, nil
}
