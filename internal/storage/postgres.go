package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000

	pgForeignKeyViolation = "23503"
)

const shapeColumns = `id, type, name, description, location_address, category_id, metadata, creator_id, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresStore creates a Store on pool.
// queryTimeout sets the per-query context deadline; zero means no timeout.
func NewPostgresStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, queryTimeout: queryTimeout}
}

// withTimeout derives a child context with the configured query timeout.
// If queryTimeout is zero, the parent context is returned unchanged.
func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func encodeMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		md = map[string]any{}
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) CreateShape(ctx context.Context, req shape.CreateRequest) (*shape.Shape, error) {
	u, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.CreatorID == uuid.Nil {
		req.CreatorID = u.ID
	}
	if req.CreatorID != u.ID && !u.IsAdmin() {
		return nil, fmt.Errorf("%w: cannot create on behalf of another user", ErrForbidden)
	}
	md, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := uuid.New()
	var out *shape.Shape
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO shapes (id, type, name, description, location_address, category_id, metadata, creator_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, string(req.Type), req.Name, req.Description, req.LocationAddress,
			nullableUUID(req.CategoryID), md, req.CreatorID)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, p := range req.Points {
			pointID := uuid.New()
			batch.Queue(`INSERT INTO points (id, latitude, longitude) VALUES ($1, $2, $3)`,
				pointID, p.Latitude, p.Longitude)
			batch.Queue(`INSERT INTO shape_points (shape_id, point_id, sequence_order) VALUES ($1, $2, $3)`,
				id, pointID, i+1)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		out, err = loadShape(ctx, tx, id)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("create shape: %w", schema.ErrUnknownCategory)
		}
		return nil, fmt.Errorf("create shape: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetShape(ctx context.Context, id uuid.UUID) (*shape.Shape, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sh, err := loadShape(ctx, s.pool, id)
	if err != nil {
		return nil, fmt.Errorf("get shape: %w", err)
	}
	return sh, nil
}

func (s *PostgresStore) PatchShape(ctx context.Context, id uuid.UUID, p shape.Patch) (*shape.Shape, error) {
	if _, err := currentUser(ctx); err != nil {
		return nil, err
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Name != nil {
		set("name", *p.Name)
	}
	if p.Description != nil {
		set("description", *p.Description)
	}
	if p.LocationAddress != nil {
		set("location_address", *p.LocationAddress)
	}
	if p.CategoryID != nil {
		set("category_id", nullableUUID(*p.CategoryID))
	}
	if p.Metadata != nil {
		md, err := encodeMetadata(p.Metadata)
		if err != nil {
			return nil, err
		}
		set("metadata", md)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *shape.Shape
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if len(sets) > 0 {
			args = append(args, id)
			query := fmt.Sprintf(`UPDATE shapes SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
			tag, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrNotFound
			}
		}
		var err error
		out, err = loadShape(ctx, tx, id)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("patch shape: %w", schema.ErrUnknownCategory)
		}
		return nil, fmt.Errorf("patch shape: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteShape(ctx context.Context, id uuid.UUID) error {
	u, err := currentUser(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var creator uuid.UUID
		err := tx.QueryRow(ctx, `SELECT creator_id FROM shapes WHERE id = $1 FOR UPDATE`, id).Scan(&creator)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !canDelete(u, creator) {
			return fmt.Errorf("%w: only the creator or an admin may delete", ErrForbidden)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM points WHERE id IN (SELECT point_id FROM shape_points WHERE shape_id = $1)
		`, id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM shapes WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete shape: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListShapes(ctx context.Context) ([]*shape.Shape, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	shapes, err := queryShapes(ctx, s.pool, `
		SELECT `+shapeColumns+` FROM shapes ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list shapes: %w", err)
	}
	return shapes, nil
}

func (s *PostgresStore) ShapesInCategory(ctx context.Context, categoryID uuid.UUID) ([]*shape.Shape, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	shapes, err := queryShapes(ctx, s.pool, `
		SELECT `+shapeColumns+` FROM shapes WHERE category_id = $1 ORDER BY created_at, id
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("shapes in category: %w", err)
	}
	return shapes, nil
}

func (s *PostgresStore) ListShapesPage(ctx context.Context, cursor string, limit int) (*Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var cursorVal *Cursor
	if cursor != "" {
		var err error
		cursorVal, err = DecodeCursor(cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
	}
	after, afterID, err := cursorVal.Position()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	shapes, err := queryShapes(ctx, s.pool, `
		SELECT `+shapeColumns+` FROM shapes
		WHERE (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3
	`, after, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list shapes page: %w", err)
	}

	page := &Page{Shapes: shapes}

	// A full page might have more behind it.
	if len(shapes) == limit {
		last := shapes[len(shapes)-1]
		next := Cursor{CreatedAt: last.CreatedAt.Format(time.RFC3339Nano), ID: last.ID}
		encoded, err := next.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode next cursor: %w", err)
		}
		page.NextCursor = encoded
		page.HasMore = true
	}
	return page, nil
}

func loadShape(ctx context.Context, q querier, id uuid.UUID) (*shape.Shape, error) {
	shapes, err := queryShapes(ctx, q, `SELECT `+shapeColumns+` FROM shapes WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(shapes) == 0 {
		return nil, ErrNotFound
	}
	return shapes[0], nil
}

// queryShapes runs a shape query and attaches the ordered points of every result.
func queryShapes(ctx context.Context, q querier, sql string, args ...any) ([]*shape.Shape, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		shapes []*shape.Shape
		ids    []uuid.UUID
		byID   = make(map[uuid.UUID]*shape.Shape)
	)
	for rows.Next() {
		sh, err := scanShape(rows)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, sh)
		ids = append(ids, sh.ID)
		byID[sh.ID] = sh
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return shapes, nil
	}

	prows, err := q.Query(ctx, `
		SELECT sp.shape_id, sp.point_id, sp.sequence_order, p.latitude, p.longitude
		FROM shape_points sp
		JOIN points p ON p.id = sp.point_id
		WHERE sp.shape_id = ANY($1)
		ORDER BY sp.shape_id, sp.sequence_order
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load points: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var sp shape.ShapePoint
		if err := prows.Scan(&sp.ShapeID, &sp.PointID, &sp.SequenceOrder, &sp.Point.Latitude, &sp.Point.Longitude); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if sh, ok := byID[sp.ShapeID]; ok {
			sh.Points = append(sh.Points, sp)
		}
	}
	return shapes, prows.Err()
}

func scanShape(row pgx.Row) (*shape.Shape, error) {
	var (
		sh       shape.Shape
		typ      string
		category *uuid.UUID
		metadata []byte
	)
	err := row.Scan(&sh.ID, &typ, &sh.Name, &sh.Description, &sh.LocationAddress,
		&category, &metadata, &sh.CreatorID, &sh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan shape: %w", err)
	}
	sh.Type = shape.Type(typ)
	if category != nil {
		sh.CategoryID = *category
	}
	if err := json.Unmarshal(metadata, &sh.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", sh.ID, err)
	}
	if sh.Metadata == nil {
		sh.Metadata = map[string]any{}
	}
	return &sh, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]schema.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, color, icon, fields_definition, created_at
		FROM categories
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []schema.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCategory(ctx context.Context, id uuid.UUID) (*schema.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := scanCategory(s.pool.QueryRow(ctx, `
		SELECT id, name, color, icon, fields_definition, created_at
		FROM categories WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	fields, err := json.Marshal(fieldsOrEmpty(c.FieldsDefinition))
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := scanCategory(s.pool.QueryRow(ctx, `
		INSERT INTO categories (id, name, color, icon, fields_definition)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, color, icon, fields_definition, created_at
	`, c.ID, c.Name, c.Color, c.Icon, fields))
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	fields, err := json.Marshal(fieldsOrEmpty(c.FieldsDefinition))
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := scanCategory(s.pool.QueryRow(ctx, `
		UPDATE categories SET name = $2, color = $3, icon = $4, fields_definition = $5
		WHERE id = $1
		RETURNING id, name, color, icon, fields_definition, created_at
	`, c.ID, c.Name, c.Color, c.Icon, fields))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update category: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func fieldsOrEmpty(fs []schema.FieldDefinition) []schema.FieldDefinition {
	if fs == nil {
		return []schema.FieldDefinition{}
	}
	return fs
}

func scanCategory(row pgx.Row) (*schema.Category, error) {
	var (
		c      schema.Category
		fields []byte
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Color, &c.Icon, &fields, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &c.FieldsDefinition); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", c.ID, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetMapConfiguration(ctx context.Context) (*mapconfig.Config, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM map_configuration WHERE id = 1`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get map configuration: %w", err)
	}
	var cfg mapconfig.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("decode map configuration: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) PutMapConfiguration(ctx context.Context, cfg mapconfig.Config) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode map configuration: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO map_configuration (id, body, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, body)
	if err != nil {
		return fmt.Errorf("put map configuration: %w", err)
	}
	return nil
}
