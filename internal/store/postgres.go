package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/raulk/clock"
)

var log = logging.Logger("store")

var pathRe = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// Postgres stores each collection in its own table:
//
//	id TEXT PRIMARY KEY, version BIGINT, doc JSONB, created_at, updated_at
type Postgres struct {
	pool *pgxpool.Pool
	clk  clock.Clock
}

func NewPostgres(pool *pgxpool.Pool, clk clock.Clock) *Postgres {
	if clk == nil {
		clk = clock.New()
	}
	return &Postgres{pool: pool, clk: clk}
}

func (p *Postgres) clock() clock.Clock { return p.clk }

func (p *Postgres) open(spec Spec) rawCollection {
	c := &pgCollection{pool: p.pool, spec: spec, indexes: map[string]string{}}
	for _, path := range spec.Unique {
		c.indexes[indexName(spec.Name, path)] = path
	}
	return c
}

// Next atomically increments the (name, year) counter.
func (p *Postgres) Next(ctx context.Context, name string, year int) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO counters (name, year, seq) VALUES ($1, $2, 1)
		ON CONFLICT (name, year) DO UPDATE SET seq = counters.seq + 1
		RETURNING seq`, name, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next %s/%d: %w", name, year, err)
	}
	return seq, nil
}

// EnsureSchema creates the counters table and one table per spec with its
// unique indexes. It is idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context, specs ...Spec) error {
	if _, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS counters (
			name TEXT NOT NULL,
			year INTEGER NOT NULL,
			seq BIGINT NOT NULL,
			PRIMARY KEY (name, year)
		)`); err != nil {
		return fmt.Errorf("create counters: %w", err)
	}
	for _, spec := range specs {
		if !pathRe.MatchString(spec.Name) || strings.Contains(spec.Name, ".") {
			return fmt.Errorf("invalid collection name %q", spec.Name)
		}
		_, err := p.pool.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id TEXT PRIMARY KEY,
				version BIGINT NOT NULL,
				doc JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS %[1]s_created_idx ON %[1]s (created_at DESC)`, spec.Name))
		if err != nil {
			return fmt.Errorf("create %s: %w", spec.Name, err)
		}
		for _, path := range spec.Unique {
			expr, err := jsonPath(path)
			if err != nil {
				return err
			}
			_, err = p.pool.Exec(ctx, fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s ((%s)) WHERE %s <> ''`,
				indexName(spec.Name, path), spec.Name, expr, expr))
			if err != nil {
				return fmt.Errorf("create unique index %s.%s: %w", spec.Name, path, err)
			}
		}
		log.Debugw("collection ensured", "collection", spec.Name)
	}
	return nil
}

func indexName(collection, path string) string {
	return strings.ToLower(collection + "_" + strings.ReplaceAll(path, ".", "_") + "_key")
}

func jsonPath(path string) (string, error) {
	if !pathRe.MatchString(path) {
		return "", fmt.Errorf("invalid document path %q", path)
	}
	return fmt.Sprintf("(doc #>> '{%s}')", strings.ReplaceAll(path, ".", ",")), nil
}

type pgCollection struct {
	pool    *pgxpool.Pool
	spec    Spec
	indexes map[string]string
}

func (c *pgCollection) mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		field, ok := c.indexes[pgErr.ConstraintName]
		if !ok {
			field = "_id"
		}
		return &DuplicateError{Collection: c.spec.Name, Field: field}
	}
	return err
}

func (c *pgCollection) insert(ctx context.Context, id string, createdAt time.Time, doc []byte) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, version, doc, created_at, updated_at) VALUES ($1, 1, $2, $3, $3)`, c.spec.Name),
		id, doc, createdAt)
	if err != nil {
		return c.mapErr(err)
	}
	return nil
}

func (c *pgCollection) get(ctx context.Context, id string) ([]byte, error) {
	var doc []byte
	err := c.pool.QueryRow(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, c.spec.Name), id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", c.spec.Name, id, err)
	}
	return doc, nil
}

func (c *pgCollection) update(ctx context.Context, id string, version int64, doc []byte) error {
	tag, err := c.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET version = $3, doc = $4, updated_at = NOW() WHERE id = $1 AND version = $2`, c.spec.Name),
		id, version, version+1, doc)
	if err != nil {
		return c.mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := c.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, c.spec.Name), id).Scan(&exists); err != nil {
		return fmt.Errorf("update %s %s: %w", c.spec.Name, id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (c *pgCollection) find(ctx context.Context, q Query) ([][]byte, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	eq := func(f Filter) ([]string, error) {
		var conds []string
		for path, v := range f {
			expr, err := jsonPath(path)
			if err != nil {
				return nil, err
			}
			conds = append(conds, fmt.Sprintf("COALESCE(%s, '') = %s", expr, arg(text(v))))
		}
		return conds, nil
	}

	conds, err := eq(q.Where)
	if err != nil {
		return nil, err
	}
	where = append(where, conds...)

	if len(q.AnyOf) > 0 {
		var alts []string
		for _, f := range q.AnyOf {
			conds, err := eq(f)
			if err != nil {
				return nil, err
			}
			if len(conds) > 0 {
				alts = append(alts, "("+strings.Join(conds, " AND ")+")")
			}
		}
		if len(alts) > 0 {
			where = append(where, "("+strings.Join(alts, " OR ")+")")
		}
	}

	if q.Search != "" && len(q.SearchFields) > 0 {
		term := arg("%" + q.Search + "%")
		var alts []string
		for _, path := range q.SearchFields {
			expr, err := jsonPath(path)
			if err != nil {
				return nil, err
			}
			alts = append(alts, fmt.Sprintf("%s ILIKE %s", expr, term))
		}
		where = append(where, "("+strings.Join(alts, " OR ")+")")
	}

	sql := fmt.Sprintf(`SELECT doc FROM %s`, c.spec.Name)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + arg(q.Offset)
	}

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.spec.Name, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.spec.Name, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
