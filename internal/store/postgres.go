package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	poolCfg.apply(pgxCfg)

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// apply sizes the pool. Zero fields keep the defaults.
func (p *PoolConfig) apply(c *pgxpool.Config) {
	c.MaxConns, c.MinConns = 8, 1
	c.MaxConnLifetime = time.Hour
	c.MaxConnIdleTime = 10 * time.Minute
	if p == nil {
		return
	}
	if p.MaxConns > 0 {
		c.MaxConns = p.MaxConns
	}
	if p.MinConns > 0 {
		c.MinConns = p.MinConns
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS attribution (
	visitor_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (visitor_id, key)
);

CREATE TABLE IF NOT EXISTS conversions (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id   TEXT NOT NULL,
	visitor_id   TEXT NOT NULL,
	variant      TEXT NOT NULL DEFAULT '',
	profile      TEXT NOT NULL,
	tier         TEXT NOT NULL,
	bottleneck   TEXT NOT NULL DEFAULT '',
	metrics      JSONB NOT NULL,
	attribution  JSONB NOT NULL DEFAULT '{}'::jsonb,
	checkout_url TEXT NOT NULL,
	lead_page_id TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversions_tier ON conversions(tier);
CREATE INDEX IF NOT EXISTS idx_conversions_visitor ON conversions(visitor_id);
CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversions_unpushed ON conversions(created_at) WHERE lead_page_id = '';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SetAttribution(ctx context.Context, visitorID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin attribution")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for k, v := range tags {
		_, err := tx.Exec(ctx,
			`INSERT INTO attribution (visitor_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (visitor_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			visitorID, k, v, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: set attribution %s", k)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit attribution")
}

func (s *PostgresStore) GetAttribution(ctx context.Context, visitorID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM attribution WHERE visitor_id = $1`, visitorID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get attribution")
	}
	defer rows.Close()

	tags := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attribution")
		}
		tags[k] = v
	}
	return tags, eris.Wrap(rows.Err(), "postgres: get attribution iterate")
}

func (s *PostgresStore) SaveConversion(ctx context.Context, c *model.Conversion) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	metricsJSON, attrJSON, err := encodeConversion(c)
	if err != nil {
		return eris.Wrap(err, "postgres: encode conversion")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversions (id, session_id, visitor_id, variant, profile, tier, bottleneck, metrics, attribution, checkout_url, lead_page_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.SessionID, c.VisitorID, c.Variant, c.Profile, string(c.Tier), c.Bottleneck,
		metricsJSON, attrJSON, c.CheckoutURL, c.LeadPageID, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert conversion %s", c.ID)
}

const postgresConversionCols = `id, session_id, visitor_id, variant, profile, tier, bottleneck, metrics, attribution, checkout_url, lead_page_id, created_at`

func (s *PostgresStore) GetConversion(ctx context.Context, id string) (*model.Conversion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresConversionCols+` FROM conversions WHERE id = $1`, id)
	c, err := scanPgConversion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get conversion %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get conversion %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListConversions(ctx context.Context, filter ConversionFilter) ([]model.Conversion, error) {
	query := `SELECT ` + postgresConversionCols + ` FROM conversions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Tier != "" {
		query += fmt.Sprintf(` AND tier = $%d`, argIdx)
		args = append(args, string(filter.Tier))
		argIdx++
	}
	if filter.VisitorID != "" {
		query += fmt.Sprintf(` AND visitor_id = $%d`, argIdx)
		args = append(args, filter.VisitorID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	if filter.Unpushed {
		query += ` AND lead_page_id = ''`
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conversions")
	}
	defer rows.Close()

	var out []model.Conversion
	for rows.Next() {
		c, err := scanPgConversion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan conversion")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list conversions iterate")
}

func (s *PostgresStore) MarkLeadPushed(ctx context.Context, id, pageID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversions SET lead_page_id = $1 WHERE id = $2`, pageID, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark lead pushed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "conversion %s", id)
	}
	return nil
}

func scanPgConversion(row scannable) (*model.Conversion, error) {
	var c model.Conversion
	var tier string
	var metricsJSON, attrJSON []byte
	if err := row.Scan(&c.ID, &c.SessionID, &c.VisitorID, &c.Variant, &c.Profile, &tier, &c.Bottleneck,
		&metricsJSON, &attrJSON, &c.CheckoutURL, &c.LeadPageID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Tier = model.Tier(tier)
	if err := decodeConversion(&c, metricsJSON, attrJSON); err != nil {
		return nil, err
	}
	return &c, nil
}
