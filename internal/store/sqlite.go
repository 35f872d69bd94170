package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS attribution (
	visitor_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (visitor_id, key)
);

CREATE TABLE IF NOT EXISTS conversions (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	visitor_id   TEXT NOT NULL,
	variant      TEXT NOT NULL DEFAULT '',
	profile      TEXT NOT NULL,
	tier         TEXT NOT NULL,
	bottleneck   TEXT NOT NULL DEFAULT '',
	metrics      TEXT NOT NULL,
	attribution  TEXT NOT NULL DEFAULT '{}',
	checkout_url TEXT NOT NULL,
	lead_page_id TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_conversions_tier ON conversions(tier);
CREATE INDEX IF NOT EXISTS idx_conversions_visitor ON conversions(visitor_id);
CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SetAttribution(ctx context.Context, visitorID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin attribution")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for k, v := range tags {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attribution (visitor_id, key, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (visitor_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			visitorID, k, v, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: set attribution %s", k)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit attribution")
}

func (s *SQLiteStore) GetAttribution(ctx context.Context, visitorID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM attribution WHERE visitor_id = ?`, visitorID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get attribution")
	}
	defer rows.Close() //nolint:errcheck

	tags := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attribution")
		}
		tags[k] = v
	}
	return tags, eris.Wrap(rows.Err(), "sqlite: get attribution iterate")
}

func (s *SQLiteStore) SaveConversion(ctx context.Context, c *model.Conversion) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	metricsJSON, attrJSON, err := encodeConversion(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode conversion")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversions (id, session_id, visitor_id, variant, profile, tier, bottleneck, metrics, attribution, checkout_url, lead_page_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.VisitorID, c.Variant, c.Profile, string(c.Tier), c.Bottleneck,
		string(metricsJSON), string(attrJSON), c.CheckoutURL, c.LeadPageID, c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert conversion %s", c.ID)
}

const sqliteConversionCols = `id, session_id, visitor_id, variant, profile, tier, bottleneck, metrics, attribution, checkout_url, lead_page_id, created_at`

func (s *SQLiteStore) GetConversion(ctx context.Context, id string) (*model.Conversion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteConversionCols+` FROM conversions WHERE id = ?`, id)
	c, err := scanConversion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get conversion %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get conversion %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListConversions(ctx context.Context, filter ConversionFilter) ([]model.Conversion, error) {
	var where []string
	var args []any
	if filter.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, string(filter.Tier))
	}
	if filter.VisitorID != "" {
		where = append(where, "visitor_id = ?")
		args = append(args, filter.VisitorID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Unpushed {
		where = append(where, "lead_page_id = ''")
	}

	query := `SELECT ` + sqliteConversionCols + ` FROM conversions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.limit(), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conversions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conversion")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list conversions iterate")
}

func (s *SQLiteStore) MarkLeadPushed(ctx context.Context, id, pageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversions SET lead_page_id = ? WHERE id = ?`, pageID, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark lead pushed %s", id)
	}
	return checkRowsAffected(res, "conversion", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConversion(row scannable) (*model.Conversion, error) {
	var c model.Conversion
	var tier, metricsJSON, attrJSON string
	if err := row.Scan(&c.ID, &c.SessionID, &c.VisitorID, &c.Variant, &c.Profile, &tier, &c.Bottleneck,
		&metricsJSON, &attrJSON, &c.CheckoutURL, &c.LeadPageID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Tier = model.Tier(tier)
	if err := decodeConversion(&c, []byte(metricsJSON), []byte(attrJSON)); err != nil {
		return nil, err
	}
	return &c, nil
}

func encodeConversion(c *model.Conversion) (metricsJSON, attrJSON []byte, err error) {
	metricsJSON, err = json.Marshal(c.Metrics)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal metrics")
	}
	attr := c.Attribution
	if attr == nil {
		attr = map[string]string{}
	}
	attrJSON, err = json.Marshal(attr)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal attribution")
	}
	return metricsJSON, attrJSON, nil
}

func decodeConversion(c *model.Conversion, metricsJSON, attrJSON []byte) error {
	if err := json.Unmarshal(metricsJSON, &c.Metrics); err != nil {
		return eris.Wrap(err, "unmarshal metrics")
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &c.Attribution); err != nil {
			return eris.Wrap(err, "unmarshal attribution")
		}
	}
	return nil
}
