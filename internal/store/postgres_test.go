package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var conversionColumns = []string{
	"id", "session_id", "visitor_id", "variant", "profile", "tier", "bottleneck",
	"metrics", "attribution", "checkout_url", "lead_page_id", "created_at",
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS attribution`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetAttribution(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO attribution .* ON CONFLICT`).
		WithArgs("v1", "utm_source", "ig", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetAttribution(context.Background(), "v1", map[string]string{"utm_source": "ig"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetAttribution_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO attribution`).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := s.SetAttribution(context.Background(), "v1", map[string]string{"utm_source": "ig"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set attribution")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAttribution(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT key, value FROM attribution WHERE visitor_id = \$1`).
		WithArgs("v1").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value"}).
			AddRow("utm_source", "ig").
			AddRow("fbclid", "abc"))

	tags, err := s.GetAttribution(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"utm_source": "ig", "fbclid": "abc"}, tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveConversion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	c := sampleConversion("v1", model.TierExpansion, time.Now().UTC())
	mock.ExpectExec(`INSERT INTO conversions`).
		WithArgs(pgxmock.AnyArg(), c.SessionID, "v1", "adjusted", c.Profile, "expansion", c.Bottleneck,
			pgxmock.AnyArg(), pgxmock.AnyArg(), c.CheckoutURL, "", c.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveConversion(context.Background(), c))
	assert.NotEmpty(t, c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConversion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	metrics, err := json.Marshal(model.DerivedMetrics{Exposure: model.ExposureMetrics{Risk: 1200}})
	require.NoError(t, err)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, session_id, .* FROM conversions WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows(conversionColumns).AddRow(
			"c1", "s1", "v1", "classic", "Empresário em Construção", "construction", "b",
			metrics, []byte(`{"utm_source":"ig"}`), "https://pay", "", created,
		))

	got, err := s.GetConversion(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, model.TierConstruction, got.Tier)
	assert.InDelta(t, 1200.0, got.Metrics.Exposure.Risk, 1e-9)
	assert.Equal(t, "ig", got.Attribution["utm_source"])
	assert.Equal(t, created, got.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConversion_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM conversions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetConversion(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListConversions_BuildsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE true AND tier = \$1 AND created_at >= \$2 AND lead_page_id = '' ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("scale", since, 5, 10).
		WillReturnRows(pgxmock.NewRows(conversionColumns))

	out, err := s.ListConversions(context.Background(), ConversionFilter{
		Tier: model.TierScale, Since: since, Unpushed: true, Limit: 5, Offset: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkLeadPushed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE conversions SET lead_page_id = \$1 WHERE id = \$2`).
		WithArgs("page-1", "c1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE conversions SET lead_page_id`).
		WithArgs("page-2", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.MarkLeadPushed(context.Background(), "c1", "page-1"))
	err := s.MarkLeadPushed(context.Background(), "missing", "page-2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close_NilPool(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
