package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/preschool-etl/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestNewSQLite_CreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "nested", "preschool_warehouse.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
	assert.FileExists(t, dbPath)
}

func TestNewSQLite_ParentIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewSQLite(filepath.Join(blocker, "preschool_warehouse.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: create database dir")
}

func TestIsFileDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"data/preschool_warehouse.db", true},
		{"warehouse.db", true},
		{":memory:", false},
		{"file:test.db?mode=memory", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isFileDSN(tt.dsn), tt.dsn)
	}
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_NullableColumnsStoredAsNull(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.AppendPreschools(ctx, []model.Preschool{{ID: "CSPP_0", Name: "Sunshine Preschool", City: "Sacramento"}})
	require.NoError(t, err)

	var nullFull, nullCapacity int
	err = st.db.QueryRowContext(ctx,
		`SELECT full_address IS NULL, capacity IS NULL FROM preschools WHERE id = ?`, "CSPP_0",
	).Scan(&nullFull, &nullCapacity)
	require.NoError(t, err)
	assert.Equal(t, 1, nullFull)
	assert.Equal(t, 1, nullCapacity)
}

func TestSQLite_LocationRequiresPreschool(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveLocations(context.Background(), []model.Location{
		{PreschoolID: "CSPP_404", GeocodingDate: "2026-10-19"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert location CSPP_404")
}

func TestSQLite_SaveLocationsEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.SaveLocations(context.Background(), nil))
}

func TestSQLite_ListDataSourcesDefaultLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := st.RecordDataSource(ctx, model.DataSource{SourceName: "CSAC CSPP List", Status: model.DataSourceCompleted})
		require.NoError(t, err)
	}

	list, err := st.ListDataSources(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestSQLite_ClosedDB(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Close())

	_, err := st.AppendPreschools(context.Background(), []model.Preschool{{ID: "CSPP_0"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: begin append")

	_, err = st.Stats(context.Background())
	require.Error(t, err)
}
