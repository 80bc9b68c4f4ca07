package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/model"
	"github.com/sells-group/preschool-etl/internal/monitoring"
	"github.com/sells-group/preschool-etl/internal/store"
)

var fixedNow = time.Date(2026, 10, 19, 16, 45, 3, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedThree stores two geocoded preschools and one that was never geocoded.
func seedThree(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	_, err := st.AppendPreschools(ctx, []model.Preschool{
		{ID: "CSPP_0", Name: "Sunshine Preschool", Address: "1 Main St", City: "Sacramento", ZipCode: "95814",
			LicenseNumber: "123", Capacity: ptr(24), FullAddress: "1 Main St, Sacramento, CA", DataSource: "CSAC"},
		{ID: "CSPP_1", Name: "Oak Tree", Address: "9 Elm Ave", City: "Fresno",
			FullAddress: "9 Elm Ave, Fresno, CA", DataSource: "CSAC"},
		{ID: "CSPP_2", Name: "Pending", Address: "5 Pine Rd", City: "Davis",
			FullAddress: "5 Pine Rd, Davis, CA", DataSource: "CSAC"},
	})
	require.NoError(t, err)
	require.NoError(t, st.SaveLocations(ctx, []model.Location{
		{PreschoolID: "CSPP_0", Latitude: ptr(38.58), Longitude: ptr(-121.49), GeocodingDate: "2026-10-19"},
		{PreschoolID: "CSPP_1", Latitude: ptr(36.74), Longitude: ptr(-119.78), GeocodingDate: "2026-10-19"},
	}))
}

func newExporter(t *testing.T, st store.Store, geojsonPath string, opts ...Option) (*Exporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src", "data", "california_preschools.json")
	cfg := &config.Config{Export: config.ExportConfig{Path: path, GeoJSONPath: geojsonPath}}
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(fixedNow))}, opts...)
	return New(cfg, st, opts...), path
}

func readDocument(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestExport_OnlyGeocodedWithPlaceholders(t *testing.T) {
	st := newTestStore(t)
	seedThree(t, st)
	m := monitoring.NewMetricsForTesting()
	e, path := newExporter(t, st, "", WithMetrics(m))

	res, err := e.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Empty(t, res.GeoJSONPath)

	doc := readDocument(t, path)
	meta := doc["metadata"].(map[string]any)
	assert.Equal(t, "2026-10-19 16:45:03", meta["generated_date"])
	assert.Equal(t, "California Student Aid Commission", meta["source"])
	assert.EqualValues(t, 2, meta["count"])

	items := doc["preschools"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "CSPP_0", first["id"])
	assert.Equal(t, "A California State Preschool Program located in Sacramento. License number: 123", first["description"])
	assert.Equal(t, "CA", first["state"])
	assert.Equal(t, "", first["website"])
	assert.EqualValues(t, 0, first["rating"])
	assert.EqualValues(t, 0, first["reviewCount"])
	assert.Equal(t, "2-5 years", first["ageRange"])
	assert.Equal(t, "California State Preschool Program", first["curriculum"])
	assert.Equal(t, "Subsidized", first["tuition"])
	assert.Equal(t, "Varies", first["hours"])
	assert.EqualValues(t, 24, first["capacity"])
	assert.InDelta(t, 38.58, first["latitude"], 1e-9)
	assert.InDelta(t, -121.49, first["longitude"], 1e-9)
	assert.Equal(t, []any{
		"https://example.com/images/generic_preschool1.jpg",
		"https://example.com/images/generic_preschool2.jpg",
	}, first["images"])
	assert.Equal(t, []any{"California State Preschool Program", "State-funded"}, first["features"])
	assert.Equal(t, []any{}, first["reviews"])

	second := items[1].(map[string]any)
	assert.Equal(t, "CSPP_1", second["id"])
	assert.Nil(t, second["capacity"])
	assert.Nil(t, second["license_number"])
	assert.Contains(t, second, "county")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PreschoolsExported))
}

func TestExport_IndentedTwoSpaces(t *testing.T) {
	st := newTestStore(t)
	seedThree(t, st)
	e, path := newExporter(t, st, "")

	_, err := e.Export(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "{\n  \"metadata\": {\n    \"generated_date\"")
}

func TestExport_EmptyStillWritesDocument(t *testing.T) {
	st := newTestStore(t)
	e, path := newExporter(t, st, "")

	res, err := e.Export(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Count)

	doc := readDocument(t, path)
	assert.EqualValues(t, 0, doc["metadata"].(map[string]any)["count"])
	assert.Equal(t, []any{}, doc["preschools"])
}

func TestExport_GeoJSONSideFile(t *testing.T) {
	st := newTestStore(t)
	seedThree(t, st)
	gjPath := filepath.Join(t.TempDir(), "preschools.geojson")
	e, _ := newExporter(t, st, gjPath)

	res, err := e.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gjPath, res.GeoJSONPath)

	doc := readDocument(t, gjPath)
	assert.Equal(t, "FeatureCollection", doc["type"])
	features := doc["features"].([]any)
	require.Len(t, features, 2)

	f := features[0].(map[string]any)
	assert.Equal(t, "CSPP_0", f["id"])
	geometry := f["geometry"].(map[string]any)
	assert.Equal(t, "Point", geometry["type"])
	coords := geometry["coordinates"].([]any)
	assert.InDelta(t, -121.49, coords[0], 1e-9)
	assert.InDelta(t, 38.58, coords[1], 1e-9)

	bbox := doc["bbox"].([]any)
	require.Len(t, bbox, 4)
	assert.InDelta(t, -121.49, bbox[0], 1e-9)
	assert.InDelta(t, 36.74, bbox[1], 1e-9)
	assert.InDelta(t, -119.78, bbox[2], 1e-9)
	assert.InDelta(t, 38.58, bbox[3], 1e-9)
}

type failingStore struct {
	store.Store
}

func (failingStore) GeocodedPreschools(context.Context) ([]model.Preschool, error) {
	return nil, errors.New("no such table: preschools")
}

func TestExport_ReadErrorPropagates(t *testing.T) {
	e, path := newExporter(t, failingStore{}, "")

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: read geocoded preschools")
	assert.NoFileExists(t, path)
}

func TestExport_WriteErrorPropagates(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := &config.Config{Export: config.ExportConfig{Path: filepath.Join(blocker, "out.json")}}
	_, err := New(cfg, st).Export(context.Background())
	require.Error(t, err)
}

func TestBuild_SkipsUngeocoded(t *testing.T) {
	doc := Build([]model.Preschool{
		{ID: "a", City: "Davis", Latitude: ptr(1.0), Longitude: ptr(2.0)},
		{ID: "b", Latitude: ptr(1.0)},
		{ID: "c"},
	}, fixedNow)

	require.Len(t, doc.Preschools, 1)
	assert.Equal(t, "a", doc.Preschools[0].ID)
	assert.Equal(t, 1, doc.Metadata.Count)
	assert.Nil(t, doc.Preschools[0].Name)
	assert.Equal(t, "Davis", *doc.Preschools[0].City)
}

func TestBuild_PlaceholderSlicesAreIndependent(t *testing.T) {
	doc := Build([]model.Preschool{
		{ID: "a", Latitude: ptr(1.0), Longitude: ptr(2.0)},
		{ID: "b", Latitude: ptr(1.0), Longitude: ptr(2.0)},
	}, fixedNow)

	doc.Preschools[0].Features[0] = "changed"
	assert.Equal(t, "California State Preschool Program", doc.Preschools[1].Features[0])
}

func TestBuildGeoJSON_Empty(t *testing.T) {
	fc := BuildGeoJSON(nil)
	assert.Empty(t, fc.Features)
	assert.Nil(t, fc.BBox)
}

func TestEncodeJSON_NoHTMLEscape(t *testing.T) {
	data, err := EncodeJSON(map[string]string{"name": "Kids & Co <West>"})
	require.NoError(t, err)
	assert.Contains(t, string(data), "Kids & Co <West>")
}

func TestExporter_Name(t *testing.T) {
	e, _ := newExporter(t, nil, "")
	assert.Equal(t, "export", e.Name())
}
