package enrich

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/model"
	"github.com/sells-group/preschool-etl/internal/monitoring"
	"github.com/sells-group/preschool-etl/internal/store"
	"github.com/sells-group/preschool-etl/pkg/geocode"
)

var fixedNow = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

// fakeGeocoder answers from a function and counts calls.
type fakeGeocoder struct {
	mu    sync.Mutex
	calls []string
	fn    func(address string) (*geocode.Result, error)
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (*geocode.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	f.mu.Unlock()
	return f.fn(address)
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func matchAll(lat, lng float64) *fakeGeocoder {
	return &fakeGeocoder{fn: func(string) (*geocode.Result, error) {
		return &geocode.Result{Latitude: lat, Longitude: lng, Status: "OK", Matched: true}, nil
	}}
}

func newTestStore(t *testing.T, n int) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	rows := make([]model.Preschool, n)
	for i := range rows {
		rows[i] = model.Preschool{
			ID:          fmt.Sprintf("CSPP_%d", i),
			Name:        fmt.Sprintf("Preschool %d", i),
			Address:     fmt.Sprintf("%d Main St", i+1),
			City:        "Sacramento",
			FullAddress: fmt.Sprintf("%d Main St, Sacramento, CA", i+1),
		}
	}
	_, err = st.AppendPreschools(context.Background(), rows)
	require.NoError(t, err)
	return st
}

func testConfig(batch int, interval time.Duration) *config.Config {
	return &config.Config{Geocode: config.GeocodeConfig{BatchSize: batch, RateLimit: interval}}
}

func TestEnrich_SetsCoordinatesAndLocation(t *testing.T) {
	st := newTestStore(t, 1)
	cs := &capturingStore{Store: st}
	gc := matchAll(38.58, -121.49)

	e := New(testConfig(100, 0), cs, gc, WithClock(clockwork.NewFakeClockAt(fixedNow)))
	res, err := e.Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Attempted: 1, Geocoded: 1}, res)
	assert.Equal(t, []string{"1 Main St, Sacramento, CA"}, gc.calls)
	require.Len(t, cs.saved, 1)
	assert.Equal(t, "CSPP_0", cs.saved[0].PreschoolID)
	assert.Equal(t, "2026-10-19", cs.saved[0].GeocodingDate)

	geocoded, err := st.GeocodedPreschools(context.Background())
	require.NoError(t, err)
	require.Len(t, geocoded, 1)
	assert.InDelta(t, 38.58, *geocoded[0].Latitude, 1e-9)
	assert.InDelta(t, -121.49, *geocoded[0].Longitude, 1e-9)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Failed)
}

func TestEnrich_NeverExceedsBatchSize(t *testing.T) {
	st := newTestStore(t, 5)
	gc := matchAll(38.58, -121.49)
	e := New(testConfig(2, 0), st, gc)

	res, err := e.Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, gc.callCount())

	res, err = e.Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)

	res, err = e.Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 5, gc.callCount())

	res, err = e.Enrich(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, 5, gc.callCount())
}

func TestEnrich_FailuresRecordedAndNotRetried(t *testing.T) {
	st := newTestStore(t, 3)
	gc := &fakeGeocoder{fn: func(address string) (*geocode.Result, error) {
		switch address {
		case "1 Main St, Sacramento, CA":
			return &geocode.Result{Latitude: 38.58, Longitude: -121.49, Status: "OK", Matched: true}, nil
		case "2 Main St, Sacramento, CA":
			return &geocode.Result{Status: "ZERO_RESULTS"}, nil
		default:
			return nil, errors.New("connection reset")
		}
	}}
	m := monitoring.NewMetricsForTesting()
	e := New(testConfig(100, 0), st, gc, WithMetrics(m))

	res, err := e.Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Attempted: 3, Geocoded: 1, Failed: 2}, res)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Geocoded)
	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Pending)

	res, err = e.Enrich(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, 3, gc.callCount())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues(monitoring.OutcomeMatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues(monitoring.OutcomeUnmatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues(monitoring.OutcomeError)))
}

func TestEnrich_FixedDelayAfterEachRequest(t *testing.T) {
	st := newTestStore(t, 3)
	gc := matchAll(38.58, -121.49)
	fc := clockwork.NewFakeClockAt(fixedNow)
	interval := 500 * time.Millisecond
	e := New(testConfig(100, interval), st, gc, WithClock(fc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.Enrich(ctx)
		done <- outcome{res, err}
	}()

	for i := 1; i <= 3; i++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		assert.Equal(t, i, gc.callCount(), "request %d should wait for the delay", i+1)
		fc.Advance(interval)
	}

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 3, out.res.Geocoded)
	assert.Equal(t, fixedNow.Add(3*interval), fc.Now())
}

func TestEnrich_CancelDuringDelay(t *testing.T) {
	st := newTestStore(t, 2)
	gc := matchAll(38.58, -121.49)
	fc := clockwork.NewFakeClock()
	e := New(testConfig(100, time.Second), st, gc, WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Enrich(ctx)
		errCh <- err
	}()

	require.NoError(t, fc.BlockUntilContext(context.Background(), 1))
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrich: interrupted")

	stats, statsErr := st.Stats(context.Background())
	require.NoError(t, statsErr)
	assert.Equal(t, 2, stats.Pending)
}

type capturingStore struct {
	store.Store
	saved []model.Location
}

func (c *capturingStore) SaveLocations(ctx context.Context, locs []model.Location) error {
	c.saved = append(c.saved, locs...)
	return c.Store.SaveLocations(ctx, locs)
}

type failingSaveStore struct {
	store.Store
}

func (failingSaveStore) SaveLocations(context.Context, []model.Location) error {
	return errors.New("database is locked")
}

func TestEnrich_SaveFailurePropagates(t *testing.T) {
	st := newTestStore(t, 1)
	e := New(testConfig(100, 0), failingSaveStore{st}, matchAll(1, 2))

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrich: save locations")
}

func TestEnrich_InvalidBatchSize(t *testing.T) {
	st := newTestStore(t, 1)
	_, err := New(testConfig(0, 0), st, matchAll(1, 2)).Enrich(context.Background())
	require.Error(t, err)
}

func TestEnrich_SkipsRowsWithoutFullAddress(t *testing.T) {
	st := newTestStore(t, 0)
	_, err := st.AppendPreschools(context.Background(), []model.Preschool{{ID: "CSPP_0", Name: "No Address"}})
	require.NoError(t, err)

	gc := matchAll(1, 2)
	res, err := New(testConfig(100, 0), st, gc).Enrich(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Zero(t, gc.callCount())
}

func TestEnricher_Name(t *testing.T) {
	assert.Equal(t, "geocode", New(testConfig(1, 0), nil, nil).Name())
}

func TestEnrich_WarnsOnApproximateMatch(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	st := newTestStore(t, 2)
	gc := &fakeGeocoder{fn: func(address string) (*geocode.Result, error) {
		q := geocode.QualityRooftop
		if address == "2 Main St, Sacramento, CA" {
			q = geocode.QualityApproximate
		}
		return &geocode.Result{Latitude: 38.58, Longitude: -121.49, Status: "OK", Quality: q, Matched: true}, nil
	}}

	res, err := New(testConfig(100, 0), st, gc).Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Geocoded)

	warned := logs.FilterMessage("geocoded to an approximate location").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "CSPP_1", warned[0].ContextMap()["id"])
	assert.Equal(t, "approximate", warned[0].ContextMap()["quality"])

	precise := logs.FilterMessage("geocoded").All()
	require.Len(t, precise, 1)
	assert.Equal(t, "rooftop", precise[0].ContextMap()["quality"])
}
