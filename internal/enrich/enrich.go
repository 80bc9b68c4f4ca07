// Package enrich geocodes preschools that have an address but no location
// record yet.
package enrich

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/model"
	"github.com/sells-group/preschool-etl/internal/monitoring"
	"github.com/sells-group/preschool-etl/internal/store"
	"github.com/sells-group/preschool-etl/pkg/geocode"
)

// StageName is the pipeline name of the geocode stage.
const StageName = "geocode"

// Result summarizes one enrichment batch.
type Result struct {
	Attempted int `json:"attempted"`
	Geocoded  int `json:"geocoded"`
	Failed    int `json:"failed"`
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithClock sets the time source for the inter-request delay and geocoding dates.
func WithClock(c clockwork.Clock) Option {
	return func(e *Enricher) { e.clock = c }
}

// WithMetrics records per-request outcomes.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Enricher) { e.metrics = m }
}

// Enricher geocodes one batch of pending preschools per run.
type Enricher struct {
	store     store.Store
	geocoder  geocode.Client
	batchSize int
	interval  time.Duration
	clock     clockwork.Clock
	metrics   *monitoring.Metrics
}

// New creates an Enricher from the geocode settings in cfg.
func New(cfg *config.Config, st store.Store, gc geocode.Client, opts ...Option) *Enricher {
	e := &Enricher{
		store:     st,
		geocoder:  gc,
		batchSize: cfg.Geocode.BatchSize,
		interval:  cfg.Geocode.RateLimit,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements pipeline.Stage.
func (e *Enricher) Name() string { return StageName }

// Run implements pipeline.Stage.
func (e *Enricher) Run(ctx context.Context) error {
	_, err := e.Enrich(ctx)
	return err
}

// Enrich geocodes up to batchSize pending preschools, one request at a time
// with a fixed delay after each, then persists every outcome in one
// transaction. Per-record provider failures are recorded as null locations;
// selection and persistence failures are returned.
func (e *Enricher) Enrich(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "enrich"))

	if e.batchSize <= 0 {
		return nil, eris.Errorf("enrich: batch size must be > 0, got %d", e.batchSize)
	}

	targets, err := e.store.UngeocodedPreschools(ctx, e.batchSize)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: select pending")
	}
	if len(targets) == 0 {
		log.Info("no preschools pending geocoding")
		return &Result{}, nil
	}

	log.Info("geocoding batch", zap.Int("count", len(targets)), zap.Duration("interval", e.interval))

	res := &Result{}
	locs := make([]model.Location, 0, len(targets))
	for i, t := range targets {
		loc := e.geocodeOne(ctx, t, log)
		locs = append(locs, loc)
		res.Attempted++
		if loc.Matched() {
			res.Geocoded++
		} else {
			res.Failed++
		}

		if (i+1)%25 == 0 {
			log.Info("geocoding progress", zap.Int("done", i+1), zap.Int("total", len(targets)))
		}

		if err := e.pause(ctx); err != nil {
			return nil, eris.Wrap(err, "enrich: interrupted")
		}
	}

	if err := e.store.SaveLocations(ctx, locs); err != nil {
		return nil, eris.Wrap(err, "enrich: save locations")
	}

	log.Info("geocoding complete",
		zap.Int("attempted", res.Attempted),
		zap.Int("geocoded", res.Geocoded),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (e *Enricher) geocodeOne(ctx context.Context, t model.GeocodeTarget, log *zap.Logger) model.Location {
	loc := model.Location{PreschoolID: t.ID}

	start := e.clock.Now()
	r, err := e.geocoder.Geocode(ctx, t.FullAddress)
	elapsed := e.clock.Since(start)
	loc.GeocodingDate = e.clock.Now().Format(model.DateLayout)

	switch {
	case err != nil:
		log.Error("geocoding request failed", zap.String("id", t.ID), zap.String("address", t.FullAddress), zap.Error(err))
		e.metrics.ObserveGeocode(monitoring.OutcomeError, elapsed)
	case !r.Matched:
		log.Warn("geocoding returned no match", zap.String("id", t.ID), zap.String("address", t.FullAddress), zap.String("status", r.Status))
		e.metrics.ObserveGeocode(monitoring.OutcomeUnmatched, elapsed)
	default:
		lat, lng := r.Latitude, r.Longitude
		loc.Latitude, loc.Longitude = &lat, &lng
		e.metrics.ObserveGeocode(monitoring.OutcomeMatched, elapsed)
		fields := []zap.Field{
			zap.String("id", t.ID),
			zap.String("address", t.FullAddress),
			zap.String("quality", string(r.Quality)),
			zap.String("matched_address", r.FormattedAddress),
		}
		if r.Quality == geocode.QualityApproximate {
			log.Warn("geocoded to an approximate location", fields...)
		} else {
			log.Debug("geocoded", fields...)
		}
	}
	return loc
}

// pause waits the configured interval. A non-positive interval does not wait.
func (e *Enricher) pause(ctx context.Context) error {
	if e.interval <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(e.interval):
		return nil
	}
}
