package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/preschool-etl/internal/model"
)

// Extent is the coordinate bounding box of the geocoded preschools.
type Extent struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Snapshot holds a point-in-time view of warehouse health.
type Snapshot struct {
	model.Stats
	Extent      *Extent   `json:"extent,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// Source is the subset of store.Store the collector reads.
type Source interface {
	Stats(ctx context.Context) (*model.Stats, error)
	GeocodedPreschools(ctx context.Context) ([]model.Preschool, error)
}

// Collector gathers warehouse snapshots from the store.
type Collector struct {
	store Source
	clock clockwork.Clock
}

// NewCollector creates a new snapshot collector. A nil clock uses real time.
func NewCollector(st Source, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{store: st, clock: clock}
}

// Collect gathers a snapshot of warehouse counts and the coordinate extent.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: stats")
	}

	geocoded, err := c.store.GeocodedPreschools(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: geocoded preschools")
	}

	return &Snapshot{
		Stats:       *stats,
		Extent:      ComputeExtent(geocoded),
		CollectedAt: c.clock.Now().UTC(),
	}, nil
}

// ComputeExtent returns the bounding box of the geocoded preschools, or nil
// when none have coordinates.
func ComputeExtent(preschools []model.Preschool) *Extent {
	bounds := geom.NewBounds(geom.XY)
	for _, p := range preschools {
		if !p.Geocoded() {
			continue
		}
		bounds.Extend(geom.NewPointFlat(geom.XY, []float64{*p.Longitude, *p.Latitude}))
	}
	if bounds.IsEmpty() {
		return nil
	}
	return &Extent{
		MinLng: bounds.Min(0),
		MinLat: bounds.Min(1),
		MaxLng: bounds.Max(0),
		MaxLat: bounds.Max(1),
	}
}
