// Package export writes geocoded preschools as the client-facing JSON
// document, with an optional GeoJSON side file.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/monitoring"
	"github.com/sells-group/preschool-etl/internal/store"
)

// StageName is the pipeline name of the export stage.
const StageName = "export"

// Result describes the written artifacts.
type Result struct {
	Path        string `json:"path"`
	GeoJSONPath string `json:"geojson_path,omitempty"`
	Count       int    `json:"count"`
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock sets the time source for metadata.generated_date.
func WithClock(c clockwork.Clock) Option {
	return func(e *Exporter) { e.clock = c }
}

// WithMetrics records the exported count.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

// Exporter reads geocoded preschools from the store and writes the export.
type Exporter struct {
	store       store.Store
	path        string
	geojsonPath string
	clock       clockwork.Clock
	metrics     *monitoring.Metrics
}

// New creates an Exporter from the export settings in cfg.
func New(cfg *config.Config, st store.Store, opts ...Option) *Exporter {
	e := &Exporter{
		store:       st,
		path:        cfg.Export.Path,
		geojsonPath: cfg.Export.GeoJSONPath,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements pipeline.Stage.
func (e *Exporter) Name() string { return StageName }

// Run implements pipeline.Stage.
func (e *Exporter) Run(ctx context.Context) error {
	_, err := e.Export(ctx)
	return err
}

// Export writes the JSON document, and the GeoJSON file when configured.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "export"))

	preschools, err := e.store.GeocodedPreschools(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "export: read geocoded preschools")
	}

	doc := Build(preschools, e.clock.Now())
	if err := writeJSON(e.path, doc); err != nil {
		return nil, err
	}
	res := &Result{Path: e.path, Count: doc.Metadata.Count}

	if e.geojsonPath != "" {
		if err := writeJSON(e.geojsonPath, BuildGeoJSON(preschools)); err != nil {
			return nil, err
		}
		res.GeoJSONPath = e.geojsonPath
	}

	e.metrics.ObserveExport(res.Count)
	log.Info("export complete", zap.String("path", res.Path), zap.Int("count", res.Count))
	return res, nil
}

// EncodeJSON writes v indented with two spaces, without HTML escaping.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, eris.Wrap(err, "export: encode")
	}
	return buf.Bytes(), nil
}

func writeJSON(path string, v any) error {
	data, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
