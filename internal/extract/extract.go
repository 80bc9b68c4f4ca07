// Package extract downloads the CSPP spreadsheet, cleans it, and appends the
// rows to the warehouse.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/fetcher"
	"github.com/sells-group/preschool-etl/internal/model"
	"github.com/sells-group/preschool-etl/internal/monitoring"
	"github.com/sells-group/preschool-etl/internal/store"
)

// StageName is the pipeline name of the extract stage.
const StageName = "extract"

// fileTimestamp names raw downloads and snapshots.
const fileTimestamp = "20060102_150405"

// Result summarizes one extraction.
type Result struct {
	RawPath      string
	SnapshotPath string
	SourceRows   int
	Records      int
	Inserted     int
	Duplicates   int
	DataSourceID int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock sets the time source for file names and extraction dates.
func WithClock(c clockwork.Clock) Option {
	return func(e *Extractor) { e.clock = c }
}

// WithMetrics records row counts.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// Extractor runs the fetch and load steps as one stage.
type Extractor struct {
	source  config.SourceConfig
	paths   config.PathsConfig
	store   store.Store
	fetcher fetcher.Fetcher
	clock   clockwork.Clock
	metrics *monitoring.Metrics
}

// New creates an Extractor.
func New(cfg *config.Config, st store.Store, f fetcher.Fetcher, opts ...Option) *Extractor {
	e := &Extractor{
		source:  cfg.Source,
		paths:   cfg.Paths,
		store:   st,
		fetcher: f,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements pipeline.Stage.
func (e *Extractor) Name() string { return StageName }

// Run implements pipeline.Stage.
func (e *Extractor) Run(ctx context.Context) error {
	_, err := e.Extract(ctx)
	return err
}

// Extract downloads the source, loads it, and records the outcome in the
// data_sources audit log. On failure a Failed audit row with a zero count is
// written before the error is returned.
func (e *Extractor) Extract(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "extract"))
	now := e.clock.Now()
	date := now.Format(model.DateLayout)

	res, err := e.extract(ctx, now, log)
	if err != nil {
		log.Error("extraction failed", zap.Error(err))
		if _, auditErr := e.store.RecordDataSource(ctx, e.dataSource(date, 0, model.DataSourceFailed)); auditErr != nil {
			log.Error("failed to record failed extraction", zap.Error(auditErr))
		}
		return nil, err
	}

	id, err := e.store.RecordDataSource(ctx, e.dataSource(date, res.Records, model.DataSourceCompleted))
	if err != nil {
		return nil, eris.Wrap(err, "extract: record data source")
	}
	res.DataSourceID = id

	log.Info("extraction complete",
		zap.Int("source_rows", res.SourceRows),
		zap.Int("records", res.Records),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

func (e *Extractor) extract(ctx context.Context, now time.Time, log *zap.Logger) (*Result, error) {
	stamp := now.Format(fileTimestamp)
	rawPath := filepath.Join(e.paths.RawDir, fmt.Sprintf("cspp_data_%s.xlsx", stamp))

	log.Info("downloading source", zap.String("url", e.source.URL))
	n, err := e.fetcher.DownloadToFile(ctx, e.source.URL, rawPath)
	if err != nil {
		return nil, eris.Wrap(err, "extract: download")
	}
	log.Info("source downloaded", zap.String("path", rawPath), zap.Int64("bytes", n))

	rows, err := fetcher.ReadXLSX(rawPath, fetcher.XLSXOptions{
		SheetIndex: e.source.SheetIndex,
		SheetName:  e.source.SheetName,
		SkipRows:   e.source.SkipRows,
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: read spreadsheet")
	}

	loaded, err := Transform(rows, LoadOptions{
		Tag:            e.source.Tag,
		State:          e.source.State,
		ExtractionDate: now.Format(model.DateLayout),
		IDStrategy:     IDStrategy(e.source.IDStrategy),
	})
	if err != nil {
		return nil, err
	}

	snapshotPath := filepath.Join(e.paths.ProcessedDir, fmt.Sprintf("cspp_processed_%s.csv", stamp))
	if err := WriteSnapshot(snapshotPath, loaded.Columns, loaded.Records); err != nil {
		return nil, err
	}
	log.Info("processed snapshot written", zap.String("path", snapshotPath), zap.Int("records", len(loaded.Records)))

	inserted, err := e.store.AppendPreschools(ctx, loaded.Preschools)
	if err != nil {
		return nil, eris.Wrap(err, "extract: append preschools")
	}
	if skipped := len(loaded.Preschools) - inserted; skipped > 0 {
		log.Info("rows already present were left unchanged", zap.Int("skipped", skipped))
	}

	e.metrics.ObserveLoad(len(loaded.Preschools), inserted, loaded.Duplicates)

	return &Result{
		RawPath:      rawPath,
		SnapshotPath: snapshotPath,
		SourceRows:   loaded.SourceRows,
		Records:      len(loaded.Preschools),
		Inserted:     inserted,
		Duplicates:   loaded.Duplicates,
	}, nil
}

func (e *Extractor) dataSource(date string, count int, status model.DataSourceStatus) model.DataSource {
	return model.DataSource{
		SourceName:     e.source.Name,
		SourceURL:      e.source.URL,
		ExtractionDate: date,
		RecordCount:    count,
		Status:         status,
	}
}
