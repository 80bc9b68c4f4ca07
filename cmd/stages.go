package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/enrich"
	"github.com/sells-group/preschool-etl/internal/export"
	"github.com/sells-group/preschool-etl/internal/extract"
	"github.com/sells-group/preschool-etl/internal/fetcher"
	"github.com/sells-group/preschool-etl/internal/monitoring"
	"github.com/sells-group/preschool-etl/internal/pipeline"
	"github.com/sells-group/preschool-etl/internal/store"
	"github.com/sells-group/preschool-etl/pkg/geocode"
)

// metricsJob is the Pushgateway job name for batch runs.
const metricsJob = "preschool_etl"

// Log files under paths.log_dir. Stage files receive that stage's lines
// whether it runs alone or under `run`.
const (
	extractLogFile = "cspp_data_extract.log"
	geocodeLogFile = "geocoding.log"
	exportLogFile  = "integration.log"
	runLogFile     = "etl_{ts}.log"
)

var stageLogFiles = map[pipeline.State]string{
	pipeline.StateExtract: extractLogFile,
	pipeline.StateGeocode: geocodeLogFile,
	pipeline.StateExport:  exportLogFile,
}

// withStageLogs points each step at its stage log file in logDir.
func withStageLogs(steps []pipeline.Step, logDir string) []pipeline.Step {
	out := make([]pipeline.Step, len(steps))
	for i, st := range steps {
		if name, ok := stageLogFiles[st.State]; ok {
			st.LogFile = filepath.Join(logDir, name)
		}
		out[i] = st
	}
	return out
}

// stageEnv holds the dependencies shared by the stage commands.
type stageEnv struct {
	cfg      *config.Config
	store    store.Store
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
}

func newStageEnv(ctx context.Context, c *config.Config) (*stageEnv, error) {
	st, err := openStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	return &stageEnv{
		cfg:      c,
		store:    st,
		registry: reg,
		metrics:  monitoring.NewMetrics(reg),
	}, nil
}

func (e *stageEnv) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func (e *stageEnv) extractor() (*extract.Extractor, error) {
	f, err := fetcher.ForURL(e.cfg.Source.URL, fetcher.Options{
		UserAgent: e.cfg.Fetch.UserAgent,
		Timeout:   time.Duration(e.cfg.Fetch.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return extract.New(e.cfg, e.store, f, extract.WithMetrics(e.metrics)), nil
}

func (e *stageEnv) enricher() *enrich.Enricher {
	gc := newGeocoder(e.cfg.Geocode)
	return enrich.New(e.cfg, e.store, gc, enrich.WithMetrics(e.metrics))
}

func (e *stageEnv) exporter() *export.Exporter {
	return export.New(e.cfg, e.store, export.WithMetrics(e.metrics))
}

func newGeocoder(gc config.GeocodeConfig) geocode.Client {
	if gc.APIKey == "" || gc.APIKey == config.PlaceholderAPIKey {
		zap.L().Warn("geocoding API key is not set; requests will be denied (set GEOCODING_API_KEY)")
	}
	return geocode.NewClient(
		geocode.WithAPIKey(gc.APIKey),
		geocode.WithBaseURL(gc.BaseURL),
		geocode.WithTimeout(time.Duration(gc.TimeoutSecs)*time.Second),
		geocode.WithRateLimit(gc.MaxQPS),
	)
}

// orchestrate runs steps, then pushes the run's metrics when a Pushgateway
// is configured. Push failures are logged, not returned.
func (e *stageEnv) orchestrate(ctx context.Context, steps []pipeline.Step) (*pipeline.Result, error) {
	res, runErr := pipeline.New(steps,
		pipeline.WithMetrics(e.metrics),
		pipeline.WithLogConfig(e.cfg.Log),
	).Run(ctx)

	if err := monitoring.Push(ctx, e.cfg.Metrics.PushgatewayURL, metricsJob, e.registry); err != nil {
		zap.L().Warn("push metrics", zap.Error(err))
	}

	if runErr != nil {
		return res, eris.Wrap(runErr, "run failed")
	}
	return res, nil
}

// runSingle runs one stage under the orchestrator with a fatal policy. The
// command's own log file is already the stage file, so no step file is set.
func (e *stageEnv) runSingle(ctx context.Context, state pipeline.State, stage pipeline.Stage) error {
	_, err := e.orchestrate(ctx, []pipeline.Step{{State: state, Stage: stage, Policy: pipeline.Fatal}})
	return err
}
