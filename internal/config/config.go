package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source" mapstructure:"source"`
	Paths   PathsConfig   `yaml:"paths" mapstructure:"paths"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SourceConfig describes the upstream spreadsheet and how its rows are stamped.
type SourceConfig struct {
	Name       string `yaml:"name" mapstructure:"name"`
	URL        string `yaml:"url" mapstructure:"url"`
	Tag        string `yaml:"tag" mapstructure:"tag"`
	Publisher  string `yaml:"publisher" mapstructure:"publisher"`
	State      string `yaml:"state" mapstructure:"state"`
	IDStrategy string `yaml:"id_strategy" mapstructure:"id_strategy"`
	SheetIndex int    `yaml:"sheet_index" mapstructure:"sheet_index"`
	SheetName  string `yaml:"sheet_name" mapstructure:"sheet_name"`
	SkipRows   int    `yaml:"skip_rows" mapstructure:"skip_rows"`
}

// PathsConfig holds working directories for raw downloads, snapshots, and logs.
type PathsConfig struct {
	RawDir       string `yaml:"raw_dir" mapstructure:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir" mapstructure:"processed_dir"`
	LogDir       string `yaml:"log_dir" mapstructure:"log_dir"`
}

// StoreConfig configures the database backend. Pool sizes apply to postgres only.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures the source download.
type FetchConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// GeocodeConfig configures the geocoding provider and the enrichment batch.
type GeocodeConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	BatchSize   int           `yaml:"batch_size" mapstructure:"batch_size"`
	RateLimit   time.Duration `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxQPS      float64       `yaml:"max_qps" mapstructure:"max_qps"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExportConfig configures the client-facing JSON artifacts.
type ExportConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	GeoJSONPath string `yaml:"geojson_path" mapstructure:"geojson_path"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MetricsConfig configures metric publication and warehouse health alerts.
type MetricsConfig struct {
	PushgatewayURL       string  `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	AlertWebhookURL      string  `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultGeocodeURL is the Google Geocoding API JSON endpoint.
const DefaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// PlaceholderAPIKey is used when no geocoding key is configured.
const PlaceholderAPIKey = "YOUR_API_KEY"

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRESCHOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("geocode.api_key", "PRESCHOOL_GEOCODE_API_KEY", "GEOCODING_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind geocode api key")
	}

	// Defaults
	v.SetDefault("source.name", "CSAC CSPP List")
	v.SetDefault("source.url", "https://www.csac.ca.gov/sites/default/files/file-attachments/gstg_cspp_list.xlsx")
	v.SetDefault("source.tag", "CSAC")
	v.SetDefault("source.publisher", "California Student Aid Commission")
	v.SetDefault("source.state", "CA")
	v.SetDefault("source.id_strategy", "position")
	v.SetDefault("source.sheet_index", 0)
	v.SetDefault("source.sheet_name", "")
	v.SetDefault("source.skip_rows", 0)
	v.SetDefault("paths.raw_dir", "data/raw")
	v.SetDefault("paths.processed_dir", "data/processed")
	v.SetDefault("paths.log_dir", "data/logs")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/preschool_warehouse.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.user_agent", "preschool-etl/1.0")
	v.SetDefault("geocode.api_key", PlaceholderAPIKey)
	v.SetDefault("geocode.base_url", DefaultGeocodeURL)
	v.SetDefault("geocode.batch_size", 100)
	v.SetDefault("geocode.rate_limit", "500ms")
	v.SetDefault("geocode.max_qps", 0)
	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("export.path", "../src/data/california_preschools.json")
	v.SetDefault("export.geojson_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.alert_webhook_url", "")
	v.SetDefault("metrics.failure_rate_threshold", 0.25)
	v.SetDefault("metrics.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given mode: "extract",
// "geocode", "export", "run" (all three stages), or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	needExtract := mode == "extract" || mode == "run"
	needGeocode := mode == "geocode" || mode == "run"
	needExport := mode == "export" || mode == "run"

	switch mode {
	case "extract", "geocode", "export", "run":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if needExtract {
		if c.Source.URL == "" {
			errs = append(errs, "source.url is required")
		}
		if c.Source.IDStrategy != "position" && c.Source.IDStrategy != "hash" {
			errs = append(errs, fmt.Sprintf("source.id_strategy %q is invalid (valid: position, hash)", c.Source.IDStrategy))
		}
		if c.Source.SkipRows < 0 {
			errs = append(errs, "source.skip_rows must be >= 0")
		}
	}
	if needGeocode {
		if c.Geocode.BatchSize <= 0 {
			errs = append(errs, "geocode.batch_size must be > 0")
		}
		if c.Geocode.RateLimit < 0 {
			errs = append(errs, "geocode.rate_limit must be >= 0")
		}
	}
	if needExport && c.Export.Path == "" {
		errs = append(errs, "export.path is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c *Config) Redacted() Config {
	out := *c
	if out.Geocode.APIKey != "" && out.Geocode.APIKey != PlaceholderAPIKey {
		out.Geocode.APIKey = "********"
	}
	return out
}

// InitLogger initializes the global zap logger. Lines go to stderr and, when
// logFile is non-empty, are also appended to that file as JSON.
func InitLogger(cfg LogConfig, logFile string) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}

	var consoleEnc zapcore.Encoder
	if cfg.Format == "json" {
		consoleEnc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		consoleEnc = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	if logFile != "" {
		fileCore, _, err := openFileCore(logFile, level)
		if err != nil {
			return err
		}
		cores = append(cores, fileCore)
	}

	zap.ReplaceGlobals(zap.New(zapcore.NewTee(cores...)))

	return nil
}

// AttachLogFile tees the global logger into logFile as JSON lines until the
// returned detach func runs. Loggers derived before the call are unaffected.
func AttachLogFile(cfg LogConfig, logFile string) (func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	fileCore, f, err := openFileCore(logFile, level)
	if err != nil {
		return nil, err
	}
	restore := zap.ReplaceGlobals(zap.New(zapcore.NewTee(zap.L().Core(), fileCore)))
	return func() {
		restore()
		_ = f.Close()
	}, nil
}

func openFileCore(logFile string, level zapcore.Level) (zapcore.Core, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, eris.Wrap(err, "config: create log dir")
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, eris.Wrap(err, "config: open log file")
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level), f, nil
}
