// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
)

// Config holds all storeflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Paths      PathsConfig      `yaml:"paths"`
	Extract    ExtractConfig    `yaml:"extract"`
	Sink       SinkConfig       `yaml:"sink"`
	State      StateConfig      `yaml:"state"`
	Storage    StorageConfig    `yaml:"storage"`
	Validation ValidationConfig `yaml:"validation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// PathsConfig locates raw inputs and processed outputs. Either may be a
// local directory or an s3://bucket/prefix URL.
type PathsConfig struct {
	RawDir       string `yaml:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir"`
}

// ExtractConfig controls extraction.
type ExtractConfig struct {
	// Incremental narrows extraction to rows after each source's watermark
	// when a previous run exists and --full is not given.
	Incremental bool `yaml:"incremental"`
}

// SinkConfig controls where warehouse tables are written.
type SinkConfig struct {
	FileFormat string           `yaml:"file_format"` // csv | parquet
	Relational RelationalConfig `yaml:"relational"`
}

// RelationalConfig configures the database/sql sink.
type RelationalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // sqlite3 | sqlite | duckdb | pgx
	DSN     string `yaml:"dsn"`
}

// StateConfig selects the run-state backend.
type StateConfig struct {
	Backend string           `yaml:"backend"` // file | redis | s3
	Path    string           `yaml:"path"`
	Redis   RedisStateConfig `yaml:"redis"`
	S3      S3StateConfig    `yaml:"s3"`
}

// RedisStateConfig configures the redis state backend.
type RedisStateConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// S3StateConfig configures the S3 state backend.
type S3StateConfig struct {
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
}

// StorageConfig holds shared object-storage credentials.
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config configures every S3 client storeflow creates.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // MinIO, LocalStack
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ValidationConfig controls validation escalation.
type ValidationConfig struct {
	FailOnError bool `yaml:"fail_on_error"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`   // optional, written alongside stderr
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			RawDir:       filepath.Join("data", "raw"),
			ProcessedDir: filepath.Join("data", "processed"),
		},
		Sink: SinkConfig{
			FileFormat: "csv",
			Relational: RelationalConfig{
				Enabled: true,
				Driver:  "sqlite3",
				DSN:     "ecommerce.db",
			},
		},
		State: StateConfig{
			Backend: "file",
			Path:    ".etl_state.json",
			Redis: RedisStateConfig{
				Addr: "localhost:6379",
				Key:  "storeflow:state",
			},
			S3: S3StateConfig{
				Key: "storeflow/state.json",
			},
		},
		Storage: StorageConfig{
			S3: S3Config{Region: "us-east-1"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "storeflow",
			SampleRatio: 1.0,
		},
	}
}

// Validate checks enumerated fields and required combinations.
func (c *Config) Validate() error {
	var errs sferrors.MultiError

	if c.Paths.RawDir == "" {
		errs.Add(sferrors.New(sferrors.CodeConfigInvalid, "paths.raw_dir is required"))
	}
	if c.Paths.ProcessedDir == "" {
		errs.Add(sferrors.New(sferrors.CodeConfigInvalid, "paths.processed_dir is required"))
	}

	switch c.Sink.FileFormat {
	case "csv", "parquet":
	default:
		errs.Add(sferrors.Newf(sferrors.CodeConfigInvalid, "sink.file_format %q must be csv or parquet", c.Sink.FileFormat))
	}

	if c.Sink.Relational.Enabled {
		switch c.Sink.Relational.Driver {
		case "sqlite3", "sqlite", "duckdb", "pgx":
		default:
			errs.Add(sferrors.Newf(sferrors.CodeConfigInvalid, "sink.relational.driver %q is not supported", c.Sink.Relational.Driver))
		}
		if c.Sink.Relational.DSN == "" && c.Sink.Relational.Driver != "duckdb" {
			errs.Add(sferrors.New(sferrors.CodeConfigInvalid, "sink.relational.dsn is required"))
		}
	}

	switch c.State.Backend {
	case "file":
		if c.State.Path == "" {
			errs.Add(sferrors.New(sferrors.CodeConfigInvalid, "state.path is required for the file backend"))
		}
	case "redis":
		if c.State.Redis.Addr == "" {
			errs.Add(sferrors.New(sferrors.CodeConfigInvalid, "state.redis.addr is required for the redis backend"))
		}
	case "s3":
		if c.State.S3.Bucket == "" {
			errs.Add(sferrors.New(sferrors.CodeConfigInvalid, "state.s3.bucket is required for the s3 backend"))
		}
	default:
		errs.Add(sferrors.Newf(sferrors.CodeConfigInvalid, "state.backend %q must be file, redis or s3", c.State.Backend))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs.Add(sferrors.Newf(sferrors.CodeConfigInvalid, "logging.format %q must be text or json", c.Logging.Format))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs.Add(sferrors.Newf(sferrors.CodeConfigInvalid, "telemetry.sample_ratio %v must be within [0, 1]", c.Telemetry.SampleRatio))
	}

	return errs.Combined()
}

// Manager handles configuration loading and merging.
type Manager struct {
	config    *Config
	paths     []string // Paths that were loaded
	explicit  string
	search    []string
	lookupEnv func(string) (string, bool)
}

// Option configures a Manager.
type Option func(*Manager)

// WithFile adds an explicit config file. Unlike the search paths it must
// exist.
func WithFile(path string) Option {
	return func(m *Manager) { m.explicit = path }
}

// WithSearchPaths replaces the default search paths. An empty list
// disables searching.
func WithSearchPaths(paths ...string) Option {
	return func(m *Manager) {
		if paths == nil {
			paths = []string{}
		}
		m.search = paths
	}
}

// WithEnv replaces the environment lookup, mainly for tests.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(m *Manager) { m.lookupEnv = lookup }
}

// NewManager creates a new configuration manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		config:    Default(),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load loads configuration from all sources in priority order and
// validates the result.
func (m *Manager) Load() (*Config, error) {
	m.config = Default()
	m.paths = nil

	// Load from paths in order (later overrides earlier)
	for _, path := range m.searchPaths() {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but fail on broken ones
			if !os.IsNotExist(err) {
				return nil, err
			}
			continue
		}
		m.paths = append(m.paths, path)
	}

	if m.explicit != "" {
		if err := m.loadFile(m.explicit); err != nil {
			return nil, sferrors.Wrap(err, sferrors.CodeConfigInvalid, "load config file").
				WithContext("path", m.explicit)
		}
		m.paths = append(m.paths, m.explicit)
	}

	if err := m.loadEnv(); err != nil {
		return nil, err
	}

	if err := m.config.Validate(); err != nil {
		return nil, err
	}
	return m.config, nil
}

// searchPaths returns config file paths in priority order.
func (m *Manager) searchPaths() []string {
	if m.search != nil {
		return m.search
	}

	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/storeflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".storeflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "storeflow.yaml"))
	}

	return paths
}

// loadFile decodes a YAML file over the current config. Keys absent from
// the file keep their current value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, m.config); err != nil {
		return sferrors.Wrap(err, sferrors.CodeConfigInvalid, "parse config file").
			WithContext("path", path)
	}
	return nil
}

// loadEnv applies STOREFLOW_* environment overrides.
func (m *Manager) loadEnv() error {
	str := func(key string, dst *string) {
		if v, ok := m.lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := m.lookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return sferrors.Wrap(err, sferrors.CodeConfigInvalid, "invalid boolean").WithContext("env", key)
		}
		*dst = b
		return nil
	}

	c := m.config
	str("STOREFLOW_RAW_DIR", &c.Paths.RawDir)
	str("STOREFLOW_PROCESSED_DIR", &c.Paths.ProcessedDir)
	str("STOREFLOW_FILE_FORMAT", &c.Sink.FileFormat)
	str("STOREFLOW_DB_DRIVER", &c.Sink.Relational.Driver)
	str("STOREFLOW_DB_DSN", &c.Sink.Relational.DSN)
	str("STOREFLOW_STATE_BACKEND", &c.State.Backend)
	str("STOREFLOW_STATE_PATH", &c.State.Path)
	str("STOREFLOW_REDIS_ADDR", &c.State.Redis.Addr)
	str("STOREFLOW_REDIS_PASSWORD", &c.State.Redis.Password)
	str("STOREFLOW_S3_BUCKET", &c.State.S3.Bucket)
	str("STOREFLOW_S3_REGION", &c.Storage.S3.Region)
	str("STOREFLOW_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("STOREFLOW_LOG_LEVEL", &c.Logging.Level)
	str("STOREFLOW_LOG_FORMAT", &c.Logging.Format)
	str("STOREFLOW_LOG_FILE", &c.Logging.File)
	str("STOREFLOW_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	for key, dst := range map[string]*bool{
		"STOREFLOW_DB_ENABLED":         &c.Sink.Relational.Enabled,
		"STOREFLOW_INCREMENTAL":        &c.Extract.Incremental,
		"STOREFLOW_FAIL_ON_VALIDATION": &c.Validation.FailOnError,
		"STOREFLOW_TELEMETRY_ENABLED":  &c.Telemetry.Enabled,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}

	if v, ok := m.lookupEnv("STOREFLOW_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return sferrors.Wrap(err, sferrors.CodeConfigInvalid, "invalid integer").WithContext("env", "STOREFLOW_REDIS_DB")
		}
		c.State.Redis.DB = db
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	return m.paths
}

// Dump renders the effective configuration as YAML with credentials masked.
func (m *Manager) Dump() (string, error) {
	data, err := yaml.Marshal(m.config.Redacted())
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

const redactedValue = "********"

// Redacted returns a copy of c with secret values replaced by a mask.
// Empty secrets stay empty so the dump still shows they are unset.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Storage.S3.SecretAccessKey != "" {
		out.Storage.S3.SecretAccessKey = redactedValue
	}
	if out.State.Redis.Password != "" {
		out.State.Redis.Password = redactedValue
	}
	return &out
}
