// Package config loads process configuration for the slate binaries from an
// optional YAML file, then applies SLATE_* environment overrides.
//
//	SLATE_MODEL                  schema file (YAML)
//	SLATE_STORAGE_DRIVER         memory|sqlite|postgres|badger (default sqlite)
//	SLATE_STORAGE_LOCATION       file, directory or DSN for the driver
//	SLATE_MAX_CONCURRENT_READS   bound on concurrently running reads (0 = unbounded)
//	SLATE_LOG_LEVEL              debug|info|warn|error (default info)
//	SLATE_LOG_FORMAT             text|json (default text)
//	SLATE_METRICS_NAMESPACE      prometheus namespace (default slate)
//	SLATE_METRICS_LISTEN         address served by `slate serve` (default :9090)
//	SLATE_BLOB_DRIVER            fs|s3|memory (default fs)
//	SLATE_BLOB_ROOT              directory when driver=fs (default ./backups)
//	SLATE_BLOB_S3_BUCKET         bucket when driver=s3
//	SLATE_BLOB_S3_REGION         region (default us-east-1)
//	SLATE_BLOB_S3_ENDPOINT       custom endpoint, e.g. MinIO
//	SLATE_BLOB_S3_PATH_STYLE     true|false
//
// S3 credentials come from the default AWS chain unless set in the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"slate/internal/blob"
	"slate/internal/persistence"
)

// Config is the root document.
type Config struct {
	Model   string      `yaml:"model"`
	Storage Storage     `yaml:"storage"`
	Access  Access      `yaml:"access"`
	Log     Log         `yaml:"log"`
	Metrics Metrics     `yaml:"metrics"`
	Blob    blob.Config `yaml:"blob"`
}

// Storage selects the persistent store.
type Storage struct {
	Driver   persistence.Driver `yaml:"driver"`
	Location string             `yaml:"location"`
}

// Access tunes the access coordinator.
type Access struct {
	MaxConcurrentReads int `yaml:"max_concurrent_reads"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: Storage{Driver: persistence.DriverSQLite, Location: "slate.db"},
		Log:     Log{Level: "info", Format: "text"},
		Metrics: Metrics{Namespace: "slate", Listen: ":9090"},
		Blob:    blob.Config{Driver: blob.DriverFilesystem, Root: blob.DefaultRoot},
	}
}

// Load reads path (skipped when empty), applies the process environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from lookup, normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SLATE_MODEL", &c.Model)
	if v, ok := lookup("SLATE_STORAGE_DRIVER"); ok && v != "" {
		c.Storage.Driver = persistence.Driver(v)
	}
	str("SLATE_STORAGE_LOCATION", &c.Storage.Location)
	if v, ok := lookup("SLATE_MAX_CONCURRENT_READS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SLATE_MAX_CONCURRENT_READS: %w", err)
		}
		c.Access.MaxConcurrentReads = n
	}
	str("SLATE_LOG_LEVEL", &c.Log.Level)
	str("SLATE_LOG_FORMAT", &c.Log.Format)
	str("SLATE_METRICS_NAMESPACE", &c.Metrics.Namespace)
	str("SLATE_METRICS_LISTEN", &c.Metrics.Listen)
	if v, ok := lookup("SLATE_BLOB_DRIVER"); ok && v != "" {
		c.Blob.Driver = blob.Driver(v)
	}
	str("SLATE_BLOB_ROOT", &c.Blob.Root)
	str("SLATE_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("SLATE_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("SLATE_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	if v, ok := lookup("SLATE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SLATE_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case persistence.DriverMemory, persistence.DriverSQLite, persistence.DriverPostgres, persistence.DriverBadger:
	default:
		return fmt.Errorf("storage: %w %q", persistence.ErrUnknownDriver, c.Storage.Driver)
	}
	if c.StoreDescription(nil).RequiresLocation() && c.Storage.Location == "" {
		return fmt.Errorf("storage: driver %s needs a location", c.Storage.Driver)
	}
	if c.Access.MaxConcurrentReads < 0 {
		return errors.New("access: max_concurrent_reads must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob: s3 driver needs a bucket")
		}
	default:
		return fmt.Errorf("blob: unknown driver %q", c.Blob.Driver)
	}
	return nil
}

// StoreDescription returns the persistence description for Storage.
func (c Config) StoreDescription(logger *slog.Logger) persistence.Description {
	return persistence.Description{Driver: c.Storage.Driver, Location: c.Storage.Location, Logger: logger}
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log: %w", err)
	}
	return level, nil
}
