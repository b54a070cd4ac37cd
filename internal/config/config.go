package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Detector DetectorConfig `yaml:"detector"`
	Media    MediaConfig    `yaml:"media"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	CORSOrigins      []string `yaml:"cors_origins"`
	ShutdownTimeoutS int      `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 30)
	Debug            bool     `yaml:"debug"`
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // File path for sqlite, connection URL for postgres
}

// StorageConfig contains upload staging and byte store settings
type StorageConfig struct {
	UploadDir   string   `yaml:"upload_dir"`
	Backend     string   `yaml:"backend"` // database or s3
	MaxUploadMB int      `yaml:"max_upload_mb"`
	S3          S3Config `yaml:"s3"`
}

// S3Config configures the object store backend
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // Custom endpoint (MinIO, LocalStack), path-style addressing
}

// PipelineConfig contains run scheduling and sampling settings
type PipelineConfig struct {
	Sampling          string  `yaml:"sampling"`            // every_nth, interval, continuous
	SampleEvery       int     `yaml:"sample_every"`        // Stride for every_nth
	SampleIntervalS   float64 `yaml:"sample_interval_s"`   // Video seconds for interval
	MaxConcurrentRuns int     `yaml:"max_concurrent_runs"` // Simultaneous runs
	SubscriberQueue   int     `yaml:"subscriber_queue"`    // Per-subscriber event backlog
}

// DetectorConfig configures the object detection backend
type DetectorConfig struct {
	Backend           string  `yaml:"backend"` // http or grpc
	Endpoint          string  `yaml:"endpoint"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	TargetClassID     int     `yaml:"target_class_id"`
	ConfThreshold     float64 `yaml:"conf_threshold"`
	MaxInputDimension int     `yaml:"max_input_dimension"` // 0 sends frames at full size
}

// MediaConfig locates the decoder binaries
type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// AuthConfig contains optional API authentication settings
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry"` // Go duration, e.g. 24h
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "localhost",
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000"},
			ShutdownTimeoutS: 30,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./video_detection.db",
		},
		Storage: StorageConfig{
			UploadDir:   "./uploads",
			Backend:     "database",
			MaxUploadMB: 512,
		},
		Pipeline: PipelineConfig{
			Sampling:          "every_nth",
			SampleEvery:       5,
			SampleIntervalS:   1,
			MaxConcurrentRuns: 2,
			SubscriberQueue:   64,
		},
		Detector: DetectorConfig{
			Backend:       "http",
			Endpoint:      "http://localhost:8081",
			TimeoutMs:     5000,
			TargetClassID: 0,
			ConfThreshold: 0.30,
		},
		Media: MediaConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: "24h",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		driver, dsn, err := ParseDatabaseURL(v)
		if err != nil {
			return err
		}
		c.Database.Driver, c.Database.DSN = driver, dsn
	}
	if v, ok := lookup("UPLOAD_DIR"); ok && v != "" {
		c.Storage.UploadDir = v
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	if v, ok := lookup("AUTH_ENABLED"); ok && v != "" {
		c.Auth.Enabled = v == "true" || v == "1"
	}
	if v, ok := lookup("AUTH_USERNAME"); ok && v != "" {
		c.Auth.Username = v
	}
	if v, ok := lookup("AUTH_PASSWORD"); ok && v != "" {
		c.Auth.Password = v
	}
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("JWT_EXPIRY"); ok && v != "" {
		c.Auth.JWTExpiry = v
	}

	strs := map[string]*string{
		"SIGHTLINE_STORAGE_BACKEND":  &c.Storage.Backend,
		"SIGHTLINE_S3_BUCKET":        &c.Storage.S3.Bucket,
		"SIGHTLINE_S3_PREFIX":        &c.Storage.S3.Prefix,
		"SIGHTLINE_S3_REGION":        &c.Storage.S3.Region,
		"SIGHTLINE_S3_ENDPOINT":      &c.Storage.S3.Endpoint,
		"SIGHTLINE_SAMPLING":         &c.Pipeline.Sampling,
		"SIGHTLINE_DETECTOR_BACKEND": &c.Detector.Backend,
		"SIGHTLINE_DETECTOR_URL":     &c.Detector.Endpoint,
		"SIGHTLINE_FFMPEG_PATH":      &c.Media.FFmpegPath,
		"SIGHTLINE_FFPROBE_PATH":     &c.Media.FFprobePath,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SIGHTLINE_SAMPLE_EVERY":        &c.Pipeline.SampleEvery,
		"SIGHTLINE_MAX_CONCURRENT_RUNS": &c.Pipeline.MaxConcurrentRuns,
		"SIGHTLINE_DETECTOR_TIMEOUT_MS": &c.Detector.TimeoutMs,
		"SIGHTLINE_MAX_INPUT_DIMENSION": &c.Detector.MaxInputDimension,
		"SIGHTLINE_MAX_UPLOAD_MB":       &c.Storage.MaxUploadMB,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("SIGHTLINE_CONF_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIGHTLINE_CONF_THRESHOLD: %w", err)
		}
		c.Detector.ConfThreshold = f
	}
	return nil
}

// ParseDatabaseURL accepts sqlite:///path, postgres://… URLs and bare file paths
func ParseDatabaseURL(raw string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(raw, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite:///"), nil
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite://"), nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, nil
	case strings.Contains(raw, "://"):
		return "", "", fmt.Errorf("unsupported database URL scheme: %s", raw)
	default:
		return "sqlite", raw, nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for consistency
func Validate(c *Config) error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Storage.UploadDir == "" {
		errs = append(errs, errors.New("storage.upload_dir is required"))
	}
	switch c.Storage.Backend {
	case "database":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be database or s3, got %q", c.Storage.Backend))
	}
	switch c.Pipeline.Sampling {
	case "every_nth", "interval", "continuous":
	default:
		errs = append(errs, fmt.Errorf("pipeline.sampling must be every_nth, interval or continuous, got %q", c.Pipeline.Sampling))
	}
	if c.Pipeline.SampleEvery <= 0 {
		errs = append(errs, errors.New("pipeline.sample_every must be positive"))
	}
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		errs = append(errs, errors.New("pipeline.max_concurrent_runs must be positive"))
	}
	switch c.Detector.Backend {
	case "http", "grpc":
	default:
		errs = append(errs, fmt.Errorf("detector.backend must be http or grpc, got %q", c.Detector.Backend))
	}
	if c.Detector.Endpoint == "" {
		errs = append(errs, errors.New("detector.endpoint is required"))
	}
	if c.Detector.ConfThreshold < 0 || c.Detector.ConfThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector.conf_threshold must be within [0, 1], got %v", c.Detector.ConfThreshold))
	}
	if _, err := time.ParseDuration(c.Auth.JWTExpiry); c.Auth.Enabled && err != nil {
		errs = append(errs, fmt.Errorf("auth.jwt_expiry: %w", err))
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		errs = append(errs, errors.New("auth.password is required when auth is enabled"))
	}

	return errors.Join(errs...)
}

// Addr returns host:port for the HTTP listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DetectorTimeout returns the per-frame detection timeout
func (c *Config) DetectorTimeout() time.Duration {
	return time.Duration(c.Detector.TimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutS) * time.Second
}

// MaxUploadBytes returns the upload size limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Storage.MaxUploadMB) << 20
}
