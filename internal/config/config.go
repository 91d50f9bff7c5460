package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Backends     BackendsConfig     `yaml:"backends"`
	Verification VerificationConfig `yaml:"verification"`
	Quality      QualityConfig      `yaml:"quality"`
	Replay       ReplayConfig       `yaml:"replay"`
	Worker       WorkerConfig       `yaml:"worker"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// MaxBodyBytes caps request bodies on the verification endpoints.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// BackendsConfig points at the declarative backend definitions file.
type BackendsConfig struct {
	Path string `yaml:"path"`
}

type VerificationConfig struct {
	MatchThreshold      float64       `yaml:"match_threshold"`
	FetchLimit          int           `yaml:"fetch_limit"`
	MaxDIDs             int           `yaml:"max_dids"`
	CandidateListFilter string        `yaml:"candidate_list_filter"`
	FuzzyThreshold      float64       `yaml:"fuzzy_threshold"`
	Pepper              string        `yaml:"pepper"`
	AcceptedImageTypes  []string      `yaml:"accepted_image_types"`
	MatchWorkers        int           `yaml:"match_workers"`
	QualityTimeout      time.Duration `yaml:"quality_timeout"`
	MaxImageDimension   int           `yaml:"max_image_dimension"`
	MaxImagePixels      int           `yaml:"max_image_pixels"`
}

type QualityConfig struct {
	Enabled          bool          `yaml:"enabled"`
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	MinScore         float64       `yaml:"min_score"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

type ReplayConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Driver        string        `yaml:"driver"` // postgres or badger
	BadgerPath    string        `yaml:"badger_path"`
	RecordTimeout time.Duration `yaml:"record_timeout"`
}

// WorkerConfig configures the audit worker.
type WorkerConfig struct {
	Count       int `yaml:"count"`
	MetricsPort int `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML config, then applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Replay.Driver {
	case "postgres", "badger":
	default:
		return fmt.Errorf("replay.driver must be postgres or badger, got %q", c.Replay.Driver)
	}
	if c.Replay.Enabled && c.Replay.Driver == "badger" && c.Replay.BadgerPath == "" {
		return fmt.Errorf("replay.badger_path is required for the badger driver")
	}
	if c.Quality.Enabled && c.Quality.URL == "" {
		return fmt.Errorf("quality.url is required when the quality gate is enabled")
	}
	if c.Verification.MatchThreshold < 0 {
		return fmt.Errorf("verification.match_threshold must not be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 8 << 20
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "fingerprints"
	}
	if cfg.Backends.Path == "" {
		cfg.Backends.Path = "configs/backends.yaml"
	}
	if cfg.Verification.MatchThreshold == 0 {
		cfg.Verification.MatchThreshold = 40
	}
	if cfg.Verification.FetchLimit == 0 {
		cfg.Verification.FetchLimit = 50
	}
	if cfg.Verification.MaxDIDs == 0 {
		cfg.Verification.MaxDIDs = 20
	}
	if cfg.Verification.CandidateListFilter == "" {
		cfg.Verification.CandidateListFilter = "dids"
	}
	if cfg.Verification.FuzzyThreshold == 0 {
		cfg.Verification.FuzzyThreshold = 0.3
	}
	if len(cfg.Verification.AcceptedImageTypes) == 0 {
		cfg.Verification.AcceptedImageTypes = []string{"image/png", "image/jpeg", "image/bmp"}
	}
	if cfg.Verification.MatchWorkers == 0 {
		cfg.Verification.MatchWorkers = 6
	}
	if cfg.Verification.QualityTimeout == 0 {
		cfg.Verification.QualityTimeout = 5 * time.Second
	}
	if cfg.Verification.MaxImageDimension == 0 {
		cfg.Verification.MaxImageDimension = 4096
	}
	if cfg.Verification.MaxImagePixels == 0 {
		cfg.Verification.MaxImagePixels = 4_000_000
	}
	if cfg.Quality.MinScore == 0 {
		cfg.Quality.MinScore = 40
	}
	if cfg.Quality.Timeout == 0 {
		cfg.Quality.Timeout = 4 * time.Second
	}
	if cfg.Quality.FailureThreshold == 0 {
		cfg.Quality.FailureThreshold = 5
	}
	if cfg.Quality.SuccessThreshold == 0 {
		cfg.Quality.SuccessThreshold = 3
	}
	if cfg.Replay.Driver == "" {
		cfg.Replay.Driver = "postgres"
	}
	if cfg.Replay.RecordTimeout == 0 {
		cfg.Replay.RecordTimeout = 2 * time.Second
	}
	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = 4
	}
	if cfg.Worker.MetricsPort == 0 {
		cfg.Worker.MetricsPort = 8082
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FPV_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FPV_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FPV_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FPV_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FPV_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FPV_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FPV_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FPV_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FPV_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FPV_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FPV_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FPV_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FPV_BACKENDS_PATH"); v != "" {
		cfg.Backends.Path = v
	}
	if v := os.Getenv("FPV_PEPPER"); v != "" {
		cfg.Verification.Pepper = v
	}
	if v := os.Getenv("FPV_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Verification.MatchThreshold = f
		}
	}
	if v := os.Getenv("FPV_ACCEPTED_IMAGE_TYPES"); v != "" {
		cfg.Verification.AcceptedImageTypes = splitList(v)
	}
	if v := os.Getenv("FPV_QUALITY_ENABLED"); v != "" {
		cfg.Quality.Enabled = parseBool(v)
	}
	if v := os.Getenv("FPV_QUALITY_URL"); v != "" {
		cfg.Quality.URL = v
	}
	if v := os.Getenv("FPV_QUALITY_API_KEY"); v != "" {
		cfg.Quality.APIKey = v
	}
	if v := os.Getenv("FPV_REPLAY_ENABLED"); v != "" {
		cfg.Replay.Enabled = parseBool(v)
	}
	if v := os.Getenv("FPV_REPLAY_DRIVER"); v != "" {
		cfg.Replay.Driver = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
