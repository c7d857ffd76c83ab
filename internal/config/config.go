package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eniz1806/omnistore/internal/fingerprint"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Compression   CompressionConfig   `yaml:"compression"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type ServerConfig struct {
	Address             string    `yaml:"address"`
	Port                int       `yaml:"port"`
	ReadTimeoutSecs     int       `yaml:"read_timeout_secs"`
	WriteTimeoutSecs    int       `yaml:"write_timeout_secs"`
	IdleTimeoutSecs     int       `yaml:"idle_timeout_secs"`
	ShutdownTimeoutSecs int       `yaml:"shutdown_timeout_secs"`
	TLS                 TLSConfig `yaml:"tls"`
}

// TLSConfig points at an existing certificate pair; nothing is generated.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	MetadataDir string `yaml:"metadata_dir"`
	// Fingerprint is md5, blake2b or blake3. Changing it on an existing store only
	// affects objects written afterwards.
	Fingerprint           string `yaml:"fingerprint"`
	ReconcileIntervalSecs int    `yaml:"reconcile_interval_secs"`
	OrphanGraceSecs       int    `yaml:"orphan_grace_secs"`
}

type CompressionConfig struct {
	Enabled      bool `yaml:"enabled"`
	MinSizeBytes int  `yaml:"min_size_bytes"`
}

type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	Burst          int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level            string `yaml:"level"`
	AccessLogEnabled bool   `yaml:"access_log_enabled"`
	AccessLogPath    string `yaml:"access_log_path"`
}

type NotificationsConfig struct {
	MaxWorkers  int         `yaml:"max_workers"`
	QueueSize   int         `yaml:"queue_size"`
	TimeoutSecs int         `yaml:"timeout_secs"`
	MaxRetries  int         `yaml:"max_retries"`
	Webhooks    []string    `yaml:"webhooks"`
	Events      []string    `yaml:"events"`
	NATS        NATSConfig  `yaml:"nats"`
	Redis       RedisConfig `yaml:"redis"`
	Kafka       KafkaConfig `yaml:"kafka"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// PerBucket appends the bucket as a final subject token.
	PerBucket bool `yaml:"per_bucket"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	// ListKey may contain {bucket}.
	ListKey    string `yaml:"list_key"`
	ListMaxLen int64  `yaml:"list_max_len"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression"`
}

// Default returns the configuration used for keys a file leaves unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             "0.0.0.0",
			Port:                8443,
			ReadTimeoutSecs:     0,
			WriteTimeoutSecs:    0,
			IdleTimeoutSecs:     120,
			ShutdownTimeoutSecs: 30,
		},
		Storage: StorageConfig{
			DataDir:               "./object-storage",
			MetadataDir:           "./object-storage-metadata",
			Fingerprint:           string(fingerprint.Default),
			ReconcileIntervalSecs: 3600,
			OrphanGraceSecs:       600,
		},
		Compression: CompressionConfig{
			Enabled:      true,
			MinSizeBytes: 1024,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSec: 100,
			Burst:          200,
		},
		Logging: LoggingConfig{
			Level:         "info",
			AccessLogPath: "./access.log",
		},
		Notifications: NotificationsConfig{
			MaxWorkers:  4,
			QueueSize:   256,
			TimeoutSecs: 10,
			MaxRetries:  3,
			NATS:        NATSConfig{Subject: "omnistore.events"},
			Redis:       RedisConfig{Channel: "omnistore:events", ListMaxLen: 10000},
			Kafka:       KafkaConfig{Topic: "omnistore-events"},
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}
	if c.Storage.DataDir == "" || c.Storage.MetadataDir == "" {
		errs = append(errs, errors.New("storage.data_dir and storage.metadata_dir are required"))
	}
	if _, err := fingerprint.Parse(c.Storage.Fingerprint); err != nil {
		errs = append(errs, fmt.Errorf("storage.fingerprint: %w", err))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSec <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit requires positive requests_per_sec and burst"))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.AccessLogEnabled && c.Logging.AccessLogPath == "" {
		errs = append(errs, errors.New("logging.access_log_path is required when the access log is enabled"))
	}
	if c.Notifications.Kafka.Enabled && len(c.Notifications.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("notifications.kafka requires brokers"))
	}
	switch c.Notifications.Kafka.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("notifications.kafka.compression: unknown codec %q", c.Notifications.Kafka.Compression))
	}
	if c.Notifications.NATS.Enabled && c.Notifications.NATS.URL == "" {
		errs = append(errs, errors.New("notifications.nats requires url"))
	}
	if c.Notifications.Redis.Enabled && c.Notifications.Redis.Addr == "" {
		errs = append(errs, errors.New("notifications.redis requires addr"))
	}
	return errors.Join(errs...)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

func (c *Config) FingerprintAlgorithm() fingerprint.Algorithm {
	alg, err := fingerprint.Parse(c.Storage.Fingerprint)
	if err != nil {
		return fingerprint.Default
	}
	return alg
}

// LogLevel maps logging.level to a slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	lvl, err := parseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q: want debug, info, warn or error", s)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (s ServerConfig) ReadTimeout() time.Duration     { return seconds(s.ReadTimeoutSecs) }
func (s ServerConfig) WriteTimeout() time.Duration    { return seconds(s.WriteTimeoutSecs) }
func (s ServerConfig) IdleTimeout() time.Duration     { return seconds(s.IdleTimeoutSecs) }
func (s ServerConfig) ShutdownTimeout() time.Duration { return seconds(s.ShutdownTimeoutSecs) }

func (s StorageConfig) ReconcileInterval() time.Duration { return seconds(s.ReconcileIntervalSecs) }
func (s StorageConfig) OrphanGrace() time.Duration       { return seconds(s.OrphanGraceSecs) }

func (n NotificationsConfig) Timeout() time.Duration { return seconds(n.TimeoutSecs) }
