package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Storage and catalog drivers.
const (
	StorageLocal = "local"
	StorageS3    = "s3"

	CatalogBolt     = "bolt"
	CatalogPostgres = "postgres"
)

// Config holds the main configuration for the application.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Upload     Upload     `mapstructure:"upload"`
	Derivative Derivative `mapstructure:"derivative"`
	Storage    Storage    `mapstructure:"storage"`
	Catalog    Catalog    `mapstructure:"catalog"`
	Database   Database   `mapstructure:"database"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Retry      Retry      `mapstructure:"retry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort       string        `mapstructure:"http_port"`   // HTTP port to listen on
	PublicHost     string        `mapstructure:"public_host"` // base of the URLs handed to clients
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"` // CORS
}

// Upload limits incoming files.
type Upload struct {
	MaxSize int64  `mapstructure:"max_size"` // bytes
	TempDir string `mapstructure:"temp_dir"`
}

// Derivative configures the compressed rendition.
type Derivative struct {
	DefaultWidth int    `mapstructure:"default_width"`
	Quality      int    `mapstructure:"quality"`
	MaxDimension int    `mapstructure:"max_dimension"`
	Workers      int    `mapstructure:"workers"`
	Watermark    string `mapstructure:"watermark"`
}

// Storage selects and configures the blob backend.
type Storage struct {
	Driver string       `mapstructure:"driver"` // local or s3
	Local  LocalStorage `mapstructure:"local"`
	S3     S3Storage    `mapstructure:"s3"`
}

// LocalStorage holds configuration for the filesystem backend.
type LocalStorage struct {
	BaseDir string `mapstructure:"base_dir"`
}

// S3Storage holds configuration for the S3-compatible backend (MinIO, AWS).
type S3Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	PublicURL  string `mapstructure:"public_url"`
}

// Catalog selects the metadata backend.
type Catalog struct {
	Driver string      `mapstructure:"driver"` // bolt or postgres
	Bolt   BoltCatalog `mapstructure:"bolt"`
}

// BoltCatalog holds configuration for the embedded catalog file.
type BoltCatalog struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"` // wait for the file lock
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Kafka holds configuration for event publishing and resize commands.
type Kafka struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`        // List of Kafka broker addresses
	EventsTopic   string   `mapstructure:"events_topic"`   // catalog events are published here
	CommandsTopic string   `mapstructure:"commands_topic"` // resize commands are consumed from here
	GroupID       string   `mapstructure:"group_id"`       // Consumer group ID
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("server.public_host", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("upload.max_size", 20<<20)
	v.SetDefault("upload.temp_dir", os.TempDir())

	v.SetDefault("derivative.default_width", 800)
	v.SetDefault("derivative.quality", 70)
	v.SetDefault("derivative.max_dimension", 8192)
	v.SetDefault("derivative.workers", runtime.GOMAXPROCS(0))
	v.SetDefault("derivative.watermark", "")

	v.SetDefault("storage.driver", StorageLocal)
	v.SetDefault("storage.local.base_dir", "./data/blobs")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket_name", "images")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_ssl", false)
	v.SetDefault("storage.s3.public_url", "")

	v.SetDefault("catalog.driver", CatalogBolt)
	v.SetDefault("catalog.bolt.path", "./data/catalog.db")
	v.SetDefault("catalog.bolt.timeout", time.Second)

	v.SetDefault("database.master.port", "5432")
	v.SetDefault("database.master.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "image-events")
	v.SetDefault("kafka.commands_topic", "image-commands")
	v.SetDefault("kafka.group_id", "imagestore")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 100*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds the environment variables that do not follow the key naming.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"storage.s3.access_key": "STORAGE_ACCESS_KEY",
		"storage.s3.secret_key": "STORAGE_SECRET_KEY",
		"server.public_host":    "PUBLIC_HOST",
		"database.master.host":  "DB_HOST",
		"database.master.port":  "DB_PORT",
		"database.master.user":  "DB_USER",
		"database.master.pass":  "DB_PASSWORD",
		"database.master.name":  "DB_NAME",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration file at path, applying defaults and
// environment overrides. An empty path means defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or is invalid.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

func (c *Config) validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			errs = append(errs, errors.New("storage.local.base_dir is required"))
		}
	case StorageS3:
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.BucketName == "" {
			errs = append(errs, errors.New("storage.s3.endpoint and storage.s3.bucket_name are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Catalog.Driver {
	case CatalogBolt:
		if c.Catalog.Bolt.Path == "" {
			errs = append(errs, errors.New("catalog.bolt.path is required"))
		}
	case CatalogPostgres:
		if c.Database.Master.Host == "" {
			errs = append(errs, errors.New("database.master.host is required for the postgres catalog"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown catalog.driver %q", c.Catalog.Driver))
	}

	if c.Upload.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize))
	}
	if c.Derivative.DefaultWidth <= 0 {
		errs = append(errs, fmt.Errorf("derivative.default_width must be positive, got %d", c.Derivative.DefaultWidth))
	}
	if c.Derivative.Quality < 1 || c.Derivative.Quality > 100 {
		errs = append(errs, fmt.Errorf("derivative.quality must be within 1..100, got %d", c.Derivative.Quality))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return nil
}
