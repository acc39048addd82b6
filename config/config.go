package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Catalog   CatalogConfig
	Scheduler SchedulerConfig
	Import    ImportConfig
	Stale     StaleConfig
	HTTP      HTTPConfig
	S3        S3Config
	Log       LogConfig
	DBPath    string
	FeedsDir  string
	Feeds     map[string]*FeedConfig
}

type CatalogConfig struct {
	Driver      string // postgres | sqlite
	DatabaseURL string
	SQLitePath  string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ImportConfig struct {
	ProgressEvery int
}

type StaleConfig struct {
	After         time.Duration
	CheckInterval time.Duration
}

type HTTPConfig struct {
	Timeout  time.Duration
	ProxyURL string
}

type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type LogConfig struct {
	Path     string
	MaxBytes int64
	Backups  int
}

// Feed source kinds.
const (
	KindFile = "file"
	KindHTTP = "http"
	KindS3   = "s3"
)

type FeedConfig struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind"`
	Location string            `yaml:"location"`
	Encoding string            `yaml:"encoding"`
	Schedule string            `yaml:"schedule"`
	Lenient  bool              `yaml:"lenient"`
	Headers  map[string]string `yaml:"headers"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Catalog: CatalogConfig{
			Driver:      getEnv("CATALOG_DRIVER", "postgres"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SQLitePath:  getEnv("CATALOG_SQLITE_PATH", "catalog.db"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("IMPORT_CRON"),
			Interval: getEnvDuration("IMPORT_INTERVAL", 0),
		},
		Import: ImportConfig{
			ProgressEvery: getEnvInt("PROGRESS_EVERY", 100),
		},
		Stale: StaleConfig{
			After:         getEnvDuration("STALE_AFTER", 72*time.Hour),
			CheckInterval: getEnvDuration("STALE_CHECK_INTERVAL", time.Hour),
		},
		HTTP: HTTPConfig{
			Timeout:  getEnvDuration("HTTP_TIMEOUT", 5*time.Minute),
			ProxyURL: os.Getenv("HTTP_PROXY_URL"),
		},
		S3: S3Config{
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Log: LogConfig{
			Path:     getEnv("LOG_PATH", "logs/ingest.log"),
			MaxBytes: int64(getEnvInt("LOG_MAX_BYTES", 2*1024*1024)),
			Backups:  getEnvInt("LOG_BACKUPS", 1),
		},
		DBPath:   getEnv("DB_PATH", "ingest.db"),
		FeedsDir: getEnv("FEEDS_DIR", "config/feeds"),
		Feeds:    make(map[string]*FeedConfig),
	}

	if cfg.Catalog.Driver != "postgres" && cfg.Catalog.Driver != "sqlite" {
		return nil, fmt.Errorf("unknown CATALOG_DRIVER %q", cfg.Catalog.Driver)
	}

	if err := cfg.loadFeedConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFeedConfigs() error {
	entries, err := os.ReadDir(c.FeedsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.FeedsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var feed FeedConfig
		if err := yaml.Unmarshal(data, &feed); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := feed.validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := c.Feeds[feed.ID]; dup {
			return fmt.Errorf("%s: duplicate feed id %q", path, feed.ID)
		}

		c.Feeds[feed.ID] = &feed
	}

	return nil
}

func (f *FeedConfig) validate() error {
	if f.ID == "" {
		return fmt.Errorf("feed id is required")
	}
	if f.Location == "" {
		return fmt.Errorf("feed %s: location is required", f.ID)
	}
	if f.Name == "" {
		f.Name = f.ID
	}
	if f.Kind == "" {
		f.Kind = GuessKind(f.Location)
	}
	switch f.Kind {
	case KindFile, KindHTTP, KindS3:
		return nil
	default:
		return fmt.Errorf("feed %s: unknown kind %q", f.ID, f.Kind)
	}
}

// GuessKind infers the source kind from a location.
func GuessKind(location string) string {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return KindHTTP
	case strings.HasPrefix(location, "s3://"):
		return KindS3
	default:
		return KindFile
	}
}

// FeedIDs returns the configured feed ids in a stable order.
func (c *Config) FeedIDs() []string {
	ids := make([]string, 0, len(c.Feeds))
	for id := range c.Feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
