// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Storage, SMK, Forest, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	SMK       SMKConfig       `yaml:"smk"`
	Forest    ForestConfig    `yaml:"forest"`
	Build     BuildConfig     `yaml:"build"`
	Grouping  GroupingConfig  `yaml:"grouping"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the descriptor
// source.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CorpusChanged string `yaml:"corpusChanged"`
	IndexBuilt    string `yaml:"indexBuilt"`
	QueryLog      string `yaml:"queryLog"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// StorageConfig selects the artifact backend and payload compression.
type StorageConfig struct {
	Backend     string      `yaml:"backend"` // disk, redis, s3, minio
	Compression string      `yaml:"compression"`
	DataDir     string      `yaml:"dataDir"`
	Prefix      string      `yaml:"prefix"`
	S3          S3Config    `yaml:"s3"`
	Minio       MinioConfig `yaml:"minio"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

// CorpusConfig names the corpus the indexer serves and the vocabulary file.
type CorpusConfig struct {
	Name       string `yaml:"name"`
	Vocabulary string `yaml:"vocabulary"`
	// GroupUnlabeled derives encounter labels from capture times when no
	// document of the corpus is labelled.
	GroupUnlabeled bool `yaml:"groupUnlabeled"`
}

// SMKConfig holds the selective match kernel parameters.
type SMKConfig struct {
	NAssign       int     `yaml:"nAssign"`
	CorpusNAssign int     `yaml:"corpusNAssign"`
	MassignAlpha  float64 `yaml:"massignAlpha"`
	MassignSigma  float64 `yaml:"massignSigma"`
	Aggregate     bool    `yaml:"aggregate"`
	Alpha         float64 `yaml:"alpha"`
	Thresh        float64 `yaml:"thresh"`
	IDFMeasure    string  `yaml:"idfMeasure"` // orig, label
	ExactAssign   bool    `yaml:"exactAssign"`
}

// ForestConfig controls the sharded nearest-neighbour multi-index.
type ForestConfig struct {
	NumForests     int   `yaml:"numForests"`
	K              int   `yaml:"k"`
	M              int   `yaml:"m"`
	EFConstruction int   `yaml:"efConstruction"`
	EFSearch       int   `yaml:"efSearch"`
	Exhaustive     bool  `yaml:"exhaustive"`
	Seed           int64 `yaml:"seed"`
	Knorm          int   `yaml:"knorm"`
}

// BuildConfig bounds worker parallelism and the stacking memory budget.
type BuildConfig struct {
	Workers          int           `yaml:"workers"`
	MemoryLimitBytes int64         `yaml:"memoryLimitBytes"`
	Timeout          time.Duration `yaml:"timeout"`
}

// GroupingConfig controls timestamp encounter grouping.
type GroupingConfig struct {
	Algorithm     string  `yaml:"algorithm"` // agglomerative, meanshift
	SecondsThresh float64 `yaml:"secondsThresh"`
	Quantile      float64 `yaml:"quantile"`
	MinPerGroup   int     `yaml:"minPerGroup"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults     int           `yaml:"maxResults"`
	DefaultLimit   int           `yaml:"defaultLimit"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxDescriptors int           `yaml:"maxDescriptors"`
	// ReloadInterval is how often a searcher without Kafka polls the
	// artifact store for a newer build. Zero disables polling.
	ReloadInterval time.Duration  `yaml:"reloadInterval"`
	QueryLog       QueryLogConfig `yaml:"queryLog"`
}

// QueryLogConfig controls batching of query events published to Kafka and
// how often the analytics service snapshots its aggregates.
type QueryLogConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	// SnapshotRetention is how long snapshots are kept; 0 keeps them all.
	SnapshotRetention time.Duration `yaml:"snapshotRetention"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RateLimitConfig bounds query throughput per searcher process.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// AuthConfig enables API key checks on the query API. Keys live in
// Postgres and carry their own per-minute limit.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "visualsearch",
			User:            "visualsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "visualsearch-indexer",
			Topics: KafkaTopics{
				CorpusChanged: "corpus.changed",
				IndexBuilt:    "index.built",
				QueryLog:      "query.log",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Backend:     "disk",
			Compression: "zstd",
			DataDir:     "./data/artifacts",
			Prefix:      "visualsearch/",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Corpus: CorpusConfig{
			Name: "default",
		},
		SMK: SMKConfig{
			NAssign:       1,
			CorpusNAssign: 1,
			MassignAlpha:  1.2,
			MassignSigma:  80.0,
			Aggregate:     false,
			Alpha:         3.0,
			Thresh:        0.0,
			IDFMeasure:    "orig",
		},
		Forest: ForestConfig{
			NumForests:     8,
			K:              4,
			M:              16,
			EFConstruction: 200,
			EFSearch:       64,
			Seed:           42,
		},
		Build: BuildConfig{
			Workers:          8,
			MemoryLimitBytes: 4 << 30,
			Timeout:          30 * time.Minute,
		},
		Grouping: GroupingConfig{
			Algorithm:     "agglomerative",
			SecondsThresh: 1600,
			Quantile:      0.01,
			MinPerGroup:   1,
		},
		Search: SearchConfig{
			MaxResults:     100,
			DefaultLimit:   10,
			Timeout:        5 * time.Second,
			MaxDescriptors: 10000,
			ReloadInterval: 30 * time.Second,
			QueryLog: QueryLogConfig{
				BatchSize:         100,
				FlushInterval:     5 * time.Second,
				SnapshotInterval:  time.Minute,
				SnapshotRetention: 7 * 24 * time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
	}
}

// Validate rejects parameter combinations the build cannot honour.
func (c *Config) Validate() error {
	switch {
	case c.SMK.NAssign < 1:
		return fmt.Errorf("smk.nAssign must be >= 1, got %d", c.SMK.NAssign)
	case c.SMK.CorpusNAssign < 1:
		return fmt.Errorf("smk.corpusNAssign must be >= 1, got %d", c.SMK.CorpusNAssign)
	case c.SMK.MassignSigma <= 0:
		return fmt.Errorf("smk.massignSigma must be > 0, got %v", c.SMK.MassignSigma)
	case c.SMK.IDFMeasure != "orig" && c.SMK.IDFMeasure != "label":
		return fmt.Errorf("smk.idfMeasure must be orig or label, got %q", c.SMK.IDFMeasure)
	case c.Forest.NumForests < 1:
		return fmt.Errorf("forest.numForests must be >= 1, got %d", c.Forest.NumForests)
	case c.Forest.K < 1:
		return fmt.Errorf("forest.k must be >= 1, got %d", c.Forest.K)
	case c.Forest.Knorm < 0:
		return fmt.Errorf("forest.knorm must be >= 0, got %d", c.Forest.Knorm)
	case c.Search.DefaultLimit < 1 || c.Search.MaxResults < c.Search.DefaultLimit:
		return fmt.Errorf("search.defaultLimit must be in [1, maxResults], got %d", c.Search.DefaultLimit)
	case c.Build.Workers < 1:
		return fmt.Errorf("build.workers must be >= 1, got %d", c.Build.Workers)
	}
	switch c.Storage.Backend {
	case "disk", "redis", "s3", "minio":
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Storage.Compression {
	case "", "none", "zstd", "lz4":
	default:
		return fmt.Errorf("storage.compression %q is not supported", c.Storage.Compression)
	}
	switch c.Grouping.Algorithm {
	case "agglomerative", "meanshift":
	default:
		return fmt.Errorf("grouping.algorithm %q is not supported", c.Grouping.Algorithm)
	}
	return nil
}

// applyEnvOverrides reads VS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("VS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("VS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("VS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("VS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("VS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("VS_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("VS_AUTH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = b
		}
	}
	if v := os.Getenv("VS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("VS_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("VS_STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("VS_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("VS_MINIO_ENDPOINT"); v != "" {
		cfg.Storage.Minio.Endpoint = v
	}
	if v := os.Getenv("VS_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("VS_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.Minio.SecretKey = v
	}
	if v := os.Getenv("VS_CORPUS_NAME"); v != "" {
		cfg.Corpus.Name = v
	}
	if v := os.Getenv("VS_CORPUS_VOCABULARY"); v != "" {
		cfg.Corpus.Vocabulary = v
	}
	if v := os.Getenv("VS_BUILD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.Workers = n
		}
	}
	if v := os.Getenv("VS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
