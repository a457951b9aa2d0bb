package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StartupMode defines how bootstrap handles connection failures
type StartupMode string

const (
	// StartupModeStrict aborts bootstrap on the first connection error (default)
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful logs connection errors and keeps going
	StartupModeGraceful StartupMode = "graceful"
)

// EnvironmentTest is the environment name in which test-only behaviour (store flushing,
// verbose connection logging) is enabled.
const EnvironmentTest = "test"

// DefaultJobProcessingStore is the Redis database used by the job queues when
// queue.redis.database is not configured.
const DefaultJobProcessingStore = "jobProcessing"

// ErrMissingServerConfig is returned when a Redis database references a server that is
// not configured.
var ErrMissingServerConfig = errors.New("server configuration missing")

// RedisServer describes one Redis endpoint.
type RedisServer struct {
	Server   string `mapstructure:"server" yaml:"server" validate:"required"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// RedisDatabase is a named logical database on one of the RedisServers.
type RedisDatabase struct {
	Name            string `mapstructure:"name" yaml:"name" validate:"required"`
	Server          string `mapstructure:"server" yaml:"server" validate:"required"`
	DB              int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
	IgnoreBootstrap bool   `mapstructure:"ignore_bootstrap" yaml:"ignore_bootstrap,omitempty"`
}

// RedisRetry is passed through to the go-redis client options.
type RedisRetry struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinBackoff time.Duration `mapstructure:"min_backoff" yaml:"min_backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// SSL holds TLS settings for a database server.
type SSL struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	CAFile             string `mapstructure:"ca_file" yaml:"ca_file,omitempty"`
	ServerName         string `mapstructure:"server_name" yaml:"server_name,omitempty"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify,omitempty"`
}

// DatabaseServer describes one relational database to open a pool for.
type DatabaseServer struct {
	Server          string `mapstructure:"server" yaml:"server" validate:"required"`
	Name            string `mapstructure:"name" yaml:"name"`
	Driver          string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=mysql postgres sqlite clickhouse"`
	Host            string `mapstructure:"host" yaml:"host"`
	Port            int    `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User            string `mapstructure:"user" yaml:"user"`
	Password        string `mapstructure:"password" yaml:"password,omitempty"`
	Database        string `mapstructure:"database" yaml:"database"`
	Timezone        string `mapstructure:"timezone" yaml:"timezone,omitempty"`
	IgnoreBootstrap bool   `mapstructure:"ignore_bootstrap" yaml:"ignore_bootstrap,omitempty"`
	SSL             SSL    `mapstructure:"ssl" yaml:"ssl"`
}

// DisplayName returns Name, falling back to Server.
func (d DatabaseServer) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Server
}

// KnownCertificate is a CA certificate fingerprint that bootstrap can name.
type KnownCertificate struct {
	Name        string `mapstructure:"name" yaml:"name" validate:"required"`
	Provider    string `mapstructure:"provider" yaml:"provider"`
	Fingerprint string `mapstructure:"fingerprint" yaml:"fingerprint" validate:"required"`
}

// JobList is the static descriptor of one logical job list.
type JobList struct {
	JobList      string        `mapstructure:"job_list" yaml:"job_list" validate:"required"`
	Listening    bool          `mapstructure:"listening" yaml:"listening"`
	Worker       bool          `mapstructure:"worker" yaml:"worker"`
	AutoClean    time.Duration `mapstructure:"auto_clean" yaml:"auto_clean,omitempty"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency,omitempty" validate:"gte=0"`
	Attempts     int           `mapstructure:"attempts" yaml:"attempts,omitempty" validate:"gte=0"`
	// LockDuration is the job lock TTL, renewed while a job runs (default 30s)
	LockDuration time.Duration `mapstructure:"lock_duration" yaml:"lock_duration,omitempty" validate:"gte=0"`
}

// Config holds all configuration for a backbone process
type Config struct {
	// Environment qualifies queue names and watch-list keys
	Environment string `mapstructure:"environment" yaml:"environment" validate:"required"`
	// LocalDevelopment is an optional suffix appended to Environment on developer machines
	LocalDevelopment string `mapstructure:"local_development" yaml:"local_development,omitempty"`
	// LocalRedis forces every Redis server onto port 6379
	LocalRedis    bool `mapstructure:"local_redis" yaml:"local_redis,omitempty"`
	LocalDatabase struct {
		Port int `mapstructure:"port" yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	} `mapstructure:"local_database" yaml:"local_database,omitempty"`

	StartupMode StartupMode `mapstructure:"startup_mode" yaml:"startup_mode" validate:"oneof=strict graceful"`

	Log struct {
		Level       string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
		Development bool   `mapstructure:"development" yaml:"development"`
	} `mapstructure:"log" yaml:"log"`

	Redis struct {
		Servers         []RedisServer   `mapstructure:"servers" yaml:"servers" validate:"dive"`
		Databases       []RedisDatabase `mapstructure:"databases" yaml:"databases" validate:"dive"`
		ErrorInterval   time.Duration   `mapstructure:"error_interval" yaml:"error_interval"`
		FlushInTestMode bool            `mapstructure:"flush_in_test_mode" yaml:"flush_in_test_mode"`
		PoolSize        int             `mapstructure:"pool_size" yaml:"pool_size" validate:"gte=0"`
		Retry           RedisRetry      `mapstructure:"retry" yaml:"retry"`
	} `mapstructure:"redis" yaml:"redis"`

	Database struct {
		Servers           []DatabaseServer   `mapstructure:"servers" yaml:"servers" validate:"dive"`
		ConnectionLimit   int                `mapstructure:"connection_limit" yaml:"connection_limit" validate:"gte=1"`
		CertificateCheck  bool               `mapstructure:"certificate_check" yaml:"certificate_check"`
		KnownCertificates []KnownCertificate `mapstructure:"known_certificates" yaml:"known_certificates,omitempty" validate:"dive"`
	} `mapstructure:"database" yaml:"database"`

	Queue struct {
		Prefix string `mapstructure:"prefix" yaml:"prefix" validate:"required"`
		Redis  struct {
			Server   string `mapstructure:"server" yaml:"server"`
			Database string `mapstructure:"database" yaml:"database"`
		} `mapstructure:"redis" yaml:"redis"`
		JobListWatchKey   string               `mapstructure:"job_list_watch_key" yaml:"job_list_watch_key,omitempty"`
		AutoClean         time.Duration        `mapstructure:"auto_clean" yaml:"auto_clean,omitempty"`
		ActivateListeners bool                 `mapstructure:"activate_listeners" yaml:"activate_listeners"`
		JobLists          []JobList            `mapstructure:"job_lists" yaml:"job_lists" validate:"dive"`
		ExtraJobLists     map[string][]JobList `mapstructure:"extra_job_lists" yaml:"extra_job_lists,omitempty"`
		Log               struct {
			FunctionIdentifierLength int `mapstructure:"function_identifier_length" yaml:"function_identifier_length" validate:"gte=0"`
		} `mapstructure:"log" yaml:"log"`
	} `mapstructure:"queue" yaml:"queue"`

	Secrets SecretsConfig `mapstructure:"secrets" yaml:"secrets"`

	API struct {
		Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
		Addr      string `mapstructure:"addr" yaml:"addr"`
		RateLimit struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
			Burst             int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
		} `mapstructure:"rate_limit" yaml:"rate_limit"`
		MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"gte=0"`
	} `mapstructure:"api" yaml:"api"`
}

// QualifiedEnvironment returns Environment with the local development suffix appended.
func (c *Config) QualifiedEnvironment() string {
	return c.Environment + c.LocalDevelopment
}

// IsTest reports whether the process runs in the test environment.
func (c *Config) IsTest() bool {
	return c.Environment == EnvironmentTest
}

// RedisServerByName returns the server entry with the given name.
func (c *Config) RedisServerByName(name string) (RedisServer, bool) {
	for _, s := range c.Redis.Servers {
		if s.Server == name {
			return s, true
		}
	}
	return RedisServer{}, false
}

// RedisDatabaseByName returns the database entry with the given name.
func (c *Config) RedisDatabaseByName(name string) (RedisDatabase, bool) {
	for _, d := range c.Redis.Databases {
		if d.Name == name {
			return d, true
		}
	}
	return RedisDatabase{}, false
}

// JobListTable returns the job-list table at configPath. An empty path, or "queue",
// selects queue.job_lists.
func (c *Config) JobListTable(configPath string) []JobList {
	if configPath == "" || configPath == "queue" {
		return c.Queue.JobLists
	}
	return c.Queue.ExtraJobLists[configPath]
}

// QueueStoreName returns the Redis database name the queues and watch list use.
func (c *Config) QueueStoreName() string {
	if c.Queue.Redis.Database != "" {
		return c.Queue.Redis.Database
	}
	return DefaultJobProcessingStore
}

// LoadConfig loads configuration from file, environment and defaults.
// An empty path searches for config.yaml in . and ./config.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && path != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("local_development", "")
	viper.SetDefault("local_redis", false)
	viper.SetDefault("local_database.port", 0)
	viper.SetDefault("startup_mode", string(StartupModeStrict))

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", true)

	viper.SetDefault("redis.servers", []RedisServer{})
	viper.SetDefault("redis.databases", []RedisDatabase{})
	viper.SetDefault("redis.error_interval", 5*time.Second)
	viper.SetDefault("redis.flush_in_test_mode", false)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.retry.max_retries", 3)
	viper.SetDefault("redis.retry.min_backoff", 8*time.Millisecond)
	viper.SetDefault("redis.retry.max_backoff", 512*time.Millisecond)

	viper.SetDefault("database.servers", []DatabaseServer{})
	viper.SetDefault("database.connection_limit", 5)
	viper.SetDefault("database.certificate_check", false)

	viper.SetDefault("queue.prefix", "bull")
	viper.SetDefault("queue.redis.server", DefaultJobProcessingStore)
	viper.SetDefault("queue.redis.database", DefaultJobProcessingStore)
	viper.SetDefault("queue.job_list_watch_key", "")
	viper.SetDefault("queue.auto_clean", time.Duration(0))
	viper.SetDefault("queue.activate_listeners", false)
	viper.SetDefault("queue.log.function_identifier_length", 20)

	viper.SetDefault("secrets.provider", "env")

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.addr", ":8090")
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)
	viper.SetDefault("api.max_body_bytes", 1<<20)
}

func loadFromEnv() {
	viper.SetEnvPrefix("BACKBONE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("environment", "BACKBONE_ENVIRONMENT", "ENVIRONMENT")
	_ = viper.BindEnv("local_development", "BACKBONE_LOCAL_DEVELOPMENT")
}
