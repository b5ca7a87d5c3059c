package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// scheduleParser matches the scheduler's six-field, seconds-first syntax.
var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// scheduleEpoch is where SweepPeriod starts counting ticks.
var scheduleEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Batching      BatchingConfig      `mapstructure:"batching"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Logger        LoggerConfig        `mapstructure:"logger"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	// APIKeys protects /api/v1 when non-empty.
	APIKeys []APIKeyConfig `mapstructure:"api_keys"`
}

type APIKeyConfig struct {
	ID string `mapstructure:"id"`
	// Hash is the bcrypt hash of the key.
	Hash        string   `mapstructure:"hash"`
	Permissions []string `mapstructure:"permissions"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type DatabaseConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	IndexPrefix string   `mapstructure:"index_prefix"`
	Refresh     string   `mapstructure:"refresh"`
}

type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Topic         string   `mapstructure:"topic"`
}

// BatchingConfig holds the flush thresholds and the store key namespace.
type BatchingConfig struct {
	MaxBatchSize            int    `mapstructure:"max_batch_size"`
	DebounceIntervalMinutes int    `mapstructure:"debounce_interval_minutes"`
	CacheKeyPrefix          string `mapstructure:"cache_key_prefix"`
	MaxConflictRetries      int    `mapstructure:"max_conflict_retries"`
	// Entities lists the entity types the service binds at startup.
	Entities []EntityConfig `mapstructure:"entities"`
}

type EntityConfig struct {
	Type        string `mapstructure:"type"`
	Table       string `mapstructure:"table"`
	KeyColumn   string `mapstructure:"key_column"`
	SoftDeletes bool   `mapstructure:"soft_deletes"`
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Spec is a six-field cron expression (seconds first).
	Spec    string `mapstructure:"spec"`
	LockTTL int    `mapstructure:"lock_ttl"`
}

type RateLimitConfig struct {
	FlushRPS   int `mapstructure:"flush_rps"`
	FlushBurst int `mapstructure:"flush_burst"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

// Load reads <name>.yaml from ./configs or /etc/scoutbatch, then applies
// SCOUTBATCH_* environment overrides on top of the defaults.
func Load(name string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/scoutbatch")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SCOUTBATCH")

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist, we'll use defaults and env vars
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFile reads an explicit config file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SCOUTBATCH")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 30)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "scoutbatch")
	v.SetDefault("database.name", "scoutbatch")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)

	// Elasticsearch defaults
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index_prefix", "")
	v.SetDefault("elasticsearch.refresh", "false")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "scoutbatch")
	v.SetDefault("kafka.topic", "record-changes")

	// Batching defaults
	v.SetDefault("batching.max_batch_size", 250)
	v.SetDefault("batching.debounce_interval_minutes", 1)
	v.SetDefault("batching.cache_key_prefix", "SCOUT_BATCH_SEARCHABLE_QUEUE")
	v.SetDefault("batching.max_conflict_retries", 10)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "0 * * * * *")
	v.SetDefault("scheduler.lock_ttl", 30)

	v.SetDefault("rate_limit.flush_rps", 5)
	v.SetDefault("rate_limit.flush_burst", 10)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	v.SetDefault("telemetry.service_name", "scoutbatch")
	v.SetDefault("telemetry.sampling_rate", 0.1)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.add_caller", true)
	v.SetDefault("logger.stacktrace", false)
}

func (c *Config) Validate() error {
	if c.Batching.MaxBatchSize <= 0 {
		return fmt.Errorf("batching.max_batch_size must be positive, got %d", c.Batching.MaxBatchSize)
	}
	if c.Batching.DebounceIntervalMinutes < 0 {
		return fmt.Errorf("batching.debounce_interval_minutes must not be negative, got %d", c.Batching.DebounceIntervalMinutes)
	}
	if c.Batching.CacheKeyPrefix == "" {
		return errors.New("batching.cache_key_prefix must not be empty")
	}
	for i, k := range c.Server.APIKeys {
		if k.ID == "" || k.Hash == "" {
			return fmt.Errorf("server.api_keys[%d] needs an id and a hash", i)
		}
	}
	for i, e := range c.Batching.Entities {
		if e.Type == "" {
			return fmt.Errorf("batching.entities[%d].type must not be empty", i)
		}
	}
	if len(c.Batching.Entities) > 0 && !c.Database.Enabled {
		return errors.New("batching.entities need a record source; set database.enabled")
	}
	if c.Scheduler.Enabled {
		if _, err := c.Scheduler.SweepPeriod(); err != nil {
			return err
		}
	}
	return nil
}

// Warnings lists settings that load fine but work against each other.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Scheduler.Enabled {
		period, err := c.Scheduler.SweepPeriod()
		debounce := c.Batching.DebounceInterval()
		if err == nil && period > debounce {
			warnings = append(warnings, fmt.Sprintf(
				"scheduler.spec %q sweeps every %s, longer than the %s debounce interval; idle batches may wait up to %s",
				c.Scheduler.Spec, period, debounce, period))
		}
	}
	return warnings
}

// SweepPeriod is the longest gap between consecutive ticks of Spec over its
// first few firings.
func (c *SchedulerConfig) SweepPeriod() (time.Duration, error) {
	sched, err := scheduleParser.Parse(c.Spec)
	if err != nil {
		return 0, fmt.Errorf("scheduler.spec %q: %w", c.Spec, err)
	}

	var longest time.Duration
	prev := sched.Next(scheduleEpoch)
	for i := 0; i < 8; i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); gap > longest {
			longest = gap
		}
		prev = next
	}
	return longest, nil
}

func (c *BatchingConfig) DebounceInterval() time.Duration {
	return time.Duration(c.DebounceIntervalMinutes) * time.Minute
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
