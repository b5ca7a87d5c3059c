package config

import (
	"time"

	"github.com/scoutbatch-go/pkg/database"
	"github.com/scoutbatch-go/pkg/events"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/scoutbatch-go/pkg/middleware/auth"
	"github.com/scoutbatch-go/pkg/telemetry"
)

// ToLoggerConfig converts LoggerConfig to logger.Config
func (c LoggerConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddCaller:  c.AddCaller,
		Stacktrace: c.Stacktrace,
	}
}

// ToDatabaseConfig converts DatabaseConfig to database.Config
func (c DatabaseConfig) ToDatabaseConfig() database.Config {
	return database.Config{
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		Name:         c.Name,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
	}
}

// ToKafkaConfig converts KafkaConfig to events.KafkaConfig
func (c KafkaConfig) ToKafkaConfig() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:       c.Brokers,
		Topic:         c.Topic,
		ConsumerGroup: c.ConsumerGroup,
	}
}

// LockTTLDuration returns the sweep lock TTL.
func (c SchedulerConfig) LockTTLDuration() time.Duration {
	if c.LockTTL <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTTL) * time.Second
}

// ToTelemetryConfig converts TelemetryConfig to telemetry.Config
func (c TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		JaegerURL:    c.JaegerURL,
		ServiceName:  c.ServiceName,
		SamplingRate: c.SamplingRate,
	}
}

// ToStaticKeys converts the configured API keys for auth.NewStaticKeyValidator.
func (c ServerConfig) ToStaticKeys() []auth.StaticKey {
	keys := make([]auth.StaticKey, len(c.APIKeys))
	for i, k := range c.APIKeys {
		keys[i] = auth.StaticKey{ID: k.ID, Hash: k.Hash, Permissions: k.Permissions}
	}
	return keys
}
