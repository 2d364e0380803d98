package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/isectech/security-logging/pkg/logging"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/alertstore"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/dispatch"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/logsink"
	"github.com/isectech/security-logging/shared/database/elasticsearch"
	"github.com/isectech/security-logging/shared/database/encryption"
)

// Config represents the configuration for the security logging service
type Config struct {
	Service       ServiceConfig          `mapstructure:"service"`
	Server        ServerConfig           `mapstructure:"server"`
	Logging       logging.Config         `mapstructure:"logging"`
	Sink          logsink.Config         `mapstructure:"sink"`
	Retention     RetentionConfig        `mapstructure:"retention"`
	Encryption    encryption.FieldConfig `mapstructure:"encryption"`
	Elasticsearch elasticsearch.Config   `mapstructure:"elasticsearch"`
	Mirror        MirrorConfig           `mapstructure:"mirror"`
	Correlation   CorrelationConfig      `mapstructure:"correlation"`
	Dispatch      DispatchConfig         `mapstructure:"dispatch"`
	Webhook       dispatch.WebhookConfig `mapstructure:"webhook"`
	Kafka         dispatch.KafkaConfig   `mapstructure:"kafka"`
	Redis         alertstore.RedisConfig `mapstructure:"redis"`
	Metrics       MetricsConfig          `mapstructure:"metrics"`
}

// ServiceConfig contains service-specific configuration
type ServiceConfig struct {
	Name            string        `mapstructure:"name" validate:"required"`
	Version         string        `mapstructure:"version"`
	Environment     string        `mapstructure:"environment" validate:"oneof=development staging production"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	IngestRatePerSecond float64       `mapstructure:"ingest_rate_per_second" validate:"gte=0"`
	IngestBurst         int           `mapstructure:"ingest_burst" validate:"gte=0"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RetentionConfig holds the retention horizons and the sweep schedule
type RetentionConfig struct {
	AuditDays       int `mapstructure:"audit_days" validate:"gte=1"`
	ApplicationDays int `mapstructure:"application_days" validate:"gte=1"`
	SweepHour       int `mapstructure:"sweep_hour" validate:"gte=0,lte=23"`
}

// MirrorConfig bounds external index writes
type MirrorConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	EnsureTemplates bool          `mapstructure:"ensure_templates"`
}

// CorrelationConfig configures the correlation store and rule set
type CorrelationConfig struct {
	RulesFile          string        `mapstructure:"rules_file"`
	PruneInterval      time.Duration `mapstructure:"prune_interval" validate:"gt=0"`
	SuppressionEntries int           `mapstructure:"suppression_entries" validate:"gte=0"`
}

// DispatchConfig bounds every network delivery of an alert
type DispatchConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// MetricsConfig configures the metrics endpoint
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// environment names recognised without the SIEM_ prefix
var envBindings = map[string][]string{
	"logging.level":           {"LOG_LEVEL"},
	"retention.audit_days":    {"AUDIT_RETENTION_DAYS"},
	"encryption.key":          {"LOG_ENCRYPTION_KEY"},
	"encryption.salt":         {"LOG_ENCRYPTION_SALT"},
	"elasticsearch.addresses": {"ELASTICSEARCH_URL"},
	"elasticsearch.username":  {"ELASTICSEARCH_USERNAME"},
	"elasticsearch.password":  {"ELASTICSEARCH_PASSWORD"},
	"elasticsearch.api_key":   {"ELASTICSEARCH_API_KEY"},
	"webhook.url":             {"SIEM_WEBHOOK_URL"},
	"webhook.token":           {"SIEM_WEBHOOK_TOKEN"},
	"sink.directory":          {"LOG_DIR"},
	"kafka.brokers":           {"KAFKA_BROKERS"},
	"redis.address":           {"REDIS_ADDR"},
	"redis.password":          {"REDIS_PASSWORD"},
	"server.port":             {"PORT"},
}

// LoadConfig reads config.yaml from configPath (optional), then the
// environment, and validates the result
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/isectech/siem-logging")

	v.SetEnvPrefix("SIEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvironmentVariables(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.name", "siem-logging")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.shutdown_timeout", "30s")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.ingest_rate_per_second", 500)
	v.SetDefault("server.ingest_burst", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.service_name", "siem-logging")

	// Sink defaults
	v.SetDefault("sink.directory", "./logs")
	v.SetDefault("sink.max_segment_bytes", 100*1024*1024)
	v.SetDefault("sink.sync_on_write", false)

	// Retention defaults
	v.SetDefault("retention.audit_days", 2555)
	v.SetDefault("retention.application_days", 30)
	v.SetDefault("retention.sweep_hour", 2)

	// Elasticsearch defaults
	es := elasticsearch.DefaultConfig()
	v.SetDefault("elasticsearch.request_timeout", es.RequestTimeout)
	v.SetDefault("elasticsearch.max_retries", es.MaxRetries)
	v.SetDefault("elasticsearch.circuit_breaker.max_requests", es.CircuitBreaker.MaxRequests)
	v.SetDefault("elasticsearch.circuit_breaker.interval", es.CircuitBreaker.Interval)
	v.SetDefault("elasticsearch.circuit_breaker.timeout", es.CircuitBreaker.Timeout)
	v.SetDefault("elasticsearch.circuit_breaker.failure_threshold", es.CircuitBreaker.FailureThreshold)
	v.SetDefault("mirror.timeout", "5s")
	v.SetDefault("mirror.ensure_templates", true)

	// Correlation defaults
	v.SetDefault("correlation.prune_interval", "1m")
	v.SetDefault("correlation.suppression_entries", 10000)

	// Delivery defaults
	v.SetDefault("dispatch.timeout", "5s")
	v.SetDefault("webhook.timeout", "5s")
	v.SetDefault("webhook.rate_per_second", 20)
	v.SetDefault("webhook.burst", 50)
	v.SetDefault("kafka.topic", "security-alerts")
	v.SetDefault("kafka.write_timeout", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "isectech")
}

func bindEnvironmentVariables(v *viper.Viper) error {
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// normalize splits comma separated list values that arrived as one
// environment string
func (c *Config) normalize() {
	c.Elasticsearch.Addresses = splitList(c.Elasticsearch.Addresses)
	c.Kafka.Brokers = splitList(c.Kafka.Brokers)
	c.Logging.ServiceName = c.Service.Name
	c.Logging.Development = c.Service.Environment == "development"
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks struct tags and cross-field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Retention.ApplicationDays > c.Retention.AuditDays {
		return fmt.Errorf("application retention (%d days) exceeds audit retention (%d days)",
			c.Retention.ApplicationDays, c.Retention.AuditDays)
	}
	if c.Elasticsearch.Enabled() {
		if err := c.Elasticsearch.Validate(); err != nil {
			return err
		}
	}
	return nil
}
