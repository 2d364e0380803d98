package elasticsearch

import (
	"fmt"
	"strings"
	"time"
)

// Config holds Elasticsearch connection settings
type Config struct {
	Addresses      []string             `yaml:"addresses" mapstructure:"addresses"`
	Username       string               `yaml:"username" mapstructure:"username"`
	Password       string               `yaml:"password" mapstructure:"password"`
	APIKey         string               `yaml:"api_key" mapstructure:"api_key"`
	RequestTimeout time.Duration        `yaml:"request_timeout" mapstructure:"request_timeout"`
	MaxRetries     int                  `yaml:"max_retries" mapstructure:"max_retries"`
	IndexPrefix    string               `yaml:"index_prefix" mapstructure:"index_prefix"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breaker wrapped around every request
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" mapstructure:"max_requests"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// DefaultConfig returns sane defaults with no addresses configured
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 5 * time.Second,
		MaxRetries:     1,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      3,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Enabled reports whether an endpoint is configured
func (c *Config) Enabled() bool {
	for _, addr := range c.Addresses {
		if strings.TrimSpace(addr) != "" {
			return true
		}
	}
	return false
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("elasticsearch request timeout must be positive")
	}
	if c.Username != "" && c.APIKey != "" {
		return fmt.Errorf("elasticsearch username and api key are mutually exclusive")
	}
	return nil
}

// GetIndexName returns the daily index name for a template
func (c *Config) GetIndexName(template string, timestamp time.Time) string {
	return fmt.Sprintf("%s%s-%s", c.IndexPrefix, template, timestamp.UTC().Format("2006.01.02"))
}

// GetIndexPattern returns the wildcard covering every daily index of a template
func (c *Config) GetIndexPattern(template string) string {
	return fmt.Sprintf("%s%s-*", c.IndexPrefix, template)
}
