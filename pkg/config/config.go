package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	StoreProvider string `yaml:"storeProvider"`
	RedisAddr     string `yaml:"redisAddr"`
	KeyPrefix     string `yaml:"keyPrefix"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	TracingEnabled     bool    `yaml:"tracingEnabled"`
	TracingServiceName string  `yaml:"tracingServiceName"`
	OTLPEndpoint       string  `yaml:"otlpEndpoint"`
	OTLPInsecure       bool    `yaml:"otlpInsecure"`
	TraceSampleRatio   float64 `yaml:"traceSampleRatio"`

	// Store connection retry settings.
	StoreConnectAttempts int    `yaml:"storeConnectAttempts"`
	BackoffPolicy        string `yaml:"backoffPolicy"`
	BackoffBaseSeconds   int    `yaml:"backoffBaseSeconds"`
	BackoffMaxSeconds    int    `yaml:"backoffMaxSeconds"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitBucket mirrors ratelimit.Bucket so config stays decoupled from
// the limiter implementation.
type RateLimitBucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	// Parser throttles outbound document parse calls.
	Parser RateLimitBucket `yaml:"parser"`
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	applyEnvAndDefaults(&c)
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but tolerates an empty path,
// falling back to env vars and defaults alone.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		var c Config
		applyEnvAndDefaults(&c)
		return &c, nil
	}
	return LoadConfig(filePath)
}

func applyEnvAndDefaults(c *Config) {
	if v := os.Getenv("GRADEPIPE_STORE_PROVIDER"); v != "" {
		c.StoreProvider = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("GRADEPIPE_KEY_PREFIX"); v != "" {
		c.KeyPrefix = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}

	if c.StoreProvider == "" {
		c.StoreProvider = "redis"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "gradepipe"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.TraceSampleRatio <= 0 || c.TraceSampleRatio > 1 {
		c.TraceSampleRatio = 1
	}
	if c.StoreConnectAttempts <= 0 {
		c.StoreConnectAttempts = 5
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = "exp_full_jitter"
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = 1
	}
	if c.BackoffMaxSeconds <= 0 {
		c.BackoffMaxSeconds = 30
	}
}

func (c *Config) Validate() error {
	var errs []string
	switch c.StoreProvider {
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, "redisAddr is required for the redis provider")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown storeProvider %q", c.StoreProvider))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
