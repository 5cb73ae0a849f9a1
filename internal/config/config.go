package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wms-platform/returns-service/internal/domain"
	"github.com/wms-platform/returns-service/pkg/kafka"
	"github.com/wms-platform/returns-service/pkg/mongodb"
)

const serviceName = "refund-processor"

// Config holds refund-processor configuration
type Config struct {
	Environment     string               `yaml:"environment"`
	LogLevel        string               `yaml:"logLevel" validate:"oneof=debug info warn error"`
	MongoDB         *mongodb.Config      `yaml:"mongodb" validate:"required"`
	QueueCollection string               `yaml:"queueCollection" validate:"required"`
	BatchLimit      int                  `yaml:"batchLimit" validate:"gte=0"`
	Platform        PlatformConfig       `yaml:"platform"`
	Kafka           *kafka.Config        `yaml:"kafka" validate:"required"`
	KafkaEnabled    bool                 `yaml:"kafkaEnabled"`
	Tracing         TracingConfig        `yaml:"tracing"`
	PushgatewayURL  string               `yaml:"pushgatewayUrl" validate:"omitempty,url"`
	FailurePolicy   domain.FailurePolicy `yaml:"failurePolicy"`
}

// PlatformConfig holds order-management platform client settings
type PlatformConfig struct {
	BaseURL string        `yaml:"baseUrl" validate:"required,url"`
	Token   string        `yaml:"token" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	SampleRate float64 `yaml:"sampleRate" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Environment:     "development",
		LogLevel:        "info",
		MongoDB:         mongodb.DefaultConfig(),
		QueueCollection: "return_queue",
		Platform: PlatformConfig{
			Timeout: 30 * time.Second,
		},
		Kafka:        kafka.DefaultConfig(),
		KafkaEnabled: true,
		Tracing: TracingConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		FailurePolicy: domain.DefaultFailurePolicy(),
	}
}

// ServiceName is the name the job reports in logs, traces and metrics
func (c *Config) ServiceName() string {
	return serviceName
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence, then
// validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []string
	fail := func(key string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", key, err))
	}

	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))

	c.MongoDB.URI = getEnv("MONGODB_URI", c.MongoDB.URI)
	c.MongoDB.Database = getEnv("MONGODB_DATABASE", c.MongoDB.Database)
	c.QueueCollection = getEnv("QUEUE_COLLECTION", c.QueueCollection)
	if v, ok := os.LookupEnv("BATCH_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			fail("BATCH_LIMIT", err)
		}
		c.BatchLimit = n
	}

	c.Platform.BaseURL = getEnv("PLATFORM_BASE_URL", c.Platform.BaseURL)
	c.Platform.Token = getEnv("PLATFORM_TOKEN", c.Platform.Token)
	if v, ok := os.LookupEnv("PLATFORM_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			fail("PLATFORM_TIMEOUT", err)
		}
		c.Platform.Timeout = d
	}

	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	if v, ok := os.LookupEnv("KAFKA_ENABLED"); ok {
		c.KafkaEnabled = v == "true"
	}

	if v, ok := os.LookupEnv("TRACING_ENABLED"); ok {
		c.Tracing.Enabled = v == "true"
	}
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)

	c.PushgatewayURL = getEnv("PUSHGATEWAY_URL", c.PushgatewayURL)

	for key, mode := range map[string]*domain.FailureMode{
		"FAILURE_POLICY_RETURN_FETCH":  &c.FailurePolicy.ReturnFetch,
		"FAILURE_POLICY_RETURN_SUBMIT": &c.FailurePolicy.ReturnSubmit,
		"FAILURE_POLICY_RETURN_CLOSE":  &c.FailurePolicy.ReturnClose,
	} {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		m, err := domain.ParseFailureMode(v)
		if err != nil {
			fail(key, err)
			continue
		}
		*mode = m
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration with struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
