// Package config loads runtime configuration from a YAML file with
// ORCH_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Port     string         `koanf:"port" yaml:"port"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq" yaml:"rabbitmq"`
	MinIO    MinIOConfig    `koanf:"minio" yaml:"minio"`
	Topics   TopicsConfig   `koanf:"topics" yaml:"topics"`
	Engine   EngineConfig   `koanf:"engine" yaml:"engine"`
	Batch    BatchConfig    `koanf:"batch" yaml:"batch"`
	// HistoryCap bounds the assertion history kept per conversation.
	HistoryCap int `koanf:"history_cap" yaml:"history_cap"`
}

type RabbitMQConfig struct {
	URL        string   `koanf:"url" yaml:"url"`
	Exchange   string   `koanf:"exchange" yaml:"exchange"`
	Queue      string   `koanf:"queue" yaml:"queue"`
	Bindings   []string `koanf:"bindings" yaml:"bindings"`
	Prefetch   int      `koanf:"prefetch" yaml:"prefetch"`
	MaxRetries int      `koanf:"max_retries" yaml:"max_retries"`
}

type MinIOConfig struct {
	Endpoint  string `koanf:"endpoint" yaml:"endpoint"`
	AccessKey string `koanf:"access_key" yaml:"access_key"`
	SecretKey string `koanf:"secret_key" yaml:"secret_key"`
	Bucket    string `koanf:"bucket" yaml:"bucket"`
	UseSSL    bool   `koanf:"use_ssl" yaml:"use_ssl"`
}

type TopicsConfig struct {
	Decisions string `koanf:"decisions" yaml:"decisions"`
	Updates   string `koanf:"updates" yaml:"updates"`
}

type EngineConfig struct {
	ConfidenceThreshold float64 `koanf:"confidence_threshold" yaml:"confidence_threshold"`
	EscalationRunLength int     `koanf:"escalation_run_length" yaml:"escalation_run_length"`
}

type BatchConfig struct {
	Size int `koanf:"size" yaml:"size"`
	// Wait is how long the consumer holds a partial batch open.
	Wait time.Duration `koanf:"wait" yaml:"wait"`
	// Timeout bounds one batch invocation end to end.
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	// DeadlineReserve is the remaining-time floor below which the
	// orchestrator stops starting new records.
	DeadlineReserve time.Duration `koanf:"deadline_reserve" yaml:"deadline_reserve"`
}

// Default returns the baseline configuration before file/env overlays.
func Default() *Config {
	return &Config{
		Port: "8091",
		RabbitMQ: RabbitMQConfig{
			Exchange:   "support.conversations",
			Queue:      "response-orchestrator",
			Bindings:   []string{"conversation.assertions.#"},
			Prefetch:   16,
			MaxRetries: 3,
		},
		MinIO: MinIOConfig{
			Bucket: "conversation-events",
		},
		Topics: TopicsConfig{
			Decisions: "conversation.decisions",
			Updates:   "conversation.updates",
		},
		Engine: EngineConfig{
			ConfidenceThreshold: 0.85,
			EscalationRunLength: 3,
		},
		Batch: BatchConfig{
			Size:            10,
			Wait:            250 * time.Millisecond,
			Timeout:         60 * time.Second,
			DeadlineReserve: 5 * time.Second,
		},
		HistoryCap: 50,
	}
}

// Load reads the YAML file at path (if it exists), then overlays
// ORCH_* environment variables. Nesting uses double underscores:
// ORCH_RABBITMQ__URL -> rabbitmq.url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("ORCH_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "ORCH_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.MinIO.Endpoint = parseMinIOEndpoint(cfg.MinIO.Endpoint)
	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration can actually run the service.
func (c *Config) Validate() error {
	if c.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq.url is required")
	}
	if c.RabbitMQ.Exchange == "" {
		return fmt.Errorf("rabbitmq.exchange is required")
	}
	if c.RabbitMQ.Queue == "" {
		return fmt.Errorf("rabbitmq.queue is required")
	}
	if len(c.RabbitMQ.Bindings) == 0 {
		return fmt.Errorf("rabbitmq.bindings is required")
	}
	if c.MinIO.Endpoint == "" {
		return fmt.Errorf("minio.endpoint is required")
	}
	if c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
		return fmt.Errorf("minio credentials are required")
	}
	if c.MinIO.Bucket == "" {
		return fmt.Errorf("minio.bucket is required")
	}
	if c.Topics.Decisions == "" || c.Topics.Updates == "" {
		return fmt.Errorf("topics.decisions and topics.updates are required")
	}
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold must be in [0,1]")
	}
	if c.Engine.EscalationRunLength < 1 {
		return fmt.Errorf("engine.escalation_run_length must be >= 1")
	}
	if c.HistoryCap < 1 {
		return fmt.Errorf("history_cap must be >= 1")
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be >= 1")
	}
	if c.Batch.DeadlineReserve >= c.Batch.Timeout {
		return fmt.Errorf("batch.deadline_reserve must be below batch.timeout")
	}
	return nil
}

// parseMinIOEndpoint normalizes the MinIO endpoint: strips the protocol
// prefix, drops any path component, and rejects unresolved
// platform-template variables.
func parseMinIOEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}

	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	if strings.Contains(endpoint, "${{") && strings.Contains(endpoint, "}}") {
		// Unresolved deployment template; empty triggers validation.
		return ""
	}

	if strings.Contains(endpoint, "/") {
		parts := strings.SplitN(endpoint, "/", 2)
		endpoint = parts[0]
	}

	return endpoint
}
