// Package config provides configuration management for RuleKeeper services.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

// EnvAIAPIKey holds the AI provider API key. Environment only.
const EnvAIAPIKey = "RK_AI_API_KEY"

// Config is the complete RuleKeeper configuration.
type Config struct {
	Engine       EngineConfig
	Server       ServerConfig
	Database     DatabaseConfig
	AI           AIConfig
	NATS         NATSConfig
	LogDir       string // JSONL execution logs; empty disables the file sink
	MetadataFile string // optional YAML module field catalog
}

// EngineConfig tunes rule evaluation and action dispatch.
type EngineConfig struct {
	AITimeout         time.Duration
	ActionTimeout     time.Duration
	WebhookTimeout    time.Duration
	MaxAttempts       int
	RetryInitialDelay time.Duration
	ConcurrentActions bool
	DefaultModel      string
}

// ServerConfig holds listen addresses for the gRPC trigger service and the
// ops HTTP server.
type ServerConfig struct {
	Host        string
	Port        int
	MetricsPort int
}

// DatabaseConfig selects the rule, record and execution log database.
type DatabaseConfig struct {
	URL string // sqlite://path or postgres://...
}

// AIConfig configures the OpenAI-compatible provider for ai-analysis actions.
type AIConfig struct {
	BaseURL string
	APIKey  string // from RK_AI_API_KEY only
}

// NATSConfig configures notification publishing. An empty URL keeps
// notifications in the database only.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			AITimeout:         30 * time.Second,
			ActionTimeout:     5 * time.Second,
			WebhookTimeout:    10 * time.Second,
			MaxAttempts:       2,
			RetryInitialDelay: 200 * time.Millisecond,
			ConcurrentActions: true,
			DefaultModel:      types.DefaultModelID,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        50061,
			MetricsPort: 9090,
		},
		Database: DatabaseConfig{URL: "sqlite://rulekeeper.db"},
		AI:       AIConfig{BaseURL: "https://api.openai.com/v1"},
		NATS:     NATSConfig{SubjectPrefix: "rulekeeper.notifications"},
		LogDir:   "./data",
	}
}

// AIAPIKey returns the AI provider key from the environment.
// Empty means ai-analysis actions are skipped.
func AIAPIKey() string {
	return strings.TrimSpace(os.Getenv(EnvAIAPIKey))
}

// Validate checks timeouts, ports, attempts and URLs.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"engine.ai_timeout", c.Engine.AITimeout},
		{"engine.action_timeout", c.Engine.ActionTimeout},
		{"engine.webhook_timeout", c.Engine.WebhookTimeout},
		{"engine.retry_initial_delay", c.Engine.RetryInitialDelay},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.d)
		}
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	if strings.TrimSpace(c.Engine.DefaultModel) == "" {
		return fmt.Errorf("engine.default_model must not be empty")
	}
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validPort("server.metrics_port", c.Server.MetricsPort); err != nil {
		return err
	}
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("server.port and server.metrics_port must differ, both are %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url must not be empty")
	}
	if c.AI.BaseURL != "" {
		u, err := url.Parse(c.AI.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ai.base_url must be an absolute URL, got %q", c.AI.BaseURL)
		}
	}
	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
