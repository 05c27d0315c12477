package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned struct.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("engine.ai_timeout", d.Engine.AITimeout.String())
	v.SetDefault("engine.action_timeout", d.Engine.ActionTimeout.String())
	v.SetDefault("engine.webhook_timeout", d.Engine.WebhookTimeout.String())
	v.SetDefault("engine.max_attempts", d.Engine.MaxAttempts)
	v.SetDefault("engine.retry_initial_delay", d.Engine.RetryInitialDelay.String())
	v.SetDefault("engine.concurrent_actions", d.Engine.ConcurrentActions)
	v.SetDefault("engine.default_model", d.Engine.DefaultModel)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("ai.base_url", d.AI.BaseURL)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("metadata.file", d.MetadataFile)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Checked before env binding so only the file is consulted.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("RK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Engine: EngineConfig{
			AITimeout:         v.GetDuration("engine.ai_timeout"),
			ActionTimeout:     v.GetDuration("engine.action_timeout"),
			WebhookTimeout:    v.GetDuration("engine.webhook_timeout"),
			MaxAttempts:       v.GetInt("engine.max_attempts"),
			RetryInitialDelay: v.GetDuration("engine.retry_initial_delay"),
			ConcurrentActions: v.GetBool("engine.concurrent_actions"),
			DefaultModel:      v.GetString("engine.default_model"),
		},
		Server: ServerConfig{
			Host:        v.GetString("server.host"),
			Port:        v.GetInt("server.port"),
			MetricsPort: v.GetInt("server.metrics_port"),
		},
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		AI: AIConfig{
			BaseURL: v.GetString("ai.base_url"),
			APIKey:  AIAPIKey(),
		},
		NATS: NATSConfig{
			URL:           v.GetString("nats.url"),
			SubjectPrefix: v.GetString("nats.subject_prefix"),
		},
		LogDir:       v.GetString("log_dir"),
		MetadataFile: v.GetString("metadata.file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("ai.api_key") || v.IsSet("ai_api_key") || v.IsSet("api_key") {
		return fmt.Errorf("API keys not allowed in config files (use %s environment variable)", EnvAIAPIKey)
	}
	return nil
}
