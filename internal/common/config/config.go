// Package config provides configuration management for the ve orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator daemon.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Agent        AgentConfig        `mapstructure:"agent"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"` // 0 picks an ephemeral port
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// OrchestratorConfig holds scheduler and merge behaviour configuration.
// The persisted daemon config (state store "config" table) overrides these
// at runtime via PATCH /config.
type OrchestratorConfig struct {
	MaxAgents            int     `mapstructure:"maxAgents"`
	DispatchInterval     float64 `mapstructure:"dispatchInterval"` // in seconds
	MaxCompletionRetries int     `mapstructure:"maxCompletionRetries"`
	ShutdownTimeout      int     `mapstructure:"shutdownTimeout"` // in seconds
	BaseBranch           string  `mapstructure:"baseBranch"`
}

// AgentConfig holds agent runtime configuration.
type AgentConfig struct {
	// Command is the agent runtime executable invoked per phase.
	Command string `mapstructure:"command"`
	// SkillsDir is the directory holding per-phase skill files,
	// relative to the repository root.
	SkillsDir string `mapstructure:"skillsDir"`
	// MaxTurns caps agent turns for a full phase run.
	MaxTurns int `mapstructure:"maxTurns"`
	// ResumeMaxTurns caps agent turns for completion-retry resumes.
	ResumeMaxTurns int `mapstructure:"resumeMaxTurns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DispatchIntervalDuration returns the dispatch interval as a time.Duration.
func (o *OrchestratorConfig) DispatchIntervalDuration() time.Duration {
	return time.Duration(o.DispatchInterval * float64(time.Second))
}

// ShutdownTimeoutDuration returns the shutdown timeout as a time.Duration.
func (o *OrchestratorConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(o.ShutdownTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("VE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults: loopback only, ephemeral port
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Orchestrator defaults
	v.SetDefault("orchestrator.maxAgents", 2)
	v.SetDefault("orchestrator.dispatchInterval", 1.0)
	v.SetDefault("orchestrator.maxCompletionRetries", 3)
	v.SetDefault("orchestrator.shutdownTimeout", 30)
	v.SetDefault("orchestrator.baseBranch", "main")

	// Agent defaults
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.skillsDir", ".claude/commands")
	v.SetDefault("agent.maxTurns", 100)
	v.SetDefault("agent.resumeMaxTurns", 20)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "ve-orchestrator")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix VE_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("VE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ve/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Orchestrator.MaxAgents < 1 {
		errs = append(errs, "orchestrator.maxAgents must be at least 1")
	}
	if cfg.Orchestrator.DispatchInterval <= 0 {
		errs = append(errs, "orchestrator.dispatchInterval must be positive")
	}
	if cfg.Orchestrator.MaxCompletionRetries < 0 {
		errs = append(errs, "orchestrator.maxCompletionRetries must be non-negative")
	}
	if cfg.Orchestrator.ShutdownTimeout <= 0 {
		errs = append(errs, "orchestrator.shutdownTimeout must be positive")
	}
	if cfg.Orchestrator.BaseBranch == "" {
		errs = append(errs, "orchestrator.baseBranch is required")
	}

	if cfg.Agent.Command == "" {
		errs = append(errs, "agent.command is required")
	}
	if cfg.Agent.MaxTurns <= 0 {
		errs = append(errs, "agent.maxTurns must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
