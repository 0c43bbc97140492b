// Package config provides configuration management for the core.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the core.
type Config struct {
	Session SessionConfig `mapstructure:"session"`
	Router  RouterConfig  `mapstructure:"router"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SessionConfig is the configuration surface of the Session Manager, exactly
// as described in the agent subprocess configuration surface: explicit
// binary path, permission presets and allow/deny lists, model selection,
// and auto-resume behavior.
type SessionConfig struct {
	// CLIPath is the explicit agent binary path. Highest priority in path
	// resolution; if empty, the bundled platform binary is tried next, then
	// the OS search path.
	CLIPath string `mapstructure:"cliPath"`

	// Yolo relaxes permissioning: when true, forces AllowAllTools,
	// AllowAllPaths and AllowAllUrls to true regardless of their own values.
	Yolo bool `mapstructure:"yolo"`

	AllowAllTools bool `mapstructure:"allowAllTools"`
	AllowAllPaths bool `mapstructure:"allowAllPaths"`
	AllowAllUrls  bool `mapstructure:"allowAllUrls"`

	AllowTools []string `mapstructure:"allowTools"`
	DenyTools  []string `mapstructure:"denyTools"`
	AllowUrls  []string `mapstructure:"allowUrls"`
	DenyUrls   []string `mapstructure:"denyUrls"`
	AddDirs    []string `mapstructure:"addDirs"`

	// Agent is the custom agent name to request from the CLI, if it
	// supports multiple agent personas.
	Agent string `mapstructure:"agent"`

	// Model is the requested model id for work sessions.
	Model string `mapstructure:"model"`

	// PlanModel is the requested model id for plan sessions. Falls back to
	// Model if empty.
	PlanModel string `mapstructure:"planModel"`

	// FilterSessionsByFolder restricts auto-resume candidates to sessions
	// anchored at the current workspace.
	FilterSessionsByFolder bool `mapstructure:"filterSessionsByFolder"`

	// ResumeLastSession enables resuming the most recently modified
	// matching session on start instead of always creating a new one.
	ResumeLastSession bool `mapstructure:"resumeLastSession"`

	// GhSsoEnterpriseSlug is forwarded to the agent CLI's external auth flow
	// unexamined; the core has no auth flow of its own.
	GhSsoEnterpriseSlug string `mapstructure:"ghSsoEnterpriseSlug"`
}

// EffectiveAllowAllTools applies the Yolo override.
func (s *SessionConfig) EffectiveAllowAllTools() bool { return s.Yolo || s.AllowAllTools }

// EffectiveAllowAllPaths applies the Yolo override.
func (s *SessionConfig) EffectiveAllowAllPaths() bool { return s.Yolo || s.AllowAllPaths }

// EffectiveAllowAllUrls applies the Yolo override.
func (s *SessionConfig) EffectiveAllowAllUrls() bool { return s.Yolo || s.AllowAllUrls }

// EffectivePlanModel returns PlanModel, falling back to Model when unset.
func (s *SessionConfig) EffectivePlanModel() string {
	if s.PlanModel != "" {
		return s.PlanModel
	}
	return s.Model
}

// RouterConfig configures the host-view transport when it runs over a
// loopback socket instead of in-process channels.
type RouterConfig struct {
	// ListenAddr is the loopback address the host-side websocket transport
	// binds to. Empty means use the in-process channel transport.
	ListenAddr string `mapstructure:"listenAddr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in a production-like environment, "text" for
// terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("session.cliPath", "")
	v.SetDefault("session.yolo", false)
	v.SetDefault("session.allowAllTools", false)
	v.SetDefault("session.allowAllPaths", false)
	v.SetDefault("session.allowAllUrls", false)
	v.SetDefault("session.allowTools", []string{})
	v.SetDefault("session.denyTools", []string{})
	v.SetDefault("session.allowUrls", []string{})
	v.SetDefault("session.denyUrls", []string{})
	v.SetDefault("session.addDirs", []string{})
	v.SetDefault("session.agent", "")
	v.SetDefault("session.model", "claude-sonnet-4.6")
	v.SetDefault("session.planModel", "")
	v.SetDefault("session.filterSessionsByFolder", true)
	v.SetDefault("session.resumeLastSession", true)
	v.SetDefault("session.ghSsoEnterpriseSlug", "")

	v.SetDefault("router.listenAddr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CORE_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("session.cliPath", "CORE_AGENT_CLI_PATH")
	_ = v.BindEnv("session.model", "CORE_AGENT_MODEL")
	_ = v.BindEnv("logging.level", "CORE_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

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

// validate checks that configuration values are sane.
func validate(cfg *Config) error {
	var errs []string

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
