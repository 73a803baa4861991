// Package execconfig loads the execution engine's configuration in layers —
// built-in defaults, an optional YAML file, environment variables, then
// explicit CLI overrides — tracking which layer won each field, grounded on
// the teacher's internal/config/layered.go (LayeredConfigManager's
// defaults/core/project/advanced merge) and cmd/cobra_cli.go's viper setup.
// Renamed from the teacher's "config" to avoid colliding with the teacher
// package kept in the workspace as reference.
package execconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is everything the execution engine needs to run one project.
type Config struct {
	ProjectID          string        `mapstructure:"project_id"`
	RepoPath           string        `mapstructure:"repo_path"`
	BusinessSpec       string        `mapstructure:"business_spec"`
	CheckpointDir      string        `mapstructure:"checkpoint_dir"`
	RetryCount         int           `mapstructure:"retry_count"`
	MaxTurnsPerStage   int           `mapstructure:"max_turns_per_stage"`
	MaxConcurrentLeads int           `mapstructure:"max_concurrent_leads"`
	LogLevel           string        `mapstructure:"log_level"`
	ConfigWatchDebounce time.Duration `mapstructure:"config_watch_debounce"`

	Ticket  TicketConfig  `mapstructure:"ticket"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// TicketConfig configures the GraphQL-over-HTTP ticket-system client.
type TicketConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	TeamID  string `mapstructure:"team_id"`
}

// WebhookConfig configures inbound ticket-system webhook verification.
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
	Addr   string `mapstructure:"addr"`
}

// Provenance records which layer supplied each top-level field's final
// value — "default", "file", "env", or "override" — mirroring the
// teacher's LayeredConfigManager.GetLayerInfo.
type Provenance map[string]string

// Loader builds a Config from defaults, an optional file, environment
// variables (EXECENGINE_* prefix), and programmatic overrides, in that
// increasing order of precedence.
type Loader struct {
	v          *viper.Viper
	provenance Provenance
}

// NewLoader constructs a Loader with built-in defaults applied.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("EXECENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	return &Loader{v: v, provenance: make(Provenance)}
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("checkpoint_dir", ".execengine/checkpoints")
	v.SetDefault("retry_count", 1)
	v.SetDefault("max_turns_per_stage", 20)
	v.SetDefault("max_concurrent_leads", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("config_watch_debounce", 750*time.Millisecond)
	v.SetDefault("ticket.base_url", "https://api.linear.app/graphql")
}

// LoadFile merges a YAML config file into the loader. A missing file is not
// an error — project-level config is always optional, matching the
// teacher's loadProjectConfig behavior.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("execconfig: read config file %s: %w", path, err)
	}
	return nil
}

// Override applies one explicit CLI-flag-level override, taking precedence
// over file and environment values.
func (l *Loader) Override(key string, value any) {
	l.v.Set(key, value)
	l.provenance[key] = "override"
}

// Build finalizes the Config, validates required fields, and returns the
// provenance recorded for any keys set via Override.
func (l *Loader) Build() (*Config, Provenance, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("execconfig: unmarshal: %w", err)
	}

	if cfg.ProjectID == "" {
		return nil, nil, fmt.Errorf("execconfig: project_id is required")
	}
	if cfg.RepoPath == "" {
		return nil, nil, fmt.Errorf("execconfig: repo_path is required")
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 1
	}
	if cfg.MaxConcurrentLeads <= 0 {
		cfg.MaxConcurrentLeads = 1
	}

	return &cfg, l.provenance, nil
}

// TicketsEnabled reports whether both an API key and team id are configured,
// matching ticket.Client.Enabled()'s own gate.
func (c *Config) TicketsEnabled() bool {
	return c.Ticket.APIKey != "" && c.Ticket.TeamID != ""
}
