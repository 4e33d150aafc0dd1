package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"greenline/internal/domain"
)

// FileName is the config file looked up in the workspace.
const FileName = "greenline.yml"

// Config models greenline.yml.
type Config struct {
	Timezone string `yaml:"timezone"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Sweep struct {
		Enabled  *bool  `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
	} `yaml:"sweep"`
	Notify NotifyConfig `yaml:"notify"`
	RBAC   struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type NotifyConfig struct {
	Log       *bool           `yaml:"log"`
	QueueSize int             `yaml:"queue_size"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type RedisConfig struct {
	// Addr is host:port or a redis:// URL.
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

var knownEvents = map[string]bool{
	"task-locked":      true,
	"unlock-requested": true,
	"unlock-decided":   true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.timezone: %w", err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not a level", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	if c.Sweep.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			return fmt.Errorf("config.sweep.schedule: %w", err)
		}
	}
	if c.Notify.QueueSize < 0 {
		return fmt.Errorf("config.notify.queue_size must not be negative")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if !knownEvents[evt] {
				return fmt.Errorf("config.notify.webhooks[%d] subscribes to unknown event %s", i, evt)
			}
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// Location resolves Timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "utc") {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SweepEnabled reports whether the scheduler should run the auto-lock sweep.
func (c *Config) SweepEnabled() bool {
	return c.Sweep.Enabled == nil || *c.Sweep.Enabled
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace, falling back to Default
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Unset keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

var defaultTemplate = `timezone: UTC

log:
  level: info
  format: json

sweep:
  enabled: true
  # daily, shortly after midnight in the configured timezone
  schedule: "5 0 * * *"

notify:
  log: true
  queue_size: 256
  redis:
    addr: ""
    channel: greenline:notifications
  nats:
    url: ""
    subject_prefix: notifications.greenline
  webhooks: []

rbac:
  roles:
    admin:
      description: "Operations admin"
      permissions: [` + domain.CapabilityLockManage + `, ` + domain.CapabilityRBACManage + `]
    member:
      description: "Project member"
      permissions: []
`
