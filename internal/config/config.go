// Package config loads and validates the keyrot.yaml runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
)

// Defaults applied by Load when the file omits a field.
const (
	DefaultCheckIntervalMinutes    = 5
	DefaultMaxConcurrency          = 4
	DefaultPendingStaleMinutes     = 60
	DefaultRetryMaxAttempts        = 3
	DefaultRetryBackoffBaseMs      = 200
	DefaultNotificationQueueSize   = 100
	DefaultMetricsListenAddress    = ":9098"
)

// Config holds the runtime configuration.
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the keyrot.yaml structure.
type Definition struct {
	Version       int                       `yaml:"version"`
	Scheduler     SchedulerConfig           `yaml:"scheduler"`
	ProviderRetry RetryConfig               `yaml:"provider_retry"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
	Locking       LockingConfig             `yaml:"locking"`
	Metrics       MetricsConfig             `yaml:"metrics"`
	Notifications NotificationsConfig       `yaml:"notifications"`
}

// SchedulerConfig controls the scan loop.
type SchedulerConfig struct {
	RotationEnabled          *bool `yaml:"rotation_enabled"`
	CheckIntervalMinutes     int   `yaml:"rotation_check_interval_minutes"`
	MaxConcurrency           int   `yaml:"max_rotation_concurrency"`
	PendingStaleAfterMinutes int   `yaml:"pending_stale_after_minutes"`
}

// Enabled reports whether automatic rotation is switched on. Defaults to
// true when the field is absent.
func (s SchedulerConfig) Enabled() bool {
	return s.RotationEnabled == nil || *s.RotationEnabled
}

// RetryConfig bounds the in-place retries around provider calls.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
}

// ProviderConfig holds KMS provider-specific configuration.
type ProviderConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:",inline"`
}

// LockingConfig selects the advisory-lock backend.
type LockingConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// NotificationsConfig configures outcome delivery.
type NotificationsConfig struct {
	QueueSize int             `yaml:"queue_size"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one webhook sink.
type WebhookConfig struct {
	Name           string            `yaml:"name"`
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Events         []string          `yaml:"events,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
	Retry          *WebhookRetry     `yaml:"retry,omitempty"`
}

// WebhookRetry configures webhook delivery retries.
type WebhookRetry struct {
	MaxAttempts   int    `yaml:"max_attempts,omitempty"`
	Backoff       string `yaml:"backoff,omitempty"`
	InitialWaitMs int    `yaml:"initial_wait_ms,omitempty"`
}

// Load reads and parses the keyrot.yaml file, applies defaults, and
// validates the result.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return kerrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a keyrot.yaml or pass --config with the file's location",
			}
		}
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return kerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return kerrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your keyrot.yaml file",
		}
	}

	applyDefaults(&def)
	if err := validate(&def); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func applyDefaults(def *Definition) {
	if def.Scheduler.CheckIntervalMinutes == 0 {
		def.Scheduler.CheckIntervalMinutes = DefaultCheckIntervalMinutes
	}
	if def.Scheduler.MaxConcurrency == 0 {
		def.Scheduler.MaxConcurrency = DefaultMaxConcurrency
	}
	if def.Scheduler.PendingStaleAfterMinutes == 0 {
		def.Scheduler.PendingStaleAfterMinutes = DefaultPendingStaleMinutes
	}
	if def.ProviderRetry.MaxAttempts == 0 {
		def.ProviderRetry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if def.ProviderRetry.BackoffBaseMs == 0 {
		def.ProviderRetry.BackoffBaseMs = DefaultRetryBackoffBaseMs
	}
	if def.Notifications.QueueSize == 0 {
		def.Notifications.QueueSize = DefaultNotificationQueueSize
	}
	if def.Locking.Backend == "" {
		def.Locking.Backend = "memory"
	}
	if def.Metrics.ListenAddress == "" {
		def.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
}

func validate(def *Definition) error {
	if def.Scheduler.CheckIntervalMinutes < 1 {
		return kerrors.ConfigError{
			Field:      "scheduler.rotation_check_interval_minutes",
			Value:      def.Scheduler.CheckIntervalMinutes,
			Message:    "check interval must be at least 1 minute",
			Suggestion: "Use 5 for the default five-minute scan cycle",
		}
	}
	if def.Scheduler.MaxConcurrency < 1 {
		return kerrors.ConfigError{
			Field:      "scheduler.max_rotation_concurrency",
			Value:      def.Scheduler.MaxConcurrency,
			Message:    "concurrency must be at least 1",
			Suggestion: "Use 4 unless the KMS provider throttles aggressively",
		}
	}
	if def.ProviderRetry.MaxAttempts < 1 {
		return kerrors.ConfigError{
			Field:      "provider_retry.max_attempts",
			Value:      def.ProviderRetry.MaxAttempts,
			Message:    "retry attempts must be at least 1",
			Suggestion: "Use 3 to retry transient provider failures twice",
		}
	}

	switch def.Locking.Backend {
	case "memory":
	case "postgres":
		if def.Locking.PostgresDSN == "" {
			return kerrors.ConfigError{
				Field:      "locking.postgres_dsn",
				Message:    "postgres locking requires a connection string",
				Suggestion: "Set locking.postgres_dsn or switch locking.backend to 'memory'",
			}
		}
	default:
		return kerrors.ConfigError{
			Field:      "locking.backend",
			Value:      def.Locking.Backend,
			Message:    "unknown locking backend",
			Suggestion: "Valid backends: memory, postgres",
		}
	}

	for name, p := range def.Providers {
		switch p.Type {
		case "aws_kms", "fake":
		default:
			return kerrors.ConfigError{
				Field:      fmt.Sprintf("providers.%s.type", name),
				Value:      p.Type,
				Message:    "unknown KMS provider type",
				Suggestion: "Valid types: aws_kms, fake",
			}
		}
	}

	for i, hook := range def.Notifications.Webhooks {
		if hook.URL == "" {
			return kerrors.ConfigError{
				Field:      fmt.Sprintf("notifications.webhooks[%d].url", i),
				Message:    "webhook URL is required",
				Suggestion: "Set the url field or remove the webhook entry",
			}
		}
	}

	return nil
}

// GetProvider returns the configuration for a named KMS provider.
func (c *Config) GetProvider(name string) (ProviderConfig, error) {
	if c.Definition == nil {
		return ProviderConfig{}, fmt.Errorf("configuration not loaded")
	}

	if p, ok := c.Definition.Providers[name]; ok {
		return p, nil
	}

	var available []string
	for providerName := range c.Definition.Providers {
		available = append(available, providerName)
	}
	suggestion := "Add the provider under the providers: section of keyrot.yaml"
	if len(available) > 0 {
		suggestion = fmt.Sprintf("Available providers: %s", strings.Join(available, ", "))
	}
	return ProviderConfig{}, kerrors.ConfigError{
		Field:      "provider",
		Value:      name,
		Message:    "provider not found",
		Suggestion: suggestion,
	}
}
