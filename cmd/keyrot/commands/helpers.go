package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omniusstudio/pms-keyrotation/internal/audit"
	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/kms"
	"github.com/omniusstudio/pms-keyrotation/internal/locking"
	"github.com/omniusstudio/pms-keyrotation/internal/rotation"
	"github.com/omniusstudio/pms-keyrotation/internal/rotation/notifications"
	"github.com/omniusstudio/pms-keyrotation/internal/schedule"
	"github.com/omniusstudio/pms-keyrotation/internal/state"
)

// runtime bundles everything a command needs once the config file and
// state directory are loaded.
type runtime struct {
	cfg       *config.Config
	state     *state.Store
	providers map[string]kms.Provider
	locker    locking.Locker
	notifier  *notifications.Manager
	executor  *rotation.Executor
}

// newRuntime loads the config, opens the state directory, and constructs
// the KMS providers and executor. The caller owns the returned runtime and
// must call close when done.
func newRuntime(cfg *config.Config, stateDir *string) (*runtime, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}

	dir := *stateDir
	if dir == "" {
		dir = state.DefaultStateDir()
	}
	st, err := state.Open(dir, schedule.SystemClock{})
	if err != nil {
		return nil, err
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}

	locker, err := buildLocker(cfg)
	if err != nil {
		return nil, err
	}

	notifier := buildNotifier(cfg)

	def := cfg.Definition
	executor := rotation.NewExecutor(rotation.ExecutorOptions{
		Registry:  st.Registry(),
		Trail:     st.Trail(),
		Providers: providers,
		Notifier:  notifier,
		Logger:    cfg.Logger,
		Retry: rotation.RetryConfig{
			MaxAttempts: def.ProviderRetry.MaxAttempts,
			BackoffBase: time.Duration(def.ProviderRetry.BackoffBaseMs) * time.Millisecond,
		},
	})

	return &runtime{
		cfg:       cfg,
		state:     st,
		providers: providers,
		locker:    locker,
		notifier:  notifier,
		executor:  executor,
	}, nil
}

func (r *runtime) close() {
	if r.notifier != nil {
		r.notifier.Stop()
	}
}

func buildProviders(cfg *config.Config) (map[string]kms.Provider, error) {
	providers := make(map[string]kms.Provider)
	for name, pc := range cfg.Definition.Providers {
		switch pc.Type {
		case "aws_kms":
			p, err := kms.NewAWSProvider(name, pc.Config)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers[name] = p
		case "fake":
			providers[name] = kms.NewMemoryProvider(name)
		}
	}
	return providers, nil
}

func buildLocker(cfg *config.Config) (locking.Locker, error) {
	if cfg.Definition.Locking.Backend == "postgres" {
		return locking.OpenPostgresLocker(cfg.Definition.Locking.PostgresDSN)
	}
	return locking.NewMemoryLocker(), nil
}

func buildNotifier(cfg *config.Config) *notifications.Manager {
	def := cfg.Definition
	manager := notifications.NewManager(def.Notifications.QueueSize, cfg.Logger, nil)
	manager.RegisterProvider(notifications.NewLogProvider(cfg.Logger))
	for _, hook := range def.Notifications.Webhooks {
		wc := notifications.WebhookConfig{
			Name:    hook.Name,
			URL:     hook.URL,
			Method:  hook.Method,
			Headers: hook.Headers,
			Events:  hook.Events,
			Timeout: time.Duration(hook.TimeoutSeconds) * time.Second,
		}
		if hook.Retry != nil {
			wc.Retry = &notifications.RetryConfig{
				MaxAttempts: hook.Retry.MaxAttempts,
				Backoff:     hook.Retry.Backoff,
				InitialWait: time.Duration(hook.Retry.InitialWaitMs) * time.Millisecond,
			}
		}
		manager.RegisterProvider(notifications.NewWebhookProvider(wc))
	}
	return manager
}

// writeJSONFile writes data as indented JSON to an open file.
func writeJSONFile(out *os.File, data interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputJSON prints data to stdout as indented JSON.
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputYAML prints data to stdout as YAML.
func outputYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func formatRecordStatus(status audit.Status) string {
	switch status {
	case audit.StatusSucceeded:
		return "✅ Succeeded"
	case audit.StatusFailed:
		return "❌ Failed"
	case audit.StatusPending:
		return "🟡 Pending"
	case audit.StatusRolledBack:
		return "↩️ Rolled Back"
	default:
		return string(status)
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
