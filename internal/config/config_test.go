package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyrot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig_LoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	c := &Config{Path: writeConfig(t, "version: 0\n")}
	require.NoError(t, c.Load())

	def := c.Definition
	assert.True(t, def.Scheduler.Enabled())
	assert.Equal(t, DefaultCheckIntervalMinutes, def.Scheduler.CheckIntervalMinutes)
	assert.Equal(t, DefaultMaxConcurrency, def.Scheduler.MaxConcurrency)
	assert.Equal(t, DefaultPendingStaleMinutes, def.Scheduler.PendingStaleAfterMinutes)
	assert.Equal(t, DefaultRetryMaxAttempts, def.ProviderRetry.MaxAttempts)
	assert.Equal(t, DefaultRetryBackoffBaseMs, def.ProviderRetry.BackoffBaseMs)
	assert.Equal(t, "memory", def.Locking.Backend)
	assert.Equal(t, DefaultMetricsListenAddress, def.Metrics.ListenAddress)
}

func TestConfig_LoadFullFile(t *testing.T) {
	t.Parallel()

	c := &Config{Path: writeConfig(t, `
version: 0
scheduler:
  rotation_enabled: false
  rotation_check_interval_minutes: 10
  max_rotation_concurrency: 8
  pending_stale_after_minutes: 30
provider_retry:
  max_attempts: 5
  backoff_base_ms: 500
providers:
  aws-primary:
    type: aws_kms
    region: eu-west-1
  local:
    type: fake
locking:
  backend: postgres
  postgres_dsn: postgres://keyrot@db/locks?sslmode=disable
metrics:
  enabled: true
  listen_address: ":9100"
notifications:
  queue_size: 25
  webhooks:
    - name: security-feed
      url: https://hooks.example.com/rotations
      events: [rotation_failed, rollback_performed]
`)}
	require.NoError(t, c.Load())

	def := c.Definition
	assert.False(t, def.Scheduler.Enabled())
	assert.Equal(t, 10, def.Scheduler.CheckIntervalMinutes)
	assert.Equal(t, 8, def.Scheduler.MaxConcurrency)
	assert.Equal(t, 5, def.ProviderRetry.MaxAttempts)
	assert.Equal(t, "postgres", def.Locking.Backend)
	assert.True(t, def.Metrics.Enabled)
	assert.Equal(t, 25, def.Notifications.QueueSize)
	require.Len(t, def.Notifications.Webhooks, 1)
	assert.Equal(t, "security-feed", def.Notifications.Webhooks[0].Name)

	p, err := c.GetProvider("aws-primary")
	require.NoError(t, err)
	assert.Equal(t, "aws_kms", p.Type)
	assert.Equal(t, "eu-west-1", p.Config["region"])

	_, err = c.GetProvider("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Available providers")
}

func TestConfig_LoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "wrong version",
			content: "version: 2\n",
			wantErr: "unsupported configuration version",
		},
		{
			name:    "invalid yaml",
			content: "version: 0\nscheduler: [\n",
			wantErr: "invalid YAML syntax",
		},
		{
			name: "negative check interval",
			content: `
version: 0
scheduler:
  rotation_check_interval_minutes: -1
`,
			wantErr: "at least 1 minute",
		},
		{
			name: "postgres lock without dsn",
			content: `
version: 0
locking:
  backend: postgres
`,
			wantErr: "requires a connection string",
		},
		{
			name: "unknown lock backend",
			content: `
version: 0
locking:
  backend: zookeeper
`,
			wantErr: "unknown locking backend",
		},
		{
			name: "unknown provider type",
			content: `
version: 0
providers:
  weird:
    type: hashivault
`,
			wantErr: "unknown KMS provider type",
		},
		{
			name: "webhook without url",
			content: `
version: 0
notifications:
  webhooks:
    - name: nameless
`,
			wantErr: "webhook URL is required",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := &Config{Path: writeConfig(t, tt.content)}
			err := c.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_LoadMissingFile(t *testing.T) {
	t.Parallel()

	c := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}
