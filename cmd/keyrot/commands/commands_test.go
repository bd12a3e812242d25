package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniusstudio/pms-keyrotation/internal/audit"
	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
)

const testConfigYAML = `version: 0
scheduler:
  rotation_check_interval_minutes: 5
  max_rotation_concurrency: 2
providers:
  dev-kms:
    type: fake
locking:
  backend: memory
`

const testPolicyJSON = `[
  {
    "name": "phi-daily",
    "key_type": "PHI_DATA",
    "kms_provider": "dev-kms",
    "trigger": {
      "type": "time_based",
      "time_based": {"interval_days": 1, "time_of_day": "02:00", "timezone": "UTC"}
    },
    "rollback": {"enabled": true, "window_hours": 24},
    "retain_old_keys_days": 30
  }
]`

// testSetup writes a config file and an isolated state dir and returns a
// loaded config plus the state dir flag value.
func testSetup(t *testing.T) (*config.Config, *string) {
	t.Helper()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "keyrot.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(testConfigYAML), 0644))

	cfg := &config.Config{
		Path:   configPath,
		Logger: logging.New(false, true),
	}
	stateDir := filepath.Join(tempDir, "state")
	return cfg, &stateDir
}

func captureOutput(t *testing.T, cmd *cobra.Command, args []string) string {
	t.Helper()

	// Capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	// Set args and execute
	if args != nil {
		cmd.SetArgs(args)
	}

	err := cmd.Execute()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	if err != nil {
		t.Logf("Command output before error: %s", buf.String())
		require.NoError(t, err)
	}
	return buf.String()
}

var idPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestPolicyImportAndList(t *testing.T) {
	cfg, stateDir := testSetup(t)

	policyPath := filepath.Join(filepath.Dir(cfg.Path), "policies.json")
	require.NoError(t, os.WriteFile(policyPath, []byte(testPolicyJSON), 0644))

	out := captureOutput(t, NewPolicyCommand(cfg, stateDir),
		[]string{"import", "--tenant", "acme", policyPath})
	assert.Contains(t, out, "Created policy")
	assert.Contains(t, out, "phi-daily")

	out = captureOutput(t, NewPolicyCommand(cfg, stateDir),
		[]string{"list", "--tenant", "acme"})
	assert.Contains(t, out, "phi-daily")
	assert.Contains(t, out, "time_based")
	assert.Contains(t, out, "active")
}

func TestPolicyImportRejectsInvalidDocument(t *testing.T) {
	cfg, stateDir := testSetup(t)

	policyPath := filepath.Join(filepath.Dir(cfg.Path), "bad.json")
	require.NoError(t, os.WriteFile(policyPath, []byte(`[{"name": "x"}]`), 0644))

	cmd := NewPolicyCommand(cfg, stateDir)
	cmd.SetArgs([]string{"import", "--tenant", "acme", policyPath})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	require.Error(t, cmd.Execute())
}

func TestRotateAndRollbackFlow(t *testing.T) {
	cfg, stateDir := testSetup(t)

	policyPath := filepath.Join(filepath.Dir(cfg.Path), "policies.json")
	require.NoError(t, os.WriteFile(policyPath, []byte(testPolicyJSON), 0644))

	out := captureOutput(t, NewPolicyCommand(cfg, stateDir),
		[]string{"import", "--tenant", "acme", policyPath})
	policyID := idPattern.FindString(out)
	require.NotEmpty(t, policyID)

	out = captureOutput(t, NewKeysCommand(cfg, stateDir), []string{
		"register", "--tenant", "acme", "--name", "patient-records",
		"--type", "PHI_DATA", "--provider", "dev-kms",
		"--kms-key-id", "dev-seed-key", "--region", "us-east-1",
	})
	keyID := idPattern.FindString(out)
	require.NotEmpty(t, keyID)

	captureOutput(t, NewKeysCommand(cfg, stateDir),
		[]string{"bind", "--tenant", "acme", keyID, policyID})

	out = captureOutput(t, NewRotateCommand(cfg, stateDir),
		[]string{"--tenant", "acme", keyID})
	assert.Contains(t, out, "Rotated key "+keyID)

	// The new identifier is visible across invocations: state persisted.
	out = captureOutput(t, NewKeysCommand(cfg, stateDir),
		[]string{"list", "--tenant", "acme", "--format", "json"})
	assert.Contains(t, out, "dev-kms-000001")

	out = captureOutput(t, NewAuditCommand(cfg, stateDir),
		[]string{"list", "--tenant", "acme", "--status", "succeeded", "--format", "json"})
	var records []*audit.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, keyID, records[0].KeyID)

	out = captureOutput(t, NewRollbackCommand(cfg, stateDir),
		[]string{"--tenant", "acme", records[0].ID})
	assert.Contains(t, out, "Rolled back key "+keyID)

	// The registry points back at the original identifier.
	out = captureOutput(t, NewKeysCommand(cfg, stateDir),
		[]string{"list", "--tenant", "acme", "--format", "json"})
	assert.Contains(t, out, "dev-seed-key")
}

func TestAuditExport(t *testing.T) {
	cfg, stateDir := testSetup(t)

	exportPath := filepath.Join(filepath.Dir(cfg.Path), "export.json")
	out := captureOutput(t, NewAuditCommand(cfg, stateDir),
		[]string{"export", "--tenant", "acme", exportPath})
	assert.Contains(t, out, "Exported 0 record(s)")

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "acme", doc["tenant_id"])
}

func TestKeysBindRequiresExistingPolicy(t *testing.T) {
	cfg, stateDir := testSetup(t)

	out := captureOutput(t, NewKeysCommand(cfg, stateDir), []string{
		"register", "--tenant", "acme", "--name", "records",
		"--type", "PHI_DATA", "--provider", "dev-kms",
		"--kms-key-id", "dev-seed-key", "--region", "us-east-1",
	})
	keyID := idPattern.FindString(out)
	require.NotEmpty(t, keyID)

	cmd := NewKeysCommand(cfg, stateDir)
	cmd.SetArgs([]string{"bind", "--tenant", "acme", keyID, "no-such-policy"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	require.Error(t, cmd.Execute())
}
