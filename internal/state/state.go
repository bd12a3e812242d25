// Package state persists the in-memory stores to disk so CLI invocations
// and scheduler restarts share one view of policies, keys, and audit
// history.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/omniusstudio/pms-keyrotation/internal/audit"
	"github.com/omniusstudio/pms-keyrotation/internal/policy"
	"github.com/omniusstudio/pms-keyrotation/internal/registry"
	"github.com/omniusstudio/pms-keyrotation/internal/schedule"
)

// document is the on-disk shape of one state file.
type document struct {
	Policies []*policy.Policy           `json:"policies,omitempty"`
	Keys     []*registry.Key            `json:"keys,omitempty"`
	Retired  map[string][]*registry.Key `json:"retired,omitempty"`
	Records  []*audit.Record            `json:"audit_records,omitempty"`
}

// Store owns the three memory stores and their on-disk snapshot.
type Store struct {
	dir      string
	policies *policy.MemoryStore
	registry *registry.MemoryRegistry
	trail    *audit.MemoryTrail
}

// DefaultStateDir returns the state directory, honoring KEYROT_STATE_DIR
// for tests and XDG_DATA_HOME for regular installs.
func DefaultStateDir() string {
	if dir := os.Getenv("KEYROT_STATE_DIR"); dir != "" {
		return dir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "keyrot", "state")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "keyrot", "state")
	}
	return filepath.Join(os.TempDir(), "keyrot", "state")
}

// Open loads the state directory into fresh memory stores. A missing
// directory yields empty stores; it is created on first Save.
func Open(dir string, clock schedule.Clock) (*Store, error) {
	s := &Store{
		dir:      dir,
		policies: policy.NewMemoryStore(clock),
		registry: registry.NewMemoryRegistry(clock),
		trail:    audit.NewMemoryTrail(),
	}

	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path(), err)
	}
	s.policies.LoadSnapshot(doc.Policies)
	s.registry.LoadSnapshot(doc.Keys, doc.Retired)
	s.trail.LoadSnapshot(doc.Records)
	return s, nil
}

// Save writes the current store contents to disk. The write goes through a
// temp file and rename so a crash never leaves a half-written state file.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	keys, retired := s.registry.Snapshot()
	doc := document{
		Policies: s.policies.Snapshot(),
		Keys:     keys,
		Retired:  retired,
		Records:  s.trail.Snapshot(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, "keyrot.json")
}

// Policies returns the policy store backed by this state.
func (s *Store) Policies() *policy.MemoryStore {
	return s.policies
}

// Registry returns the key registry backed by this state.
func (s *Store) Registry() *registry.MemoryRegistry {
	return s.registry
}

// Trail returns the audit trail backed by this state.
func (s *Store) Trail() *audit.MemoryTrail {
	return s.trail
}
