package kms

import (
	"context"
	"fmt"
	"sync"
	"time"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
)

// MemoryProvider is an in-process Provider for development and staging
// setups that have no real KMS behind them. Key identifiers are sequential
// and key material never exists.
type MemoryProvider struct {
	name string

	mu   sync.Mutex
	seq  int
	keys map[string]*memoryKey
}

type memoryKey struct {
	enabled         bool
	pendingDeletion bool
	createdAt       time.Time
	tags            map[string]string
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider(name string) *MemoryProvider {
	return &MemoryProvider{
		name: name,
		keys: make(map[string]*memoryKey),
	}
}

func (p *MemoryProvider) Name() string {
	return p.name
}

func (p *MemoryProvider) GenerateKey(ctx context.Context, req GenerateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("%s-%06d", p.name, p.seq)
	tags := map[string]string{"key_type": req.KeyType}
	if req.IdempotencyToken != "" {
		tags["rotation_correlation_id"] = req.IdempotencyToken
	}
	for k, v := range req.Tags {
		tags[k] = v
	}
	p.keys[id] = &memoryKey{enabled: true, createdAt: time.Now().UTC(), tags: tags}
	return id, nil
}

func (p *MemoryProvider) TagKey(ctx context.Context, providerKeyID string, tags map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.keys[providerKeyID]
	if !ok {
		return kerrors.PermanentKMS("TagKey", fmt.Errorf("unknown key %s", providerKeyID))
	}
	for k, v := range tags {
		key.tags[k] = v
	}
	return nil
}

func (p *MemoryProvider) ScheduleDeletion(ctx context.Context, providerKeyID string, afterDays int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.keys[providerKeyID]
	if !ok {
		return kerrors.PermanentKMS("ScheduleDeletion", fmt.Errorf("unknown key %s", providerKeyID))
	}
	key.pendingDeletion = true
	key.enabled = false
	return nil
}

func (p *MemoryProvider) CancelDeletion(ctx context.Context, providerKeyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.keys[providerKeyID]
	if !ok {
		return kerrors.PermanentKMS("CancelDeletion", fmt.Errorf("unknown key %s", providerKeyID))
	}
	key.pendingDeletion = false
	key.enabled = true
	return nil
}

func (p *MemoryProvider) DescribeKey(ctx context.Context, providerKeyID string) (KeyInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.keys[providerKeyID]
	if !ok {
		return KeyInfo{Exists: false}, nil
	}
	return KeyInfo{Exists: true, Enabled: key.enabled, CreatedAt: key.createdAt}, nil
}
