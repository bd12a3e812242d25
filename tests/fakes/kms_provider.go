package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/omniusstudio/pms-keyrotation/internal/kms"
)

// KMSProvider is an in-memory kms.Provider that mints sequential key
// identifiers and records every call.
type KMSProvider struct {
	name string

	mu      sync.Mutex
	nextSeq int
	keys    map[string]*fakeKey

	// GenerateCalls records every GenerateKey request in order.
	GenerateCalls []kms.GenerateRequest
	// TagCalls records every TagKey invocation as providerKeyID -> tags.
	TagCalls []TagCall
	// ScheduleDeletionCalls records providerKeyID and the window in days.
	ScheduleDeletionCalls []ScheduleDeletionCall
	// CancelDeletionCalls records the providerKeyIDs in order.
	CancelDeletionCalls []string

	generateErr       error
	generateErrBudget int
	tagErr            error
	scheduleErr       error
	cancelErr         error
	describeErr       error
}

// TagCall is one recorded TagKey invocation.
type TagCall struct {
	ProviderKeyID string
	Tags          map[string]string
}

// ScheduleDeletionCall is one recorded ScheduleDeletion invocation.
type ScheduleDeletionCall struct {
	ProviderKeyID string
	AfterDays     int32
}

type fakeKey struct {
	enabled         bool
	pendingDeletion bool
	createdAt       time.Time
}

// NewKMSProvider creates an empty fake provider.
func NewKMSProvider(name string) *KMSProvider {
	return &KMSProvider{
		name: name,
		keys: make(map[string]*fakeKey),
	}
}

// FailGenerateWith makes the next n GenerateKey calls return err. With
// n <= 0 every call fails until the error is cleared.
func (p *KMSProvider) FailGenerateWith(err error, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateErr = err
	p.generateErrBudget = n
}

// FailTagWith makes TagKey return err on every call.
func (p *KMSProvider) FailTagWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tagErr = err
}

// FailScheduleDeletionWith makes ScheduleDeletion return err on every call.
func (p *KMSProvider) FailScheduleDeletionWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scheduleErr = err
}

// FailCancelDeletionWith makes CancelDeletion return err on every call.
func (p *KMSProvider) FailCancelDeletionWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelErr = err
}

// FailDescribeWith makes DescribeKey return err on every call.
func (p *KMSProvider) FailDescribeWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.describeErr = err
}

// Seed registers an existing key identifier so DescribeKey and deletion
// calls against it succeed.
func (p *KMSProvider) Seed(providerKeyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[providerKeyID] = &fakeKey{enabled: true, createdAt: time.Now().UTC()}
}

func (p *KMSProvider) Name() string {
	return p.name
}

func (p *KMSProvider) GenerateKey(ctx context.Context, req kms.GenerateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.GenerateCalls = append(p.GenerateCalls, req)
	if p.generateErr != nil {
		err := p.generateErr
		if p.generateErrBudget > 0 {
			p.generateErrBudget--
			if p.generateErrBudget == 0 {
				p.generateErr = nil
			}
		}
		return "", err
	}

	p.nextSeq++
	id := fmt.Sprintf("%s-key-%04d", p.name, p.nextSeq)
	p.keys[id] = &fakeKey{enabled: true, createdAt: time.Now().UTC()}
	return id, nil
}

func (p *KMSProvider) TagKey(ctx context.Context, providerKeyID string, tags map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	p.TagCalls = append(p.TagCalls, TagCall{ProviderKeyID: providerKeyID, Tags: copied})
	return p.tagErr
}

func (p *KMSProvider) ScheduleDeletion(ctx context.Context, providerKeyID string, afterDays int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ScheduleDeletionCalls = append(p.ScheduleDeletionCalls, ScheduleDeletionCall{
		ProviderKeyID: providerKeyID,
		AfterDays:     afterDays,
	})
	if p.scheduleErr != nil {
		return p.scheduleErr
	}
	if key, ok := p.keys[providerKeyID]; ok {
		key.pendingDeletion = true
		key.enabled = false
	}
	return nil
}

func (p *KMSProvider) CancelDeletion(ctx context.Context, providerKeyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CancelDeletionCalls = append(p.CancelDeletionCalls, providerKeyID)
	if p.cancelErr != nil {
		return p.cancelErr
	}
	if key, ok := p.keys[providerKeyID]; ok {
		key.pendingDeletion = false
		key.enabled = true
	}
	return nil
}

func (p *KMSProvider) DescribeKey(ctx context.Context, providerKeyID string) (kms.KeyInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.describeErr != nil {
		return kms.KeyInfo{}, p.describeErr
	}
	key, ok := p.keys[providerKeyID]
	if !ok {
		return kms.KeyInfo{Exists: false}, nil
	}
	return kms.KeyInfo{Exists: true, Enabled: key.enabled, CreatedAt: key.createdAt}, nil
}

// GenerateCount returns how many GenerateKey calls were made.
func (p *KMSProvider) GenerateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}
