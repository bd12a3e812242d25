package kms

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
)

// mockKMSClient implements KMSClientAPI with per-call hooks and records
// the inputs it saw.
type mockKMSClient struct {
	createKeyFn   func(*awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error)
	tagResourceFn func(*awskms.TagResourceInput) (*awskms.TagResourceOutput, error)
	scheduleFn    func(*awskms.ScheduleKeyDeletionInput) (*awskms.ScheduleKeyDeletionOutput, error)
	cancelFn      func(*awskms.CancelKeyDeletionInput) (*awskms.CancelKeyDeletionOutput, error)
	enableFn      func(*awskms.EnableKeyInput) (*awskms.EnableKeyOutput, error)
	describeFn    func(*awskms.DescribeKeyInput) (*awskms.DescribeKeyOutput, error)

	createInputs   []*awskms.CreateKeyInput
	scheduleInputs []*awskms.ScheduleKeyDeletionInput
	enableCalls    int
}

func (m *mockKMSClient) CreateKey(ctx context.Context, params *awskms.CreateKeyInput, optFns ...func(*awskms.Options)) (*awskms.CreateKeyOutput, error) {
	m.createInputs = append(m.createInputs, params)
	return m.createKeyFn(params)
}

func (m *mockKMSClient) TagResource(ctx context.Context, params *awskms.TagResourceInput, optFns ...func(*awskms.Options)) (*awskms.TagResourceOutput, error) {
	if m.tagResourceFn == nil {
		return &awskms.TagResourceOutput{}, nil
	}
	return m.tagResourceFn(params)
}

func (m *mockKMSClient) ScheduleKeyDeletion(ctx context.Context, params *awskms.ScheduleKeyDeletionInput, optFns ...func(*awskms.Options)) (*awskms.ScheduleKeyDeletionOutput, error) {
	m.scheduleInputs = append(m.scheduleInputs, params)
	if m.scheduleFn == nil {
		return &awskms.ScheduleKeyDeletionOutput{}, nil
	}
	return m.scheduleFn(params)
}

func (m *mockKMSClient) CancelKeyDeletion(ctx context.Context, params *awskms.CancelKeyDeletionInput, optFns ...func(*awskms.Options)) (*awskms.CancelKeyDeletionOutput, error) {
	if m.cancelFn == nil {
		return &awskms.CancelKeyDeletionOutput{}, nil
	}
	return m.cancelFn(params)
}

func (m *mockKMSClient) EnableKey(ctx context.Context, params *awskms.EnableKeyInput, optFns ...func(*awskms.Options)) (*awskms.EnableKeyOutput, error) {
	m.enableCalls++
	if m.enableFn == nil {
		return &awskms.EnableKeyOutput{}, nil
	}
	return m.enableFn(params)
}

func (m *mockKMSClient) DescribeKey(ctx context.Context, params *awskms.DescribeKeyInput, optFns ...func(*awskms.Options)) (*awskms.DescribeKeyOutput, error) {
	return m.describeFn(params)
}

func newTestProvider(t *testing.T, client KMSClientAPI) *AWSProvider {
	t.Helper()
	p, err := NewAWSProvider("aws-test", map[string]interface{}{"region": "us-east-1"}, WithKMSClient(client))
	require.NoError(t, err)
	return p
}

func TestAWSProvider_GenerateKeyTagsCorrelationID(t *testing.T) {
	t.Parallel()

	client := &mockKMSClient{
		createKeyFn: func(in *awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error) {
			return &awskms.CreateKeyOutput{
				KeyMetadata: &types.KeyMetadata{KeyId: strPtr("key-123")},
			}, nil
		},
	}
	p := newTestProvider(t, client)

	id, err := p.GenerateKey(context.Background(), GenerateRequest{
		KeyType:          "PHI_DATA",
		Region:           "us-east-1",
		IdempotencyToken: "corr-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "key-123", id)

	require.Len(t, client.createInputs, 1)
	tags := map[string]string{}
	for _, tag := range client.createInputs[0].Tags {
		tags[*tag.TagKey] = *tag.TagValue
	}
	assert.Equal(t, "PHI_DATA", tags["key_type"])
	assert.Equal(t, "corr-abc", tags["rotation_correlation_id"])
	assert.Equal(t, types.KeySpecSymmetricDefault, client.createInputs[0].KeySpec)
}

func TestAWSProvider_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{
			name:          "internal exception is transient",
			err:           &types.KMSInternalException{Message: strPtr("internal error")},
			wantTransient: true,
		},
		{
			name:          "dependency timeout is transient",
			err:           &types.DependencyTimeoutException{Message: strPtr("timed out")},
			wantTransient: true,
		},
		{
			name:          "limit exceeded is transient",
			err:           &types.LimitExceededException{Message: strPtr("limit")},
			wantTransient: true,
		},
		{
			name: "throttling code is transient",
			err: &smithy.GenericAPIError{
				Code: "ThrottlingException", Message: "slow down", Fault: smithy.FaultClient,
			},
			wantTransient: true,
		},
		{
			name: "access denied is permanent",
			err: &smithy.GenericAPIError{
				Code: "AccessDeniedException", Message: "no", Fault: smithy.FaultClient,
			},
			wantTransient: false,
		},
		{
			name:          "malformed policy is permanent",
			err:           &types.MalformedPolicyDocumentException{Message: strPtr("bad policy")},
			wantTransient: false,
		},
		{
			name:          "plain error is permanent",
			err:           errors.New("something odd"),
			wantTransient: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := &mockKMSClient{
				createKeyFn: func(*awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error) {
					return nil, fmt.Errorf("operation error KMS: CreateKey, %w", tt.err)
				},
			}
			p := newTestProvider(t, client)

			_, err := p.GenerateKey(context.Background(), GenerateRequest{KeyType: "PHI_DATA"})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, kerrors.IsRetryable(err))
		})
	}
}

func TestAWSProvider_ScheduleDeletionFloorsWindow(t *testing.T) {
	t.Parallel()

	client := &mockKMSClient{
		createKeyFn: func(*awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error) { return nil, nil },
	}
	p := newTestProvider(t, client)

	require.NoError(t, p.ScheduleDeletion(context.Background(), "key-123", 3))
	require.NoError(t, p.ScheduleDeletion(context.Background(), "key-123", 30))

	require.Len(t, client.scheduleInputs, 2)
	assert.Equal(t, int32(7), *client.scheduleInputs[0].PendingWindowInDays)
	assert.Equal(t, int32(30), *client.scheduleInputs[1].PendingWindowInDays)
}

func TestAWSProvider_CancelDeletionReenables(t *testing.T) {
	t.Parallel()

	t.Run("pending deletion cancelled then enabled", func(t *testing.T) {
		t.Parallel()

		client := &mockKMSClient{
			createKeyFn: func(*awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error) { return nil, nil },
		}
		p := newTestProvider(t, client)

		require.NoError(t, p.CancelDeletion(context.Background(), "key-123"))
		assert.Equal(t, 1, client.enableCalls)
	})

	t.Run("key not pending deletion still enabled", func(t *testing.T) {
		t.Parallel()

		client := &mockKMSClient{
			createKeyFn: func(*awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error) { return nil, nil },
			cancelFn: func(*awskms.CancelKeyDeletionInput) (*awskms.CancelKeyDeletionOutput, error) {
				return nil, &types.KMSInvalidStateException{Message: strPtr("not pending deletion")}
			},
		}
		p := newTestProvider(t, client)

		require.NoError(t, p.CancelDeletion(context.Background(), "key-123"))
		assert.Equal(t, 1, client.enableCalls)
	})
}

func TestAWSProvider_DescribeKey(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	t.Run("enabled key", func(t *testing.T) {
		t.Parallel()

		client := &mockKMSClient{
			createKeyFn: func(*awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error) { return nil, nil },
			describeFn: func(*awskms.DescribeKeyInput) (*awskms.DescribeKeyOutput, error) {
				return &awskms.DescribeKeyOutput{
					KeyMetadata: &types.KeyMetadata{
						KeyId:        strPtr("key-123"),
						KeyState:     types.KeyStateEnabled,
						CreationDate: &created,
					},
				}, nil
			},
		}
		p := newTestProvider(t, client)

		info, err := p.DescribeKey(context.Background(), "key-123")
		require.NoError(t, err)
		assert.True(t, info.Exists)
		assert.True(t, info.Enabled)
		assert.Equal(t, created, info.CreatedAt)
	})

	t.Run("missing key reports exists=false without error", func(t *testing.T) {
		t.Parallel()

		client := &mockKMSClient{
			createKeyFn: func(*awskms.CreateKeyInput) (*awskms.CreateKeyOutput, error) { return nil, nil },
			describeFn: func(*awskms.DescribeKeyInput) (*awskms.DescribeKeyOutput, error) {
				return nil, &types.NotFoundException{Message: strPtr("no such key")}
			},
		}
		p := newTestProvider(t, client)

		info, err := p.DescribeKey(context.Background(), "key-gone")
		require.NoError(t, err)
		assert.False(t, info.Exists)
	})
}

func strPtr(s string) *string {
	return &s
}
