package kms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"

	kerrors "github.com/omniusstudio/pms-keyrotation/internal/errors"
)

// KMSClientAPI defines the interface for AWS KMS operations.
// This allows for mocking in tests.
type KMSClientAPI interface {
	CreateKey(ctx context.Context, params *awskms.CreateKeyInput, optFns ...func(*awskms.Options)) (*awskms.CreateKeyOutput, error)
	TagResource(ctx context.Context, params *awskms.TagResourceInput, optFns ...func(*awskms.Options)) (*awskms.TagResourceOutput, error)
	ScheduleKeyDeletion(ctx context.Context, params *awskms.ScheduleKeyDeletionInput, optFns ...func(*awskms.Options)) (*awskms.ScheduleKeyDeletionOutput, error)
	CancelKeyDeletion(ctx context.Context, params *awskms.CancelKeyDeletionInput, optFns ...func(*awskms.Options)) (*awskms.CancelKeyDeletionOutput, error)
	EnableKey(ctx context.Context, params *awskms.EnableKeyInput, optFns ...func(*awskms.Options)) (*awskms.EnableKeyOutput, error)
	DescribeKey(ctx context.Context, params *awskms.DescribeKeyInput, optFns ...func(*awskms.Options)) (*awskms.DescribeKeyOutput, error)
}

// AWSProvider implements Provider against AWS KMS.
type AWSProvider struct {
	name     string
	client   KMSClientAPI
	region   string
	endpoint string // Optional custom endpoint for LocalStack or testing
}

// AWSOption is a functional option for configuring the AWS provider.
type AWSOption func(*AWSProvider)

// WithKMSClient sets a custom KMS client (for testing).
func WithKMSClient(client KMSClientAPI) AWSOption {
	return func(p *AWSProvider) {
		p.client = client
	}
}

// NewAWSProvider creates an AWS KMS provider from the provider section of
// the configuration file.
func NewAWSProvider(name string, providerConfig map[string]interface{}, opts ...AWSOption) (*AWSProvider, error) {
	region := "us-east-1"
	if r, ok := providerConfig["region"].(string); ok && r != "" {
		region = r
	}

	var endpoint string
	if e, ok := providerConfig["endpoint"].(string); ok && e != "" {
		endpoint = e
	}

	var accessKeyID, secretAccessKey string
	if ak, ok := providerConfig["access_key_id"].(string); ok && ak != "" {
		accessKeyID = ak
	}
	if sk, ok := providerConfig["secret_access_key"].(string); ok && sk != "" {
		secretAccessKey = sk
	}

	p := &AWSProvider{
		name:     name,
		region:   region,
		endpoint: endpoint,
	}

	for _, opt := range opts {
		opt(p)
	}

	// If no client was provided via options, create the real one.
	if p.client == nil {
		var configOpts []func(*config.LoadOptions) error
		configOpts = append(configOpts, config.WithRegion(region))

		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*awskms.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *awskms.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		p.client = awskms.NewFromConfig(cfg, clientOpts...)
	}

	return p, nil
}

func (p *AWSProvider) Name() string {
	return p.name
}

// GenerateKey mints a symmetric key. AWS CreateKey has no idempotency
// token, so the correlation id is attached as a tag instead.
func (p *AWSProvider) GenerateKey(ctx context.Context, req GenerateRequest) (string, error) {
	tags := []types.Tag{
		{TagKey: aws.String("key_type"), TagValue: aws.String(req.KeyType)},
	}
	if req.IdempotencyToken != "" {
		tags = append(tags, types.Tag{
			TagKey:   aws.String("rotation_correlation_id"),
			TagValue: aws.String(req.IdempotencyToken),
		})
	}
	for k, v := range req.Tags {
		tags = append(tags, types.Tag{TagKey: aws.String(k), TagValue: aws.String(v)})
	}

	input := &awskms.CreateKeyInput{
		Description: aws.String(fmt.Sprintf("rotation-managed key (%s)", req.KeyType)),
		KeySpec:     types.KeySpecSymmetricDefault,
		KeyUsage:    types.KeyUsageTypeEncryptDecrypt,
		Tags:        tags,
	}

	result, err := p.client.CreateKey(ctx, input)
	if err != nil {
		return "", p.classify("GenerateKey", err)
	}
	if result.KeyMetadata == nil || result.KeyMetadata.KeyId == nil {
		return "", kerrors.PermanentKMS("GenerateKey", fmt.Errorf("response carried no key id"))
	}
	return *result.KeyMetadata.KeyId, nil
}

func (p *AWSProvider) TagKey(ctx context.Context, providerKeyID string, tags map[string]string) error {
	awsTags := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		awsTags = append(awsTags, types.Tag{TagKey: aws.String(k), TagValue: aws.String(v)})
	}

	_, err := p.client.TagResource(ctx, &awskms.TagResourceInput{
		KeyId: &providerKeyID,
		Tags:  awsTags,
	})
	if err != nil {
		return p.classify("TagKey", err)
	}
	return nil
}

func (p *AWSProvider) ScheduleDeletion(ctx context.Context, providerKeyID string, afterDays int32) error {
	// AWS enforces a 7-day minimum pending window.
	if afterDays < 7 {
		afterDays = 7
	}

	_, err := p.client.ScheduleKeyDeletion(ctx, &awskms.ScheduleKeyDeletionInput{
		KeyId:               &providerKeyID,
		PendingWindowInDays: &afterDays,
	})
	if err != nil {
		return p.classify("ScheduleDeletion", err)
	}
	return nil
}

func (p *AWSProvider) CancelDeletion(ctx context.Context, providerKeyID string) error {
	_, err := p.client.CancelKeyDeletion(ctx, &awskms.CancelKeyDeletionInput{
		KeyId: &providerKeyID,
	})
	if err != nil {
		// A key that was never pending deletion is already where we want it.
		var invalidState *types.KMSInvalidStateException
		if !errors.As(err, &invalidState) {
			return p.classify("CancelDeletion", err)
		}
	}

	// Cancelling leaves the key disabled.
	if _, err := p.client.EnableKey(ctx, &awskms.EnableKeyInput{KeyId: &providerKeyID}); err != nil {
		return p.classify("CancelDeletion", err)
	}
	return nil
}

func (p *AWSProvider) DescribeKey(ctx context.Context, providerKeyID string) (KeyInfo, error) {
	result, err := p.client.DescribeKey(ctx, &awskms.DescribeKeyInput{KeyId: &providerKeyID})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return KeyInfo{Exists: false}, nil
		}
		return KeyInfo{}, p.classify("DescribeKey", err)
	}

	info := KeyInfo{Exists: true}
	if md := result.KeyMetadata; md != nil {
		info.Enabled = md.KeyState == types.KeyStateEnabled
		if md.CreationDate != nil {
			info.CreatedAt = *md.CreationDate
		}
	}
	return info, nil
}

// classify buckets AWS failures into the transient/permanent taxonomy so
// the executor knows whether retrying in-place is worth anything.
func (p *AWSProvider) classify(op string, err error) error {
	var (
		internal   *types.KMSInternalException
		depTimeout *types.DependencyTimeoutException
		limit      *types.LimitExceededException
	)
	if errors.As(err, &internal) || errors.As(err, &depTimeout) || errors.As(err, &limit) {
		return kerrors.TransientKMS(op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestTimeout", "ServiceUnavailable", "InternalFailure":
			return kerrors.TransientKMS(op, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return kerrors.TransientKMS(op, err)
		}
		return kerrors.PermanentKMS(op, err)
	}

	// Plain transport failures (connection reset, DNS) are worth a retry.
	if isTimeoutError(err) {
		return kerrors.TransientKMS(op, err)
	}
	return kerrors.PermanentKMS(op, err)
}

func isTimeoutError(err error) bool {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}

