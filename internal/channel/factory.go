package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/config"
	"github.com/notifyhub/repo-trigger/internal/domain"
)

// CredentialResolver turns a credentials reference into SDK load options:
//
//	""              default credential chain (env, shared config, IMDS)
//	"static:<name>" key pair from the queue file's credentials section
//	anything else   shared config profile name
type CredentialResolver struct {
	mu     sync.RWMutex
	static map[string]config.StaticCredential
}

func NewCredentialResolver(static map[string]config.StaticCredential) *CredentialResolver {
	r := &CredentialResolver{}
	r.SetStatic(static)
	return r
}

// SetStatic replaces the static key pairs, e.g. after the queue file was
// reloaded.
func (r *CredentialResolver) SetStatic(static map[string]config.StaticCredential) {
	cp := make(map[string]config.StaticCredential, len(static))
	for k, v := range static {
		cp[k] = v
	}
	r.mu.Lock()
	r.static = cp
	r.mu.Unlock()
}

// LoadOptions returns the SDK options selecting the credentials for ref.
// An unknown static reference is a configuration error.
func (r *CredentialResolver) LoadOptions(ref string) ([]func(*awsconfig.LoadOptions) error, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, nil
	case strings.HasPrefix(ref, config.StaticCredentialPrefix):
		name := strings.TrimPrefix(ref, config.StaticCredentialPrefix)
		r.mu.RLock()
		cred, ok := r.static[name]
		r.mu.RUnlock()
		if !ok || cred.AccessKeyID == "" || cred.SecretAccessKey == "" {
			return nil, fmt.Errorf("%w: unknown static credentials %q", domain.ErrInvalidConfig, name)
		}
		provider := credentials.NewStaticCredentialsProvider(cred.AccessKeyID, cred.SecretAccessKey, "")
		return []func(*awsconfig.LoadOptions) error{awsconfig.WithCredentialsProvider(provider)}, nil
	default:
		return []func(*awsconfig.LoadOptions) error{awsconfig.WithSharedConfigProfile(ref)}, nil
	}
}

// Factory builds SQS-backed channels.
type Factory struct {
	resolver *CredentialResolver
	// endpoint overrides the SQS endpoint (LocalStack, ElasticMQ). Empty
	// means the regional AWS endpoint.
	endpoint       string
	logger         *zap.Logger
	onDeleteFailed func(queueID string, n int)
}

func NewFactory(resolver *CredentialResolver, endpoint string, logger *zap.Logger, onDeleteFailed func(queueID string, n int)) *Factory {
	if onDeleteFailed == nil {
		onDeleteFailed = func(string, int) {}
	}
	return &Factory{
		resolver:       resolver,
		endpoint:       endpoint,
		logger:         logger,
		onDeleteFailed: onDeleteFailed,
	}
}

// NewChannel resolves the queue's credentials and region and returns a
// channel for it. Failures wrap domain.ErrInvalidConfig.
func (f *Factory) NewChannel(ctx context.Context, cfg config.QueueConfig) (Channel, error) {
	client, err := f.client(ctx, cfg.Region, cfg.CredentialsRef)
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", cfg.ID, err)
	}
	queueID := cfg.ID
	return NewSQSChannel(client, cfg.URL, f.logger.With(zap.String("queue_id", queueID)),
		func(n int) { f.onDeleteFailed(queueID, n) }), nil
}

// ListQueues lists the queue URLs visible with the given credentials in
// region.
func (f *Factory) ListQueues(ctx context.Context, region, credentialsRef string) ([]string, error) {
	if strings.TrimSpace(region) == "" {
		return nil, fmt.Errorf("%w: region is required", domain.ErrInvalidConfig)
	}
	client, err := f.client(ctx, region, credentialsRef)
	if err != nil {
		return nil, err
	}
	return ListQueueURLs(ctx, client)
}

func (f *Factory) client(ctx context.Context, region, credentialsRef string) (*sqs.Client, error) {
	opts, err := f.resolver.LoadOptions(credentialsRef)
	if err != nil {
		return nil, err
	}
	opts = append(opts, awsconfig.WithRegion(region))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", domain.ErrInvalidConfig, err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
	}), nil
}
