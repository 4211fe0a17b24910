package channel_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/channel"
	"github.com/notifyhub/repo-trigger/internal/config"
	"github.com/notifyhub/repo-trigger/internal/domain"
)

const queueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/codecommit-events"

type MockSQSClient struct {
	mock.Mock
}

func (m *MockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockSQSClient) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageBatchOutput), args.Error(1)
}

func (m *MockSQSClient) ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ListQueuesOutput), args.Error(1)
}

func messages(n int) []domain.RawMessage {
	out := make([]domain.RawMessage, n)
	for i := range out {
		out[i] = domain.RawMessage{ID: fmt.Sprintf("m%d", i), ReceiptHandle: fmt.Sprintf("rh%d", i)}
	}
	return out
}

func TestSQSChannel_Receive(t *testing.T) {
	client := new(MockSQSClient)
	client.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == queueURL && in.MaxNumberOfMessages == 5 && in.WaitTimeSeconds == 20
	})).Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{
		{MessageId: aws.String("id-1"), ReceiptHandle: aws.String("rh-1"), Body: aws.String("body-1")},
		{MessageId: aws.String("id-2"), ReceiptHandle: aws.String("rh-2"), Body: aws.String("body-2")},
	}}, nil)

	ch := channel.NewSQSChannel(client, queueURL, zap.NewNop(), nil)
	got, err := ch.Receive(context.Background(), 5, 20)

	assert.NoError(t, err)
	assert.Equal(t, []domain.RawMessage{
		{ID: "id-1", ReceiptHandle: "rh-1", Body: "body-1"},
		{ID: "id-2", ReceiptHandle: "rh-2", Body: "body-2"},
	}, got)
	client.AssertExpectations(t)
}

func TestSQSChannel_ReceiveTransportError(t *testing.T) {
	client := new(MockSQSClient)
	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	ch := channel.NewSQSChannel(client, queueURL, zap.NewNop(), nil)
	_, err := ch.Receive(context.Background(), 10, 0)

	assert.ErrorIs(t, err, domain.ErrTransport)
	var te *domain.TransportError
	if assert.ErrorAs(t, err, &te) {
		assert.Equal(t, "receive", te.Op)
	}
}

func TestSQSChannel_ReceiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := new(MockSQSClient)
	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(nil, errors.New("operation error SQS: ReceiveMessage, canceled"))

	ch := channel.NewSQSChannel(client, queueURL, zap.NewNop(), nil)
	_, err := ch.Receive(ctx, 10, 20)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrTransport)
}

func TestSQSChannel_ReceiveAfterClose(t *testing.T) {
	client := new(MockSQSClient)
	ch := channel.NewSQSChannel(client, queueURL, zap.NewNop(), nil)
	assert.NoError(t, ch.Close())

	_, err := ch.Receive(context.Background(), 10, 20)
	assert.ErrorIs(t, err, domain.ErrTransport)
	client.AssertNotCalled(t, "ReceiveMessage", mock.Anything, mock.Anything)
}

func TestSQSChannel_DeleteBatchesOfTen(t *testing.T) {
	client := new(MockSQSClient)
	var sizes []int
	client.On("DeleteMessageBatch", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageBatchInput) bool {
		return len(in.Entries) <= 10
	})).Run(func(args mock.Arguments) {
		sizes = append(sizes, len(args.Get(1).(*sqs.DeleteMessageBatchInput).Entries))
	}).Return(&sqs.DeleteMessageBatchOutput{}, nil)

	ch := channel.NewSQSChannel(client, queueURL, zap.NewNop(), nil)
	ch.Delete(context.Background(), messages(23))

	assert.Equal(t, []int{10, 10, 3}, sizes)
	client.AssertNumberOfCalls(t, "DeleteMessageBatch", 3)
}

func TestSQSChannel_DeleteFailuresAreNotReturned(t *testing.T) {
	t.Run("whole call fails", func(t *testing.T) {
		client := new(MockSQSClient)
		client.On("DeleteMessageBatch", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

		failed := 0
		ch := channel.NewSQSChannel(client, queueURL, zap.NewNop(), func(n int) { failed += n })
		ch.Delete(context.Background(), messages(12))

		assert.Equal(t, 12, failed)
		client.AssertNumberOfCalls(t, "DeleteMessageBatch", 2)
	})

	t.Run("single entry fails", func(t *testing.T) {
		client := new(MockSQSClient)
		client.On("DeleteMessageBatch", mock.Anything, mock.Anything).Return(&sqs.DeleteMessageBatchOutput{
			Failed: []types.BatchResultErrorEntry{
				{Id: aws.String("1"), Code: aws.String("ReceiptHandleIsInvalid"), Message: aws.String("expired")},
			},
		}, nil)

		failed := 0
		ch := channel.NewSQSChannel(client, queueURL, zap.NewNop(), func(n int) { failed += n })
		ch.Delete(context.Background(), messages(3))

		assert.Equal(t, 1, failed)
	})
}

func TestListQueueURLs_FollowsPagination(t *testing.T) {
	client := new(MockSQSClient)
	client.On("ListQueues", mock.Anything, mock.MatchedBy(func(in *sqs.ListQueuesInput) bool {
		return in.NextToken == nil
	})).Return(&sqs.ListQueuesOutput{
		QueueUrls: []string{"https://sqs.us-east-1.amazonaws.com/1/a"},
		NextToken: aws.String("page-2"),
	}, nil).Once()
	client.On("ListQueues", mock.Anything, mock.MatchedBy(func(in *sqs.ListQueuesInput) bool {
		return aws.ToString(in.NextToken) == "page-2"
	})).Return(&sqs.ListQueuesOutput{
		QueueUrls: []string{"https://sqs.us-east-1.amazonaws.com/1/b"},
	}, nil).Once()

	urls, err := channel.ListQueueURLs(context.Background(), client)

	assert.NoError(t, err)
	assert.Equal(t, []string{
		"https://sqs.us-east-1.amazonaws.com/1/a",
		"https://sqs.us-east-1.amazonaws.com/1/b",
	}, urls)
}

func TestListQueueURLs_Error(t *testing.T) {
	client := new(MockSQSClient)
	client.On("ListQueues", mock.Anything, mock.Anything).Return(nil, errors.New("InvalidClientTokenId"))

	_, err := channel.ListQueueURLs(context.Background(), client)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func applyOptions(t *testing.T, opts []func(*awsconfig.LoadOptions) error) awsconfig.LoadOptions {
	t.Helper()
	var lo awsconfig.LoadOptions
	for _, opt := range opts {
		if err := opt(&lo); err != nil {
			t.Fatalf("apply option: %v", err)
		}
	}
	return lo
}

func TestCredentialResolver(t *testing.T) {
	r := channel.NewCredentialResolver(map[string]config.StaticCredential{
		"ci-keys": {AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret"},
	})

	t.Run("empty reference uses default chain", func(t *testing.T) {
		opts, err := r.LoadOptions("")
		assert.NoError(t, err)
		assert.Empty(t, opts)
	})

	t.Run("profile reference", func(t *testing.T) {
		opts, err := r.LoadOptions("ci-profile")
		assert.NoError(t, err)
		lo := applyOptions(t, opts)
		assert.Equal(t, "ci-profile", lo.SharedConfigProfile)
		assert.Nil(t, lo.Credentials)
	})

	t.Run("static reference", func(t *testing.T) {
		opts, err := r.LoadOptions("static:ci-keys")
		assert.NoError(t, err)
		lo := applyOptions(t, opts)
		if assert.NotNil(t, lo.Credentials) {
			creds, err := lo.Credentials.Retrieve(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)
			assert.Equal(t, "secret", creds.SecretAccessKey)
		}
	})

	t.Run("unknown static reference", func(t *testing.T) {
		_, err := r.LoadOptions("static:missing")
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})

	t.Run("reload replaces static keys", func(t *testing.T) {
		r.SetStatic(nil)
		_, err := r.LoadOptions("static:ci-keys")
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})
}

func TestFactory_ListQueuesRequiresRegion(t *testing.T) {
	f := channel.NewFactory(channel.NewCredentialResolver(nil), "", zap.NewNop(), nil)
	_, err := f.ListQueues(context.Background(), " ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
