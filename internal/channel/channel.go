// Package channel is the transport boundary: it receives and deletes
// messages on one remote queue.
package channel

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// maxDeleteBatch is the SQS limit on entries per DeleteMessageBatch call.
const maxDeleteBatch = 10

var errClosed = errors.New("channel is closed")

// Channel is a connection to one queue. Implementations must not retry
// internally; retry policy belongs to the caller.
type Channel interface {
	// Receive long-polls for up to maxMessages messages, waiting at most
	// waitTimeSeconds. Transport failures are returned as
	// *domain.TransportError; cancellation returns ctx.Err().
	Receive(ctx context.Context, maxMessages, waitTimeSeconds int) ([]domain.RawMessage, error)

	// Delete removes processed messages. It is best effort: failures are
	// logged and never returned.
	Delete(ctx context.Context, msgs []domain.RawMessage)

	Close() error
}

// SQSAPI is the subset of the SQS client used here. Tests substitute a mock.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
}

// SQSChannel implements Channel on top of an SQS client.
type SQSChannel struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger
	closed   atomic.Bool

	// onDeleteFailed is called with the number of messages that could not
	// be deleted. Optional.
	onDeleteFailed func(n int)
}

func NewSQSChannel(client SQSAPI, queueURL string, logger *zap.Logger, onDeleteFailed func(n int)) *SQSChannel {
	if onDeleteFailed == nil {
		onDeleteFailed = func(int) {}
	}
	return &SQSChannel{
		client:         client,
		queueURL:       queueURL,
		logger:         logger,
		onDeleteFailed: onDeleteFailed,
	}
}

func (c *SQSChannel) Receive(ctx context.Context, maxMessages, waitTimeSeconds int) ([]domain.RawMessage, error) {
	if c.closed.Load() {
		return nil, &domain.TransportError{Op: "receive", Err: errClosed}
	}

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitTimeSeconds),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("receive failed", zap.String("aws_error_code", errorCode(err)), zap.Error(err))
		return nil, &domain.TransportError{Op: "receive", Err: err}
	}

	msgs := make([]domain.RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, domain.RawMessage{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return msgs, nil
}

func (c *SQSChannel) Delete(ctx context.Context, msgs []domain.RawMessage) {
	for start := 0; start < len(msgs); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(msgs))
		c.deleteBatch(ctx, msgs[start:end])
	}
}

func (c *SQSChannel) deleteBatch(ctx context.Context, batch []domain.RawMessage) {
	entries := make([]types.DeleteMessageBatchRequestEntry, len(batch))
	for i, m := range batch {
		entries[i] = types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: aws.String(m.ReceiptHandle),
		}
	}

	out, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.queueURL),
		Entries:  entries,
	})
	if err != nil {
		c.logger.Error("delete batch failed",
			zap.Int("messages", len(batch)),
			zap.String("aws_error_code", errorCode(err)),
			zap.Error(err),
		)
		c.onDeleteFailed(len(batch))
		return
	}

	for _, f := range out.Failed {
		idx, convErr := strconv.Atoi(aws.ToString(f.Id))
		msgID := ""
		if convErr == nil && idx >= 0 && idx < len(batch) {
			msgID = batch[idx].ID
		}
		c.logger.Warn("message not deleted",
			zap.String("message_id", msgID),
			zap.String("code", aws.ToString(f.Code)),
			zap.String("reason", aws.ToString(f.Message)),
		)
	}
	if len(out.Failed) > 0 {
		c.onDeleteFailed(len(out.Failed))
	}
}

// Close marks the channel closed. The SDK client holds no resources that
// need releasing.
func (c *SQSChannel) Close() error {
	c.closed.Store(true)
	return nil
}

// ListQueueURLs returns every queue URL visible to client, following
// pagination.
func ListQueueURLs(ctx context.Context, client SQSAPI) ([]string, error) {
	var urls []string
	p := sqs.NewListQueuesPaginator(client, &sqs.ListQueuesInput{MaxResults: aws.Int32(1000)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, &domain.TransportError{Op: "list queues", Err: err}
		}
		urls = append(urls, page.QueueUrls...)
	}
	return urls, nil
}

// errorCode extracts the service error code (e.g. InvalidClientTokenId)
// when the SDK reports one.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

var _ Channel = (*SQSChannel)(nil)
