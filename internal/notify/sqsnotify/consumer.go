package sqsnotify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"mailbridge/internal/notify"
)

type ReceiveAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer tails the notification queue, e.g. for a terminal that wants to
// see what the console reported.
type Consumer struct {
	SQS      ReceiveAPI
	QueueURL string

	WaitTimeSeconds int32
	MaxMessages     int32
}

type Handler func(ctx context.Context, n notify.Notification) error

// Poll long-polls until ctx ends. A message is deleted once handled; a
// handler error leaves it for redelivery. Undecodable messages are dropped.
func (c *Consumer) Poll(ctx context.Context, handler Handler) error {
	wait, batch := c.WaitTimeSeconds, c.MaxMessages
	if wait <= 0 {
		wait = 20
	}
	if batch <= 0 {
		batch = 10
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: batch,
			WaitTimeSeconds:     wait,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("notification receive failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		for _, m := range out.Messages {
			var n notify.Notification
			if m.Body == nil || json.Unmarshal([]byte(*m.Body), &n) != nil {
				slog.Warn("dropping undecodable notification", "message_id", aws.ToString(m.MessageId))
				c.delete(ctx, m.ReceiptHandle)
				continue
			}
			if err := handler(ctx, n); err != nil {
				slog.Error("notification handler failed", "err", err, "notification_id", n.ID)
				continue
			}
			c.delete(ctx, m.ReceiptHandle)
		}
	}
}

func (c *Consumer) delete(ctx context.Context, receipt *string) {
	if _, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: receipt,
	}); err != nil {
		slog.Warn("notification delete failed", "err", err)
	}
}
