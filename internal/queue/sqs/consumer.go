package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type ConsumerAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// TickTrigger asks the worker to run one scheduler tick. An empty body
// ("{}") is a valid trigger, which lets EventBridge or a cron job drive it.
type TickTrigger struct {
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requestedAt,omitempty"`
}

type Consumer struct {
	SQS      ConsumerAPI
	QueueURL string
	Logger   *slog.Logger

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type Handler func(ctx context.Context, trigger TickTrigger) error

// Poll receives triggers until ctx is cancelled. Triggers are handled one at
// a time; ticks must not overlap within a process. A message is deleted only
// after its handler succeeds, so failed ticks are redriven by SQS.
func (c *Consumer) Poll(ctx context.Context, handler Handler) error {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: c.MaxMessages,
			WaitTimeSeconds:     c.WaitTimeSeconds,
			VisibilityTimeout:   c.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("sqs receive message failed", "err", err)
			sleepCtx(ctx, 500*time.Millisecond)
			continue
		}
		for _, m := range out.Messages {
			var trigger TickTrigger
			if m.Body == nil || json.Unmarshal([]byte(*m.Body), &trigger) != nil {
				// bad payload => delete to avoid endless redrive
				log.Warn("sqs dropping malformed tick trigger", "message_id", deref(m.MessageId))
				c.delete(ctx, m.ReceiptHandle)
				continue
			}

			if err := handler(ctx, trigger); err != nil {
				// do NOT delete => SQS redrive/DLQ handles it
				log.Error("sqs tick handler error", "err", err, "message_id", deref(m.MessageId))
				continue
			}
			c.delete(ctx, m.ReceiptHandle)
		}
	}
}

func (c *Consumer) delete(ctx context.Context, receipt *string) {
	_, _ = c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: receipt,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
