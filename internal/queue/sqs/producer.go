package sqsqueue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type ProducerAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OutcomeEvent is published once per terminal queue transition.
type OutcomeEvent struct {
	QueueID    string    `json:"queueId"`
	Prayer     string    `json:"prayer"`
	DayDate    string    `json:"dayDate"`
	Status     string    `json:"status"`
	Success    int       `json:"success"`
	Failed     int       `json:"failed"`
	LastError  string    `json:"lastError,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Producer struct {
	SQS      ProducerAPI
	QueueURL string
}

func (p *Producer) PublishOutcome(ctx context.Context, ev OutcomeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		// one ordered stream per prayer; a redelivered transition dedupes
		in.MessageGroupId = str(ev.Prayer)
		in.MessageDeduplicationId = str(ev.QueueID + ":" + ev.Status)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

// SendTick enqueues a tick trigger, e.g. from a scheduled job.
func (p *Producer) SendTick(ctx context.Context, trigger TickTrigger) error {
	body, err := json.Marshal(trigger)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		in.MessageGroupId = str("tick")
		in.MessageDeduplicationId = str(trigger.RequestedAt.UTC().Format(time.RFC3339Nano))
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func str(s string) *string { return &s }
