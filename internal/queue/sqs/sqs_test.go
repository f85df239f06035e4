package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]types.Message
	deleted  []string
	sent     []*sqs.SendMessageInput
	received chan struct{}
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.batches) == 0 {
		f.mu.Unlock()
		close(f.received)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	f.mu.Unlock()
	return &sqs.ReceiveMessageOutput{Messages: b}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func msg(receipt, body string) types.Message {
	return types.Message{ReceiptHandle: aws.String(receipt), Body: aws.String(body), MessageId: aws.String(receipt)}
}

func TestPollDeletesOnlyHandledAndMalformed(t *testing.T) {
	f := &fakeSQS{
		received: make(chan struct{}),
		batches: [][]types.Message{{
			msg("ok", `{"reason":"cron"}`),
			msg("empty", `{}`),
			msg("bad", `not json`),
			msg("fail", `{"reason":"fail"}`),
			{ReceiptHandle: aws.String("nil-body")},
		}},
	}
	c := &Consumer{SQS: f, QueueURL: "q"}

	var reasons []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Poll(ctx, func(_ context.Context, tr TickTrigger) error {
			reasons = append(reasons, tr.Reason)
			if tr.Reason == "fail" {
				return errors.New("tick failed")
			}
			return nil
		})
	}()

	<-f.received
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"cron", "", "fail"}, reasons)
	assert.ElementsMatch(t, []string{"ok", "empty", "bad", "nil-body"}, f.deleted)
}

func TestPublishOutcomeFIFO(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "https://sqs.local/000/outcomes.fifo"}

	ev := OutcomeEvent{QueueID: "q_1", Prayer: "fajr", DayDate: "2025-01-15", Status: "sent", Success: 3, Failed: 2, OccurredAt: time.Unix(0, 0).UTC()}
	require.NoError(t, p.PublishOutcome(context.Background(), ev))

	require.Len(t, f.sent, 1)
	in := f.sent[0]
	assert.Equal(t, "fajr", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "q_1:sent", aws.ToString(in.MessageDeduplicationId))

	var got OutcomeEvent
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, ev, got)
}

func TestPublishStandardQueueHasNoGroup(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "https://sqs.local/000/outcomes"}
	require.NoError(t, p.PublishOutcome(context.Background(), OutcomeEvent{QueueID: "q_1"}))
	require.NoError(t, p.SendTick(context.Background(), TickTrigger{Reason: "manual"}))

	require.Len(t, f.sent, 2)
	for _, in := range f.sent {
		assert.Nil(t, in.MessageGroupId)
		assert.Nil(t, in.MessageDeduplicationId)
	}
	assert.JSONEq(t, `{"reason":"manual","requestedAt":"0001-01-01T00:00:00Z"}`, aws.ToString(f.sent[1].MessageBody))
}
