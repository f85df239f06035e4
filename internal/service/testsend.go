package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"azaan/internal/domain"
	"azaan/internal/push"
	"azaan/internal/store"
	"azaan/internal/util"
)

const (
	testTitle    = "🔔 Test Notification"
	testPlatform = "test"
	testClock    = "03:04:05 PM"
)

type Ledger interface {
	InsertHistory(ctx context.Context, recs []store.HistoryRecord) error
}

// TestSender pushes a one-off notification to a single device. Every attempt
// lands in the ledger under the TEST prayer, sent or failed.
type TestSender struct {
	Transport push.Transport
	Ledger    Ledger
	Location  *time.Location
	Logger    *slog.Logger
	NewID     func() string
}

type TestResult struct {
	MessageID string    `json:"messageId,omitempty"`
	SentAt    string    `json:"sentAt"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *TestSender) Send(ctx context.Context, req domain.TestNotificationRequest, now time.Time) (TestResult, error) {
	req.Token = util.NormalizeToken(req.Token)
	if err := req.Validate(); err != nil {
		return TestResult{}, err
	}
	local := now.In(s.Location)
	clock := local.Format(testClock)
	msg := push.Message{
		Title: testTitle,
		Body:  "This is a test notification sent at " + clock,
		Data: map[string]string{
			"type":      "test",
			"timestamp": now.UTC().Format(time.RFC3339),
			"time":      clock,
			"sound":     "azaan.wav",
		},
		Android: push.AndroidOptions{ChannelID: "prayer", Sound: "azaan", HighPriority: true},
		APNs:    push.APNsOptions{Sound: "azaan.wav", Badge: 1, ContentAvailable: true},
	}

	rec := store.HistoryRecord{
		ID:       s.newID(),
		Token:    req.Token,
		Platform: testPlatform,
		Title:    testTitle,
		Body:     msg.Body,
		Prayer:   domain.TestPrayer,
		Status:   string(domain.DeliverySent),
		SentAt:   now,
		DayDate:  local.Format(domain.DayDateLayout),
	}

	res, sendErr := s.send(ctx, req.Token, msg)
	if sendErr != nil {
		rec.Body = "Test failed"
		rec.Status = string(domain.DeliveryFailed)
		rec.Error = sendErr.Error()
	}
	if err := s.Ledger.InsertHistory(ctx, []store.HistoryRecord{rec}); err != nil {
		s.logger().ErrorContext(ctx, "test notification history insert failed", "err", err)
	}
	if sendErr != nil {
		s.logger().ErrorContext(ctx, "test notification failed", "err", sendErr)
		return TestResult{}, sendErr
	}
	s.logger().InfoContext(ctx, "test notification sent", "message_id", res.MessageID, "time", clock)
	return TestResult{MessageID: res.MessageID, SentAt: clock, Timestamp: now.UTC()}, nil
}

func (s *TestSender) send(ctx context.Context, token string, msg push.Message) (push.SendResponse, error) {
	res, err := s.Transport.SendMulticast(ctx, []string{token}, msg)
	if err != nil {
		return push.SendResponse{}, err
	}
	if len(res.Responses) != 1 {
		return push.SendResponse{}, errors.New("push: unexpected response count")
	}
	r := res.Responses[0]
	if !r.Success {
		if r.Err == nil {
			return r, errors.New("push: send failed")
		}
		return r, r.Err
	}
	return r, nil
}

func (s *TestSender) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return util.NewHistoryID()
}

func (s *TestSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
