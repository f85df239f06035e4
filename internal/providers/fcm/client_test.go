package fcm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azaan/internal/push"
)

type fakeSender struct {
	got  *messaging.MulticastMessage
	resp *messaging.BatchResponse
	err  error
}

func (f *fakeSender) SendEachForMulticast(_ context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.got = msg
	return f.resp, f.err
}

var (
	errGone = errors.New("gone")
	errAuth = errors.New("auth")
)

func testClassify(err error) error {
	switch err {
	case errGone:
		return fmt.Errorf("%w: %v", push.ErrUnregistered, err)
	case errAuth:
		return fmt.Errorf("%w: %v", push.ErrUnauthenticated, err)
	}
	return err
}

func TestSendMulticastMapsResponsesPositionally(t *testing.T) {
	fs := &fakeSender{resp: &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 2,
		Responses: []*messaging.SendResponse{
			{Success: false, Error: errGone},
			{Success: true, MessageID: "m1"},
			{Success: false, Error: errors.New("internal")},
		},
	}}
	c := &Client{Messaging: fs, Classify: testClassify}

	res, err := c.SendMulticast(context.Background(), []string{"a", "b", "c"}, push.PrayerMessage("fajr", "05:12", ""))
	require.NoError(t, err)
	require.Len(t, res.Responses, 3)
	assert.ErrorIs(t, res.Responses[0].Err, push.ErrUnregistered)
	assert.True(t, res.Responses[1].Success)
	assert.Equal(t, "m1", res.Responses[1].MessageID)
	assert.EqualError(t, res.Responses[2].Err, "internal")
	assert.Equal(t, 1, res.SuccessCount)

	require.NotNil(t, fs.got)
	assert.Equal(t, []string{"a", "b", "c"}, fs.got.Tokens)
	assert.Equal(t, "Fajr Prayer Time", fs.got.Notification.Title)
	assert.Equal(t, "high", fs.got.Android.Priority)
	assert.Equal(t, "prayer", fs.got.Android.Notification.ChannelID)
	assert.Equal(t, "azaan.wav", fs.got.APNS.Payload.Aps.Sound)
	assert.Equal(t, 1, *fs.got.APNS.Payload.Aps.Badge)
	assert.Equal(t, "FAJR", fs.got.Data["prayer"])
}

func TestSendMulticastAllUnauthenticatedIsCallFailure(t *testing.T) {
	fs := &fakeSender{resp: &messaging.BatchResponse{
		FailureCount: 2,
		Responses: []*messaging.SendResponse{
			{Error: errAuth},
			{Error: errAuth},
		},
	}}
	c := &Client{Messaging: fs, Classify: testClassify}

	_, err := c.SendMulticast(context.Background(), []string{"a", "b"}, push.Message{})
	assert.ErrorIs(t, err, push.ErrUnauthenticated)
}

func TestSendMulticastCallError(t *testing.T) {
	c := &Client{Messaging: &fakeSender{err: errAuth}, Classify: testClassify}
	_, err := c.SendMulticast(context.Background(), []string{"a"}, push.Message{})
	assert.ErrorIs(t, err, push.ErrUnauthenticated)
}

func TestSendMulticastRejectsOversizedAndMisaligned(t *testing.T) {
	c := &Client{Messaging: &fakeSender{resp: &messaging.BatchResponse{}}}

	_, err := c.SendMulticast(context.Background(), make([]string, MaxMulticastTokens+1), push.Message{})
	assert.Error(t, err)

	_, err = c.SendMulticast(context.Background(), []string{"a"}, push.Message{})
	assert.Error(t, err)
}

func TestClassifyPassesUnknownErrors(t *testing.T) {
	e := errors.New("other")
	assert.Equal(t, e, classifyError(e))
	assert.Error(t, classifyError(nil))
}
