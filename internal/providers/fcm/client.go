// Package fcm delivers push messages through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"azaan/internal/push"
)

// MaxMulticastTokens is the FCM limit for one multicast request.
const MaxMulticastTokens = 500

type Sender interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Options struct {
	ProjectID       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	Messaging Sender
	// Classify maps a provider error onto the push sentinel errors. Nil uses
	// the Firebase error codes.
	Classify func(error) error
}

// New initialises a Firebase app from inline JSON credentials, a credentials
// file, or application default credentials, in that order.
func New(ctx context.Context, opts Options) (*Client, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	var cfg *firebase.Config
	if opts.ProjectID != "" {
		cfg = &firebase.Config{ProjectID: opts.ProjectID}
	}
	app, err := firebase.NewApp(ctx, cfg, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &Client{Messaging: mc}, nil
}

func (c *Client) SendMulticast(ctx context.Context, tokens []string, msg push.Message) (push.MulticastResult, error) {
	if len(tokens) > MaxMulticastTokens {
		return push.MulticastResult{}, fmt.Errorf("fcm: %d tokens exceeds multicast limit %d", len(tokens), MaxMulticastTokens)
	}
	classify := c.Classify
	if classify == nil {
		classify = classifyError
	}

	br, err := c.Messaging.SendEachForMulticast(ctx, toMulticast(tokens, msg))
	if err != nil {
		return push.MulticastResult{}, classify(err)
	}
	if br == nil || len(br.Responses) != len(tokens) {
		return push.MulticastResult{}, errors.New("fcm: response count does not match request")
	}

	responses := make([]push.SendResponse, len(br.Responses))
	authFailures := 0
	for i, r := range br.Responses {
		if r == nil {
			responses[i] = push.SendResponse{Err: errors.New("fcm: missing response")}
			continue
		}
		if r.Success {
			responses[i] = push.SendResponse{Success: true, MessageID: r.MessageID}
			continue
		}
		e := classify(r.Error)
		if errors.Is(e, push.ErrUnauthenticated) {
			authFailures++
		}
		responses[i] = push.SendResponse{Err: e}
	}

	// SendEach reports a bad credential on every message instead of failing
	// the call, so surface it as the call-level failure it is.
	if len(tokens) > 0 && authFailures == len(tokens) {
		return push.MulticastResult{}, responses[0].Err
	}
	return push.NewResult(responses), nil
}

func toMulticast(tokens []string, msg push.Message) *messaging.MulticastMessage {
	priority := "normal"
	if msg.Android.HighPriority {
		priority = "high"
	}
	mm := &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         msg.Data,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Android: &messaging.AndroidConfig{
			Priority: priority,
			Notification: &messaging.AndroidNotification{
				Sound:     msg.Android.Sound,
				ChannelID: msg.Android.ChannelID,
			},
		},
	}
	if msg.APNs != (push.APNsOptions{}) {
		badge := msg.APNs.Badge
		mm.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:            msg.APNs.Sound,
					Badge:            &badge,
					ContentAvailable: msg.APNs.ContentAvailable,
				},
			},
		}
	}
	return mm
}

func classifyError(err error) error {
	if err == nil {
		return errors.New("fcm: unknown error")
	}
	switch {
	case messaging.IsUnregistered(err), errorutils.IsNotFound(err):
		return fmt.Errorf("%w: %v", push.ErrUnregistered, err)
	case errorutils.IsUnauthenticated(err), errorutils.IsPermissionDenied(err), messaging.IsThirdPartyAuthError(err):
		return fmt.Errorf("%w: %v", push.ErrUnauthenticated, err)
	}
	// Provider 503 and quota replies stay ordinary failures so the entry
	// records an attempt instead of waiting on a load-shed retry.
	return err
}
