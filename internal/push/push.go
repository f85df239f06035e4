// Package push defines the multicast push transport used to deliver prayer
// notifications and the guard that wraps every provider call.
package push

import (
	"context"
	"errors"
)

var (
	// ErrUnregistered marks a recipient token the provider no longer knows.
	ErrUnregistered = errors.New("push: token unregistered")
	// ErrUnauthenticated is a systemic failure: credentials or project
	// permissions are wrong and every further call will fail the same way.
	ErrUnauthenticated = errors.New("push: transport unauthenticated")
	// ErrUnavailable is returned only when this process shed the call itself:
	// the local rate limit wait expired or the breaker is open. Provider
	// outage replies are ordinary errors.
	ErrUnavailable = errors.New("push: transport unavailable")
)

type AndroidOptions struct {
	ChannelID    string
	Sound        string
	HighPriority bool
}

type APNsOptions struct {
	Sound            string
	Badge            int
	ContentAvailable bool
}

// Message is one notification payload, shared by every recipient of a
// multicast call.
type Message struct {
	Title   string
	Body    string
	Data    map[string]string
	Android AndroidOptions
	APNs    APNsOptions
}

// SendResponse is the outcome for the token at the same index of the request.
type SendResponse struct {
	Success   bool
	MessageID string
	Err       error
}

type MulticastResult struct {
	Responses    []SendResponse
	SuccessCount int
	FailureCount int
}

// Transport sends one message to many tokens in a single call. A nil error
// means Responses has exactly one entry per token, in request order.
type Transport interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (MulticastResult, error)
}

// IsInvalidToken reports whether err means the token should be forgotten.
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrUnregistered)
}

// NewResult builds a MulticastResult and its counts from per-token responses.
func NewResult(responses []SendResponse) MulticastResult {
	res := MulticastResult{Responses: responses}
	for _, r := range responses {
		if r.Success {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
	}
	return res
}
