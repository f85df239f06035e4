package push

import (
	"context"
	"log/slog"
)

// LogTransport accepts every token and only logs the payload. It backs
// PUSH_DRIVER=log for local runs without provider credentials.
type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) SendMulticast(ctx context.Context, tokens []string, msg Message) (MulticastResult, error) {
	log := t.Logger
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "push dry run",
		"title", msg.Title,
		"body", msg.Body,
		"recipients", len(tokens),
	)
	responses := make([]SendResponse, len(tokens))
	for i := range responses {
		responses[i] = SendResponse{Success: true, MessageID: "dry-run"}
	}
	return NewResult(responses), nil
}
