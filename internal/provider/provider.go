package provider

import "context"

// Message is the provider-neutral push payload.
type Message struct {
	Title      string
	Body       string
	ImageURL   string
	CustomData map[string]any
}

// Adapter sends one message to one device token. Implementations must be
// safe for concurrent use; a nil return means the provider accepted the
// notification, anything else carries an ErrorCode via errors.As.
type Adapter interface {
	Send(ctx context.Context, token string, msg Message) error
}
