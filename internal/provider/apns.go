package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// apnsClient is the subset of apns2.Client used here, extracted so tests can
// substitute a fake.
type apnsClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNSConfig carries the token-auth credentials for Apple's push service.
type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	// PrivateKey is the PEM content of the .p8 signing key. Literal "\n"
	// sequences are accepted since the key usually arrives via an env var.
	PrivateKey  string
	Development bool
}

func (c APNSConfig) complete() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && c.PrivateKey != ""
}

// APNSAdapter sends notifications through APNs. The underlying HTTP/2 client
// is built lazily on the first send and shared by all callers.
type APNSAdapter struct {
	cfg APNSConfig

	once    sync.Once
	client  apnsClient
	initErr error
}

func NewAPNSAdapter(cfg APNSConfig) *APNSAdapter {
	return &APNSAdapter{cfg: cfg}
}

// NewAPNSAdapterWithClient bypasses lazy construction; used in tests.
func NewAPNSAdapterWithClient(cfg APNSConfig, client apnsClient) *APNSAdapter {
	a := &APNSAdapter{cfg: cfg}
	a.once.Do(func() { a.client = client })
	return a
}

func (a *APNSAdapter) Send(ctx context.Context, deviceToken string, msg Message) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}

	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.cfg.BundleID,
		Payload:     buildAPNSPayload(msg),
	}

	res, err := client.PushWithContext(ctx, n)
	if err != nil {
		return &Error{
			Code:    CodeProviderUnavailable,
			Message: "apns transport failed",
			Cause:   err,
		}
	}
	if res.Sent() {
		return nil
	}

	return &Error{
		Code:    classifyAPNSResponse(res),
		Message: fmt.Sprintf("apns rejected notification: %s", res.Reason),
	}
}

func (a *APNSAdapter) getClient() (apnsClient, error) {
	a.once.Do(func() {
		if !a.cfg.complete() {
			a.initErr = &ConfigurationError{
				Provider: "apns",
				Message:  "missing APNs credentials (key id, team id, bundle id, private key)",
			}
			return
		}

		keyPEM := strings.ReplaceAll(a.cfg.PrivateKey, `\n`, "\n")
		authKey, err := token.AuthKeyFromBytes([]byte(keyPEM))
		if err != nil {
			a.initErr = &ConfigurationError{
				Provider: "apns",
				Message:  fmt.Sprintf("failed to parse P8 key: %v", err),
			}
			return
		}

		client := apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   a.cfg.KeyID,
			TeamID:  a.cfg.TeamID,
		})
		if a.cfg.Development {
			client = client.Development()
		} else {
			client = client.Production()
		}

		a.client = client
	})

	if a.initErr != nil {
		return nil, a.initErr
	}
	return a.client, nil
}

func buildAPNSPayload(msg Message) *payload.Payload {
	builder := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body)

	if msg.ImageURL != "" {
		builder = builder.MutableContent().Custom("image", msg.ImageURL)
	}
	if len(msg.CustomData) > 0 {
		builder = builder.Custom("data", msg.CustomData)
	}

	return builder
}

func classifyAPNSResponse(res *apns2.Response) ErrorCode {
	switch res.Reason {
	case apns2.ReasonBadDeviceToken,
		apns2.ReasonUnregistered,
		apns2.ReasonDeviceTokenNotForTopic,
		apns2.ReasonMissingDeviceToken:
		return CodeInvalidToken
	case apns2.ReasonTooManyRequests:
		return CodeRateLimited
	case apns2.ReasonInternalServerError,
		apns2.ReasonServiceUnavailable,
		apns2.ReasonShutdown:
		return CodeProviderUnavailable
	}

	if res.StatusCode >= 500 {
		return CodeProviderUnavailable
	}

	return CodeUnknown
}
