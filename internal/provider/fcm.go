package provider

import (
	"context"
	"fmt"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmClient is the subset of messaging.Client used here.
type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMConfig points at a Firebase service-account credentials file.
type FCMConfig struct {
	CredentialsFile string
}

// FCMAdapter sends notifications through Firebase Cloud Messaging. The
// messaging client is built lazily on the first send and shared.
type FCMAdapter struct {
	cfg FCMConfig

	once    sync.Once
	client  fcmClient
	initErr error
}

func NewFCMAdapter(cfg FCMConfig) *FCMAdapter {
	return &FCMAdapter{cfg: cfg}
}

// NewFCMAdapterWithClient bypasses lazy construction; used in tests.
func NewFCMAdapterWithClient(cfg FCMConfig, client fcmClient) *FCMAdapter {
	a := &FCMAdapter{cfg: cfg}
	a.once.Do(func() { a.client = client })
	return a
}

func (a *FCMAdapter) Send(ctx context.Context, deviceToken string, msg Message) error {
	client, err := a.getClient(ctx)
	if err != nil {
		return err
	}

	fcmMsg := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title:    msg.Title,
			Body:     msg.Body,
			ImageURL: msg.ImageURL,
		},
		Data: stringifyCustomData(msg.CustomData),
	}

	if _, err := client.Send(ctx, fcmMsg); err != nil {
		return &Error{
			Code:    classifyFCMError(err),
			Message: "fcm send failed",
			Cause:   err,
		}
	}

	return nil
}

func (a *FCMAdapter) getClient(ctx context.Context) (fcmClient, error) {
	a.once.Do(func() {
		if a.cfg.CredentialsFile == "" {
			a.initErr = &ConfigurationError{
				Provider: "fcm",
				Message:  "missing FCM service account credentials file",
			}
			return
		}

		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(a.cfg.CredentialsFile))
		if err != nil {
			a.initErr = &ConfigurationError{
				Provider: "fcm",
				Message:  fmt.Sprintf("failed to initialize firebase app: %v", err),
			}
			return
		}

		client, err := app.Messaging(ctx)
		if err != nil {
			a.initErr = &ConfigurationError{
				Provider: "fcm",
				Message:  fmt.Sprintf("failed to initialize messaging client: %v", err),
			}
			return
		}

		a.client = client
	})

	if a.initErr != nil {
		return nil, a.initErr
	}
	return a.client, nil
}

// FCM data payloads only take string values; everything else is rendered
// with fmt. Nested structures are unsupported by the wire format anyway.
func stringifyCustomData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}

	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func classifyFCMError(err error) ErrorCode {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err),
		messaging.IsInvalidArgument(err):
		return CodeInvalidToken
	case messaging.IsQuotaExceeded(err):
		return CodeRateLimited
	case messaging.IsUnavailable(err), messaging.IsInternal(err):
		return CodeProviderUnavailable
	}
	return CodeUnknown
}
