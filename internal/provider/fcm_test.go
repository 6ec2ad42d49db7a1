package provider

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
)

type fakeFCMClient struct {
	sendFn func(ctx context.Context, message *messaging.Message) (string, error)

	lastMessage *messaging.Message
}

func (f *fakeFCMClient) Send(ctx context.Context, message *messaging.Message) (string, error) {
	f.lastMessage = message
	if f.sendFn != nil {
		return f.sendFn(ctx, message)
	}
	return "projects/demo/messages/1", nil
}

func TestFCMAdapterMissingCredentials(t *testing.T) {
	t.Parallel()

	adapter := NewFCMAdapter(FCMConfig{})
	err := adapter.Send(context.Background(), "tok-a", Message{Title: "t", Body: "b"})

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Provider != "fcm" {
		t.Fatalf("provider = %q, want fcm", cfgErr.Provider)
	}
}

func TestFCMAdapterBuildsMessage(t *testing.T) {
	t.Parallel()

	client := &fakeFCMClient{}
	adapter := NewFCMAdapterWithClient(FCMConfig{CredentialsFile: "sa.json"}, client)

	err := adapter.Send(context.Background(), "tok-a", Message{
		Title:      "hello",
		Body:       "world",
		ImageURL:   "https://cdn.example.com/banner.png",
		CustomData: map[string]any{"match": "42", "round": 3},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	msg := client.lastMessage
	if msg.Token != "tok-a" {
		t.Errorf("token = %q, want tok-a", msg.Token)
	}
	if msg.Notification.Title != "hello" || msg.Notification.Body != "world" {
		t.Errorf("notification = %+v", msg.Notification)
	}
	if msg.Notification.ImageURL != "https://cdn.example.com/banner.png" {
		t.Errorf("image url = %q", msg.Notification.ImageURL)
	}
	if msg.Data["match"] != "42" || msg.Data["round"] != "3" {
		t.Errorf("data = %v, want stringified values", msg.Data)
	}
}

func TestFCMAdapterWrapsSendFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("rpc error")
	client := &fakeFCMClient{
		sendFn: func(ctx context.Context, message *messaging.Message) (string, error) {
			return "", cause
		},
	}
	adapter := NewFCMAdapterWithClient(FCMConfig{CredentialsFile: "sa.json"}, client)

	err := adapter.Send(context.Background(), "tok-a", Message{Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, cause) {
		t.Fatal("the provider cause must be preserved")
	}
	// An unrecognized send failure defaults to the transient UNKNOWN bucket.
	if got := CodeOf(err); got != CodeUnknown {
		t.Fatalf("CodeOf = %s, want %s", got, CodeUnknown)
	}
}

func TestStringifyCustomData(t *testing.T) {
	t.Parallel()

	if got := stringifyCustomData(nil); got != nil {
		t.Fatalf("nil input must stay nil, got %v", got)
	}
	if got := stringifyCustomData(map[string]any{}); got != nil {
		t.Fatalf("empty input must stay nil, got %v", got)
	}

	got := stringifyCustomData(map[string]any{
		"str":   "plain",
		"int":   7,
		"float": 1.5,
		"bool":  true,
	})

	want := map[string]string{
		"str":   "plain",
		"int":   "7",
		"float": "1.5",
		"bool":  "true",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("stringifyCustomData[%q] = %q, want %q", k, got[k], v)
		}
	}
}
