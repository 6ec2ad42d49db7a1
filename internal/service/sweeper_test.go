package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/playrelay/push-dispatch/internal/domain"
	"github.com/playrelay/push-dispatch/internal/repository"
	"go.uber.org/zap"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []sweepGroup
}

func (r *recordingDispatcher) DispatchMany(ctx context.Context, notification domain.Notification, targets []DeliveryTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sweepGroup{notification: notification, targets: targets})
}

func (r *recordingDispatcher) recorded() []sweepGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sweepGroup, len(r.calls))
	copy(out, r.calls)
	return out
}

func pendingRow(deliveryID, notificationID, deviceID string) repository.PendingDelivery {
	return repository.PendingDelivery{
		Delivery: domain.DeliveryLog{
			ID:             deliveryID,
			NotificationID: notificationID,
			DeviceID:       deviceID,
			Status:         domain.DeliveryPending,
		},
		Device: &domain.Device{
			ID:       deviceID,
			Token:    "tok-" + deviceID,
			Platform: domain.PlatformIOS,
		},
		Notification: &domain.Notification{
			ID:    notificationID,
			Title: "t",
			Body:  "b",
		},
	}
}

func TestNewSweeperValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSweeper(nil, &recordingDispatcher{}, time.Second, 20, 3, nil); err == nil {
		t.Fatal("expected error for nil delivery repository")
	}
	if _, err := NewSweeper(&fakeDeliveryRepo{}, nil, time.Second, 20, 3, nil); err == nil {
		t.Fatal("expected error for nil dispatcher")
	}

	s, err := NewSweeper(&fakeDeliveryRepo{}, &recordingDispatcher{}, 0, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewSweeper returned error: %v", err)
	}
	if s.interval != defaultSweepInterval {
		t.Errorf("interval = %v, want default %v", s.interval, defaultSweepInterval)
	}
	if s.batchSize != defaultSweepBatchSize {
		t.Errorf("batch size = %d, want default %d", s.batchSize, defaultSweepBatchSize)
	}
	if s.maxAttempts != defaultMaxAttempts {
		t.Errorf("max attempts = %d, want default %d", s.maxAttempts, defaultMaxAttempts)
	}
}

func TestSweepGroupsByNotification(t *testing.T) {
	t.Parallel()

	rows := []repository.PendingDelivery{
		pendingRow("delivery-1", "notification-a", "dev-1"),
		pendingRow("delivery-2", "notification-b", "dev-2"),
		pendingRow("delivery-3", "notification-a", "dev-3"),
	}
	deliveries := &fakeDeliveryRepo{
		findPendingFn: func(ctx context.Context, maxAttempts, limit int) ([]repository.PendingDelivery, error) {
			return rows, nil
		},
	}
	dispatcher := &recordingDispatcher{}

	s, err := NewSweeper(deliveries, dispatcher, time.Second, 20, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSweeper returned error: %v", err)
	}

	if err := s.sweep(context.Background()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}

	calls := dispatcher.recorded()
	if len(calls) != 2 {
		t.Fatalf("got %d dispatch calls, want 2", len(calls))
	}

	// Oldest-first query order decides which notification dispatches first.
	if calls[0].notification.ID != "notification-a" || len(calls[0].targets) != 2 {
		t.Fatalf("first group = %s with %d targets, want notification-a with 2", calls[0].notification.ID, len(calls[0].targets))
	}
	if calls[1].notification.ID != "notification-b" || len(calls[1].targets) != 1 {
		t.Fatalf("second group = %s with %d targets, want notification-b with 1", calls[1].notification.ID, len(calls[1].targets))
	}
}

func TestSweepDropsRowsWithMissingAssociations(t *testing.T) {
	t.Parallel()

	orphanDevice := pendingRow("delivery-1", "notification-a", "dev-1")
	orphanDevice.Device = nil
	orphanNotification := pendingRow("delivery-2", "notification-b", "dev-2")
	orphanNotification.Notification = nil
	intact := pendingRow("delivery-3", "notification-c", "dev-3")

	deliveries := &fakeDeliveryRepo{
		findPendingFn: func(ctx context.Context, maxAttempts, limit int) ([]repository.PendingDelivery, error) {
			return []repository.PendingDelivery{orphanDevice, orphanNotification, intact}, nil
		},
	}
	dispatcher := &recordingDispatcher{}

	s, err := NewSweeper(deliveries, dispatcher, time.Second, 20, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSweeper returned error: %v", err)
	}

	if err := s.sweep(context.Background()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}

	calls := dispatcher.recorded()
	if len(calls) != 1 {
		t.Fatalf("got %d dispatch calls, want 1", len(calls))
	}
	if calls[0].notification.ID != "notification-c" {
		t.Fatalf("dispatched notification = %s, want notification-c", calls[0].notification.ID)
	}
}

func TestSweepIsQuietWhenIdle(t *testing.T) {
	t.Parallel()

	deliveries := &fakeDeliveryRepo{
		findPendingFn: func(ctx context.Context, maxAttempts, limit int) ([]repository.PendingDelivery, error) {
			return nil, nil
		},
	}
	dispatcher := &recordingDispatcher{}

	s, err := NewSweeper(deliveries, dispatcher, time.Second, 20, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSweeper returned error: %v", err)
	}

	if err := s.sweep(context.Background()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if len(dispatcher.recorded()) != 0 {
		t.Fatal("an empty batch must not dispatch anything")
	}
}

func TestSweeperStartStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	swept := make(chan struct{}, 16)
	deliveries := &fakeDeliveryRepo{
		findPendingFn: func(ctx context.Context, maxAttempts, limit int) ([]repository.PendingDelivery, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}

	s, err := NewSweeper(deliveries, &recordingDispatcher{}, 5*time.Millisecond, 20, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSweeper returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran a sweep")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error on cancel: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
