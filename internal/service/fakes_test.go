package service

import (
	"context"
	"sync"

	"github.com/playrelay/push-dispatch/internal/domain"
	"github.com/playrelay/push-dispatch/internal/provider"
	"github.com/playrelay/push-dispatch/internal/repository"
)

type fakeDeviceRepo struct {
	findByTokensFn  func(ctx context.Context, tokens []string) ([]domain.Device, error)
	getByTokenFn    func(ctx context.Context, token string) (*domain.Device, error)
	deleteByTokenFn func(ctx context.Context, token string) error

	mu            sync.Mutex
	deletedTokens []string
}

func (f *fakeDeviceRepo) FindByTokens(ctx context.Context, tokens []string) ([]domain.Device, error) {
	if f.findByTokensFn != nil {
		return f.findByTokensFn(ctx, tokens)
	}
	return nil, nil
}

func (f *fakeDeviceRepo) GetByToken(ctx context.Context, token string) (*domain.Device, error) {
	if f.getByTokenFn != nil {
		return f.getByTokenFn(ctx, token)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeviceRepo) DeleteByToken(ctx context.Context, token string) error {
	f.mu.Lock()
	f.deletedTokens = append(f.deletedTokens, token)
	f.mu.Unlock()

	if f.deleteByTokenFn != nil {
		return f.deleteByTokenFn(ctx, token)
	}
	return nil
}

func (f *fakeDeviceRepo) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletedTokens))
	copy(out, f.deletedTokens)
	return out
}

type fakeNotificationRepo struct {
	createWithDeliveriesFn func(ctx context.Context, n *domain.Notification, deliveries []*domain.DeliveryLog) error
	getByIDFn              func(ctx context.Context, id string) (*domain.Notification, error)

	mu      sync.Mutex
	created int
}

func (f *fakeNotificationRepo) CreateWithDeliveries(ctx context.Context, n *domain.Notification, deliveries []*domain.DeliveryLog) error {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()

	if f.createWithDeliveriesFn != nil {
		return f.createWithDeliveriesFn(ctx, n, deliveries)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeDeliveryRepo struct {
	updateFn             func(ctx context.Context, id string, patch repository.DeliveryUpdate) error
	claimForAttemptFn    func(ctx context.Context, id string, expectedRetryCount int) (bool, error)
	findPendingFn        func(ctx context.Context, maxAttempts, limit int) ([]repository.PendingDelivery, error)
	listByNotificationFn func(ctx context.Context, notificationID string) ([]domain.DeliveryLog, error)

	mu      sync.Mutex
	updates []repository.DeliveryUpdate
}

func (f *fakeDeliveryRepo) Update(ctx context.Context, id string, patch repository.DeliveryUpdate) error {
	f.mu.Lock()
	f.updates = append(f.updates, patch)
	f.mu.Unlock()

	if f.updateFn != nil {
		return f.updateFn(ctx, id, patch)
	}
	return nil
}

func (f *fakeDeliveryRepo) ClaimForAttempt(ctx context.Context, id string, expectedRetryCount int) (bool, error) {
	if f.claimForAttemptFn != nil {
		return f.claimForAttemptFn(ctx, id, expectedRetryCount)
	}
	return true, nil
}

func (f *fakeDeliveryRepo) FindPending(ctx context.Context, maxAttempts, limit int) ([]repository.PendingDelivery, error) {
	if f.findPendingFn != nil {
		return f.findPendingFn(ctx, maxAttempts, limit)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryLog, error) {
	if f.listByNotificationFn != nil {
		return f.listByNotificationFn(ctx, notificationID)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) recordedUpdates() []repository.DeliveryUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.DeliveryUpdate, len(f.updates))
	copy(out, f.updates)
	return out
}

type fakeAdapter struct {
	sendFn func(ctx context.Context, token string, msg provider.Message) error

	mu    sync.Mutex
	sends []string
}

func (f *fakeAdapter) Send(ctx context.Context, token string, msg provider.Message) error {
	f.mu.Lock()
	f.sends = append(f.sends, token)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, token, msg)
	}
	return nil
}

func (f *fakeAdapter) sentTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	copy(out, f.sends)
	return out
}

type fakeLimiter struct {
	allowFn func(ctx context.Context, platform string) (bool, error)
	waitFn  func(ctx context.Context, platform string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, platform string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, platform)
	}
	return true, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, platform string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, platform)
	}
	return nil
}
