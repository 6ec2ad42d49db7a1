package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/playrelay/push-dispatch/internal/domain"
	"github.com/playrelay/push-dispatch/internal/observability"
	"github.com/playrelay/push-dispatch/internal/provider"
	"github.com/playrelay/push-dispatch/internal/ratelimit"
	"github.com/playrelay/push-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 50 * time.Millisecond
	defaultConcurrency    = 16
	minConcurrency        = 1
)

// DeliveryTarget pairs one delivery row with its resolved device.
type DeliveryTarget struct {
	Device   domain.Device
	Delivery domain.DeliveryLog
}

// CreateInput is the caller-facing payload for a new notification fan-out.
type CreateInput struct {
	Title      string
	Body       string
	ImageURL   *string
	CustomData map[string]any
	Tokens     []string
}

// CreateResult carries the identifiers persisted before any provider I/O ran.
type CreateResult struct {
	Notification domain.Notification
	Deliveries   []domain.DeliveryLog
}

// NotificationStatus is a notification with its per-device delivery outcomes.
type NotificationStatus struct {
	Notification domain.Notification
	Deliveries   []domain.DeliveryLog
}

// Dispatcher drives deliveries through the attempt/retry state machine:
// PENDING rows are claimed, sent through the platform adapter, and either
// marked SUCCESS, rescheduled with exponential backoff, or marked FAILED
// once the attempt bound is reached.
type Dispatcher struct {
	devices       repository.DeviceRepository
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	adapters      map[domain.Platform]provider.Adapter
	limiter       ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics

	maxAttempts    int
	initialBackoff time.Duration
	concurrency    int

	now   func() time.Time
	spawn func(fn func())
}

func NewDispatcher(
	devices repository.DeviceRepository,
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	adapters map[domain.Platform]provider.Adapter,
	limiter ratelimit.RateLimiter,
	maxAttempts int,
	initialBackoff time.Duration,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("at least one provider adapter is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	if concurrency < minConcurrency {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		devices:        devices,
		notifications:  notifications,
		deliveries:     deliveries,
		adapters:       adapters,
		limiter:        limiter,
		logger:         logger,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		concurrency:    concurrency,
		now:            time.Now,
		spawn:          func(fn func()) { go fn() },
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// CreateAndDispatch resolves the target tokens, persists the notification
// plus one PENDING delivery per device atomically, and kicks off the
// provider fan-out in the background. It returns as soon as the rows are
// committed; delivery outcomes become visible through status queries only.
func (d *Dispatcher) CreateAndDispatch(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	tokens := dedupeTokens(input.Tokens)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: at least one device token is required", domain.ErrValidation)
	}
	if len(tokens) > domain.MaxFanoutTargets {
		return nil, fmt.Errorf("%w: token count exceeds %d", domain.ErrValidation, domain.MaxFanoutTargets)
	}

	notification := domain.Notification{
		ID:         uuid.NewString(),
		Title:      input.Title,
		Body:       input.Body,
		ImageURL:   input.ImageURL,
		CustomData: input.CustomData,
		CreatedAt:  d.now().UTC(),
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}

	devices, err := d.devices.FindByTokens(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device tokens: %w", err)
	}

	if missing := missingTokens(tokens, devices); len(missing) > 0 {
		return nil, &domain.UnknownDeviceTokensError{Tokens: missing}
	}

	deliveries := make([]*domain.DeliveryLog, 0, len(devices))
	targets := make([]DeliveryTarget, 0, len(devices))
	createdAt := d.now().UTC()
	for i := range devices {
		delivery := &domain.DeliveryLog{
			ID:             uuid.NewString(),
			NotificationID: notification.ID,
			DeviceID:       devices[i].ID,
			Status:         domain.DeliveryPending,
			RetryCount:     0,
			CreatedAt:      createdAt,
		}
		deliveries = append(deliveries, delivery)
		targets = append(targets, DeliveryTarget{Device: devices[i], Delivery: *delivery})
	}

	if err := d.notifications.CreateWithDeliveries(ctx, &notification, deliveries); err != nil {
		return nil, fmt.Errorf("failed to persist notification with deliveries: %w", err)
	}

	result := &CreateResult{Notification: notification}
	for i := range deliveries {
		result.Deliveries = append(result.Deliveries, *deliveries[i])
		targets[i].Delivery = *deliveries[i]
	}

	// The fan-out outlives the request; only the delivery rows report on it.
	detached := context.WithoutCancel(ctx)
	d.spawn(func() {
		d.DispatchMany(detached, notification, targets)
	})

	return result, nil
}

// DispatchMany runs one attempt per target concurrently. Attempts are
// independent: a panic or terminal failure in one never cancels the rest,
// and no aggregate verdict is produced.
func (d *Dispatcher) DispatchMany(ctx context.Context, notification domain.Notification, targets []DeliveryTarget) {
	if len(targets) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)

	for i := range targets {
		target := targets[i]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("delivery attempt panicked",
						zap.String("deliveryId", target.Delivery.ID),
						zap.Any("panic", r),
					)
				}
			}()

			d.Attempt(ctx, notification, target)
			return nil
		})
	}

	_ = g.Wait()
}

// Attempt performs a single provider send for one delivery and persists the
// resulting state transition before returning. The claim step guarantees at
// most one in-flight attempt per delivery even with concurrent sweeps.
func (d *Dispatcher) Attempt(ctx context.Context, notification domain.Notification, target DeliveryTarget) {
	log := observability.DeliveryLogger(
		d.logger,
		notification.ID,
		target.Delivery.ID,
		target.Device.Platform.String(),
	)

	claimed, err := d.deliveries.ClaimForAttempt(ctx, target.Delivery.ID, target.Delivery.RetryCount)
	if err != nil {
		log.Error("failed to claim delivery for attempt", zap.Error(err))
		return
	}
	if !claimed {
		// Another worker owns this row, or it already moved on.
		return
	}

	platform := target.Device.Platform.String()
	d.metrics.IncAttemptInFlight(platform)
	defer d.metrics.DecAttemptInFlight(platform)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, platform); err != nil {
			log.Warn("rate limiter wait aborted, leaving delivery for the sweep", zap.Error(err))
			return
		}
	}

	sendErr := d.send(ctx, notification, target, platform)

	attemptCount := target.Delivery.RetryCount + 1
	now := d.now().UTC()

	if sendErr == nil {
		success := domain.DeliverySuccess
		patch := repository.DeliveryUpdate{
			Status:           &success,
			RetryCount:       &attemptCount,
			LastAttemptAt:    &now,
			DeliveredAt:      &now,
			ClearError:       true,
			ClearNextAttempt: true,
		}
		if err := d.deliveries.Update(ctx, target.Delivery.ID, patch); err != nil {
			log.Error("failed to persist successful delivery", zap.Error(err))
			return
		}
		d.metrics.IncDelivered(platform)
		log.Info("delivery succeeded", zap.Int("attempt", attemptCount))
		return
	}

	code := string(provider.CodeOf(sendErr))
	message := sendErr.Error()

	if attemptCount >= d.maxAttempts {
		failed := domain.DeliveryFailed
		patch := repository.DeliveryUpdate{
			Status:           &failed,
			RetryCount:       &attemptCount,
			ErrorCode:        &code,
			ErrorMessage:     &message,
			LastAttemptAt:    &now,
			LastErrorAt:      &now,
			ClearNextAttempt: true,
		}
		if err := d.deliveries.Update(ctx, target.Delivery.ID, patch); err != nil {
			log.Error("failed to persist exhausted delivery", zap.Error(err))
			return
		}
		d.metrics.IncDeliveryFailed(platform, code)
		log.Warn("delivery failed permanently",
			zap.Int("attempt", attemptCount),
			zap.String("errorCode", code),
		)

		if provider.IsPermanent(sendErr) {
			d.invalidateDevice(ctx, target.Device, log)
		}
		return
	}

	pending := domain.DeliveryPending
	nextAttemptAt := now.Add(d.backoff(attemptCount))
	patch := repository.DeliveryUpdate{
		Status:        &pending,
		RetryCount:    &attemptCount,
		ErrorCode:     &code,
		ErrorMessage:  &message,
		LastAttemptAt: &now,
		LastErrorAt:   &now,
		NextAttemptAt: &nextAttemptAt,
	}
	if err := d.deliveries.Update(ctx, target.Delivery.ID, patch); err != nil {
		log.Error("failed to schedule delivery retry", zap.Error(err))
		return
	}
	d.metrics.IncRetryScheduled(platform)
	log.Info("delivery retry scheduled",
		zap.Int("attempt", attemptCount),
		zap.String("errorCode", code),
		zap.Time("nextAttemptAt", nextAttemptAt),
	)
}

// GetNotification returns a notification with its delivery logs.
func (d *Dispatcher) GetNotification(ctx context.Context, id string) (*NotificationStatus, error) {
	notification, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	deliveries, err := d.deliveries.ListByNotification(ctx, id)
	if err != nil {
		return nil, err
	}

	return &NotificationStatus{
		Notification: *notification,
		Deliveries:   deliveries,
	}, nil
}

func (d *Dispatcher) send(ctx context.Context, notification domain.Notification, target DeliveryTarget, platform string) error {
	adapter, ok := d.adapters[target.Device.Platform]
	if !ok {
		return &provider.Error{
			Code:    provider.CodeUnknown,
			Message: fmt.Sprintf("no adapter registered for platform %s", platform),
		}
	}

	msg := provider.Message{
		Title:      notification.Title,
		Body:       notification.Body,
		CustomData: notification.CustomData,
	}
	if notification.ImageURL != nil {
		msg.ImageURL = *notification.ImageURL
	}

	d.metrics.IncAttempt(platform)
	start := d.now()
	err := adapter.Send(ctx, target.Device.Token, msg)
	d.metrics.ObserveSendDuration(platform, d.now().Sub(start))

	return err
}

func (d *Dispatcher) invalidateDevice(ctx context.Context, device domain.Device, log *zap.Logger) {
	// Best effort: the device may already be gone, and a cleanup failure
	// must not surface as a delivery error.
	if err := d.devices.DeleteByToken(ctx, device.Token); err != nil {
		log.Warn("failed to delete device with invalid token", zap.Error(err))
		return
	}
	d.metrics.IncDeviceInvalidated(device.Platform.String())
	log.Info("device deleted after permanent token failure")
}

// backoff returns the wait before the next attempt: initialBackoff doubled
// per completed attempt (50ms, 100ms, 200ms, ...).
func (d *Dispatcher) backoff(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}

	delay := d.initialBackoff
	for i := 1; i < attemptCount; i++ {
		delay *= 2
	}
	return delay
}

func dedupeTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func missingTokens(tokens []string, devices []domain.Device) []string {
	known := make(map[string]struct{}, len(devices))
	for i := range devices {
		known[devices[i].Token] = struct{}{}
	}

	var missing []string
	for _, token := range tokens {
		if _, ok := known[token]; !ok {
			missing = append(missing, token)
		}
	}
	return missing
}
