package service

import (
	"context"
	"fmt"
	"time"

	"github.com/playrelay/push-dispatch/internal/domain"
	"github.com/playrelay/push-dispatch/internal/observability"
	"github.com/playrelay/push-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval  = time.Second
	defaultSweepBatchSize = 20
)

// deliveryDispatcher is the slice of the Dispatcher the sweep needs.
type deliveryDispatcher interface {
	DispatchMany(ctx context.Context, notification domain.Notification, targets []DeliveryTarget)
}

// Sweeper periodically re-discovers PENDING deliveries whose next attempt is
// due and feeds them back into the dispatcher, grouped by notification so the
// shared payload is fetched once per group.
type Sweeper struct {
	deliveries repository.DeliveryRepository
	dispatcher deliveryDispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics

	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewSweeper(
	deliveries repository.DeliveryRepository,
	dispatcher deliveryDispatcher,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
	logger *zap.Logger,
) (*Sweeper, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		deliveries:  deliveries,
		dispatcher:  dispatcher,
		logger:      logger,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}, nil
}

func (s *Sweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs the sweep loop until ctx is canceled. Cancellation prevents any
// new batch from starting; a batch already in flight runs to completion since
// individual attempts are never aborted midway.
func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so already-due retries do not wait out the first tick.
	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial retry sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	pending, err := s.deliveries.FindPending(ctx, s.maxAttempts, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending deliveries: %w", err)
	}
	if len(pending) == 0 {
		// Quiet idle: nothing due, nothing logged.
		return nil
	}

	s.metrics.ObserveSweepBatch(len(pending))

	// In-flight attempts finish even if the sweep loop is being stopped.
	dispatchCtx := context.WithoutCancel(ctx)
	for _, group := range groupByNotification(pending) {
		s.dispatcher.DispatchMany(dispatchCtx, group.notification, group.targets)
	}

	return nil
}

type sweepGroup struct {
	notification domain.Notification
	targets      []DeliveryTarget
}

// groupByNotification batches rows sharing a notification, preserving the
// oldest-first order of the query. Rows whose device or notification has
// vanished are dropped silently.
func groupByNotification(pending []repository.PendingDelivery) []sweepGroup {
	index := make(map[string]int, len(pending))
	groups := make([]sweepGroup, 0, len(pending))

	for i := range pending {
		row := pending[i]
		if row.Device == nil || row.Notification == nil {
			continue
		}

		target := DeliveryTarget{
			Device:   *row.Device,
			Delivery: row.Delivery,
		}

		pos, ok := index[row.Delivery.NotificationID]
		if !ok {
			index[row.Delivery.NotificationID] = len(groups)
			groups = append(groups, sweepGroup{
				notification: *row.Notification,
				targets:      []DeliveryTarget{target},
			})
			continue
		}
		groups[pos].targets = append(groups[pos].targets, target)
	}

	return groups
}
