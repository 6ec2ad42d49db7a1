package repository

import (
	"context"
	"time"

	"github.com/playrelay/push-dispatch/internal/domain"
	"gorm.io/gorm"
)

// claimLease is how far ClaimForAttempt pushes next_attempt_at into the
// future. If the process dies mid-attempt the row becomes sweepable again
// once the lease expires.
const claimLease = 30 * time.Second

// DeliveryUpdate is a partial update; nil fields are left unchanged. The
// Clear flags null their columns explicitly, which a nil pointer cannot
// express.
type DeliveryUpdate struct {
	Status           *domain.DeliveryStatus
	RetryCount       *int
	ErrorCode        *string
	ErrorMessage     *string
	LastAttemptAt    *time.Time
	LastErrorAt      *time.Time
	NextAttemptAt    *time.Time
	DeliveredAt      *time.Time
	ClearError       bool
	ClearNextAttempt bool
}

// PendingDelivery is one sweepable row with its associations resolved.
// Device is nil when the device row has been deleted since the delivery
// was created.
type PendingDelivery struct {
	Delivery     domain.DeliveryLog
	Device       *domain.Device
	Notification *domain.Notification
}

type DeliveryRepository interface {
	Update(ctx context.Context, id string, patch DeliveryUpdate) error
	// ClaimForAttempt atomically reserves a PENDING row for one attempt by
	// pushing its next_attempt_at forward. It reports false when another
	// worker already claimed the row or its state moved on.
	ClaimForAttempt(ctx context.Context, id string, expectedRetryCount int) (bool, error)
	// FindPending returns up to limit retry-eligible deliveries, oldest
	// created first, with device and notification preloaded.
	FindPending(ctx context.Context, maxAttempts, limit int) ([]PendingDelivery, error)
	ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryLog, error)
}

type GormDeliveryRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db, now: time.Now}
}

func (r *GormDeliveryRepo) Update(ctx context.Context, id string, patch DeliveryUpdate) error {
	fields := map[string]any{}

	if patch.Status != nil {
		fields["status"] = *patch.Status
	}
	if patch.RetryCount != nil {
		fields["retry_count"] = *patch.RetryCount
	}
	if patch.ErrorCode != nil {
		fields["error_code"] = *patch.ErrorCode
	}
	if patch.ErrorMessage != nil {
		fields["error_message"] = *patch.ErrorMessage
	}
	if patch.LastAttemptAt != nil {
		fields["last_attempt_at"] = *patch.LastAttemptAt
	}
	if patch.LastErrorAt != nil {
		fields["last_error_at"] = *patch.LastErrorAt
	}
	if patch.NextAttemptAt != nil {
		fields["next_attempt_at"] = *patch.NextAttemptAt
	}
	if patch.DeliveredAt != nil {
		fields["delivered_at"] = *patch.DeliveredAt
	}
	if patch.ClearError {
		fields["error_code"] = nil
		fields["error_message"] = nil
	}
	if patch.ClearNextAttempt {
		fields["next_attempt_at"] = nil
	}

	if len(fields) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) ClaimForAttempt(ctx context.Context, id string, expectedRetryCount int) (bool, error) {
	now := r.now().UTC()

	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where(
			"id = ? AND status = ? AND retry_count = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			id, domain.DeliveryPending, expectedRetryCount, now,
		).
		Update("next_attempt_at", now.Add(claimLease))
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *GormDeliveryRepo) FindPending(ctx context.Context, maxAttempts, limit int) ([]PendingDelivery, error) {
	now := r.now().UTC()

	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where(
			"status = ? AND retry_count < ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			domain.DeliveryPending, maxAttempts, now,
		).
		Order("created_at ASC").
		Limit(limit).
		Preload("Device").
		Preload("Notification").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	pending := make([]PendingDelivery, 0, len(models))
	for i := range models {
		pending = append(pending, PendingDelivery{
			Delivery:     *deliveryModelToDomain(&models[i]),
			Device:       deviceModelToDomain(models[i].Device),
			Notification: notificationModelToDomain(models[i].Notification),
		})
	}

	return pending, nil
}

func (r *GormDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryLog, error) {
	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}
