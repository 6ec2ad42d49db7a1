package repository

import (
	"context"
	"errors"

	"github.com/playrelay/push-dispatch/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	// CreateWithDeliveries persists the notification plus one PENDING delivery
	// per device in a single transaction. Either everything lands or nothing does.
	CreateWithDeliveries(ctx context.Context, n *domain.Notification, deliveries []*domain.DeliveryLog) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) CreateWithDeliveries(
	ctx context.Context,
	n *domain.Notification,
	deliveries []*domain.DeliveryLog,
) error {
	notificationModel := notificationModelFromDomain(n)
	if notificationModel == nil {
		return domain.ErrValidation
	}

	deliveryModels := make([]DeliveryLogModel, 0, len(deliveries))
	for _, d := range deliveries {
		if model := deliveryModelFromDomain(d); model != nil {
			deliveryModels = append(deliveryModels, *model)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(notificationModel).Error; err != nil {
			return err
		}
		if len(deliveryModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&deliveryModels, 100).Error
	})
	if err != nil {
		return err
	}

	if n != nil {
		*n = *notificationModelToDomain(notificationModel)
	}
	for i := range deliveryModels {
		if i < len(deliveries) && deliveries[i] != nil {
			*deliveries[i] = *deliveryModelToDomain(&deliveryModels[i])
		}
	}

	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}
