package repository

import (
	"context"
	"errors"

	"github.com/playrelay/push-dispatch/internal/domain"
	"gorm.io/gorm"
)

type DeviceRepository interface {
	// FindByTokens returns exactly the subset of devices whose token matches;
	// the caller detects unknown tokens by set difference.
	FindByTokens(ctx context.Context, tokens []string) ([]domain.Device, error)
	GetByToken(ctx context.Context, token string) (*domain.Device, error)
	// DeleteByToken is idempotent: deleting an absent device is not an error.
	DeleteByToken(ctx context.Context, token string) error
}

type GormDeviceRepo struct {
	db *gorm.DB
}

func NewGormDeviceRepo(db *gorm.DB) *GormDeviceRepo {
	return &GormDeviceRepo{db: db}
}

func (r *GormDeviceRepo) FindByTokens(ctx context.Context, tokens []string) ([]domain.Device, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	var models []DeviceModel
	err := r.db.WithContext(ctx).
		Where("token IN ?", tokens).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	devices := make([]domain.Device, 0, len(models))
	for i := range models {
		devices = append(devices, *deviceModelToDomain(&models[i]))
	}

	return devices, nil
}

func (r *GormDeviceRepo) GetByToken(ctx context.Context, token string) (*domain.Device, error) {
	var model DeviceModel
	err := r.db.WithContext(ctx).First(&model, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deviceModelToDomain(&model), nil
}

func (r *GormDeviceRepo) DeleteByToken(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&DeviceModel{}).Error
}
