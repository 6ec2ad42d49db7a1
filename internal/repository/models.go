package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/playrelay/push-dispatch/internal/domain"
)

// JSONMap persists opaque key-value custom data as a jsonb column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}

	return json.Unmarshal(raw, m)
}

// DeviceModel is the persistence model for the devices table.
type DeviceModel struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	Token           string          `gorm:"type:text;not null;uniqueIndex:idx_devices_token"`
	Platform        domain.Platform `gorm:"type:varchar(10);not null"`
	PlayerAccountID *string         `gorm:"type:varchar(255)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (DeviceModel) TableName() string {
	return "devices"
}

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	Title      string  `gorm:"type:varchar(255);not null"`
	Body       string  `gorm:"type:text;not null"`
	ImageURL   *string `gorm:"type:text"`
	CustomData JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryLogModel is the persistence model for delivery_logs. The device and
// notification associations are loaded for the retry sweep; no foreign key
// constraints are created so delivery history survives device deletion.
type DeliveryLogModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	NotificationID string                `gorm:"type:uuid;not null"`
	DeviceID       string                `gorm:"type:uuid;not null"`
	Status         domain.DeliveryStatus `gorm:"type:varchar(10);not null"`
	RetryCount     int                   `gorm:"not null;default:0"`
	ErrorCode      *string               `gorm:"type:varchar(64)"`
	ErrorMessage   *string               `gorm:"type:text"`
	LastAttemptAt  *time.Time
	LastErrorAt    *time.Time
	NextAttemptAt  *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Device       *DeviceModel       `gorm:"foreignKey:DeviceID"`
	Notification *NotificationModel `gorm:"foreignKey:NotificationID"`
}

func (DeliveryLogModel) TableName() string {
	return "delivery_logs"
}

func deviceModelFromDomain(d *domain.Device) *DeviceModel {
	if d == nil {
		return nil
	}

	return &DeviceModel{
		ID:              d.ID,
		Token:           d.Token,
		Platform:        d.Platform,
		PlayerAccountID: d.PlayerAccountID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func deviceModelToDomain(m *DeviceModel) *domain.Device {
	if m == nil {
		return nil
	}

	return &domain.Device{
		ID:              m.ID,
		Token:           m.Token,
		Platform:        m.Platform,
		PlayerAccountID: m.PlayerAccountID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:         n.ID,
		Title:      n.Title,
		Body:       n.Body,
		ImageURL:   n.ImageURL,
		CustomData: JSONMap(n.CustomData),
		CreatedAt:  n.CreatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:         m.ID,
		Title:      m.Title,
		Body:       m.Body,
		ImageURL:   m.ImageURL,
		CustomData: map[string]any(m.CustomData),
		CreatedAt:  m.CreatedAt,
	}
}

func deliveryModelFromDomain(d *domain.DeliveryLog) *DeliveryLogModel {
	if d == nil {
		return nil
	}

	return &DeliveryLogModel{
		ID:             d.ID,
		NotificationID: d.NotificationID,
		DeviceID:       d.DeviceID,
		Status:         d.Status,
		RetryCount:     d.RetryCount,
		ErrorCode:      d.ErrorCode,
		ErrorMessage:   d.ErrorMessage,
		LastAttemptAt:  d.LastAttemptAt,
		LastErrorAt:    d.LastErrorAt,
		NextAttemptAt:  d.NextAttemptAt,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryLog{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		DeviceID:       m.DeviceID,
		Status:         m.Status,
		RetryCount:     m.RetryCount,
		ErrorCode:      m.ErrorCode,
		ErrorMessage:   m.ErrorMessage,
		LastAttemptAt:  m.LastAttemptAt,
		LastErrorAt:    m.LastErrorAt,
		NextAttemptAt:  m.NextAttemptAt,
		DeliveredAt:    m.DeliveredAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
