package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the lifecycle state of one delivery.
// PENDING is both the initial state and the wait-for-retry state;
// SUCCESS and FAILED are terminal.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySuccess DeliveryStatus = "SUCCESS"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySuccess, DeliveryFailed:
		return true
	}
	return false
}

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryLog tracks one (notification, device) pairing through its attempts.
// Rows are created PENDING with a zero retry count and are mutated only by
// the dispatch engine; they are never deleted, even after the device is.
type DeliveryLog struct {
	ID             string
	NotificationID string
	DeviceID       string
	Status         DeliveryStatus
	RetryCount     int
	ErrorCode      *string
	ErrorMessage   *string
	LastAttemptAt  *time.Time
	LastErrorAt    *time.Time
	NextAttemptAt  *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
