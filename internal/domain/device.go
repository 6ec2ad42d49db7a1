package domain

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies the push provider a device token belongs to.
type Platform string

const (
	PlatformIOS     Platform = "IOS"
	PlatformAndroid Platform = "ANDROID"
)

func (p Platform) String() string { return string(p) }

func (p Platform) IsValid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid:
		return true
	}
	return false
}

func ParsePlatformFromString(s string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid platform %q", ErrValidation, s)
	}
	return p, nil
}

// Device is a registered push target. The token is the provider-issued
// registration token and is opaque to this service.
type Device struct {
	ID              string
	Token           string
	Platform        Platform
	PlayerAccountID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (d *Device) Validate() error {
	if strings.TrimSpace(d.Token) == "" {
		return fmt.Errorf("%w: device token is required", ErrValidation)
	}
	if !d.Platform.IsValid() {
		return fmt.Errorf("%w: invalid platform %q", ErrValidation, d.Platform)
	}
	return nil
}
