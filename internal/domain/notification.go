package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxFanoutTargets bounds the number of device tokens one notification may target.
const MaxFanoutTargets = 1000

// Notification is an immutable push payload. Custom data is opaque to the
// engine and passed through to the providers as-is.
type Notification struct {
	ID         string
	Title      string
	Body       string
	ImageURL   *string
	CustomData map[string]any
	CreatedAt  time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if n.ImageURL != nil {
		parsed, err := url.Parse(*n.ImageURL)
		if err != nil || !parsed.IsAbs() {
			return fmt.Errorf("%w: imageUrl must be an absolute URL", ErrValidation)
		}
	}
	return nil
}
