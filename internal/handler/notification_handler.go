package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/playrelay/push-dispatch/internal/domain"
	"github.com/playrelay/push-dispatch/internal/service"
)

type DispatchService interface {
	CreateAndDispatch(ctx context.Context, input service.CreateInput) (*service.CreateResult, error)
	GetNotification(ctx context.Context, id string) (*service.NotificationStatus, error)
}

type NotificationHandler struct {
	service DispatchService
}

func NewNotificationHandler(service DispatchService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)

	return nil
}

type createNotificationRequest struct {
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	ImageURL   *string        `json:"imageUrl"`
	CustomData map[string]any `json:"customData"`
	Tokens     []string       `json:"tokens"`
}

type deliveryResponse struct {
	DeviceID      string  `json:"deviceId"`
	Status        string  `json:"status"`
	RetryCount    int     `json:"retryCount"`
	ErrorCode     *string `json:"errorCode,omitempty"`
	ErrorMessage  *string `json:"errorMessage,omitempty"`
	NextAttemptAt *string `json:"nextAttemptAt,omitempty"`
	DeliveredAt   *string `json:"deliveredAt,omitempty"`
}

type createNotificationResponse struct {
	NotificationID string             `json:"notificationId"`
	DeliveryLogs   []deliveryResponse `json:"deliveryLogs"`
}

type getNotificationResponse struct {
	NotificationID string             `json:"notificationId"`
	Title          string             `json:"title"`
	Body           string             `json:"body"`
	ImageURL       *string            `json:"imageUrl,omitempty"`
	CustomData     map[string]any     `json:"customData,omitempty"`
	CreatedAt      string             `json:"createdAt"`
	DeliveryLogs   []deliveryResponse `json:"deliveryLogs"`
}

// CreateNotification accepts a notification plus target tokens and responds
// as soon as the PENDING delivery rows are committed; provider sends happen
// in the background.
func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.CreateAndDispatch(c.Context(), service.CreateInput{
		Title:      req.Title,
		Body:       req.Body,
		ImageURL:   req.ImageURL,
		CustomData: req.CustomData,
		Tokens:     req.Tokens,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(createNotificationResponse{
		NotificationID: result.Notification.ID,
		DeliveryLogs:   deliveryResponses(result.Deliveries),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "notification id must be a uuid")
	}

	status, err := h.service.GetNotification(c.Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(getNotificationResponse{
		NotificationID: status.Notification.ID,
		Title:          status.Notification.Title,
		Body:           status.Notification.Body,
		ImageURL:       status.Notification.ImageURL,
		CustomData:     status.Notification.CustomData,
		CreatedAt:      status.Notification.CreatedAt.Format(time.RFC3339),
		DeliveryLogs:   deliveryResponses(status.Deliveries),
	})
}

func deliveryResponses(deliveries []domain.DeliveryLog) []deliveryResponse {
	out := make([]deliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		d := deliveries[i]
		resp := deliveryResponse{
			DeviceID:     d.DeviceID,
			Status:       d.Status.String(),
			RetryCount:   d.RetryCount,
			ErrorCode:    d.ErrorCode,
			ErrorMessage: d.ErrorMessage,
		}
		if d.NextAttemptAt != nil {
			v := d.NextAttemptAt.Format(time.RFC3339)
			resp.NextAttemptAt = &v
		}
		if d.DeliveredAt != nil {
			v := d.DeliveredAt.Format(time.RFC3339)
			resp.DeliveredAt = &v
		}
		out = append(out, resp)
	}
	return out
}
