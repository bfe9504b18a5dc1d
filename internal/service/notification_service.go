package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/rmf-intake/internal/config"
	"github.com/spec-kit/rmf-intake/internal/events"
)

// NotificationService delivers ticket events to the configured webhook.
// Created and status-changed events are posted; the rest are only logged.
type NotificationService struct {
	client *resty.Client
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.WebhookTimeout()).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "rmf-intake-notifier")
	return &NotificationService{
		client: client,
		logger: logger,
		cfg:    cfg,
	}
}

// Events lists the event types the service wants to see.
func (n *NotificationService) Events() []events.EventType {
	return []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketRemarkAdded,
		events.EventTicketFileReplaced,
		events.EventTicketDeleted,
	}
}

// Deliver handles one event. It returns an error only when the webhook
// rejected or could not receive it.
func (n *NotificationService) Deliver(ctx context.Context, event events.Event) error {
	n.logger.Info("ticket event",
		zap.String("event_type", string(event.Type)),
		zap.String("control_number", event.ControlNumber),
		zap.Any("payload", event.Payload))

	switch event.Type {
	case events.EventTicketCreated, events.EventTicketStatusChanged:
		return n.postWebhook(ctx, event)
	}
	return nil
}

func (n *NotificationService) postWebhook(ctx context.Context, event events.Event) error {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" {
		return nil
	}
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-RMF-Event", string(event.Type)).
		SetBody(event).
		Post(url)
	if err != nil {
		return fmt.Errorf("post webhook for %s: %w", event.ControlNumber, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook for %s returned %d", event.ControlNumber, resp.StatusCode())
	}
	n.logger.Debug("webhook delivered",
		zap.String("event_type", string(event.Type)),
		zap.String("control_number", event.ControlNumber),
		zap.Int("status_code", resp.StatusCode()))
	return nil
}
