// Package notify publishes lifecycle events to an external sink without
// ever blocking or failing the business operation that produced them.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Event types published by the engine
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventPayoutCompleted  = "payout.completed"
)

// Event is one published notification
type Event struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// Notifier delivers events fire-and-forget
type Notifier interface {
	Publish(eventType string, payload map[string]interface{})
}

// WebhookNotifier posts events as JSON to a configured URL. Delivery runs
// in a goroutine; failures are logged and dropped. An empty URL degrades to
// log-only mode.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

// NewWebhookNotifier creates a notifier targeting url. Pass an empty url
// for log-only mode (development).
func NewWebhookNotifier(url string, timeout time.Duration, logger *logrus.Logger) *WebhookNotifier {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Publish sends an event and returns immediately
func (n *WebhookNotifier) Publish(eventType string, payload map[string]interface{}) {
	event := Event{
		Type:       eventType,
		OccurredAt: time.Now(),
		Payload:    payload,
	}

	n.logger.WithFields(logrus.Fields{
		"event":   eventType,
		"payload": payload,
	}).Info("Publishing notification event")

	if n.url == "" {
		return
	}

	go n.deliver(event)
}

func (n *WebhookNotifier) deliver(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.WithField("event", event.Type).Warnf("Failed to encode notification: %v", err)
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"event": event.Type,
			"url":   n.url,
		}).Warnf("Failed to deliver notification: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.WithFields(logrus.Fields{
			"event":  event.Type,
			"status": resp.StatusCode,
		}).Warn("Notification sink rejected event")
	}
}
