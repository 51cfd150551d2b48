// Package notifications fans operational events out to an SNS topic:
// budget thresholds, provider health transitions and quota denials.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type NotificationType string

const (
	NotificationBudgetWarning  NotificationType = "budget_warning"
	NotificationBudgetCritical NotificationType = "budget_critical"
	NotificationBudgetExceeded NotificationType = "budget_exceeded"
	NotificationProviderDown   NotificationType = "provider_down"
	NotificationProviderUp     NotificationType = "provider_up"
	NotificationQuotaDenied    NotificationType = "quota_denied"
)

// Severity groups notification types for attribute-based topic filtering.
func (t NotificationType) Severity() string {
	switch t {
	case NotificationBudgetExceeded, NotificationProviderDown:
		return "critical"
	case NotificationBudgetCritical, NotificationQuotaDenied:
		return "high"
	default:
		return "info"
	}
}

type Notification struct {
	Type      NotificationType       `json:"type"`
	Provider  string                 `json:"provider,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// SNSNotifier publishes notifications as JSON with Type, Severity and
// Provider message attributes so subscribers can filter.
type SNSNotifier struct {
	client   *sns.Client
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithConfig(cfg, topicArn), nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicArn: topicArn}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := map[string]snstypes.MessageAttributeValue{
		"Type": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(notification.Type)),
		},
		"Severity": {
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.Type.Severity()),
		},
	}
	if notification.Provider != "" {
		attrs["Provider"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.Provider),
		}
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(n.topicArn),
		Subject:           aws.String(fmt.Sprintf("[lingo-gateway] %s", notification.Type)),
		Message:           aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent",
		"type", notification.Type,
		"severity", notification.Type.Severity(),
		"provider", notification.Provider,
	)
	return nil
}

// InMemoryNotifier records notifications for tests.
type InMemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *InMemoryNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}
