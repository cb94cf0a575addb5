package notification

import (
	"context"

	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/protocol"
)

// AlertPublisher is satisfied by queue.Producer
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, notifications []*protocol.AlertNotification) error
}

// KafkaSink forwards alerts to the alerts topic for the notifier service
type KafkaSink struct {
	publisher AlertPublisher
}

// NewKafkaSink creates a new Kafka sink
func NewKafkaSink(publisher AlertPublisher) *KafkaSink {
	return &KafkaSink{publisher: publisher}
}

func (k *KafkaSink) Publish(ctx context.Context, alerts []*models.AlertEvent) error {
	notifications := make([]*protocol.AlertNotification, len(alerts))
	for i, a := range alerts {
		notifications[i] = protocol.NewAlertNotification(a)
	}
	return k.publisher.PublishAlerts(ctx, notifications)
}
