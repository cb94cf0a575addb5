// Package notification delivers alert events to people and other services.
package notification

import (
	"context"
	"errors"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Sink delivers a batch of alerts
type Sink interface {
	Publish(ctx context.Context, alerts []*models.AlertEvent) error
}

// Multi fans a batch out to every sink. All sinks are tried; failures are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, alerts []*models.AlertEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
