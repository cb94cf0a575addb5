package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/protocol"
)

// MessageSource is the consuming side of a topic
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// DeliverFunc hands a batch of alerts to a notification channel
type DeliverFunc func(ctx context.Context, alerts []*models.AlertEvent) error

// Dispatcher groups consumed alerts into batches and delivers each batch as
// one digest. Offsets are committed only after a successful delivery. A
// failed batch is held and retried with backoff before any newer message is
// read, so a later commit can never cover an undelivered alert.
type Dispatcher struct {
	source        MessageSource
	deliver       DeliverFunc
	batchSize     int
	flushInterval time.Duration
	retryDelay    time.Duration
	logger        *slog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(source MessageSource, deliver DeliverFunc, batchSize int, flushInterval time.Duration, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	return &Dispatcher{
		source:        source,
		deliver:       deliver,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retryDelay:    time.Second,
		logger:        logger.With("component", "dispatcher"),
	}
}

// Run consumes until ctx is cancelled, then makes one last attempt at
// whatever is pending
func (d *Dispatcher) Run(ctx context.Context) error {
	msgCh := make(chan kafka.Message, d.batchSize)
	go func() {
		defer close(msgCh)
		for {
			msg, err := d.source.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Error("Consumer error", "error", err)
				continue
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	var (
		batch []kafka.Message
		retry <-chan time.Time
		delay = d.retryDelay
	)

	flushPending := func() {
		if err := d.flush(ctx, batch); err != nil {
			d.logger.Warn("Holding alert batch for retry",
				"messages", len(batch),
				"delay", delay,
				"error", err)
			retry = time.After(delay)
			delay = min(delay*2, d.flushInterval)
			return
		}
		batch = nil
		retry = nil
		delay = d.retryDelay
	}

	for {
		in := msgCh
		if retry != nil {
			// No new messages until the held batch is delivered
			in = nil
		}

		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := d.flush(context.WithoutCancel(ctx), batch); err != nil {
					d.logger.Error("Pending alerts left uncommitted", "messages", len(batch), "error", err)
				}
			}
			return nil

		case <-ticker.C:
			if len(batch) > 0 && retry == nil {
				flushPending()
			}

		case <-retry:
			flushPending()

		case msg, ok := <-in:
			if !ok {
				msgCh = nil
				continue
			}
			batch = append(batch, msg)
			if len(batch) >= d.batchSize {
				flushPending()
			}
		}
	}
}

// flush delivers batch and commits its offsets. An error means nothing was
// delivered and the batch must be kept.
func (d *Dispatcher) flush(ctx context.Context, batch []kafka.Message) error {
	alerts := make([]*models.AlertEvent, 0, len(batch))
	for _, msg := range batch {
		n, err := protocol.DecodeAlertNotification(msg.Value)
		if err != nil {
			// Undecodable messages are committed with the batch and dropped
			d.logger.Warn("Dropping malformed alert message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
			continue
		}
		alerts = append(alerts, n.Event())
	}

	if len(alerts) > 0 {
		if err := d.deliver(ctx, alerts); err != nil {
			return fmt.Errorf("deliver %d alerts: %w", len(alerts), err)
		}
	}

	// A lost commit is covered by the next batch's higher offset, so it is
	// not worth redelivering a digest that already went out
	if err := d.source.Commit(ctx, batch...); err != nil {
		d.logger.Error("Failed to commit offsets", "error", err)
		return nil
	}
	d.logger.Info("Delivered alert batch", "messages", len(batch), "alerts", len(alerts))
	return nil
}
