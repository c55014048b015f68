package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// receiveBackoff is the pause after a failed queue poll.
const receiveBackoff = time.Second

// Consumer drives the fan-out engine: it polls the delivery queue in
// batches and processes each record independently. A record is
// acknowledged only when processing succeeds (or partially succeeds for a
// group fan-out); failed records are left for the transport to redeliver.
type Consumer struct {
	svc    *service
	batch  int
	logger *slog.Logger
}

// Consumer returns the fan-out consumer for this service.
func (s *service) Consumer() *Consumer {
	return &Consumer{
		svc:    s,
		batch:  s.opts.consumerBatchSize,
		logger: s.logger,
	}
}

// Run polls the queue until the context is cancelled. Receive errors are
// logged and retried after a short pause; they do not stop the loop. The
// same pause applies after an empty or fully-failed batch so transports
// whose Receive returns immediately do not spin.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		acked, err := c.ProcessOnce(ctx)
		if err != nil {
			if errors.Is(err, ErrNotConnected) || errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.Error("queue poll failed", "error", err)
		}
		if err == nil && acked > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(receiveBackoff):
		}
	}
}

// ProcessOnce receives one batch and processes each record, returning the
// number of records acknowledged. One record's failure does not abort the
// rest of the batch.
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	if err := c.svc.checkConnected(); err != nil {
		return 0, err
	}

	records, err := c.svc.queue.Receive(ctx, c.batch)
	if err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}

	acked := 0
	for _, rec := range records {
		err := c.svc.processRecord(ctx, rec)

		var partial *PartialFanoutError
		switch {
		case errors.As(err, &partial):
			// The message record exists and some members got it; redelivery
			// would duplicate their deliveries without helping the failed
			// ones. Ack and surface the gap through the log.
			c.logger.Warn("partial group fan-out",
				"queue_id", rec.ID,
				"message_id", partial.MessageID,
				"group_id", partial.GroupID,
				"delivered", len(partial.DeliveredTo),
				"failed", len(partial.FailedMembers),
			)
			fallthrough
		case err == nil:
			if ackErr := c.svc.queue.Ack(ctx, rec.ID); ackErr != nil {
				c.logger.Error("ack failed", "queue_id", rec.ID, "error", ackErr)
				continue
			}
			acked++
		default:
			c.logger.Error("fan-out record failed, leaving for redelivery",
				"queue_id", rec.ID,
				"deliveries", rec.Deliveries,
				"error", err,
			)
		}
	}
	return acked, nil
}
