// Package consumer reads the couchbase message log back. Each pull leases the
// next batch of a topic shard for a subscription, hands the messages to a
// handler and advances the subscription cursor past what was handled.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pubcompat/internal/pub"
	"pubcompat/internal/validator"
)

type Consumer struct {
	controller pub.Controller
	handler    pub.MessageHandler
	logger     *zap.Logger
	batchSize  int
}

func NewConsumer(controller pub.Controller, handler pub.MessageHandler, logger *zap.Logger, batchSize int) (*Consumer, error) {
	c := Consumer{
		controller: controller,
		handler:    handler,
		logger:     logger,
		batchSize:  batchSize,
	}

	if err := validator.Validate("consumer", c.controller, c.handler, c.logger, c.batchSize); err != nil {
		return nil, fmt.Errorf("failed to validate consumer deps: %w", err)
	}
	c.logger = c.logger.Named("consumer")

	return &c, nil
}

// Pull handles the next batch of sub on a topic shard and returns how many
// messages were handled. A message whose handler fails is released for
// redelivery and the cursor stops in front of it.
func (c *Consumer) Pull(ctx context.Context, topic, sub string, shard int) (int, error) {
	logger := c.logger.With(zap.String("topic", topic), zap.String("sub", sub), zap.Int("shard", shard))

	offset, err := c.controller.GetCursor(ctx, topic, sub, shard)
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	msgs, err := c.controller.LoadMessages(ctx, topic, shard, offset, c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	leased := make([]bool, len(msgs))
	for i, msg := range msgs {
		err := c.controller.InsertLease(ctx, sub, msg.ID, msg.Offset)
		switch {
		case err == nil:
			leased[i] = true
		case errors.Is(err, gocb.ErrDocumentExists):
		default:
			return 0, fmt.Errorf("failed to insert lease for message %s: %w", msg.ID, err)
		}
	}

	handled := make([]bool, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.batchSize/2, 1))
	for i, msg := range msgs {
		if !leased[i] {
			continue
		}

		g.Go(func() error {
			if err := c.handler(gctx, msg); err != nil {
				logger.Warn("handler failed, releasing message", zap.String("messageId", msg.ID), zap.Error(err))
				if err := c.controller.DeleteLease(gctx, sub, msg.ID); err != nil {
					return fmt.Errorf("failed to release message %s: %w", msg.ID, err)
				}
				return nil
			}

			if err := c.controller.DeleteLease(gctx, sub, msg.ID); err != nil {
				return fmt.Errorf("failed to delete lease for message %s: %w", msg.ID, err)
			}
			handled[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		const msg = "failed to process messages"
		logger.Error(msg, zap.Error(err))
		return 0, fmt.Errorf(msg+": %w", err)
	}

	var count, prefix int
	for i := range msgs {
		if handled[i] {
			count++
		}
	}
	for prefix < len(msgs) && handled[prefix] {
		prefix++
	}

	if prefix > 0 {
		last := msgs[prefix-1]
		if err := c.controller.CommitCursor(topic, sub, shard, last.Offset+1); err != nil {
			return count, fmt.Errorf("failed to commit cursor for topic %s sub %s shard %d: %w", topic, sub, shard, err)
		}
		logger.Debug("cursor committed", zap.Uint64("offset", last.Offset+1))
	}

	logger.Debug("pulled", zap.Int("loaded", len(msgs)), zap.Int("handled", count))

	return count, nil
}

// Ack releases the lease on msg and moves the cursor of sub past it.
func (c *Consumer) Ack(ctx context.Context, sub string, msg pub.Message) error {
	if err := c.controller.DeleteLease(ctx, sub, msg.ID); err != nil {
		return fmt.Errorf("failed to delete lease for message %s: %w", msg.ID, err)
	}

	if err := c.controller.CommitCursor(msg.Topic, sub, msg.Shard, msg.Offset+1); err != nil {
		return fmt.Errorf("failed to commit cursor for topic %s sub %s shard %d: %w", msg.Topic, sub, msg.Shard, err)
	}

	return nil
}
