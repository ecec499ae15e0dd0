package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"booking-service/internal/booking/app"
	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/util"
)

const consumerTag = "booking-service"

// DeliverySource starts a manual-ack consumer; mq.Connection implements it.
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// EventConsumer is the single ingestion lane. Deliveries are handled one at a
// time in arrival order and acknowledged only after their handler finished
// or the message was dead-lettered.
type EventConsumer struct {
	source      DeliverySource
	handlers    map[string]app.EventHandler
	deadLetters domain.DeadLetterRepository
	backoff     util.Backoff
	logger      *util.Logger
}

func NewEventConsumer(source DeliverySource, handlers map[string]app.EventHandler, deadLetters domain.DeadLetterRepository, backoff util.Backoff, logger *util.Logger) *EventConsumer {
	return &EventConsumer{
		source:      source,
		handlers:    handlers,
		deadLetters: deadLetters,
		backoff:     backoff,
		logger:      logger,
	}
}

// Start consumes until ctx is done, re-subscribing whenever the delivery
// channel closes underneath it.
func (c *EventConsumer) Start(ctx context.Context) {
	const instance = "EventConsumer.Start"
	retry := time.Second

	for {
		msgs, err := c.source.Consume(consumerTag)
		if err != nil {
			c.logger.Warn(instance, fmt.Sprintf("consume failed, retrying in %s: %v", retry, err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			retry = min(retry*2, 30*time.Second)
			continue
		}
		retry = time.Second
		c.logger.OK(instance, "event consumer started")

		if !c.drain(ctx, msgs) {
			c.logger.Info(instance, "event consumer stopped")
			return
		}
		c.logger.Warn(instance, "delivery channel closed, re-subscribing")
	}
}

// drain handles deliveries until the channel closes (true) or ctx ends (false).
func (c *EventConsumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err() == nil
			}
			c.Handle(ctx, msg)
		}
	}
}

// Handle dispatches one delivery by routing key and settles it.
func (c *EventConsumer) Handle(ctx context.Context, msg amqp.Delivery) {
	instance := "EventConsumer." + msg.RoutingKey

	handler, ok := c.handlers[msg.RoutingKey]
	if !ok {
		c.deadLetter(ctx, msg, util.Permanent(fmt.Errorf("no handler for topic %q", msg.RoutingKey)), 1)
		return
	}

	attempts := 0
	err := util.Retry(ctx, c.backoff, func(attempt int) error {
		attempts = attempt
		err := handler(ctx, msg.Body)
		if err != nil && !util.IsPermanent(err) {
			c.logger.Warn(instance, fmt.Sprintf("attempt %d/%d failed: %v", attempt, c.backoff.Attempts, err))
		}
		return err
	})

	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error(instance, fmt.Errorf("ack: %w", ackErr))
		}
	case ctx.Err() != nil && !util.IsPermanent(err):
		// Shutting down mid-retry: hand the message back for redelivery.
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logger.Error(instance, fmt.Errorf("requeue: %w", nackErr))
		}
	default:
		c.deadLetter(ctx, msg, err, attempts)
	}
}

// deadLetter records a message that will not be retried and acks it. If the
// record cannot be written the message is rejected without requeue so the
// broker's dead-letter exchange keeps it.
func (c *EventConsumer) deadLetter(ctx context.Context, msg amqp.Delivery, cause error, attempts int) {
	instance := "EventConsumer.deadLetter"

	letter := domain.DeadLetter{
		ID:       uuid.NewString(),
		Topic:    msg.RoutingKey,
		Body:     msg.Body,
		Error:    cause.Error(),
		Attempts: attempts,
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.deadLetters.SaveDeadLetter(saveCtx, letter); err != nil {
		c.logger.Error(instance, errors.Join(fmt.Errorf("dead letter for %s not stored", msg.RoutingKey), err))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error(instance, fmt.Errorf("nack: %w", nackErr))
		}
		return
	}

	c.logger.Warn(instance, fmt.Sprintf("%s message dead-lettered as %s after %d attempt(s): %v", msg.RoutingKey, letter.ID, attempts, cause))
	if err := msg.Ack(false); err != nil {
		c.logger.Error(instance, fmt.Errorf("ack: %w", err))
	}
}
