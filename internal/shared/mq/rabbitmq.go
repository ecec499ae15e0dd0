package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"booking-service/internal/shared/models"
	"booking-service/internal/shared/util"
)

var (
	ErrClosed = errors.New("rabbitmq connection closed")
	ErrNacked = errors.New("rabbitmq broker rejected message")
)

// Connection owns the AMQP connection plus one channel for consuming and one
// for publishing, and re-dials with exponential backoff when the broker drops.
type Connection struct {
	url      string
	cfg      models.RabbitMQConfig
	bindings []string
	log      *util.Logger

	mu     sync.RWMutex
	conn   *amqp091.Connection
	consCh *amqp091.Channel
	pubCh  *amqp091.Channel
	done   chan struct{}
	once   sync.Once
}

func URL(cfg *models.RabbitMQConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.User, cfg.Password, cfg.Host, cfg.Port)
}

// ConnectToRMQ dials the broker, declares the topology and binds the service
// queue to every routing key in bindings.
func ConnectToRMQ(ctx context.Context, cfg *models.RabbitMQConfig, bindings []string, log *util.Logger) (*Connection, error) {
	c := &Connection{
		url:      URL(cfg),
		cfg:      *cfg,
		bindings: bindings,
		log:      log,
		done:     make(chan struct{}),
	}

	backoff := util.Backoff{Attempts: 10, Initial: 3 * time.Second, Max: 3 * time.Second}
	err := util.Retry(ctx, backoff, func(attempt int) error {
		if err := c.dial(); err != nil {
			log.Warn("rabbitmq", fmt.Sprintf("not ready, retrying... (%d/%d): %v", attempt, backoff.Attempts, err))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	go c.monitorConnection()
	log.OK("rabbitmq", "connected to RabbitMQ")
	return c, nil
}

func (c *Connection) dial() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return err
	}

	consCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := DeclareTopology(consCh, &c.cfg, c.bindings); err != nil {
		conn.Close()
		return err
	}
	if c.cfg.Prefetch > 0 {
		if err := consCh.Qos(c.cfg.Prefetch, 0, false); err != nil {
			conn.Close()
			return fmt.Errorf("set qos: %w", err)
		}
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := pubCh.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	c.mu.Lock()
	c.conn, c.consCh, c.pubCh = conn, consCh, pubCh
	c.mu.Unlock()
	return nil
}

// DeclareTopology declares the topic exchange, the dead-letter exchange and
// queue, and the durable service queue bound to routingKeys.
func DeclareTopology(ch *amqp091.Channel, cfg *models.RabbitMQConfig, routingKeys []string) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	var args amqp091.Table
	if cfg.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter exchange: %w", err)
		}
		if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(cfg.DeadLetterQueue, "", cfg.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind dead-letter queue: %w", err)
		}
		args = amqp091.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(cfg.Queue, key, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func (c *Connection) monitorConnection() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notifyClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
		select {
		case <-c.done:
			return
		case err := <-notifyClose:
			if err == nil {
				return
			}
			c.log.Warn("rabbitmq", fmt.Sprintf("connection lost: %v. Attempting to reconnect...", err))
		}

		backoff := util.Backoff{Attempts: 1 << 30, Initial: 5 * time.Second, Max: 60 * time.Second}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := util.Retry(ctx, backoff, func(attempt int) error {
			if err := c.dial(); err != nil {
				c.log.Warn("rabbitmq", fmt.Sprintf("reconnection attempt %d failed: %v", attempt, err))
				return err
			}
			return nil
		})
		cancel()
		if err != nil {
			return
		}
		c.log.OK("rabbitmq", "successfully reconnected to RabbitMQ")
	}
}

// Consume starts a manual-ack consumer on the service queue using the
// current channel. Callers re-invoke it after the delivery channel closes.
func (c *Connection) Consume(consumerTag string) (<-chan amqp091.Delivery, error) {
	c.mu.RLock()
	ch := c.consCh
	c.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		return nil, ErrClosed
	}
	return ch.Consume(c.cfg.Queue, consumerTag, false, false, false, false, nil)
}

func (c *Connection) publishChannel() (*amqp091.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pubCh == nil || c.pubCh.IsClosed() {
		return nil, ErrClosed
	}
	return c.pubCh, nil
}

func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn == nil || c.conn.IsClosed()
}

func (c *Connection) Close() error {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type Publisher struct {
	conn *Connection
}

func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{conn: conn}
}

// Publish sends body as a persistent JSON message and waits for the broker to
// confirm it. messageKey travels in the "key" header so consumers can
// partition or deduplicate by record id.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey, messageKey string, body []byte) error {
	ch, err := p.conn.publishChannel()
	if err != nil {
		return err
	}
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Headers:      amqp091.Table{"key": messageKey},
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	if conf == nil {
		return fmt.Errorf("publish %s: channel not in confirm mode", routingKey)
	}
	return awaitConfirm(ctx, conf, routingKey)
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func awaitConfirm(ctx context.Context, conf confirmation, routingKey string) error {
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: %w", routingKey, ErrNacked)
	}
	return nil
}
