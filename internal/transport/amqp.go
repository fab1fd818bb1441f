package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/router"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// amqpAcker is the acknowledgement side of an amqp.Delivery.
type amqpAcker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// AMQPConsumer consumes quoting events from one RabbitMQ queue per subject.
type AMQPConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	prefix   string
	prefetch int
	router   BatchRouter
	logger   *zap.Logger
	done     chan struct{}
	slots    chan struct{}
	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// NewAMQPConsumer dials url and opens a channel.
func NewAMQPConsumer(url, prefix string, prefetch int, r BatchRouter, logger *zap.Logger) (*AMQPConsumer, error) {
	conn, channel, err := dial(url)
	if err != nil {
		return nil, err
	}
	return newAMQPConsumer(conn, channel, prefix, prefetch, r, logger), nil
}

func newAMQPConsumer(conn *amqp.Connection, channel *amqp.Channel, prefix string, prefetch int, r BatchRouter, logger *zap.Logger) *AMQPConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AMQPConsumer{
		conn:     conn,
		channel:  channel,
		prefix:   prefix,
		prefetch: prefetch,
		router:   r,
		logger:   logger.Named("amqp_consumer"),
		done:     make(chan struct{}),
	}
	if prefetch > 0 {
		c.slots = make(chan struct{}, prefetch)
	}
	return c
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return conn, channel, nil
}

func declareQueues(ch *amqp.Channel, prefix string) error {
	for _, q := range Subjects(prefix) {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}
	return nil
}

// Start declares the queues and starts one consuming goroutine per queue.
func (c *AMQPConsumer) Start(ctx context.Context) error {
	if c.prefetch > 0 {
		if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	if err := declareQueues(c.channel, c.prefix); err != nil {
		return err
	}

	for _, q := range Subjects(c.prefix) {
		msgs, err := c.channel.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to consume from %s: %w", q, err)
		}
		c.loops.Add(1)
		go func() {
			defer c.loops.Done()
			c.consume(ctx, q, msgs)
		}()
	}
	c.logger.Info("amqp_consumer.started", zap.String("prefix", c.prefix), zap.Int("prefetch", c.prefetch))
	return nil
}

// consume hands every delivery to its own goroutine so a stalled forward never
// holds back the rest of the queue. At most prefetch deliveries are in flight
// across all queues.
func (c *AMQPConsumer) consume(ctx context.Context, queue string, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("amqp_consumer.channel_closed", zap.String("queue", queue))
				return
			}
			if !c.acquire(ctx) {
				_ = d.Nack(false, true)
				return
			}
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer c.release()
				c.handle(ctx, queue, d.Body, &d)
			}()
		}
	}
}

func (c *AMQPConsumer) acquire(ctx context.Context) bool {
	if c.slots == nil {
		return true
	}
	select {
	case c.slots <- struct{}{}:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *AMQPConsumer) release() {
	if c.slots != nil {
		<-c.slots
	}
}

// handle routes one delivery as a batch of one. Undecodable bodies are dropped;
// a routing fault requeues the delivery.
func (c *AMQPConsumer) handle(ctx context.Context, queue string, body []byte, d amqpAcker) {
	msg, err := decodeEvent(c.prefix, queue, body)
	if err != nil {
		c.logger.Warn("amqp_consumer.undecodable", zap.String("queue", queue), zap.Error(err))
		metrics.IncTransportMessage(queue, "undecodable")
		_ = d.Nack(false, false)
		return
	}

	acked := false
	err = c.router.RouteBatch(ctx, []router.Delivery{{
		Message: msg,
		Ack: func() error {
			if err := d.Ack(false); err != nil {
				return err
			}
			acked = true
			metrics.IncTransportMessage(queue, "ok")
			return nil
		},
	}})
	if err != nil && !acked {
		c.logger.Error("amqp_consumer.route_failed", zap.String("queue", queue), zap.Error(err))
		metrics.IncTransportMessage(queue, "requeued")
		_ = d.Nack(false, true)
	}
}

// Close stops the consuming goroutines, waits for in-flight deliveries to
// settle and closes the connection.
func (c *AMQPConsumer) Close() error {
	close(c.done)
	c.loops.Wait()
	c.inflight.Wait()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// AMQPPublisher publishes quoting events to RabbitMQ queues named by subject.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	prefix  string
	service string
}

// NewAMQPPublisher dials url and declares the quoting queues.
func NewAMQPPublisher(url, prefix, service string) (*AMQPPublisher, error) {
	conn, channel, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := declareQueues(channel, prefix); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, channel: channel, prefix: prefix, service: service}, nil
}

// PublishEvent publishes ev as a persistent message on its subject queue.
func (p *AMQPPublisher) PublishEvent(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	queue := Subject(p.prefix, ev.Type, ev.Action)

	body, err := json.Marshal(ev)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	start := time.Now()
	err = p.channel.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     ev.ID,
			CorrelationId: ev.RequestID,
			AppId:         p.service,
			Timestamp:     ev.Timestamp,
			Body:          body,
		},
	)
	metrics.ObserveDuration(metrics.TransportPublishLatency, start, queue)
	if err != nil {
		metrics.IncTransportPublishError(queue)
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
