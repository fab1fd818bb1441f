package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/router"
)

// NATSConfig configures the JetStream pull consumer.
type NATSConfig struct {
	Stream    string
	Durable   string
	Prefix    string
	BatchSize int
	FetchWait time.Duration
}

// acker is the acknowledgement side of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

type fetched struct {
	subject string
	data    []byte
	msg     acker
}

type puller interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// NATSConsumer pulls batches from a durable JetStream consumer and hands them
// to the router.
type NATSConsumer struct {
	sub    puller
	cfg    NATSConfig
	router BatchRouter
	logger *zap.Logger
}

// NewNATSConsumer ensures the stream exists and binds a durable pull subscription
// to every quoting subject under cfg.Prefix.
func NewNATSConsumer(nc *nats.Conn, cfg NATSConfig, r BatchRouter, logger *zap.Logger) (*NATSConsumer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 2 * time.Second
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	filter := cfg.Prefix + ".>"
	if _, err := js.StreamInfo(cfg.Stream); errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.Stream,
			Subjects:   []string{filter},
			Retention:  nats.WorkQueuePolicy,
			Duplicates: 2 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("add stream %s: %w", cfg.Stream, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stream info %s: %w", cfg.Stream, err)
	}

	sub, err := js.PullSubscribe(filter, cfg.Durable, nats.BindStream(cfg.Stream), nats.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", filter, err)
	}
	return newNATSConsumer(sub, cfg, r, logger), nil
}

func newNATSConsumer(sub puller, cfg NATSConfig, r BatchRouter, logger *zap.Logger) *NATSConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSConsumer{sub: sub, cfg: cfg, router: r, logger: logger.Named("nats_consumer")}
}

// Run fetches and routes batches until ctx is cancelled.
func (c *NATSConsumer) Run(ctx context.Context) error {
	c.logger.Info("nats_consumer.started",
		zap.String("stream", c.cfg.Stream),
		zap.String("durable", c.cfg.Durable),
		zap.Int("batch_size", c.cfg.BatchSize))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msgs, err := c.sub.Fetch(c.cfg.BatchSize, nats.MaxWait(c.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return err
			}
			c.logger.Warn("nats_consumer.fetch_failed", zap.Error(err))
			metrics.IncError("nats_consumer", "fetch_failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		batch := make([]fetched, 0, len(msgs))
		for _, m := range msgs {
			batch = append(batch, fetched{subject: m.Subject, data: m.Data, msg: m})
		}
		if err := c.processBatch(ctx, batch); err != nil {
			c.logger.Error("nats_consumer.batch_aborted", zap.Error(err))
		}
	}
}

// processBatch routes one fetched batch. Undecodable messages are terminated.
// If routing aborts, every message not yet acknowledged is NAKed for redelivery.
func (c *NATSConsumer) processBatch(ctx context.Context, batch []fetched) error {
	deliveries := make([]router.Delivery, 0, len(batch))
	acked := make([]atomic.Bool, len(batch))
	pending := make([]int, 0, len(batch))

	for i, f := range batch {
		msg, err := decodeEvent(c.cfg.Prefix, f.subject, f.data)
		if err != nil {
			c.logger.Warn("nats_consumer.undecodable", zap.String("subject", f.subject), zap.Error(err))
			metrics.IncTransportMessage(f.subject, "undecodable")
			if terr := f.msg.Term(); terr != nil {
				c.logger.Warn("nats_consumer.term_failed", zap.String("subject", f.subject), zap.Error(terr))
			}
			continue
		}
		pending = append(pending, i)
		deliveries = append(deliveries, router.Delivery{
			Message: msg,
			Ack: func() error {
				if err := f.msg.Ack(); err != nil {
					metrics.IncTransportMessage(f.subject, "ack_failed")
					return err
				}
				acked[i].Store(true)
				metrics.IncTransportMessage(f.subject, "ok")
				return nil
			},
		})
	}
	if len(deliveries) == 0 {
		return nil
	}

	err := c.router.RouteBatch(ctx, deliveries)
	if err == nil {
		return nil
	}
	for _, i := range pending {
		if acked[i].Load() {
			continue
		}
		metrics.IncTransportMessage(batch[i].subject, "nak")
		if nerr := batch[i].msg.Nak(); nerr != nil {
			c.logger.Warn("nats_consumer.nak_failed", zap.String("subject", batch[i].subject), zap.Error(nerr))
		}
	}
	return err
}
