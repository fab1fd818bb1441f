package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/pkg/logger"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// msgPublisher is the part of nats.JetStreamContext the publisher uses.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher publishes inbound FSPIOP events to JetStream for the consumers.
type Publisher struct {
	nc      *nats.Conn
	js      msgPublisher
	prefix  string
	service string
}

// NewPublisher creates a JetStream publisher on nc.
func NewPublisher(nc *nats.Conn, prefix, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, prefix: prefix, service: service}, nil
}

// PublishEvent serializes ev and publishes it on {prefix}.{type}.{action}.
// The event id doubles as the JetStream message id so retried publishes are deduplicated.
func (p *Publisher) PublishEvent(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	subject := Subject(p.prefix, ev.Type, ev.Action)

	data, err := json.Marshal(ev)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_id", ev.ID,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{ev.Type},
			"correlation_id": []string{ev.RequestID},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.MsgId(ev.ID), nats.Context(ctx))
	metrics.ObserveDuration(metrics.TransportPublishLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_id", ev.ID,
			"error", err,
		)
		metrics.IncTransportPublishError(subject)
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_id", ev.ID,
	)
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
