package router

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/quoting-switch/internal/flows"
	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/internal/workers"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// ErrDeliveryFault marks a transport-level failure that aborts the current batch.
var ErrDeliveryFault = errors.New("router: delivery fault")

// Handler is a flow state machine for one resource.
type Handler interface {
	HandlePost(ctx context.Context, r *flows.Request) error
	HandlePut(ctx context.Context, r *flows.Request) error
	HandleError(ctx context.Context, r *flows.Request) error
	HandleGet(ctx context.Context, r *flows.Request) error
}

// Delivery is a transport message together with its acknowledgement.
type Delivery struct {
	Message model.Message
	Ack     func() error
}

// Router dispatches inbound events to the flow for their type and action.
type Router struct {
	handlers map[string]Handler
	pool     *workers.Pool
	tracer   trace.Tracer
	logger   *zap.Logger
}

func New(pool *workers.Pool, tracer trace.Tracer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	return &Router{
		handlers: make(map[string]Handler),
		pool:     pool,
		tracer:   tracer,
		logger:   logger.Named("router"),
	}
}

// Register binds the flow for an event type (model.TypeQuote, ...).
func (r *Router) Register(eventType string, h Handler) {
	r.handlers[eventType] = h
}

type operation func(ctx context.Context, req *flows.Request) error

func (r *Router) lookup(ev model.Event) (operation, bool) {
	h, ok := r.handlers[ev.Type]
	if !ok {
		return nil, false
	}
	switch ev.Action {
	case model.ActionPost:
		return h.HandlePost, true
	case model.ActionPut:
		if ev.IsError() {
			return h.HandleError, true
		}
		return h.HandlePut, true
	case model.ActionGet:
		return h.HandleGet, true
	default:
		return nil, false
	}
}

// Route runs the flow for one message. Flow failures are reported by the
// flows themselves and never returned; unknown type/action pairs are dropped.
func (r *Router) Route(ctx context.Context, msg model.Message) error {
	ev := msg.Value
	op, ok := r.lookup(ev)
	if !ok {
		metrics.IncError("router", "unknown_route")
		r.logger.Warn("router.unknown_route",
			zap.String("topic", msg.Topic),
			zap.String("type", ev.Type),
			zap.String("action", ev.Action),
			zap.String("event_id", ev.ID))
		return nil
	}

	span := tracing.StartFromCarrier(ctx, r.tracer, ev.SpanContext, fmt.Sprintf("%s.%s", ev.Type, ev.Action))
	defer span.Finish()
	span.SetTags(map[string]string{"event_id": ev.ID, "request_id": ev.RequestID, "topic": msg.Topic})

	if err := op(span.Context(), flows.NewRequest(ev, span)); err != nil {
		r.logger.Debug("router.flow_failed",
			zap.String("type", ev.Type),
			zap.String("action", ev.Action),
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
	return nil
}

// Dispatch schedules msg on the worker pool. The returned task completes when
// the flow has finished.
func (r *Router) Dispatch(ctx context.Context, msg model.Message) *workers.Task {
	name := fmt.Sprintf("%s.%s:%s", msg.Value.Type, msg.Value.Action, msg.Value.ID)
	return r.pool.Submit(ctx, name, func(ctx context.Context) error {
		return r.Route(ctx, msg)
	})
}

// RouteBatch processes a batch concurrently and acknowledges each delivery once
// its flow has finished. A panic in one unit of work is logged and the delivery
// still acknowledged. A failed ack returns ErrDeliveryFault and cancels the
// rest of the batch; deliveries that never ran are left unacknowledged.
func (r *Router) RouteBatch(ctx context.Context, batch []Delivery) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range batch {
		g.Go(func() error {
			err := r.Dispatch(gctx, d.Message).Wait()
			if err != nil {
				if cerr := gctx.Err(); cerr != nil && errors.Is(err, cerr) {
					return err
				}
				metrics.IncError("router", "unit_failed")
				r.logger.Error("router.unit_failed",
					zap.String("topic", d.Message.Topic),
					zap.String("event_id", d.Message.Value.ID),
					zap.Error(err))
			}
			if d.Ack == nil {
				return nil
			}
			if err := d.Ack(); err != nil {
				return fmt.Errorf("%w: ack %s: %v", ErrDeliveryFault, d.Message.Topic, err)
			}
			return nil
		})
	}
	return g.Wait()
}
