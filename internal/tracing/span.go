package tracing

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/Checker-Finance/quoting-switch"

var propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

// Span wraps an OpenTelemetry span. All methods are safe on a nil *Span,
// so callers can treat tracing as optional.
type Span struct {
	ctx      context.Context
	span     trace.Span
	tracer   trace.Tracer
	finished atomic.Bool
}

// Tracer returns the process tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentation)
}

// Start opens a span as a child of whatever span ctx carries.
func Start(ctx context.Context, tracer trace.Tracer, name string) *Span {
	if tracer == nil {
		tracer = Tracer()
	}
	ctx, sp := tracer.Start(ctx, name)
	return &Span{ctx: ctx, span: sp, tracer: tracer}
}

// StartFromCarrier continues a trace whose context was serialised into carrier,
// e.g. the spanContext of a transport event.
func StartFromCarrier(ctx context.Context, tracer trace.Tracer, carrier map[string]string, name string) *Span {
	if len(carrier) > 0 {
		ctx = propagator.Extract(ctx, propagation.MapCarrier(carrier))
	}
	return Start(ctx, tracer, name)
}

// Context returns the span's context, or Background for a nil span.
func (s *Span) Context() context.Context {
	if s == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Span) Child(name string) *Span {
	if s == nil {
		return nil
	}
	return Start(s.ctx, s.tracer, name)
}

func (s *Span) SetTags(tags map[string]string) {
	if s == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	s.span.SetAttributes(attrs...)
}

// Audit records a named span event, e.g. an egress call.
func (s *Span) Audit(name string, fields map[string]string) {
	if s == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, attribute.String(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Inject writes the trace context into outbound HTTP headers.
func (s *Span) Inject(h http.Header) {
	if s == nil {
		return
	}
	propagator.Inject(s.ctx, propagation.HeaderCarrier(h))
}

// Carrier serialises the trace context for a transport event.
func (s *Span) Carrier() map[string]string {
	if s == nil {
		return nil
	}
	c := propagation.MapCarrier{}
	propagator.Inject(s.ctx, c)
	return c
}

func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// Finish ends the span. Only the first call has an effect.
func (s *Span) Finish() {
	if s == nil || !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.span.End()
}

func (s *Span) IsFinished() bool {
	return s == nil || s.finished.Load()
}
