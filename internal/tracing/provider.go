package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs a process-wide tracer provider sampling ratio of new traces
// and honouring the sampling decision of inbound ones. Spans are recorded but
// not exported until an exporter is registered via opts.
func Setup(service string, ratio float64, opts ...sdktrace.TracerProviderOption) (shutdown func(context.Context) error) {
	res := resource.NewSchemaless(attribute.String("service.name", service))

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	tp := sdktrace.NewTracerProvider(append(base, opts...)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)
	return tp.Shutdown
}
