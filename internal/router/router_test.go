package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Checker-Finance/quoting-switch/internal/flows"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/internal/workers"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

type fakeFlow struct {
	mu      sync.Mutex
	calls   []string
	ids     []string
	panicOn string
}

func (f *fakeFlow) record(op string, r *flows.Request) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.ids = append(f.ids, r.ID)
	f.mu.Unlock()
	if r.ID == f.panicOn {
		panic("boom")
	}
	return errors.New("business failure, already notified")
}

func (f *fakeFlow) HandlePost(_ context.Context, r *flows.Request) error {
	return f.record("post", r)
}

func (f *fakeFlow) HandlePut(_ context.Context, r *flows.Request) error {
	return f.record("put", r)
}

func (f *fakeFlow) HandleError(_ context.Context, r *flows.Request) error {
	return f.record("error", r)
}

func (f *fakeFlow) HandleGet(_ context.Context, r *flows.Request) error {
	return f.record("get", r)
}

func (f *fakeFlow) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func msg(typ, action, id, payload string) model.Message {
	return model.Message{
		Topic: "quotes." + typ + "." + action,
		Value: model.Event{
			ID:        "ev-" + id,
			Type:      typ,
			Action:    action,
			Headers:   map[string]string{"FSPIOP-Source": "dfspa"},
			Payload:   []byte(payload),
			URIParams: map[string]string{"id": id},
		},
	}
}

func newRouter(size int) (*Router, *fakeFlow, *fakeFlow) {
	r := New(workers.New(size, nil), nil, nil)
	quotes, fx := &fakeFlow{}, &fakeFlow{}
	r.Register(model.TypeQuote, quotes)
	r.Register(model.TypeFxQuote, fx)
	return r, quotes, fx
}

// ─── Route ───

func TestRoute_DispatchesByTypeAndAction(t *testing.T) {
	r, quotes, fx := newRouter(2)
	ctx := context.Background()

	require.NoError(t, r.Route(ctx, msg(model.TypeQuote, model.ActionPost, "Q1", `{}`)))
	require.NoError(t, r.Route(ctx, msg(model.TypeQuote, model.ActionPut, "Q1", `{"transferAmount":{}}`)))
	require.NoError(t, r.Route(ctx, msg(model.TypeQuote, model.ActionPut, "Q1", `{"errorInformation":{"errorCode":"5100"}}`)))
	require.NoError(t, r.Route(ctx, msg(model.TypeQuote, model.ActionGet, "Q1", ``)))
	require.NoError(t, r.Route(ctx, msg(model.TypeFxQuote, model.ActionPost, "C1", `{}`)))

	assert.Equal(t, []string{"post", "put", "error", "get"}, quotes.seen())
	assert.Equal(t, []string{"post"}, fx.seen())
}

func TestRoute_UnknownCombinationDropped(t *testing.T) {
	r, quotes, fx := newRouter(1)
	ctx := context.Background()

	assert.NoError(t, r.Route(ctx, msg(model.TypeBulkQuote, model.ActionPost, "B1", `{}`)))
	assert.NoError(t, r.Route(ctx, msg(model.TypeQuote, "patch", "Q1", `{}`)))
	assert.Empty(t, quotes.seen())
	assert.Empty(t, fx.seen())
}

func TestRoute_ContinuesTraceFromCarrier(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")

	parent := tracing.Start(context.Background(), tracer, "ingress")
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(parent.Context(), carrier)
	parent.Finish()

	r := New(workers.New(1, nil), tracer, nil)
	r.Register(model.TypeQuote, &fakeFlow{})
	m := msg(model.TypeQuote, model.ActionPost, "Q1", `{}`)
	m.Value.SpanContext = carrier

	require.NoError(t, r.Route(context.Background(), m))

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "quote.post", ended[1].Name())
	assert.Equal(t, ended[0].SpanContext().TraceID(), ended[1].SpanContext().TraceID())
}

// ─── RouteBatch ───

func TestRouteBatch_IsolatesFailures(t *testing.T) {
	r, quotes, _ := newRouter(2)
	quotes.panicOn = "Q2"

	var acked atomic.Int32
	ack := func() error { acked.Add(1); return nil }
	batch := []Delivery{
		{Message: msg(model.TypeQuote, model.ActionPost, "Q1", `{}`), Ack: ack},
		{Message: msg(model.TypeQuote, model.ActionPost, "Q2", `{}`), Ack: ack},
		{Message: msg(model.TypeQuote, model.ActionPost, "Q3", `{}`), Ack: ack},
		{Message: msg("unknown", model.ActionPost, "X", `{}`), Ack: ack},
	}

	require.NoError(t, r.RouteBatch(context.Background(), batch))
	assert.Len(t, quotes.seen(), 3, "a panicking unit does not stop its siblings")
	assert.EqualValues(t, 4, acked.Load())
}

func TestRouteBatch_AckFailureIsDeliveryFault(t *testing.T) {
	r, quotes, _ := newRouter(4)

	batch := []Delivery{
		{Message: msg(model.TypeQuote, model.ActionPost, "Q1", `{}`), Ack: func() error { return errors.New("connection closed") }},
		{Message: msg(model.TypeQuote, model.ActionPost, "Q2", `{}`), Ack: func() error { return nil }},
	}

	err := r.RouteBatch(context.Background(), batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFault)
	assert.Contains(t, quotes.seen(), "post")
}

func TestRouteBatch_CancelledBatchLeavesDeliveriesUnacked(t *testing.T) {
	r, quotes, _ := newRouter(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var acked atomic.Int32
	ack := func() error { acked.Add(1); return nil }
	batch := []Delivery{
		{Message: msg(model.TypeQuote, model.ActionPost, "Q1", `{}`), Ack: ack},
		{Message: msg(model.TypeQuote, model.ActionPost, "Q2", `{}`), Ack: ack},
	}

	err := r.RouteBatch(ctx, batch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, acked.Load())
	assert.Empty(t, quotes.seen())
}

func TestDispatch_TaskIsObservable(t *testing.T) {
	r, quotes, _ := newRouter(1)

	task := r.Dispatch(context.Background(), msg(model.TypeQuote, model.ActionGet, "Q1", ``))
	require.NoError(t, task.Wait(), "business failures are handled inside the flow")
	assert.Equal(t, []string{"get"}, quotes.seen())

	quotes.panicOn = "Q9"
	task = r.Dispatch(context.Background(), msg(model.TypeQuote, model.ActionGet, "Q9", ``))
	assert.Error(t, task.Wait())
}
