package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/dedupe"
	"github.com/Checker-Finance/quoting-switch/internal/forwarder"
	"github.com/Checker-Finance/quoting-switch/internal/participants"
	"github.com/Checker-Finance/quoting-switch/internal/rules"
	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/logger"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// Resolver validates participants and resolves their callback endpoints.
type Resolver interface {
	ResolveEndpoint(ctx context.Context, fspID, endpointType string) (string, error)
	Validate(ctx context.Context, name string) (participants.Validation, error)
}

// Sender delivers an outbound FSPIOP request.
type Sender interface {
	Forward(ctx context.Context, r forwarder.Request, span *tracing.Span) error
}

// ErrorNotifier sends error callbacks.
type ErrorNotifier interface {
	NotifyAsOriginator(ctx context.Context, resource fspiop.Resource, id, target string, cause error, inbound fspiop.Headers, span *tracing.Span) error
	RelayError(ctx context.Context, resource fspiop.Resource, id, target string, payload []byte, inbound fspiop.Headers, span *tracing.Span) error
}

// DuplicateChecker classifies an inbound request or response against the stored hash.
type DuplicateChecker interface {
	Check(ctx context.Context, resource fspiop.Resource, dir model.Direction, id string, payload []byte) (dedupe.Result, error)
}

// Deps are the collaborators shared by every flow.
type Deps struct {
	Store         store.Store
	Dedupe        DuplicateChecker
	Resolver      Resolver
	Rules         *rules.Engine
	Sender        Sender
	Notifier      ErrorNotifier
	HubName       string
	SimpleRouting bool
	Logger        *zap.Logger
}

// Request is one inbound FSPIOP message as seen by a flow.
type Request struct {
	ID       string
	Headers  fspiop.Headers
	Payload  []byte // parsed body, used for hashing and rules
	Original []byte // body exactly as received, used when forwarding
	Span     *tracing.Span
	Received time.Time
}

// NewRequest builds a flow request from a transport event.
func NewRequest(ev model.Event, span *tracing.Span) *Request {
	r := &Request{
		ID:       ev.URIParams["id"],
		Headers:  fspiop.NewHeaders(ev.Headers),
		Payload:  ev.Payload,
		Original: ev.Body(),
		Span:     span,
		Received: ev.Timestamp,
	}
	if r.Received.IsZero() {
		r.Received = time.Now()
	}
	return r
}

func (r *Request) body() []byte {
	if len(r.Original) > 0 {
		return r.Original
	}
	return r.Payload
}

// Flow runs the POST, PUT, error and GET state machines for one resource.
type Flow struct {
	entity entity
	deps   Deps
	logger *zap.Logger
}

// NewQuotes returns the flow for /quotes.
func NewQuotes(deps Deps) *Flow { return newFlow(quoteEntity{}, deps) }

// NewBulkQuotes returns the flow for /bulkQuotes.
func NewBulkQuotes(deps Deps) *Flow { return newFlow(bulkQuoteEntity{}, deps) }

// NewFxQuotes returns the flow for /fxQuotes.
func NewFxQuotes(deps Deps) *Flow { return newFlow(fxQuoteEntity{}, deps) }

func newFlow(e entity, deps Deps) *Flow {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Flow{
		entity: e,
		deps:   deps,
		logger: logger.ForFlow(deps.Logger, string(e.resource())),
	}
}

func (f *Flow) Resource() fspiop.Resource { return f.entity.resource() }
