package notifier

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/forwarder"
	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
)

const (
	modeOriginate = "originate"
	modeRelay     = "relay"
)

// EndpointResolver resolves a participant's callback base URL ("" when unknown).
type EndpointResolver interface {
	ResolveEndpoint(ctx context.Context, fspID, endpointType string) (string, error)
}

// Sender delivers an outbound FSPIOP request.
type Sender interface {
	Forward(ctx context.Context, r forwarder.Request, span *tracing.Span) error
}

// Notifier sends PUT /{resource}/{id}/error callbacks.
//
// Failures while delivering a callback are logged, counted and returned for
// observability; callers must not escalate them further.
type Notifier struct {
	resolver EndpointResolver
	sender   Sender
	hubName  string
	logger   *zap.Logger
}

func New(resolver EndpointResolver, sender Sender, hubName string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{resolver: resolver, sender: sender, hubName: hubName, logger: logger.Named("notifier")}
}

// NotifyAsOriginator reports an error the switch detected itself. The inbound
// signature is dropped, the switch becomes the source and target the destination.
func (n *Notifier) NotifyAsOriginator(ctx context.Context, resource fspiop.Resource, id, target string, cause error, inbound fspiop.Headers, span *tracing.Span) error {
	fe := fspiop.Reformat(cause)
	body, err := json.Marshal(fe.ToPayload())
	if err != nil {
		return err
	}

	h := inbound.Clone()
	h.Del(fspiop.HeaderSignature)
	h.Set(fspiop.HeaderSource, n.hubName)
	h.Set(fspiop.HeaderDestination, target)
	h.Set(fspiop.HeaderHTTPMethod, http.MethodPut)
	h.Set(fspiop.HeaderURI, resource.ErrorPath(id))

	n.logger.Info("notifier.originate",
		zap.String("resource", string(resource)),
		zap.String("id", id),
		zap.String("target", target),
		zap.String("error_code", fe.Code.Code),
		zap.String("error_description", fe.Description()))

	return n.send(ctx, modeOriginate, resource, id, target, h, body, span)
}

// RelayError forwards an error callback produced by another participant.
// Headers and body pass through as received.
func (n *Notifier) RelayError(ctx context.Context, resource fspiop.Resource, id, target string, payload []byte, inbound fspiop.Headers, span *tracing.Span) error {
	return n.send(ctx, modeRelay, resource, id, target, inbound.Clone(), payload, span)
}

func (n *Notifier) send(ctx context.Context, mode string, resource fspiop.Resource, id, target string, h fspiop.Headers, body []byte, span *tracing.Span) error {
	endpointType := resource.EndpointType()
	endpoint, err := n.resolver.ResolveEndpoint(ctx, target, endpointType)
	if err == nil && endpoint == "" {
		err = fspiop.NewPartyNotFound(target, endpointType)
	}
	if err != nil {
		metrics.IncErrorCallback(mode, "unresolved")
		n.logger.Error("notifier.callback_unresolved",
			zap.String("mode", mode),
			zap.String("resource", string(resource)),
			zap.String("id", id),
			zap.String("target", target),
			zap.Error(err))
		return err
	}

	err = n.sender.Forward(ctx, forwarder.Request{
		Resource: resource,
		Method:   http.MethodPut,
		Endpoint: endpoint,
		Path:     resource.ErrorPath(id),
		Headers:  h,
		Body:     body,
	}, span)
	if err != nil {
		metrics.IncErrorCallback(mode, "failed")
		n.logger.Error("notifier.callback_failed",
			zap.String("mode", mode),
			zap.String("resource", string(resource)),
			zap.String("id", id),
			zap.String("target", target),
			zap.Error(err))
		return err
	}
	metrics.IncErrorCallback(mode, "sent")
	return nil
}
