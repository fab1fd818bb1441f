package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/httpclient"
	"github.com/Checker-Finance/quoting-switch/internal/jws"
	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
)

// Request is one outbound FSPIOP call.
type Request struct {
	Resource fspiop.Resource
	Method   string
	Endpoint string // participant callback base URL
	Path     string // resource path, e.g. /quotes/{id}
	Headers  fspiop.Headers
	Body     []byte
}

func (r Request) URL() string {
	return strings.TrimRight(r.Endpoint, "/") + r.Path
}

// Forwarder sends protocol-compliant requests to participant endpoints.
type Forwarder struct {
	exec     *httpclient.Executor
	signer   jws.Signer
	hubName  string
	protocol fspiop.ProtocolVersions
	logger   *zap.Logger
	now      func() time.Time
}

type Options struct {
	Executor *httpclient.Executor
	Signer   jws.Signer // nil disables signing
	HubName  string
	Protocol fspiop.ProtocolVersions
	Logger   *zap.Logger
}

func New(opts Options) *Forwarder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Forwarder{
		exec:     opts.Executor,
		signer:   opts.Signer,
		hubName:  opts.HubName,
		protocol: opts.Protocol,
		logger:   opts.Logger.Named("forwarder"),
		now:      time.Now,
	}
}

// HubName is the identity the switch uses as FSPIOP-Source on messages it originates.
func (f *Forwarder) HubName() string { return f.hubName }

// Forward sends r. Any transport failure or non-2xx response is returned as a
// destination communication error. span may be nil.
func (f *Forwarder) Forward(ctx context.Context, r Request, span *tracing.Span) error {
	h, err := f.buildHeaders(r)
	if err != nil {
		return fspiop.Reformat(err)
	}

	var body io.Reader
	if len(r.Body) > 0 && r.Method != http.MethodGet {
		body = bytes.NewReader(r.Body)
	}
	url := r.URL()
	req, err := http.NewRequestWithContext(ctx, r.Method, url, body)
	if err != nil {
		return fspiop.NewCommunication(fmt.Sprintf("invalid endpoint %s", url), err)
	}
	req.Header = h.ToHTTP()

	if span != nil {
		span.Inject(req.Header)
		span.Audit("egress", map[string]string{
			"method":      r.Method,
			"url":         url,
			"source":      h.Source(),
			"destination": h.Destination(),
		})
	}

	start := time.Now()
	_, err = f.exec.Send(ctx, req, h.Destination())
	metrics.ObserveDuration(metrics.ForwardDuration, start, string(r.Resource), r.Method)
	if err != nil {
		f.logger.Warn("forwarder.send_failed",
			zap.String("method", r.Method),
			zap.String("url", url),
			zap.String("destination", h.Destination()),
			zap.Error(err))
		return fspiop.NewCommunication(fmt.Sprintf("Failed to send %s request to %s", r.Method, url), err)
	}
	f.logger.Debug("forwarder.sent",
		zap.String("method", r.Method),
		zap.String("url", url),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (f *Forwarder) buildHeaders(r Request) (fspiop.Headers, error) {
	h := r.Headers.Clone()

	h.Set(fspiop.HeaderContentType, f.protocol.NegotiateContentType(r.Resource, h.Get(fspiop.HeaderContentType)))
	if r.Method == http.MethodPut {
		h.Del(fspiop.HeaderAccept)
	} else {
		h.Set(fspiop.HeaderAccept, f.protocol.NegotiateAccept(r.Resource, h.Get(fspiop.HeaderAccept)))
	}
	if h.Get(fspiop.HeaderDate) == "" {
		h.Set(fspiop.HeaderDate, f.now().UTC().Format(http.TimeFormat))
	}

	// Relayed messages keep the sender's signed headers; the switch signs only what it originates.
	if h.Source() != f.hubName {
		if !h.Has(fspiop.HeaderHTTPMethod) {
			h.Set(fspiop.HeaderHTTPMethod, r.Method)
		}
		if !h.Has(fspiop.HeaderURI) {
			h.Set(fspiop.HeaderURI, r.Path)
		}
	} else {
		h.Set(fspiop.HeaderHTTPMethod, r.Method)
		h.Set(fspiop.HeaderURI, r.Path)
		h.Del(fspiop.HeaderSignature)
		if f.signer != nil {
			sig, err := f.signer.Sign(h, r.Method, r.Path, r.Body)
			if err != nil {
				return nil, err
			}
			h.Set(fspiop.HeaderSignature, sig)
		}
	}
	return h, nil
}
