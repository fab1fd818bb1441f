package flows

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/forwarder"
	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/rules"
	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/logger"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

const (
	resultOK     = "ok"
	resultResend = "resend"
	resultError  = "error"
)

// HandlePost processes a new request: validate, dedupe, persist, apply rules, forward.
// Any failure is reported to the requester; the returned error is for observability only.
func (f *Flow) HandlePost(ctx context.Context, r *Request) error {
	span := r.Span.Child(string(f.Resource()) + ".post")
	defer span.Finish()
	if r.ID == "" {
		r.ID = gjson.GetBytes(r.Payload, f.Resource().IDField()).String()
	}
	result, err := f.post(ctx, r, span)
	return f.complete(ctx, "post", r, span, r.Headers.Source(), result, err)
}

// HandlePut processes a callback carrying the counterparty's response.
func (f *Flow) HandlePut(ctx context.Context, r *Request) error {
	span := r.Span.Child(string(f.Resource()) + ".put")
	defer span.Finish()
	result, err := f.put(ctx, r, span)
	return f.complete(ctx, "put", r, span, r.Headers.Source(), result, err)
}

// HandleGet forwards a status query to the counterparty.
func (f *Flow) HandleGet(ctx context.Context, r *Request) error {
	span := r.Span.Child(string(f.Resource()) + ".get")
	defer span.Finish()
	err := f.get(ctx, r, span)
	return f.complete(ctx, "get", r, span, r.Headers.Source(), resultOK, err)
}

// HandleError persists a counterparty's error callback and relays it unchanged
// to the header destination.
func (f *Flow) HandleError(ctx context.Context, r *Request) error {
	span := r.Span.Child(string(f.Resource()) + ".error")
	defer span.Finish()

	log := f.requestLogger(r, "error", span)
	if !f.deps.SimpleRouting {
		if err := f.persistError(ctx, r, span); err != nil {
			return f.complete(ctx, "error", r, span, r.Headers.Destination(), resultError, err)
		}
	}

	if err := f.deps.Notifier.RelayError(ctx, f.Resource(), r.ID, r.Headers.Destination(), r.body(), r.Headers, span); err != nil {
		// Relay failures end the error path; the notifier has already logged and counted them.
		log.Debug("flows.relay_failed", zap.Error(err))
		metrics.IncRequest(string(f.Resource()), "error", resultError)
		return err
	}
	metrics.IncRequest(string(f.Resource()), "error", resultOK)
	return nil
}

// complete records the outcome and converts a failure into exactly one error
// callback to target.
func (f *Flow) complete(ctx context.Context, op string, r *Request, span *tracing.Span, target, result string, err error) error {
	log := f.requestLogger(r, op, span)
	if err == nil {
		metrics.IncRequest(string(f.Resource()), op, result)
		log.Debug("flows.processed", zap.String("result", result))
		return nil
	}

	metrics.IncRequest(string(f.Resource()), op, resultError)
	span.RecordError(err)
	fe := fspiop.Reformat(err)
	log.Warn("flows.failed",
		zap.String("error_code", fe.Code.Code),
		zap.String("error_kind", string(fe.Kind)),
		zap.Error(err),
	)

	if nerr := f.deps.Notifier.NotifyAsOriginator(ctx, f.Resource(), r.ID, target, fe, r.Headers, span); nerr != nil {
		log.Debug("flows.notify_failed", zap.Error(nerr))
	}
	return fe
}

func (f *Flow) requestLogger(r *Request, op string, span *tracing.Span) *zap.Logger {
	return logger.ForRequest(span.Context(), f.logger, op, r.ID, r.Headers.Source(), r.Headers.Destination())
}

// ─── POST ───

func (f *Flow) post(ctx context.Context, r *Request, span *tracing.Span) (string, error) {
	if r.ID == "" {
		return resultError, fspiop.NewValidation(fspiop.MissingElement, "%s is required", f.Resource().IDField())
	}
	if !gjson.ValidBytes(r.Payload) {
		return resultError, fspiop.NewValidation(fspiop.MalformedSyntax, "payload is not valid JSON")
	}
	if r.Headers.Destination() == "" {
		if dest := f.entity.counterparty(r.Payload); dest != "" {
			r.Headers.Set(fspiop.HeaderDestination, dest)
		}
	}

	payer, payee, err := f.validateParticipants(ctx, r, span)
	if err != nil {
		return resultError, err
	}

	resend := false
	if !f.deps.SimpleRouting {
		resend, err = f.dedupeAndPersist(ctx, r, span, model.DirectionRequest, func(ctx context.Context, tx store.Tx) error {
			return f.entity.persistRequest(ctx, tx, r.ID, r.Headers, r.Payload)
		})
		if err != nil {
			return resultError, err
		}
	}

	headers := r.Headers
	if !resend {
		out, err := f.applyRules(r, payer, payee, span)
		if err != nil {
			return resultError, err
		}
		headers = out.Headers
	}

	if err := f.forward(ctx, span, http.MethodPost, f.Resource().CollectionPath(), headers, r.body()); err != nil {
		f.markStatus(ctx, r.ID, model.StatusErrored)
		return resultError, err
	}

	if resend {
		f.markStatus(ctx, r.ID, model.StatusResent)
		return resultResend, nil
	}
	f.markStatus(ctx, r.ID, model.StatusForwarded)
	return resultOK, nil
}

func (f *Flow) validateParticipants(ctx context.Context, r *Request, span *tracing.Span) (payer, payee *model.Participant, err error) {
	step := span.Child("validate")
	defer step.Finish()

	source := r.Headers.Source()
	v, err := f.deps.Resolver.Validate(ctx, source)
	if err != nil {
		step.RecordError(err)
		return nil, nil, fmt.Errorf("validate payer %s: %w", source, err)
	}
	if !v.Valid() && !f.viaProxy(ctx, r) {
		return nil, nil, fspiop.NewValidation(fspiop.PayerFSPIDNotFound, "Unsupported participant '%s'", source)
	}

	dest := r.Headers.Destination()
	if dest == "" {
		return nil, nil, fspiop.NewValidation(fspiop.MissingElement, "%s header is required", fspiop.HeaderDestination)
	}
	pv, err := f.deps.Resolver.Validate(ctx, dest)
	if err != nil {
		step.RecordError(err)
		return nil, nil, fmt.Errorf("validate payee %s: %w", dest, err)
	}
	if !pv.Valid() {
		return nil, nil, fspiop.NewValidation(fspiop.PayeeFSPIDNotFound, "Unsupported participant '%s'", dest)
	}

	step.SetTags(map[string]string{"payer": source, "payee": dest})
	return v.Participant, pv.Participant, nil
}

// viaProxy accepts a source that is unknown locally when the request names a
// valid proxy participant it arrived through.
func (f *Flow) viaProxy(ctx context.Context, r *Request) bool {
	proxyID := r.Headers.Get(fspiop.HeaderProxy)
	if proxyID == "" {
		return false
	}
	v, err := f.deps.Resolver.Validate(ctx, proxyID)
	return err == nil && v.Participant != nil && v.Participant.IsActive
}

func (f *Flow) applyRules(r *Request, payer, payee *model.Participant, span *tracing.Span) (rules.Outcome, error) {
	step := span.Child("rules")
	defer step.Finish()

	events := f.deps.Rules.Evaluate(rules.Facts{
		Operation: f.entity.operation(),
		Payer:     payer,
		Payee:     payee,
		Payload:   r.Payload,
		Headers:   r.Headers,
	})
	out, err := rules.Interpret(events, r.Headers, r.Payload)
	if err != nil {
		step.RecordError(err)
		return out, err
	}
	if out.Rerouted {
		f.logger.Info("flows.rerouted",
			zap.String("id", r.ID),
			zap.String("destination", out.Headers.Destination()),
		)
		step.SetTags(map[string]string{"rerouted_to": out.Headers.Destination()})
	}
	return out, nil
}

// ─── PUT ───

func (f *Flow) put(ctx context.Context, r *Request, span *tracing.Span) (string, error) {
	if r.Headers.Has(fspiop.HeaderAccept) {
		return resultError, fspiop.NewValidation(fspiop.ValidationError, "accept header should not be sent in callbacks")
	}
	if r.ID == "" {
		return resultError, fspiop.NewValidation(fspiop.MissingElement, "%s is required", f.Resource().IDField())
	}

	resend := false
	if !f.deps.SimpleRouting {
		var err error
		resend, err = f.dedupeAndPersist(ctx, r, span, model.DirectionResponse, func(ctx context.Context, tx store.Tx) error {
			return tx.CreateResponse(ctx, store.ResponseRecord{
				Resource:   f.Resource(),
				ID:         r.ID,
				Expiration: f.entity.expiration(r.Payload),
				Payload:    r.Payload,
			})
		})
		if err != nil {
			return resultError, err
		}
	}

	if err := f.forward(ctx, span, http.MethodPut, f.Resource().ItemPath(r.ID), r.Headers, r.body()); err != nil {
		return resultError, err
	}
	if resend {
		return resultResend, nil
	}
	return resultOK, nil
}

// ─── PUT .../error ───

func (f *Flow) persistError(ctx context.Context, r *Request, span *tracing.Span) error {
	step := span.Child("persist")
	defer step.Finish()

	info := gjson.GetBytes(r.Payload, "errorInformation")
	rec := store.ErrorRecord{
		Resource:         f.Resource(),
		ID:               r.ID,
		ErrorCode:        info.Get("errorCode").String(),
		ErrorDescription: info.Get("errorDescription").String(),
		Payload:          r.Payload,
	}
	err := f.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateError(ctx, rec); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, f.Resource(), r.ID, model.StatusErrored)
	})
	if err != nil {
		step.RecordError(err)
		return fmt.Errorf("persist %s error: %w", f.Resource().Singular(), err)
	}
	return nil
}

// ─── GET ───

func (f *Flow) get(ctx context.Context, r *Request, span *tracing.Span) error {
	if r.ID == "" {
		return fspiop.NewValidation(fspiop.MissingElement, "%s is required", f.Resource().IDField())
	}
	return f.forward(ctx, span, http.MethodGet, f.Resource().ItemPath(r.ID), r.Headers, nil)
}

// ─── shared steps ───

// dedupeAndPersist classifies the message and, when it is new, stores its hash
// and records in one transaction. It reports whether the message is a resend.
// A lost insert race is resolved by checking again against the winner's hash.
func (f *Flow) dedupeAndPersist(ctx context.Context, r *Request, span *tracing.Span, dir model.Direction, persist func(context.Context, store.Tx) error) (bool, error) {
	step := span.Child("dedupe")
	defer step.Finish()

	res, err := f.deps.Dedupe.Check(ctx, f.Resource(), dir, r.ID, r.Payload)
	if err != nil {
		step.RecordError(err)
		return false, err
	}
	if res.IsConflict() {
		return false, fspiop.NewDuplicateConflict(f.Resource(), r.ID)
	}
	if res.IsResend {
		step.Audit("resend", map[string]string{"id": r.ID, "direction": string(dir)})
		return true, nil
	}

	err = f.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateDuplicateCheck(ctx, f.Resource(), dir, model.DuplicateCheck{ID: r.ID, Hash: res.Hash}); err != nil {
			return err
		}
		return persist(ctx, tx)
	})
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrDuplicateRecord) {
		step.RecordError(err)
		return false, err
	}

	f.logger.Info("flows.duplicate_race",
		zap.String("id", r.ID),
		zap.String("direction", string(dir)),
	)
	again, cerr := f.deps.Dedupe.Check(ctx, f.Resource(), dir, r.ID, r.Payload)
	switch {
	case cerr != nil:
		return false, cerr
	case again.IsConflict():
		return false, fspiop.NewDuplicateConflict(f.Resource(), r.ID)
	case again.IsResend:
		return true, nil
	default:
		return false, fmt.Errorf("duplicate check for %s vanished after conflict: %w", r.ID, err)
	}
}

// inTx runs fn in a storage transaction. The transaction is rolled back on any
// failure; rollback errors are logged only.
func (f *Flow) inTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	tx, err := f.deps.Store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		f.rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		f.rollback(ctx, tx)
		return err
	}
	return nil
}

func (f *Flow) rollback(ctx context.Context, tx store.Tx) {
	if err := tx.Rollback(ctx); err != nil {
		f.logger.Warn("flows.rollback_failed", zap.Error(err))
	}
}

func (f *Flow) markStatus(ctx context.Context, id string, status model.Status) {
	if f.deps.SimpleRouting {
		return
	}
	err := f.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateStatus(ctx, f.Resource(), id, status)
	})
	if err != nil {
		f.logger.Warn("flows.status_update_failed",
			zap.String("id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// forward resolves the header destination's endpoint and sends the request.
func (f *Flow) forward(ctx context.Context, span *tracing.Span, method, path string, h fspiop.Headers, body []byte) error {
	step := span.Child("forward")
	defer step.Finish()

	dest := h.Destination()
	endpoint, err := f.deps.Resolver.ResolveEndpoint(ctx, dest, f.Resource().EndpointType())
	if err != nil {
		step.RecordError(err)
		return fmt.Errorf("resolve %s endpoint for %s: %w", f.Resource().EndpointType(), dest, err)
	}
	if endpoint == "" {
		return fspiop.NewDestinationResolution(dest, f.Resource().EndpointType())
	}

	err = f.deps.Sender.Forward(ctx, forwarder.Request{
		Resource: f.Resource(),
		Method:   method,
		Endpoint: endpoint,
		Path:     path,
		Headers:  h,
		Body:     body,
	}, step)
	if err != nil {
		step.RecordError(err)
		return err
	}
	return nil
}
