package api

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
	"github.com/Checker-Finance/quoting-switch/pkg/utils"
)

// EventPublisher enqueues an inbound event for the router.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev model.Event) error
}

// Handler turns FSPIOP HTTP requests into transport events.
type Handler struct {
	logger    *zap.Logger
	publisher EventPublisher
	tracer    trace.Tracer
}

// NewHandler creates a new Handler.
func NewHandler(logger *zap.Logger, publisher EventPublisher, tracer trace.Tracer) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	return &Handler{logger: logger.Named("api"), publisher: publisher, tracer: tracer}
}

// Accept returns a handler that publishes the request as a {eventType, action} event.
func (h *Handler) Accept(eventType, action string) fiber.Handler {
	return func(c *fiber.Ctx) error { return h.accept(c, eventType, action, false) }
}

// AcceptError handles PUT /{resource}/{id}/error. The body must carry errorInformation.
func (h *Handler) AcceptError(eventType string) fiber.Handler {
	return func(c *fiber.Ctx) error { return h.accept(c, eventType, model.ActionPut, true) }
}

func (h *Handler) accept(c *fiber.Ctx, eventType, action string, errorCallback bool) error {
	headers := requestHeaders(c)
	if headers[strings.ToLower(fspiop.HeaderSource)] == "" {
		return reject(c, fiber.StatusBadRequest, fspiop.NewValidation(fspiop.MissingElement, "%s header is required", fspiop.HeaderSource))
	}

	ev := model.Event{
		ID:        uuid.NewString(),
		RequestID: headers["x-request-id"],
		Type:      eventType,
		Action:    action,
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	}
	if ev.RequestID == "" {
		ev.RequestID = ev.ID
	}
	if id := c.Params("id"); id != "" {
		ev.URIParams = map[string]string{"id": id}
	}

	if action != model.ActionGet {
		// fiber reuses the request buffer once the handler returns.
		raw := append([]byte(nil), c.Body()...)
		if !json.Valid(raw) {
			return reject(c, fiber.StatusBadRequest, fspiop.NewValidation(fspiop.MalformedSyntax, "request body is not valid JSON"))
		}
		if errorCallback && !gjson.GetBytes(raw, "errorInformation").Exists() {
			return reject(c, fiber.StatusBadRequest, fspiop.NewValidation(fspiop.MissingElement, "errorInformation is required"))
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return reject(c, fiber.StatusBadRequest, fspiop.NewValidation(fspiop.MalformedSyntax, "request body is not valid JSON"))
		}
		ev.Payload = compact.Bytes()
		ev.OriginalPayload = raw
	}

	span := tracing.Start(c.UserContext(), h.tracer, "ingress."+eventType+"."+action)
	defer span.Finish()
	ev.SpanContext = span.Carrier()

	if err := h.publisher.PublishEvent(span.Context(), ev); err != nil {
		span.RecordError(err)
		metrics.IncError("api", "publish_failed")
		h.logger.Error("api.publish_failed",
			zap.String("type", eventType),
			zap.String("action", action),
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return reject(c, fiber.StatusServiceUnavailable, fspiop.New(fspiop.ServiceCurrentlyUnavailable, "unable to enqueue request", err))
	}

	h.logger.Debug("api.accepted",
		zap.String("type", eventType),
		zap.String("action", action),
		zap.String("event_id", ev.ID),
		zap.Any("headers", utils.RedactHeaders(headers)))
	return c.SendStatus(fiber.StatusAccepted)
}

func requestHeaders(c *fiber.Ctx) map[string]string {
	out := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		out[strings.ToLower(string(k))] = string(v)
	})
	return out
}

func reject(c *fiber.Ctx, status int, err *fspiop.Error) error {
	return c.Status(status).JSON(err.ToPayload())
}
