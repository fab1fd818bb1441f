package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// HealthChecker is a dependency checked by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// NATSHealth reports whether nc is connected and answers a flush.
func NATSHealth(nc *nats.Conn) HealthChecker {
	return HealthFunc(func(ctx context.Context) error {
		if nc == nil || !nc.IsConnected() {
			return errors.New("disconnected")
		}
		timeout := time.Second
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		return nc.FlushTimeout(timeout)
	})
}

// RegisterRoutes registers the FSPIOP quoting routes, /health and /metrics.
func RegisterRoutes(app *fiber.App, h *Handler, checks map[string]HealthChecker) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			results[name] = "ok"
			if err := check.HealthCheck(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	resources := []struct {
		path      string
		eventType string
	}{
		{"/quotes", model.TypeQuote},
		{"/bulkQuotes", model.TypeBulkQuote},
		{"/fxQuotes", model.TypeFxQuote},
	}
	for _, r := range resources {
		app.Post(r.path, h.Accept(r.eventType, model.ActionPost))
		app.Put(r.path+"/:id/error", h.AcceptError(r.eventType))
		app.Put(r.path+"/:id", h.Accept(r.eventType, model.ActionPut))
		app.Get(r.path+"/:id", h.Accept(r.eventType, model.ActionGet))
	}
}
