package middleware

import (
	"strings"

	"spacechat/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// LocalsTraceID is the fiber.Ctx locals key holding the request's trace ID.
const LocalsTraceID = "traceID"

// routeParams are recorded on request spans under these attribute keys.
var routeParams = map[string]string{
	"id":        "space.id",
	"messageId": "message.id",
	"email":     "target.user",
}

func untraced(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health")
}

// TracingMiddleware starts a server span per request, continuing any trace
// the caller propagated. The span is renamed to the matched route once the
// handler ran, so space and message IDs end up as attributes, not span names.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if untraced(c.Path()) {
			return c.Next()
		}

		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))
		span, ctx := observability.NewSpan(ctx, c.Method()+" "+c.Path(),
			observability.WithSpanKind(observability.SpanKindServer))
		defer span.End()

		span.AddAttributes(
			attribute.String("http.method", c.Method()),
			attribute.String("http.ip", c.IP()),
			attribute.String("http.user_agent", c.Get(fiber.HeaderUserAgent)),
		)
		if rid, ok := c.Locals("requestid").(string); ok {
			span.AddAttributes(attribute.String("request.id", rid))
		}

		traceID := span.TraceID()
		c.Locals(LocalsTraceID, traceID)
		c.Set("X-Trace-ID", traceID)
		c.SetUserContext(ctx)

		err := c.Next()

		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		span.AddAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Response().StatusCode()),
		)
		for param, key := range routeParams {
			if v := c.Params(param); v != "" {
				span.AddAttributes(attribute.String(key, v))
			}
		}
		if email, ok := c.Locals(LocalsUserID).(string); ok && email != "" {
			span.AddAttributes(attribute.String("user.id", email))
		}

		switch {
		case err != nil:
			span.SetError(err)
		case c.Response().StatusCode() >= fiber.StatusInternalServerError:
			span.SetStatus(codes.Error, string(c.Response().Body()))
		}
		return err
	}
}
