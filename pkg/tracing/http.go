package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"connector/pkg/logging"
)

var untracedPaths = []string{"/health", "/metrics", "/swagger/"}

// GinMiddleware starts a server span per management request. Health probes,
// metric scrapes and the swagger UI are not traced.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(traced))
}

func traced(r *http.Request) bool {
	for _, p := range untracedPaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return false
		}
	}
	return true
}

// SpanAttributesMiddleware tags the request span with the business domain
// and link partner scoped on the request context. It must run after the
// middleware that sets the business domain.
func SpanAttributesMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			ctx := c.Request.Context()
			if domain := logging.GetBusinessDomain(ctx); domain != "" {
				span.SetAttributes(attribute.String("connector.business_domain", domain))
			}
			if name := c.Param("name"); name != "" {
				span.SetAttributes(attribute.String("connector.link_partner", name))
			}
		}
		c.Next()
	}
}
