package tracing

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

// TracingIngress opens a server span per request, continuing a trace carried
// in the inbound headers when one is present, and propagates it through the
// request context so the gorm layer can attach child spans.
func TracingIngress() gin.HandlerFunc {
	return func(c *gin.Context) {
		tracer := opentracing.GlobalTracer()
		carrier := opentracing.HTTPHeadersCarrier(c.Request.Header)
		parent, _ := tracer.Extract(opentracing.HTTPHeaders, carrier)

		operation := c.Request.Method + " " + c.FullPath()
		if c.FullPath() == "" {
			operation = c.Request.Method + " " + c.Request.URL.Path
		}
		span := tracer.StartSpan(operation, ext.RPCServerOption(parent))
		defer span.Finish()
		ext.HTTPMethod.Set(span, c.Request.Method)
		ext.HTTPUrl.Set(span, c.Request.URL.Path)

		c.Request = c.Request.WithContext(opentracing.ContextWithSpan(c.Request.Context(), span))
		c.Next()

		ext.HTTPStatusCode.Set(span, uint16(c.Writer.Status()))
	}
}
