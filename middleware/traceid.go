package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceIDHeader carries the request trace id. Devices may send their own so
// a client log line can be matched against the server's; otherwise one is
// minted per request.
const TraceIDHeader = "X-Trace-ID"

const traceIDKey = "trace_id"

// maxTraceIDLen matches the audit_logs trace_id column.
const maxTraceIDLen = 64

// TraceID tags every request with a trace id, echoes it in the response
// header, and makes it available to the request logger and the audit trail.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceIDHeader)
		if id == "" || len(id) > maxTraceIDLen {
			id = uuid.NewString()
		}
		c.Set(traceIDKey, id)
		c.Header(TraceIDHeader, id)
		c.Next()
	}
}

// GetTraceID returns the request's trace id, or "" outside a traced request.
func GetTraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}
