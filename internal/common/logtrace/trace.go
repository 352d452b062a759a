package logtrace

import (
	"context"
	"os"
	"sync"
)

// requestIdContextKey is a private type so only this package can place the
// request ID in a context. The middleware stores it via WithRequestId and
// responders read it back via RequestIdFromContext.
type requestIdContextKey struct{}

// WithRequestId returns a context carrying the given request ID.
func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, requestIdContextKey{}, requestId)
}

// RequestIdFromContext extracts the request ID from the context.
// Returns an empty string if the context is nil or if no request ID is found.
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value(requestIdContextKey{}).(string)
	if !ok {
		return ""
	}
	return r
}

var (
	traceOnce    sync.Once
	traceEnabled bool
)

// IsTraceEnabled reports whether request tracing is enabled. Tracing adds
// per-hop detail (sanitized outbound headers, poll outcomes) to the log and
// is switched on with GANTRY_TRACE=1.
func IsTraceEnabled() bool {
	traceOnce.Do(func() {
		traceEnabled = os.Getenv("GANTRY_TRACE") == "1"
	})
	return traceEnabled
}
