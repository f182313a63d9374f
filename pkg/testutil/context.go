package testutil

import (
	"context"
	"net/http"
	"time"

	"greenwallet/pkg/requestcontext"
)

// WithFrozenTime pins the request-scoped clock, the way the request time
// middleware does in production.
func WithFrozenTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// FrozenContext returns a context with a pinned clock and request id.
func FrozenContext(t time.Time, requestID string) context.Context {
	ctx := requestcontext.WithTime(context.Background(), t)
	if requestID != "" {
		ctx = requestcontext.WithRequestID(ctx, requestID)
	}
	return ctx
}
