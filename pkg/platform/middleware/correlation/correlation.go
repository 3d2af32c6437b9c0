// Package correlation propagates request and correlation ids from HTTP headers
// into the request context so appended events can be traced end to end.
package correlation

import (
	"net/http"

	"github.com/google/uuid"

	"carebase/pkg/requestcontext"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// Middleware assigns a request id when the caller did not send one and
// echoes both ids on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		if cid := r.Header.Get(HeaderCorrelationID); cid != "" {
			ctx = requestcontext.WithCorrelationID(ctx, cid)
		}

		w.Header().Set(HeaderRequestID, requestID)
		w.Header().Set(HeaderCorrelationID, requestcontext.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
