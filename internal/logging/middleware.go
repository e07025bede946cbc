package logging

import (
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware starts a wide event for every request and emits it once the
// handler returns.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		event := NewWideEvent("http_request")
		ctx := WithContext(r.Context(), event)
		EnrichHTTP(ctx, r.Method, r.URL.Path)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-Id", GetTraceID(ctx))

		defer func() {
			EnrichHTTPStatus(ctx, rec.status)
			EnrichHTTPDuration(ctx, time.Since(start))
			Emit(ctx)
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}
