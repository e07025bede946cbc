package api

import (
	"net/http"

	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/rs/zerolog/log"
)

const (
	corsAllowOrigin      = "Access-Control-Allow-Origin"
	corsAllowMethods     = "Access-Control-Allow-Methods"
	corsAllowHeaders     = "Access-Control-Allow-Headers"
	corsAllowCredentials = "Access-Control-Allow-Credentials"
	allowedMethods       = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders       = "Content-Type, Authorization"
	allowedCredentials   = "true"
)

func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				traceID := logging.GetTraceID(r.Context())
				logging.EnrichPanic(r.Context())
				log.Error().Interface("panic", err).Str("path", r.URL.Path).Str("trace_id", traceID).Msg("recovered from panic")
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Code:    "INTERNAL",
					Message: "Internal server error",
					TraceID: traceID,
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware allows the frontend at origin to call the API with
// credentials. Preflight requests are answered here.
func CORSMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(corsAllowOrigin, origin)
			w.Header().Set(corsAllowMethods, allowedMethods)
			w.Header().Set(corsAllowHeaders, allowedHeaders)
			w.Header().Set(corsAllowCredentials, allowedCredentials)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
