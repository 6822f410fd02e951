package httpx

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// Inbound ids end up in logs and response headers, so only short opaque
// tokens are echoed back.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestIDMiddleware tags the request with the caller's X-Request-Id, or a
// fresh uuid when the header is absent or unusable.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(requestIDHeader)
			if !validRequestID.MatchString(requestID) {
				replaced := requestID
				requestID = uuid.NewString()
				if replaced != "" {
					logger.DebugContext(r.Context(), "replaced inbound request id",
						slog.Int("inbound_length", len(replaced)),
						slog.String("request_id", requestID),
					)
				}
			}

			w.Header().Set(requestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), requestID)))
		})
	}
}
