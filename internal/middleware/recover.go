package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/starline/starline-api/internal/pkg/logger"
	"github.com/starline/starline-api/internal/pkg/response"
)

// Recover turns panics into 500 responses.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.FromContext(r.Context()).Error().
					Interface("panic", rec).
					Str("stack", string(debug.Stack())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")
				response.InternalError(w)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
