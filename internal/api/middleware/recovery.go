package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/cowrite/cowrite/pkg/logger"
)

// Recovery recovers a panic inside the handler chain, logs it with a
// stack trace, and responds with a bare 500 rather than crashing the
// process — one bad document or malformed request must not take down
// every other connection.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered", "error", err, "stack", string(debug.Stack()))
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
