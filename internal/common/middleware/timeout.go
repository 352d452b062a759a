package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gantryhq/gantry/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// SetTimeout creates middleware that enforces a timeout for request handling.
// If the request exceeds the specified duration, it returns a timeout error
// response. Mounted only on the JSON endpoints; streaming routes (proxy,
// bundle) manage their own lifetimes through the request context.
func SetTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			rw := httpx.NewResponseWriter(w)
			r = r.WithContext(ctx)

			rw.Header().Set("X-Gantry-Timeout", timeout.String())

			done := make(chan struct{})
			go func() {
				defer func() {
					if r := recover(); r != nil {
						log.Ctx(ctx).Error().Msgf("panic in handler: %v", r)
					}
					close(done)
				}()
				next.ServeHTTP(rw, r)
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
				// Only write error if headers haven't been sent yet
				if !rw.Written() {
					httpx.ErrRequestTimeout().Send(w)
				}
				log.Ctx(ctx).Error().Msgf("request timed out")
				return
			}
		})
	}
}
