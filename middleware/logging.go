package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	slogctx "github.com/veqryn/slog-context"
)

// RequestLogger puts a logger tagged with the chi request id into the request
// context, so handlers and everything below them log with it. Must run after
// chi's RequestID middleware.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := slogctx.FromCtx(ctx).With(
			slog.String("requestID", chimw.GetReqID(ctx)),
			slog.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(slogctx.NewCtx(ctx, log)))
	})
}
