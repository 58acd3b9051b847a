package controllers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/middleware"
	"github.com/adamlounds/nightscout-tdd/models"
)

type AuthnMiddleware struct {
	*models.AuthService
}

// SetAuthentication resolves the caller from the api-secret header (or
// secret query param) and the token query param.
func (a AuthnMiddleware) SetAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		apiSecretHash := r.Header.Get("api-secret")
		if apiSecretHash == "" {
			apiSecretHash = r.URL.Query().Get("secret")
		}
		authToken := r.URL.Query().Get("token")

		authn := a.AuthFromHTTP(ctx, apiSecretHash, authToken)
		slogctx.FromCtx(ctx).Debug("SetAuthentication", slog.Any("authn", authn))

		ctx = middleware.WithAuthn(ctx, authn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a AuthnMiddleware) Authz(requiredPermission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogctx.FromCtx(ctx)
			authn := middleware.GetAuthn(ctx)

			if !a.IsPermitted(ctx, authn, requiredPermission) {
				log.Info("authz not permitted", slog.String("requiredPerm", requiredPermission), slog.Any("authn", authn))
				render.Status(r, http.StatusUnauthorized)
				render.PlainText(w, r, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
