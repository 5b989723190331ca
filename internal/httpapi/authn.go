package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/auth"
	"clientdesk.org/internal/authz"
	"clientdesk.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate validates the bearer token and resolves the actor's current role.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Tokens == nil || a.deps.Roles == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="clientdesk"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.deps.Tokens.Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="clientdesk", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		actor, err := authz.ResolveActor(r.Context(), a.deps.Roles, claims.Subject)
		switch {
		case errors.Is(err, account.ErrUserNotFound), errors.Is(err, authz.ErrMissingActor):
			writeError(w, r, http.StatusUnauthorized, "unknown user")
			return
		case err != nil:
			obs.FromContext(r.Context()).WithError(err).Error("resolve actor")
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithActor(r.Context(), actor)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = obs.WithActorID(ctx, actor.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
