package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/scholarmarket-backend/api/responses"
	pkgAuth "github.com/angelmondragon/scholarmarket-backend/pkg/auth"
	"github.com/angelmondragon/scholarmarket-backend/pkg/config"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
)

// Auth validates the gateway bearer token and seeds the request context with
// the caller identity. An admin role is honoured only for ids in adminIDs.
func Auth(cfg config.JWTConfig, adminIDs []int64, logg *logger.Logger) func(http.Handler) http.Handler {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}
			if claims.Role == enums.RoleAdmin && !admins[claims.UserID] {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin role not granted"))
				return
			}

			ctx = WithIdentity(ctx, claims.UserID, claims.Username, claims.Role)
			ctx = logg.WithUserID(ctx, claims.UserID)
			ctx = logg.WithActorRole(ctx, string(claims.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <jwt>" in any case as well as a bare token.
func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, rest, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "bearer") {
		header = strings.TrimSpace(rest)
	}
	return header, header != ""
}
