// Package middleware holds HTTP middleware specific to this service.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	jwttoken "carebase/internal/jwt_token"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/httputil"
	"carebase/pkg/requestcontext"
)

// TokenValidator verifies a bearer token; *jwttoken.JWTService implements it.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

// RequireRole rejects requests without a valid bearer token carrying role.
// The token's user id is placed on the request context so appended events
// record the operator.
func RequireRole(validator TokenValidator, role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token", "request_id", requestID)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token", "request_id", requestID, "error", err)
				httputil.WriteError(w, err)
				return
			}
			if claims.Role != role {
				logger.WarnContext(ctx, "forbidden - missing role",
					"request_id", requestID,
					"user_id", claims.UserID,
					"required_role", role,
				)
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "%s role required", role))
				return
			}
			if userID, err := domain.ParseUserID(claims.UserID); err == nil {
				ctx = requestcontext.WithUserID(ctx, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
