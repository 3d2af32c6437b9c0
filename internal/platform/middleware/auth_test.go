package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "carebase/internal/jwt_token"
	"carebase/pkg/domain"
	"carebase/pkg/requestcontext"
)

func TestRequireRole(t *testing.T) {
	tokens := jwttoken.NewJWTService("secret", "carebase", "carebase-admin")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	operator := domain.UserID(uuid.New())

	var seen domain.UserID
	h := RequireRole(tokens, jwttoken.RoleAdmin, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(authorization string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	admin, err := tokens.GenerateToken(operator, jwttoken.RoleAdmin, time.Hour)
	require.NoError(t, err)
	viewer, err := tokens.GenerateToken(operator, "viewer", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(""))
	assert.Equal(t, http.StatusUnauthorized, serve("Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, serve("Bearer not-a-token"))
	assert.Equal(t, http.StatusForbidden, serve("Bearer "+viewer))
	assert.Equal(t, http.StatusNoContent, serve("Bearer "+admin))
	assert.Equal(t, operator, seen)
}
