package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/bootstrap"
	dErrors "carebase/pkg/domain-errors"
)

func TestClient_CreateOrganizationAndUser(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.WriteHeader(http.StatusCreated)
		switch r.URL.Path {
		case "/organizations":
			assert.Equal(t, "acme", body["subdomain"])
			_, _ = w.Write([]byte(`{"id":"ext-org-1"}`))
		default:
			assert.Equal(t, "admin@acme.test", body["email"])
			_, _ = w.Write([]byte(`{"id":"ext-user-1"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("s3cret"))
	orgID, err := c.CreateOrganization(context.Background(), bootstrap.CreateOrganizationRequest{Name: "Acme", Type: "provider", Subdomain: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "ext-org-1", orgID)

	userID, err := c.CreateUser(context.Background(), bootstrap.CreateUserRequest{ExternalOrgID: orgID, Email: "admin@acme.test"})
	require.NoError(t, err)
	assert.Equal(t, "ext-user-1", userID)

	assert.Equal(t, []string{"POST /organizations", "POST /organizations/ext-org-1/users"}, seen)
}

func TestClient_ErrorsAreExternalDependencyFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/organizations":
			http.Error(w, "upstream down", http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.CreateOrganization(context.Background(), bootstrap.CreateOrganizationRequest{Name: "Acme"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExternalDependency))
	assert.Contains(t, err.Error(), "upstream down")

	_, err = c.CreateUser(context.Background(), bootstrap.CreateUserRequest{ExternalOrgID: "x"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExternalDependency), "missing id")
}
