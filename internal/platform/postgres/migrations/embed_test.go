package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdered(t *testing.T) {
	files, err := Ordered()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].Name, files[i].Name)
	}

	all := ""
	for _, f := range files {
		assert.NotEmpty(t, strings.TrimSpace(f.SQL), f.Name)
		all += f.SQL
	}
	for _, table := range []string{
		"domain_events", "cascade_queue", "audit_log", "circuit_breaker_state",
		"organizations", "permissions", "roles", "role_permissions", "users", "user_roles",
		"cross_tenant_access_grants", "impersonation_sessions", "clinical_documents", "publish_outbox",
	} {
		assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}
