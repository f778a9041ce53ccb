package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingOrdersAndSkipsApplied(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_audit.up.sql":  {Data: []byte("SELECT 1")},
		"0001_init.up.sql":   {Data: []byte("SELECT 1")},
		"0001_init.down.sql": {Data: []byte("SELECT 1")},
		"0003_extra.up.sql":  {Data: []byte("SELECT 1")},
	}
	pending, err := Pending(fsys, map[string]bool{"0002_audit": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.up.sql", "0003_extra.up.sql"}, pending)
}

func TestEmbeddedSchemaCoversRepositories(t *testing.T) {
	pending, err := Pending(Files, nil)
	require.NoError(t, err)
	require.NotEmpty(t, pending)

	script, err := Files.ReadFile(pending[0])
	require.NoError(t, err)
	for _, table := range []string{
		"admin_users", "students", "roles", "permissions", "role_permissions", "user_roles",
		"request_types", "requests", "department_request_limits", "authz_audit_log",
	} {
		assert.Contains(t, string(script), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
	assert.Contains(t, string(script), "UNIQUE (student_id, department)")
}
