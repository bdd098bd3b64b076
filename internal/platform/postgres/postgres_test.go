package postgres

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x int);\n\n  CREATE INDEX b ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x int)", "CREATE INDEX b ON a (x)"}, got)
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/0001_registry.sql", "migrations/0002_audit_outbox.sql"}, names)

	for _, name := range names {
		body, err := migrations.ReadFile(name)
		require.NoError(t, err)
		assert.NotEmpty(t, splitStatements(string(body)), name)
	}
}
