package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", "postgres", DatabaseTypePostgres, false},
		{"postgresql", "postgresql", DatabaseTypePostgres, false},
		{"pg", "pg", DatabaseTypePostgres, false},
		{"mysql", "mysql", DatabaseTypeMySQL, false},
		{"mariadb", "mariadb", DatabaseTypeMySQL, false},
		{"sqlite", "sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", "sqlite3", DatabaseTypeSQLite, false},
		{"uppercase", "POSTGRES", DatabaseTypePostgres, false},
		{"invalid", "invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	// Test nil config
	_, err := NewMigrator(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	// Test empty database URL
	_, err = NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  "",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestMigrator_SQLite_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  "file:" + dbPath + "?mode=rwc",
		TableName:    "schema_migrations",
	}

	migrator, err := NewMigrator(cfg)
	require.NoError(t, err)
	defer migrator.Close()

	ctx := context.Background()

	// Test initial version
	version, dirty, err := migrator.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	// Test Up
	err = migrator.Up(ctx)
	require.NoError(t, err)

	// Verify version after migration
	version, dirty, err = migrator.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, version, uint(0))
	assert.False(t, dirty)

	// Test Status
	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, statuses)
	assert.True(t, statuses[0].Applied)

	// Test Down
	err = migrator.Down(ctx)
	require.NoError(t, err)

	// Verify version after rollback
	newVersion, _, err := migrator.Version(ctx)
	require.NoError(t, err)
	assert.Less(t, newVersion, version)
}

func TestMigrator_GetAvailableMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  "file:" + dbPath + "?mode=rwc",
		TableName:    "schema_migrations",
	}

	migrator, err := NewMigrator(cfg)
	require.NoError(t, err)
	defer migrator.Close()

	migrations, err := migrator.getAvailableMigrations()
	require.NoError(t, err)
	assert.NotEmpty(t, migrations)

	// Verify migrations are sorted by version
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].version, migrations[i-1].version)
	}
}
