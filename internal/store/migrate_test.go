// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/portal/pkg/errutil"
)

// mockMigrate implements migrateIface for testing.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	steps          []int
	versionVal     uint
	dirty          bool
	versionErr     error
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error   { return m.upErr }
func (m *mockMigrate) Down() error { return m.downErr }
func (m *mockMigrate) Steps(n int) error {
	m.steps = append(m.steps, n)
	return m.stepsErr
}
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDbErr }

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/portal")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/portal", migrateURL("postgres://u:p@db:5432/portal"))
	assert.Equal(t, "pgx5://db/portal?sslmode=disable", migrateURL("postgresql://db/portal?sslmode=disable"))
	assert.Equal(t, "pgx5://db/portal", migrateURL("pgx5://db/portal"))
}

func TestMigrator_UpDown(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		mock     *mockMigrate
		run      func(*Migrator) error
		wantCode string
	}{
		{"up", &mockMigrate{}, (*Migrator).Up, ""},
		{"up no change", &mockMigrate{upErr: migrate.ErrNoChange}, (*Migrator).Up, ""},
		{"up error", &mockMigrate{upErr: boom}, (*Migrator).Up, "MIGRATION_UP_FAILED"},
		{"down", &mockMigrate{}, (*Migrator).Down, ""},
		{"down no change", &mockMigrate{downErr: migrate.ErrNoChange}, (*Migrator).Down, ""},
		{"down error", &mockMigrate{downErr: boom}, (*Migrator).Down, "MIGRATION_DOWN_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(&Migrator{m: tt.mock})
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, boom)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_Steps(t *testing.T) {
	t.Run("zero is a no-op", func(t *testing.T) {
		mock := &mockMigrate{}
		require.NoError(t, (&Migrator{m: mock}).Steps(0))
		assert.Empty(t, mock.steps)
	})

	t.Run("forwards n", func(t *testing.T) {
		mock := &mockMigrate{}
		require.NoError(t, (&Migrator{m: mock}).Steps(-1))
		assert.Equal(t, []int{-1}, mock.steps)
	})

	t.Run("no change is not an error", func(t *testing.T) {
		require.NoError(t, (&Migrator{m: &mockMigrate{stepsErr: migrate.ErrNoChange}}).Steps(1))
	})

	t.Run("error carries steps", func(t *testing.T) {
		err := (&Migrator{m: &mockMigrate{stepsErr: errors.New("dirty")}}).Steps(2)
		errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
		errutil.AssertErrorContext(t, err, "steps", 2)
	})
}

func TestMigrator_Version(t *testing.T) {
	t.Run("current version", func(t *testing.T) {
		v, dirty, err := (&Migrator{m: &mockMigrate{versionVal: 2, dirty: true}}).Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.True(t, dirty)
	})

	t.Run("nil version is zero", func(t *testing.T) {
		v, dirty, err := (&Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}).Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})

	t.Run("error", func(t *testing.T) {
		_, _, err := (&Migrator{m: &mockMigrate{versionErr: errors.New("no table")}}).Version()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Status(t *testing.T) {
	t.Run("marks applied migrations", func(t *testing.T) {
		status, err := (&Migrator{m: &mockMigrate{versionVal: 1}}).Status()
		require.NoError(t, err)
		require.Len(t, status, 2)
		assert.Equal(t, MigrationStatus{Migration: Migration{Version: 1, Name: "000001_create_accounts"}, Applied: true}, status[0])
		assert.Equal(t, MigrationStatus{Migration: Migration{Version: 2, Name: "000002_create_sessions"}, Applied: false}, status[1])
	})

	t.Run("fresh database", func(t *testing.T) {
		status, err := (&Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}).Status()
		require.NoError(t, err)
		for _, s := range status {
			assert.False(t, s.Applied, s.Name)
		}
	})

	t.Run("version error", func(t *testing.T) {
		_, err := (&Migrator{m: &mockMigrate{versionErr: errors.New("no table")}}).Status()
		require.Error(t, err)
		errutil.AssertErrorContext(t, err, "operation", "migration status")
	})
}

func TestMigrator_Close(t *testing.T) {
	srcErr := errors.New("source")
	dbErr := errors.New("database")

	tests := []struct {
		name      string
		mock      *mockMigrate
		component string
	}{
		{"clean", &mockMigrate{}, ""},
		{"source error", &mockMigrate{closeSourceErr: srcErr}, "source"},
		{"database error", &mockMigrate{closeDbErr: dbErr}, "database"},
		{"both", &mockMigrate{closeSourceErr: srcErr, closeDbErr: dbErr}, "both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{m: tt.mock}).Close()
			if tt.component == "" {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}
}

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
		assert.Regexp(t, pattern, entry.Name())
	}

	for _, want := range []string{
		"000001_create_accounts.up.sql",
		"000001_create_accounts.down.sql",
		"000002_create_sessions.up.sql",
		"000002_create_sessions.down.sql",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestListMigrations_SkipsUnexpectedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000010_later.up.sql":  {},
		"migrations/000010_later.down.sql": {},
		"migrations/000003_first.up.sql":   {},
		"migrations/README.md":             {},
		"migrations/notes.up.sql":          {},
	}

	migrations, err := listMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []Migration{
		{Version: 3, Name: "000003_first"},
		{Version: 10, Name: "000010_later"},
	}, migrations)
}
