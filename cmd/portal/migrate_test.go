// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"io"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/portal/internal/store"
	"github.com/holomush/portal/pkg/errutil"
)

type fakeMigrator struct {
	upErr    error
	downErr  error
	stepsErr error
	closeErr error
	status   []store.MigrationStatus

	upCalls   int
	downCalls int
	steps     []int
	closed    bool
}

func (m *fakeMigrator) Up() error         { m.upCalls++; return m.upErr }
func (m *fakeMigrator) Down() error       { m.downCalls++; return m.downErr }
func (m *fakeMigrator) Steps(n int) error { m.steps = append(m.steps, n); return m.stepsErr }
func (m *fakeMigrator) Close() error      { m.closed = true; return m.closeErr }
func (m *fakeMigrator) Status() ([]store.MigrationStatus, error) {
	return m.status, nil
}

func migrateDeps(m *fakeMigrator, gotURL *string) *Deps {
	return &Deps{
		Getenv: envWith(map[string]string{"DATABASE_URL": "postgres://env/portal"}),
		NewMigrator: func(url string) (Migrator, error) {
			if gotURL != nil {
				*gotURL = url
			}
			return m, nil
		},
	}
}

func TestMigrate_DefaultsToUp(t *testing.T) {
	m := &fakeMigrator{}
	var url string

	out, err := execute(t, migrateDeps(m, &url), "migrate")

	require.NoError(t, err)
	assert.Equal(t, 1, m.upCalls)
	assert.True(t, m.closed)
	assert.Equal(t, "postgres://env/portal", url)
	assert.Contains(t, out, "Migrations applied")
}

func TestMigrate_Up(t *testing.T) {
	m := &fakeMigrator{}
	var url string

	_, err := execute(t, migrateDeps(m, &url), "migrate", "up", "--database-url", "postgres://flag/portal")

	require.NoError(t, err)
	assert.Equal(t, 1, m.upCalls)
	assert.Equal(t, "postgres://flag/portal", url, "flag wins over environment")
}

func TestMigrate_ConfigFile(t *testing.T) {
	m := &fakeMigrator{}
	var url string
	path := writeYAML(t, "database:\n  url: postgres://file/portal\n")

	_, err := execute(t, migrateDeps(m, &url), "--config", path, "migrate", "up")

	require.NoError(t, err)
	assert.Equal(t, "postgres://file/portal", url)
}

func TestMigrate_Down(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantSteps []int
		wantDown  int
		wantOut   string
	}{
		{"one step by default", nil, []int{-1}, 0, "Rolled back 1 migration(s)"},
		{"explicit steps", []string{"--steps", "2"}, []int{-2}, 0, "Rolled back 2 migration(s)"},
		{"all", []string{"--all"}, nil, 1, "All migrations rolled back"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMigrator{}
			out, err := execute(t, migrateDeps(m, nil), append([]string{"migrate", "down"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSteps, m.steps)
			assert.Equal(t, tt.wantDown, m.downCalls)
			assert.Contains(t, out, tt.wantOut)
		})
	}
}

func TestMigrate_DownRejectsZeroSteps(t *testing.T) {
	m := &fakeMigrator{}
	err := runMigrateDown(m, io.Discard, 0, false)
	errutil.AssertErrorCode(t, err, "INVALID_STEPS")
	assert.Empty(t, m.steps)
}

func TestMigrate_Status(t *testing.T) {
	m := &fakeMigrator{status: []store.MigrationStatus{
		{Migration: store.Migration{Version: 1, Name: "000001_create_accounts"}, Applied: true},
		{Migration: store.Migration{Version: 2, Name: "000002_create_sessions"}, Applied: false},
	}}

	out, err := execute(t, migrateDeps(m, nil), "migrate", "status")

	require.NoError(t, err)
	assert.Regexp(t, `VERSION\s+NAME\s+STATUS`, out)
	assert.Regexp(t, `1\s+000001_create_accounts\s+applied`, out)
	assert.Regexp(t, `2\s+000002_create_sessions\s+pending`, out)
}

func TestMigrate_Errors(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		deps := &Deps{Getenv: envWith(nil), NewMigrator: func(string) (Migrator, error) {
			t.Fatal("migrator must not be created")
			return nil, nil
		}}
		_, err := execute(t, deps, "migrate")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("migrator init fails", func(t *testing.T) {
		deps := migrateDeps(nil, nil)
		deps.NewMigrator = func(string) (Migrator, error) {
			return nil, oops.Code("MIGRATION_INIT_FAILED").Wrap(errors.New("bad url"))
		}
		_, err := execute(t, deps, "migrate")
		errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	})

	t.Run("up fails and migrator still closes", func(t *testing.T) {
		m := &fakeMigrator{upErr: oops.Code("MIGRATION_UP_FAILED").Wrap(errors.New("dirty"))}
		_, err := execute(t, migrateDeps(m, nil), "migrate", "up")
		errutil.AssertErrorCode(t, err, "MIGRATION_UP_FAILED")
		assert.True(t, m.closed)
	})

	t.Run("close error is reported", func(t *testing.T) {
		m := &fakeMigrator{closeErr: oops.Code("MIGRATION_CLOSE_FAILED").Errorf("close")}
		_, err := execute(t, migrateDeps(m, nil), "migrate", "up")
		errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	})
}
