// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/portal/internal/config"
)

// NewMigrateCmd creates the migrate command group. Without a subcommand it
// applies all pending migrations.
func NewMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the PostgreSQL schema migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator, out io.Writer) error {
				return runMigrateUp(m, out)
			})
		},
	}
	config.RegisterDatabaseFlags(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator, out io.Writer) error {
				return runMigrateUp(m, out)
			})
		},
	})

	var steps int
	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recent migrations, one by default. --all drops
every table including all accounts and sessions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator, out io.Writer) error {
				return runMigrateDown(m, out, steps, all)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	down.Flags().BoolVar(&all, "all", false, "roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateStatus)
		},
	})

	return cmd
}

// withMigrator loads configuration, opens a migrator, runs fn and closes it.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(Migrator, io.Writer) error) (err error) {
	cfg, err := loadConfig(cmd, deps.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}
	setupLogging(cfg)

	m, err := deps.NewMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m, cmd.OutOrStdout())
}

func runMigrateUp(m Migrator, out io.Writer) error {
	if err := m.Up(); err != nil {
		return err
	}
	//nolint:errcheck // console output
	fmt.Fprintln(out, "Migrations applied")
	return nil
}

func runMigrateDown(m Migrator, out io.Writer, steps int, all bool) error {
	if all {
		if err := m.Down(); err != nil {
			return err
		}
		//nolint:errcheck // console output
		fmt.Fprintln(out, "All migrations rolled back")
		return nil
	}
	if steps < 1 {
		return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("--steps must be at least 1")
	}
	if err := m.Steps(-steps); err != nil {
		return err
	}
	//nolint:errcheck // console output
	fmt.Fprintf(out, "Rolled back %d migration(s)\n", steps)
	return nil
}

func runMigrateStatus(m Migrator, out io.Writer) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	//nolint:errcheck // console output
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS")
	for _, s := range status {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		//nolint:errcheck // console output
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return oops.With("operation", "write status").Wrap(err)
	}
	return nil
}
