// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holomush/portal/internal/config"
)

// NewSessionsCmd creates the sessions command group.
func NewSessionsCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain stored sessions",
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired PostgreSQL sessions",
		Long: `Delete sessions whose expiry has passed from PostgreSQL. Redis
sessions expire on their own and need no pruning.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrune(cmd, deps)
		},
	}
	config.RegisterDatabaseFlags(prune.Flags())
	cmd.AddCommand(prune)

	return cmd
}

func runPrune(cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd, deps.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}
	logger := setupLogging(cfg)

	ctx := cmd.Context()
	db, err := deps.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := deps.NewSessionPruner(db).DeleteExpired(ctx, deps.Now())
	if err != nil {
		return err
	}

	logger.Info("expired sessions pruned", "count", removed)
	//nolint:errcheck // console output
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired session(s)\n", removed)
	return nil
}
