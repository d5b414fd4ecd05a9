// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/portal/internal/config"
	"github.com/holomush/portal/internal/logging"
)

const serviceName = "portal"

// NewRootCmd creates the root command. A nil deps uses the production
// implementations.
func NewRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Portal - session-based sign-in service",
		Long: `Portal serves sign-up, sign-in and sign-out pages backed by
PostgreSQL accounts and PostgreSQL or Redis sessions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd(deps))
	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewSessionsCmd(deps))

	return cmd
}

// loadConfig reads --config and the flags of cmd.
func loadConfig(cmd *cobra.Command, getenv func(string) string) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("flag", "config").Wrap(err)
	}
	return config.Loader{Getenv: getenv}.Load(path, cmd.Flags())
}

// setupLogging installs the default logger for cfg.
func setupLogging(cfg *config.Config) *slog.Logger {
	return logging.SetDefault(serviceName, version, cfg.Log.Format)
}
