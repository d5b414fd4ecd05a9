// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "portal"

// DefaultPath returns the config file looked up when --config is not given:
// $XDG_CONFIG_HOME/portal/config.yaml, falling back to ~/.config.
func DefaultPath(getenv func(string) string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName, "config.yaml")
}

// fileExists treats permission errors as existing so the load reports them.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}
