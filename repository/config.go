// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"os"
	"os/user"
)

// Config contains configurable values for the repository.
type Config struct {
	Activated      bool     `help:"track schema and columns in the catalog" default:"false" testDefault:"true"`
	IncludedTables []string `help:"tables to track as namespace:table or namespace:*, everything when empty" default:""`
	ExcludedTables []string `help:"tables to skip as namespace:table or namespace:*, ignored when included tables are set" default:""`
	MaxVersions    int      `help:"number of versions kept of every catalog attribute" default:"50"`
	ActingUser     string   `help:"user recorded with catalog changes, defaults to the current OS user" default:""`
}

// actingUser returns the configured user or the user running the process.
func (config Config) actingUser() string {
	if config.ActingUser != "" {
		return config.ActingUser
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return os.Getenv("USER")
}
