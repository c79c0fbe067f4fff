// Package main provides the CLI entry point for the AI orchestration core:
// a single binary that drives the reasoning loop, tool registry, knowledge
// base, reminder scheduler, and HTTP boundary behind one IRC-connected
// assistant (spec.md §§2, 6).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "nexus-core",
		Short:   "AI orchestration core: reasoning loop, tools, and HTTP boundary for an IRC assistant",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}

	cmd.AddCommand(buildServeCmd())
	cmd.AddCommand(buildMigrateCmd())
	cmd.AddCommand(buildDoctorCmd())

	return cmd
}

// resolveConfigPath falls back to NEXUS_CORE_CONFIG, then nexus-core.toml in
// the working directory, matching the teacher's profile-aware resolution
// without the multi-profile machinery this module doesn't need.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("NEXUS_CORE_CONFIG"); env != "" {
		return env
	}
	return "nexus-core.toml"
}
