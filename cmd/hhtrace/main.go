// Package main provides hhtrace, the developer CLI for the HoneyHive
// Go SDK.
//
// hhtrace inspects the rule bundle the SDK normalizes spans with,
// watches a bundle override during rule development, and sends a test
// event through a live tracer to verify credentials and connectivity.
//
// # Basic Usage
//
// Inspect the embedded rule bundle:
//
//	hhtrace bundle info
//
// Re-validate a bundle override on every save:
//
//	hhtrace bundle watch --path ./bundle.yaml
//
// Send a test event through the configured backend:
//
//	HH_API_KEY=... HH_PROJECT=demo hhtrace send --name smoke-test
//
// # Environment Variables
//
// Configuration comes from the HH_* variables the SDK reads
// (HH_API_KEY, HH_PROJECT, HH_API_URL, ...). hhtrace additionally
// loads a .env file from the working directory; variables already set
// in the environment win.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// .env is a developer convenience; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "hhtrace: load .env: %v\n", err)
	}

	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hhtrace",
		Short: "Developer tool for the HoneyHive Go SDK",
		Long: `hhtrace pokes at the pieces of the HoneyHive Go SDK from the command
line: the rule bundle that drives span normalization, bundle overrides
under development, and the event export path.

Configuration comes from HH_* environment variables, with a .env file
in the working directory as fallback.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildBundleCmd(),
		buildSendCmd(),
	)

	return rootCmd
}
