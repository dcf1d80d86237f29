package main

import "github.com/spf13/cobra"

// =============================================================================
// Bundle Commands
// =============================================================================

// buildBundleCmd creates the "bundle" command group for rule-bundle
// inspection and development.
func buildBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Inspect and develop extraction rule bundles",
		Long: `Inspect and develop extraction rule bundles.

The bundle is the data-driven catalog of provider signatures,
extraction rules, and model pricing that span normalization runs on.
It ships embedded in the SDK; --path or HH_BUNDLE_PATH points at an
override during rule development.

Example workflow:
  hhtrace bundle info                    # Summarize the embedded bundle
  hhtrace bundle info --path new.yaml    # Validate an override
  hhtrace bundle watch --path new.yaml   # Re-validate on every save`,
	}
	cmd.AddCommand(
		buildBundleInfoCmd(),
		buildBundleWatchCmd(),
	)
	return cmd
}

func buildBundleInfoCmd() *cobra.Command {
	var (
		path       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Decode, validate, and summarize a rule bundle",
		Long: `Decode and validate a rule bundle, then summarize it: schema
version, instrumentors with their rule counts, providers with their
detection data, and the size of the pricing table.

Reads the embedded bundle unless --path or HH_BUNDLE_PATH points at an
override. A bundle that fails validation exits non-zero with the
validation error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundleInfo(cmd, path, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Bundle artifact path (default: HH_BUNDLE_PATH, else embedded)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the summary as JSON")
	return cmd
}

func buildBundleWatchCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload and re-validate a bundle override on every change",
		Long: `Watch a bundle override file and re-validate it on every save,
printing each outcome.

This is the rule-development loop: leave it running while editing
rules and see validation failures the moment they are written. Stops
on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundleWatch(cmd, path)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Bundle artifact path (default: HH_BUNDLE_PATH)")
	return cmd
}
