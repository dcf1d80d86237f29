package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Send Commands
// =============================================================================

// buildSendCmd creates the "send" command for end-to-end connectivity
// checks.
func buildSendCmd() *cobra.Command {
	var (
		name      string
		eventType string
		inputs    []string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one test event through the configured backend",
		Long: `Start a session, send a single event through the event export path,
and report what the backend accepted.

Use it to verify credentials, project wiring, and connectivity before
instrumenting an application:

  HH_API_KEY=... HH_PROJECT=demo hhtrace send --name smoke-test

Inputs attach to the event as key=value pairs:

  hhtrace send --name lookup --type tool --input query=weather`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, name, eventType, inputs, timeout)
		},
	}

	cmd.Flags().StringVar(&name, "name", "hhtrace-test", "Event name")
	cmd.Flags().StringVar(&eventType, "type", "tool", "Event type (model, chain, tool, session)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Event input as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")

	return cmd
}
