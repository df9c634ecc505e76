package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root ratelimitd command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ratelimitd",
		Short: "Rate limited admission gateway for a chat service",
		Long: `Ratelimitd fronts a slow chat responder with per-identity rate limiting
and a bounded worker pool. The serve command runs the HTTP gateway;
simulate and replay exercise limiter configurations against a virtual
clock without waiting for real time to pass.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newSimulateCmd(),
		newReplayCmd(),
		newLoadtestCmd(),
		newInitCmd(),
	)

	return root
}
