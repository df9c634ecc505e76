package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pavankpdev/rate-limiting-implementation/internal/config"
)

func newInitCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example config file",
		Example: `  ratelimitd init
  ratelimitd init --output /etc/ratelimitd.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(output); err != nil {
				return err
			}
			fmt.Printf("Wrote example config to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "ratelimitd.yaml", "output file path")

	return cmd
}
