package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starkernel/internal/kernel"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display starkernel version and the Jupyter protocol it speaks.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "starkernel v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starlark kernel for Jupyter (protocol %s)\n", kernel.ProtocolVersion)
		},
	}
}
