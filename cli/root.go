package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the toolgate command tree.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolgate",
		Short: "toolgate tool-server gateway CLI",
		Long:  "toolgate: discover, inspect, and invoke tools exposed by MCP servers.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("catalog", "", "Path to the server catalog (YAML or JSON)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	cmd.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")

	cmd.Version = version
	cmd.SetVersionTemplate(fmt.Sprintf("toolgate version %s\n", version))

	cmd.AddCommand(NewServersCmd())
	cmd.AddCommand(NewToolsCmd())
	cmd.AddCommand(NewServeCmd())

	return cmd
}
