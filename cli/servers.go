package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewServersCmd creates the "servers" command group.
func NewServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect configured tool servers",
	}
	cmd.AddCommand(newServersListCmd())
	cmd.AddCommand(newServersConnectCmd())
	return cmd
}

func newServersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers and their status",
		Args:  cobra.NoArgs,
		RunE:  runServersList,
	}
	cmd.Flags().Bool("connect", false, "Connect to each enabled server before listing")
	return cmd
}

func runServersList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	if connect, _ := cmd.Flags().GetBool("connect"); connect {
		for _, server := range a.catalog.Servers {
			if !server.Enabled {
				continue
			}
			if err := a.registry.Connect(cmd.Context(), server.Name); err != nil {
				a.logger.Warn("connect failed", "server", server.Name, "error", err)
			}
		}
		// Populate tool counts for the snapshot.
		if _, err := a.registry.ListTools(cmd.Context(), "", false); err != nil {
			return exitError(exitRuntime, "discovering tools: %v", err)
		}
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tSTATUS\tTOOLS\tERROR")
	for _, snapshot := range a.registry.Servers() {
		errText := snapshot.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\n", snapshot.Name, snapshot.Status, snapshot.ToolCount, errText)
	}
	return writer.Flush()
}

func newServersConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <name>",
		Short: "Connect to one server and report its handshake result",
		Args:  cobra.ExactArgs(1),
		RunE:  runServersConnect,
	}
}

func runServersConnect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	name := args[0]
	if err := a.registry.Connect(cmd.Context(), name); err != nil {
		return exitError(exitRuntime, "%s", err)
	}
	tools, err := a.registry.ListTools(cmd.Context(), name, false)
	if err != nil {
		return exitError(exitRuntime, "%s", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%d tools)\n", name, len(tools))
	return nil
}
