package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolgate/tool"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Discover and invoke tools",
	}
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsSchemaCmd())
	cmd.AddCommand(newToolsCallCmd())
	cmd.AddCommand(newToolsHistoryCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available tools across servers",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
	cmd.Flags().String("server", "", "Limit listing to one server")
	cmd.Flags().Bool("refresh", false, "Bypass the discovery cache")
	return cmd
}

func runToolsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	server, _ := cmd.Flags().GetString("server")
	refresh, _ := cmd.Flags().GetBool("refresh")

	tools, err := a.registry.ListTools(cmd.Context(), server, refresh)
	if err != nil {
		return exitError(exitRuntime, "listing tools: %v", err)
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Name < tools[j].Name
	})

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tSERVER\tDESCRIPTION")
	for _, info := range tools {
		description := info.Description
		if description == "" {
			description = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", info.Name, info.Server, description)
	}
	return writer.Flush()
}

func newToolsSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <name>",
		Short: "Show a tool's declared parameters",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsSchema,
	}
}

func runToolsSchema(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	schema, err := a.registry.GetSchema(cmd.Context(), args[0])
	if err != nil {
		return exitError(exitValidation, "%s", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "PARAMETER\tKIND\tREQUIRED\tDESCRIPTION")
	for _, name := range schema.ParameterNames() {
		param := schema.Parameters[name]
		description := param.Description
		if description == "" {
			description = "-"
		}
		if len(param.Enum) > 0 {
			description = fmt.Sprintf("%s (one of %v)", description, param.Enum)
		}
		fmt.Fprintf(writer, "%s\t%s\t%t\t%s\n", param.Name, param.Kind, param.Required, description)
	}
	return writer.Flush()
}

func newToolsCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <name>",
		Short: "Invoke a tool and print its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsCall,
	}
	cmd.Flags().StringArray("arg", nil, "Argument KEY=VALUE (repeatable; values parse as JSON when possible)")
	cmd.Flags().String("json", "", "Arguments as a raw JSON object (overrides --arg)")
	cmd.Flags().Duration("timeout", 0, "Invocation timeout (default from catalog)")
	cmd.Flags().Bool("skip-validation", false, "Bypass argument validation")
	return cmd
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	rawJSON, _ := cmd.Flags().GetString("json")
	rawArgs, _ := cmd.Flags().GetStringArray("arg")
	arguments, err := resolveArguments(rawJSON, rawArgs)
	if err != nil {
		return exitError(exitValidation, "%s", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	skipValidation, _ := cmd.Flags().GetBool("skip-validation")

	result := a.executor.Execute(cmd.Context(), tool.Call{
		Tool:           args[0],
		Arguments:      arguments,
		Timeout:        timeout,
		SkipValidation: skipValidation,
	})

	if !result.Success {
		fmt.Fprintf(cmd.ErrOrStderr(), "Execution %s failed after %s\n", result.ID, result.Duration.Round(time.Millisecond))
		code := exitRuntime
		if result.Error.Code == tool.CodeValidationError || result.Error.Code == tool.CodeToolNotFound {
			code = exitValidation
		}
		return exitError(code, "%s", result.Error)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Content)
	return nil
}

// resolveArguments builds the argument map from --json or repeated
// --arg KEY=VALUE flags. Values that parse as JSON keep their type;
// anything else is treated as a string.
func resolveArguments(rawJSON string, rawArgs []string) (map[string]any, error) {
	if strings.TrimSpace(rawJSON) != "" {
		var arguments map[string]any
		if err := json.Unmarshal([]byte(rawJSON), &arguments); err != nil {
			return nil, fmt.Errorf("parsing --json: %w", err)
		}
		return arguments, nil
	}
	if len(rawArgs) == 0 {
		return nil, nil
	}

	arguments := make(map[string]any, len(rawArgs))
	for _, raw := range rawArgs {
		key, value, found := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --arg %q (want KEY=VALUE)", raw)
		}
		arguments[key] = parseArgValue(value)
	}
	return arguments, nil
}

func parseArgValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func newToolsHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent executions from the journal",
		Args:  cobra.NoArgs,
		RunE:  runToolsHistory,
	}
	cmd.Flags().Int("limit", 20, "Maximum entries to show")
	return cmd
}

func runToolsHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := a.journal.Recent(cmd.Context(), limit)
	if err != nil {
		return exitError(exitRuntime, "reading journal: %v", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "TIME\tTOOL\tSERVER\tOUTCOME\tDURATION")
	for _, entry := range entries {
		outcome := "ok"
		if !entry.Success {
			outcome = entry.Code
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%dms\n",
			entry.CreatedAt.Format(time.RFC3339),
			entry.Tool,
			entry.Server,
			outcome,
			entry.DurationMS,
		)
	}
	return writer.Flush()
}
