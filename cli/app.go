// Package cli implements the toolgate command tree.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolgate/loader"
	"github.com/petal-labs/toolgate/mcp"
	"github.com/petal-labs/toolgate/otel"
	"github.com/petal-labs/toolgate/tool"
)

// app holds the wired components behind every command: catalog,
// registry, executor, journal, and optional telemetry.
type app struct {
	catalog  *loader.Catalog
	registry *tool.Registry
	executor *tool.Executor
	journal  *tool.Journal
	provider *otel.Provider
	logger   *slog.Logger
}

// newApp loads the catalog named by --catalog and wires the stack.
func newApp(cmd *cobra.Command) (*app, error) {
	catalogPath, _ := cmd.Flags().GetString("catalog")
	if catalogPath == "" {
		return nil, exitError(exitValidation, "a catalog file is required (--catalog)")
	}

	catalog, err := loader.Load(catalogPath)
	if err != nil {
		return nil, exitError(exitValidation, "%s", err)
	}

	logger := newLogger(cmd)

	registry := tool.NewRegistry(tool.RegistryConfig{
		CacheTTL: catalog.Settings.CacheTTL,
		Dialer: tool.StdioDialer(mcp.Options{
			RequestTimeout: catalog.Settings.RequestTimeout,
			Logger:         logger,
		}),
		Logger: logger,
	})
	for _, server := range catalog.Servers {
		if err := registry.AddServer(server); err != nil {
			return nil, exitError(exitValidation, "%s", err)
		}
	}

	a := &app{
		catalog:  catalog,
		registry: registry,
		logger:   logger,
	}

	journalPath := catalog.Settings.JournalPath
	if journalPath == "" {
		journalPath, err = tool.DefaultJournalPath()
		if err != nil {
			return nil, exitError(exitRuntime, "%s", err)
		}
	}
	journal, err := tool.OpenJournal(journalPath)
	if err != nil {
		return nil, exitError(exitRuntime, "%s", err)
	}
	a.journal = journal

	if endpoint := catalog.Settings.OTLPEndpoint; endpoint != "" {
		provider, err := otel.NewProvider(cmd.Context(), otel.ProviderConfig{
			Endpoint: endpoint,
			Insecure: true,
		})
		if err != nil {
			_ = journal.Close()
			return nil, exitError(exitRuntime, "%s", err)
		}
		observer, err := provider.Observer()
		if err != nil {
			_ = journal.Close()
			return nil, exitError(exitRuntime, "%s", err)
		}
		tool.SetObserver(observer)
		a.provider = provider
	}

	a.executor = tool.NewExecutor(tool.ExecutorConfig{
		Registry:       registry,
		Sink:           journal,
		DefaultTimeout: catalog.Settings.RequestTimeout,
		Logger:         logger,
	})

	return a, nil
}

// close tears the stack down in reverse wiring order.
func (a *app) close(ctx context.Context) {
	if a == nil {
		return
	}
	if err := a.registry.Close(ctx); err != nil {
		a.logger.Warn("closing registry", "error", err)
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("closing journal", "error", err)
		}
	}
	if a.provider != nil {
		tool.SetObserver(nil)
		if err := a.provider.Shutdown(ctx); err != nil {
			a.logger.Warn("shutting down telemetry", "error", err)
		}
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
