package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolgate/tool"
)

// NewServeCmd creates the "serve" command: a long-lived session that
// holds server connections open and keeps discovery fresh.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Hold server connections open and refresh discovery on the catalog schedule",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	scheduler, err := newRefreshScheduler(a)
	if err != nil {
		return exitError(exitValidation, "%s", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, server := range a.catalog.Servers {
		if !server.Enabled {
			continue
		}
		if err := a.registry.Connect(ctx, server.Name); err != nil {
			a.logger.Warn("connect failed", "server", server.Name, "error", err)
		}
	}
	if _, err := a.registry.ListTools(ctx, "", false); err != nil {
		return exitError(exitRuntime, "discovering tools: %v", err)
	}

	if scheduler != nil {
		if err := scheduler.Start(); err != nil {
			return exitError(exitRuntime, "%s", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := scheduler.Stop(stopCtx); err != nil {
				a.logger.Warn("stopping refresh scheduler", "error", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %d servers; next refresh at %s\n",
			len(a.catalog.Servers), scheduler.NextRun().Format(time.RFC3339))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %d servers\n", len(a.catalog.Servers))
	}

	<-ctx.Done()
	return nil
}

// newRefreshScheduler builds the background refresher when the catalog
// sets refresh_schedule; an empty setting means no background refresh.
func newRefreshScheduler(a *app) (*tool.RefreshScheduler, error) {
	schedule := a.catalog.Settings.RefreshSchedule
	if schedule == "" {
		return nil, nil
	}
	return tool.NewRefreshScheduler(tool.RefreshSchedulerConfig{
		Registry: a.registry,
		Schedule: schedule,
		Logger:   a.logger,
	})
}
