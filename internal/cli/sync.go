package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-incident-snowsync/internal/app"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

// NewSyncCommand creates the sync command with forward and reverse children.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync a single record",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "forward <incident-id>",
		Short: "Create or update the ServiceNow record for one incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, func(ctx context.Context, a *app.App) (syncer.Outcome, error) {
				return a.Forward.Sync(ctx, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reverse <sys-id>",
		Short: "Push one ServiceNow record back to its incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, func(ctx context.Context, a *app.App) (syncer.Outcome, error) {
				return a.Reverse.SyncRecord(ctx, args[0])
			})
		},
	})
	return cmd
}

func runSync(cmd *cobra.Command, opts *RootOptions, run func(context.Context, *app.App) (syncer.Outcome, error)) error {
	ctx := cmd.Context()
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := opts.newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	out, err := run(ctx, a)
	if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil {
		return werr
	}
	if err != nil {
		return fmt.Errorf("sync %s %s: %w", out.Direction, out.ID, err)
	}
	return nil
}
