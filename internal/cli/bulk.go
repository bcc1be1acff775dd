package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-incident-snowsync/internal/app"
	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/config"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
	"github.com/imrishuroy/go-incident-snowsync/internal/validation"
)

// BulkFlags overrides the configured bulk defaults; zero keeps the default.
type BulkFlags struct {
	BatchSize         int
	Concurrency       int
	RequestsPerMinute int
	Limit             int
}

func (f BulkFlags) apply(cfg config.Config) syncer.BulkOptions {
	opts := syncer.BulkOptions{
		BatchSize:         cfg.Sync.BatchSize,
		Concurrency:       cfg.Sync.Concurrency,
		RequestsPerMinute: cfg.Sync.RequestsPerMinute,
		Limit:             f.Limit,
	}
	if f.BatchSize != 0 {
		opts.BatchSize = f.BatchSize
	}
	if f.Concurrency != 0 {
		opts.Concurrency = f.Concurrency
	}
	if f.RequestsPerMinute != 0 {
		opts.RequestsPerMinute = f.RequestsPerMinute
	}
	return opts
}

// NewBulkCommand creates the bulk command with forward and reverse children.
func NewBulkCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &BulkFlags{}

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Sync every record in one direction in rate-limited batches",
	}
	cmd.PersistentFlags().IntVar(&flags.BatchSize, "batch-size", 0, "records per batch (default from config)")
	cmd.PersistentFlags().IntVar(&flags.Concurrency, "concurrency", 0, "parallel syncs per batch (default from config)")
	cmd.PersistentFlags().IntVar(&flags.RequestsPerMinute, "rpm", 0, "request budget per minute (default from config)")
	cmd.PersistentFlags().IntVar(&flags.Limit, "limit", 0, "stop after this many records; 0 syncs all")

	cmd.AddCommand(&cobra.Command{
		Use:   "forward",
		Short: "Sync every incident to ServiceNow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, rootOpts, *flags, func(ctx context.Context, a *app.App, o syncer.BulkOptions) (syncer.Summary, error) {
				return a.Forward.Bulk(ctx, o)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reverse",
		Short: "Sync every linked ServiceNow record to its incident",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, rootOpts, *flags, func(ctx context.Context, a *app.App, o syncer.BulkOptions) (syncer.Summary, error) {
				return a.Reverse.Bulk(ctx, o)
			})
		},
	})
	return cmd
}

func runBulk(cmd *cobra.Command, opts *RootOptions, flags BulkFlags, run func(context.Context, *app.App, syncer.BulkOptions) (syncer.Summary, error)) error {
	ctx := cmd.Context()
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	bulk := flags.apply(cfg)
	if err := validation.New().Struct(bulk); err != nil {
		return apperrors.BadInput("invalid bulk options: "+err.Error(), map[string]any{
			"batch_size":  bulk.BatchSize,
			"concurrency": bulk.Concurrency,
		})
	}

	a, err := opts.newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	summary, err := run(ctx, a, bulk)
	if werr := writeJSON(cmd.OutOrStdout(), summary); werr != nil {
		return werr
	}
	if err != nil {
		return fmt.Errorf("bulk %s: %w", summary.Direction, err)
	}
	return nil
}
