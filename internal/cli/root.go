// Package cli implements bridgectl, the operator command line for the sync
// bridge.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-incident-snowsync/internal/app"
	"github.com/imrishuroy/go-incident-snowsync/internal/config"
	"github.com/imrishuroy/go-incident-snowsync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the bridgectl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "bridgectl",
		Short: "Operate the incident.io and ServiceNow sync bridge",
		Long: `bridgectl validates bridge configuration and runs single-record or
bulk syncs between incident.io and ServiceNow outside the webhook path.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewBulkCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.Load(o.ConfigPath)
}

// newApp wires the bridge with logs on stderr so stdout stays JSON.
func (o *RootOptions) newApp(ctx context.Context, cmd *cobra.Command, cfg config.Config) (*app.App, error) {
	level := cfg.Log.Level
	if o.Verbose {
		level = "debug"
	}
	return app.New(ctx, cfg, app.WithLogger(logging.New(level, cmd.ErrOrStderr())))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
