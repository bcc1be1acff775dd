package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/validation"
)

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <forward|reverse> <id>",
		Short: "Show the last recorded sync outcome for a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := validation.LedgerQuery{Direction: args[0], ID: args[1]}
			if err := validation.New().Struct(query); err != nil {
				return apperrors.BadInput("direction must be forward or reverse", map[string]any{"direction": args[0]})
			}

			ctx := cmd.Context()
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.AWS.LedgerTable == "" {
				return apperrors.Config("aws.ledger_table is not configured", nil)
			}
			a, err := rootOpts.newApp(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			entry, err := a.Ledger.Get(ctx, query.Direction, query.ID)
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no ledger entry for %s %s", query.Direction, query.ID)
			}
			return writeJSON(cmd.OutOrStdout(), entry)
		},
	}
}
