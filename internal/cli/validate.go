package cli

import (
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/mapper"
)

// ValidationResult summarises a loaded mappings file.
type ValidationResult struct {
	Valid            bool   `json:"valid"`
	MappingsPath     string `json:"mappings_path"`
	IncidentTable    string `json:"incident_table"`
	CorrelationField string `json:"correlation_field"`
	CreateRules      int    `json:"create_rules"`
	UpdateRules      int    `json:"update_rules"`
	ComputedRules    int    `json:"computed_rules"`
	StatusMappings   int    `json:"status_mappings"`
	SeverityMappings int    `json:"severity_mappings"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var mappingsPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and check the config and mappings without contacting either platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, mappingsPath)
		},
	}
	cmd.Flags().StringVar(&mappingsPath, "mappings", "", "validate only this mappings file, skipping the config")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, mappingsPath string) error {
	if mappingsPath != "" {
		mappings, err := mapper.LoadFile(mappingsPath)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), summarise(mappingsPath, mappings))
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	mappings, err := mapper.LoadFile(cfg.Sync.MappingsPath)
	if err != nil {
		return err
	}
	if mappings.IncidentTable != cfg.ServiceNow.IncidentTable || mappings.CorrelationField != cfg.ServiceNow.CorrelationField {
		return apperrors.Config("mappings file and configuration disagree on the incident table or correlation field", map[string]any{
			"mappings_table": mappings.IncidentTable,
			"config_table":   cfg.ServiceNow.IncidentTable,
		})
	}
	return writeJSON(cmd.OutOrStdout(), summarise(cfg.Sync.MappingsPath, mappings))
}

func summarise(path string, m *mapper.Config) ValidationResult {
	return ValidationResult{
		Valid:            true,
		MappingsPath:     path,
		IncidentTable:    m.IncidentTable,
		CorrelationField: m.CorrelationField,
		CreateRules:      len(m.Create.Rules),
		UpdateRules:      len(m.Update.Rules),
		ComputedRules:    len(m.Create.Computed) + len(m.Update.Computed),
		StatusMappings:   len(m.Reverse.StatusMap),
		SeverityMappings: len(m.Reverse.SeverityMap),
	}
}
