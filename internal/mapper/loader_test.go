package mapper

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
)

func TestLoadFile_PreservesRuleOrder(t *testing.T) {
	cfg := loadTestConfig(t)

	var fields []string
	for _, r := range cfg.Create.Rules {
		fields = append(fields, r.Field)
	}
	assert.Equal(t, []string{
		"short_description", "description", "urgency", "caller_id",
		"assignment_group", "impact", "state", "category", "u_incident_id",
	}, fields)
	assert.Equal(t, TypeDirect, cfg.Create.Rules[8].Kind)
	assert.Equal(t, []string{"work_notes"}, cfg.Update.NoteFields)
	assert.Equal(t, "incident", cfg.IncidentTable)
	assert.Equal(t, "correlation_id", cfg.CorrelationField)
	assert.Equal(t, "work_notes", cfg.Reverse.NotesField)
}

func TestCompile_EmptyUpdateInheritsCreateSet(t *testing.T) {
	cfg, err := Parse([]byte(`
forward:
  create:
    fields:
      urgency: {source: u}
      impact: {source: i}
    computed:
      u_label: {depends_on: [urgency, impact], expression: 'concat(dest.urgency, "/", dest.impact)'}
    validation:
      required: [urgency]
  update:
    note_fields: [work_notes]
`))
	require.NoError(t, err)

	assert.Len(t, cfg.Update.Rules, 2)
	require.Len(t, cfg.Update.Computed, 1)
	assert.Equal(t, "u_label", cfg.Update.Computed[0].Field)
	assert.Equal(t, []string{"urgency"}, cfg.Update.Validation.Required)
	assert.Equal(t, []string{"work_notes"}, cfg.Update.NoteFields)
}

func TestCompile_UpdateWithFieldsKeepsItsOwnBlocks(t *testing.T) {
	cfg, err := Parse([]byte(`
forward:
  create:
    fields: {urgency: {source: u}}
    computed:
      u_label: {expression: 'dest.urgency'}
    validation: {required: [urgency]}
  update:
    fields: {state: {source: s}}
`))
	require.NoError(t, err)

	assert.Len(t, cfg.Update.Rules, 1)
	assert.Empty(t, cfg.Update.Computed)
	assert.Empty(t, cfg.Update.Validation.Required)
}

func TestLoadFile_StatusMapStaysInsideAllowedSet(t *testing.T) {
	cfg := loadTestConfig(t)

	for ordinal := range cfg.Reverse.StatusMap {
		id, ok := cfg.Reverse.StatusFor(ordinal)
		require.True(t, ok)
		assert.Contains(t, cfg.Reverse.AllowedStatusIDs, id, "ordinal %s", ordinal)
	}
	sev, ok := cfg.Reverse.SeverityFor(" 1 ")
	require.True(t, ok)
	assert.Equal(t, "sev_critical", sev)
}

func TestParseMappingType_Aliases(t *testing.T) {
	cases := map[string]MappingType{
		"":            TypeDirect,
		"direct_copy": TypeDirect,
		"ENUM":        TypeChoice,
		"computed":    TypeExpression,
		"user":        TypeUserLookup,
		"reference":   TypeReferenceLookup,
		"conditional": TypeConditional,
	}
	for in, want := range cases {
		got, err := ParseMappingType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMappingType("javascript")
	assert.Error(t, err)
}

func TestCompile_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown type",
			yaml: "forward: {create: {fields: {a: {source: x, type: script}}}}",
			want: `unknown mapping type "script"`,
		},
		{
			name: "bad expression",
			yaml: "forward: {create: {fields: {a: {type: expression, expression: '1 +'}}}}",
			want: "forward.create.fields.a: expression:",
		},
		{
			name: "bad condition",
			yaml: "forward: {create: {fields: {a: {source: x, condition: 'x ==='}}}}",
			want: "condition:",
		},
		{
			name: "reference without table",
			yaml: "forward: {create: {fields: {a: {source: x, type: reference_lookup}}}}",
			want: "reference_lookup rule requires table",
		},
		{
			name: "choice without choices",
			yaml: "forward: {create: {fields: {a: {source: x, type: choice}}}}",
			want: "choice rule requires choices",
		},
		{
			name: "choice keys differing only by case",
			yaml: `forward: {create: {fields: {a: {source: x, type: choice, choices: {high: "1", HIGH: "2", hIgh: "3"}}}}}`,
			want: `choices "HIGH" and "hIgh" differ only by case`,
		},
		{
			name: "conditional without conditions",
			yaml: "forward: {create: {fields: {a: {type: conditional}}}}",
			want: "conditional rule requires conditions",
		},
		{
			name: "status outside allowed set",
			yaml: `
forward: {create: {fields: {a: {source: x}}}}
reverse:
  status_map: {"1": st_triage, "7": st_closed}
  allowed_status_ids: [st_triage]
`,
			want: `reverse.status_map.7: "st_closed" is not an allowed status id`,
		},
		{
			name: "no create rules",
			yaml: "forward: {create: {fields: {}}}",
			want: "at least one field rule is required",
		},
		{
			name: "unknown key",
			yaml: "forward: {create: {fields: {a: {source: x, typo: 1}}}}",
			want: `unknown key "typo"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)

			var rich *goerrors.Error
			require.True(t, goerrors.As(err, &rich))
			assert.Equal(t, apperrors.TextConfigInvalid, rich.TextCode)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/does-not-exist.yaml")
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, apperrors.TextConfigInvalid, rich.TextCode)
	assert.Equal(t, "testdata/does-not-exist.yaml", rich.Metadata["path"])
}
