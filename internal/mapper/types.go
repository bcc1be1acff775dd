package mapper

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MappingType selects how a rule turns a source value into a destination value.
type MappingType string

const (
	TypeDirect          MappingType = "direct"
	TypeUserLookup      MappingType = "user_lookup"
	TypeReferenceLookup MappingType = "reference_lookup"
	TypeChoice          MappingType = "choice"
	TypeExpression      MappingType = "expression"
	TypeConditional     MappingType = "conditional"
)

var typeAliases = map[string]MappingType{
	"direct":           TypeDirect,
	"direct_copy":      TypeDirect,
	"copy":             TypeDirect,
	"user_lookup":      TypeUserLookup,
	"user":             TypeUserLookup,
	"reference_lookup": TypeReferenceLookup,
	"reference":        TypeReferenceLookup,
	"choice":           TypeChoice,
	"choice_map":       TypeChoice,
	"enum":             TypeChoice,
	"expression":       TypeExpression,
	"computed":         TypeExpression,
	"conditional":      TypeConditional,
}

// ParseMappingType resolves a type name or alias. Unknown names are an error.
func ParseMappingType(raw string) (MappingType, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return TypeDirect, nil
	}
	t, ok := typeAliases[key]
	if !ok {
		return "", fmt.Errorf("unknown mapping type %q", raw)
	}
	return t, nil
}

// Rule is one destination field entry of a mappings file.
type Rule struct {
	Field       string            `yaml:"-"`
	Source      string            `yaml:"source"`
	Type        string            `yaml:"type"`
	Required    bool              `yaml:"required"`
	Fallback    any               `yaml:"fallback"`
	MaxLength   int               `yaml:"max_length"`
	Case        string            `yaml:"case"`
	Condition   string            `yaml:"condition"`
	Choices     map[string]any    `yaml:"choices"`
	Lenient     bool              `yaml:"lenient"`
	Table       string            `yaml:"table"`
	LookupField string            `yaml:"lookup_field"`
	Expression  string            `yaml:"expression"`
	Conditions  []ConditionalCase `yaml:"conditions"`
	Else        any               `yaml:"else"`
}

// ConditionalCase is one guard/result pair of a conditional rule.
type ConditionalCase struct {
	When  string `yaml:"when"`
	Value any    `yaml:"value"`
}

// ComputedRule derives a field from fields already produced.
type ComputedRule struct {
	Field      string   `yaml:"-"`
	DependsOn  []string `yaml:"depends_on"`
	Expression string   `yaml:"expression"`
	MaxLength  int      `yaml:"max_length"`
}

// Validation holds the global checks run over the finished destination record.
type Validation struct {
	Required  []string       `yaml:"required"`
	MaxLength map[string]int `yaml:"max_length"`
}

// RuleSetSpec is the raw form of one rule set (create or update).
type RuleSetSpec struct {
	Fields     OrderedRules    `yaml:"fields"`
	Computed   OrderedComputed `yaml:"computed"`
	Validation Validation      `yaml:"validation"`
	NoteFields []string        `yaml:"note_fields"`
}

// ReverseSpec holds the fixed tables used by the reverse engine.
type ReverseSpec struct {
	FieldMap         map[string]string `yaml:"field_map"`
	NotesField       string            `yaml:"notes_field"`
	StatusMap        map[string]string `yaml:"status_map"`
	AllowedStatusIDs []string          `yaml:"allowed_status_ids"`
	SeverityMap      map[string]string `yaml:"severity_map"`
}

// File is the top-level shape of a mappings file.
type File struct {
	IncidentTable    string      `yaml:"incident_table"`
	CorrelationField string      `yaml:"correlation_field"`
	Forward          ForwardSpec `yaml:"forward"`
	Reverse          ReverseSpec `yaml:"reverse"`
}

// ForwardSpec holds the create and update rule sets.
type ForwardSpec struct {
	Create RuleSetSpec `yaml:"create"`
	Update RuleSetSpec `yaml:"update"`
}

// OrderedRules keeps rules in document order; the YAML is a mapping keyed by
// destination field.
type OrderedRules []Rule

func (r *OrderedRules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping of destination field to rule", node.Line)
	}
	out := make(OrderedRules, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := checkKeys(node.Content[i+1], ruleKeys); err != nil {
			return fmt.Errorf("field %q: %w", node.Content[i].Value, err)
		}
		var rule Rule
		if err := node.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("field %q: %w", node.Content[i].Value, err)
		}
		rule.Field = node.Content[i].Value
		out = append(out, rule)
	}
	*r = out
	return nil
}

// OrderedComputed is the computed-rule counterpart of OrderedRules.
type OrderedComputed []ComputedRule

func (c *OrderedComputed) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: computed must be a mapping of destination field to rule", node.Line)
	}
	out := make(OrderedComputed, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := checkKeys(node.Content[i+1], computedKeys); err != nil {
			return fmt.Errorf("computed %q: %w", node.Content[i].Value, err)
		}
		var rule ComputedRule
		if err := node.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("computed %q: %w", node.Content[i].Value, err)
		}
		rule.Field = node.Content[i].Value
		out = append(out, rule)
	}
	*c = out
	return nil
}

var (
	ruleKeys = keySet("source", "type", "required", "fallback", "max_length", "case", "condition",
		"choices", "lenient", "table", "lookup_field", "expression", "conditions", "else")
	computedKeys = keySet("depends_on", "expression", "max_length")
)

func keySet(keys ...string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// checkKeys rejects unknown rule attributes. Decoding through a yaml.Node
// does not inherit the decoder's KnownFields setting.
func checkKeys(node *yaml.Node, allowed map[string]bool) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rule must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if key := node.Content[i].Value; !allowed[key] {
			return fmt.Errorf("line %d: unknown key %q", node.Content[i].Line, key)
		}
	}
	return nil
}
