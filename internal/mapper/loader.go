package mapper

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/expr"
)

const (
	defaultIncidentTable    = "incident"
	defaultCorrelationField = "correlation_id"
	defaultNotesField       = "work_notes"
)

// Config is a compiled mappings file. It is immutable after Compile.
type Config struct {
	IncidentTable    string
	CorrelationField string
	Create           *RuleSet
	Update           *RuleSet
	Reverse          Reverse
}

// RuleSet is an ordered, compiled list of rules plus its post-processing steps.
type RuleSet struct {
	Name       string
	Rules      []CompiledRule
	Computed   []CompiledComputed
	Validation Validation
	NoteFields []string
}

// CompiledRule is a Rule with its type resolved and its expressions parsed.
type CompiledRule struct {
	Rule
	Kind       MappingType
	source     Path
	condition  *expr.Program
	expression *expr.Program
	cases      []compiledCase
	// folded maps lower-cased choice keys to their configured spelling.
	folded map[string]string
}

type compiledCase struct {
	when  *expr.Program
	value any
}

// CompiledComputed is a ComputedRule with its expression parsed.
type CompiledComputed struct {
	ComputedRule
	expression *expr.Program
}

// Reverse holds the fixed reverse-sync tables.
type Reverse struct {
	FieldMap         map[string]string
	NotesField       string
	StatusMap        map[string]string
	AllowedStatusIDs []string
	SeverityMap      map[string]string
}

// StatusFor maps a ServiceNow state ordinal to an allowed incident status id.
func (r Reverse) StatusFor(state string) (string, bool) {
	id, ok := r.StatusMap[strings.TrimSpace(state)]
	return id, ok
}

// SeverityFor maps a ServiceNow priority ordinal to an incident severity id.
func (r Reverse) SeverityFor(priority string) (string, bool) {
	id, ok := r.SeverityMap[strings.TrimSpace(priority)]
	return id, ok
}

// LoadFile reads and compiles a mappings file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.WrapConfig(err, "read mappings file", map[string]any{"path": path})
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML mappings and compiles them. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, apperrors.WrapConfig(err, "decode mappings file: "+err.Error(), nil)
	}
	return Compile(file)
}

// Compile validates every rule and returns the compiled configuration. All
// problems are collected and reported together.
func Compile(file File) (*Config, error) {
	var issues []string

	cfg := &Config{
		IncidentTable:    firstNonEmpty(file.IncidentTable, defaultIncidentTable),
		CorrelationField: firstNonEmpty(file.CorrelationField, defaultCorrelationField),
	}

	cfg.Create = compileRuleSet("create", file.Forward.Create, &issues)
	if len(cfg.Create.Rules) == 0 {
		issues = append(issues, "forward.create: at least one field rule is required")
	}

	cfg.Update = compileRuleSet("update", updateRuleSet(file.Forward), &issues)

	cfg.Reverse = compileReverse(file.Reverse, &issues)

	if len(issues) > 0 {
		return nil, apperrors.Config("invalid mappings: "+strings.Join(issues, "; "), map[string]any{"issues": issues})
	}
	return cfg, nil
}

// updateRuleSet returns the update rules. Without update fields the create
// fields are reused, together with the create computed and validation blocks
// unless the update set declares its own.
func updateRuleSet(f ForwardSpec) RuleSetSpec {
	update := f.Update
	if len(update.Fields) > 0 {
		return update
	}
	update.Fields = f.Create.Fields
	if len(update.Computed) == 0 {
		update.Computed = f.Create.Computed
	}
	if len(update.Validation.Required) == 0 && len(update.Validation.MaxLength) == 0 {
		update.Validation = f.Create.Validation
	}
	return update
}

func compileRuleSet(name string, spec RuleSetSpec, issues *[]string) *RuleSet {
	set := &RuleSet{
		Name:       name,
		Validation: spec.Validation,
		NoteFields: spec.NoteFields,
	}
	seen := make(map[string]bool, len(spec.Fields))
	for _, rule := range spec.Fields {
		where := fmt.Sprintf("forward.%s.fields.%s", name, rule.Field)
		if seen[rule.Field] {
			*issues = append(*issues, where+": duplicate field")
			continue
		}
		seen[rule.Field] = true
		compiled, problems := compileRule(rule)
		for _, p := range problems {
			*issues = append(*issues, where+": "+p)
		}
		if len(problems) == 0 {
			set.Rules = append(set.Rules, compiled)
		}
	}
	for _, comp := range spec.Computed {
		where := fmt.Sprintf("forward.%s.computed.%s", name, comp.Field)
		if strings.TrimSpace(comp.Expression) == "" {
			*issues = append(*issues, where+": expression is required")
			continue
		}
		program, err := expr.Compile(comp.Expression)
		if err != nil {
			*issues = append(*issues, where+": "+err.Error())
			continue
		}
		set.Computed = append(set.Computed, CompiledComputed{ComputedRule: comp, expression: program})
	}
	for field, limit := range spec.Validation.MaxLength {
		if limit <= 0 {
			*issues = append(*issues, fmt.Sprintf("forward.%s.validation.max_length.%s: must be positive", name, field))
		}
	}
	return set
}

func compileRule(rule Rule) (CompiledRule, []string) {
	var problems []string
	out := CompiledRule{Rule: rule}

	kind, err := ParseMappingType(rule.Type)
	if err != nil {
		return out, []string{err.Error()}
	}
	out.Kind = kind

	if rule.Source != "" {
		p, err := ParsePath(rule.Source)
		if err != nil {
			problems = append(problems, err.Error())
		}
		out.source = p
	}
	if rule.Condition != "" {
		program, err := expr.Compile(rule.Condition)
		if err != nil {
			problems = append(problems, "condition: "+err.Error())
		}
		out.condition = program
	}
	if rule.MaxLength < 0 {
		problems = append(problems, "max_length must not be negative")
	}
	switch strings.ToLower(rule.Case) {
	case "", "upper", "lower", "title":
	default:
		problems = append(problems, fmt.Sprintf("unknown case transform %q", rule.Case))
	}

	switch kind {
	case TypeDirect:
		if rule.Source == "" {
			problems = append(problems, "direct rule requires source")
		}
	case TypeUserLookup:
		if rule.Source == "" {
			problems = append(problems, "user_lookup rule requires source")
		}
	case TypeReferenceLookup:
		if rule.Source == "" {
			problems = append(problems, "reference_lookup rule requires source")
		}
		if rule.Table == "" {
			problems = append(problems, "reference_lookup rule requires table")
		}
	case TypeChoice:
		if rule.Source == "" {
			problems = append(problems, "choice rule requires source")
		}
		if len(rule.Choices) == 0 {
			problems = append(problems, "choice rule requires choices")
		}
		out.folded = make(map[string]string, len(rule.Choices))
		for _, key := range slices.Sorted(maps.Keys(rule.Choices)) {
			lower := strings.ToLower(key)
			if other, dup := out.folded[lower]; dup {
				problems = append(problems, fmt.Sprintf("choices %q and %q differ only by case", other, key))
				continue
			}
			out.folded[lower] = key
		}
	case TypeExpression:
		if strings.TrimSpace(rule.Expression) == "" {
			problems = append(problems, "expression rule requires expression")
			break
		}
		program, err := expr.Compile(rule.Expression)
		if err != nil {
			problems = append(problems, "expression: "+err.Error())
		}
		out.expression = program
	case TypeConditional:
		if len(rule.Conditions) == 0 {
			problems = append(problems, "conditional rule requires conditions")
		}
		for i, c := range rule.Conditions {
			program, err := expr.Compile(c.When)
			if err != nil {
				problems = append(problems, fmt.Sprintf("conditions[%d]: %v", i, err))
				continue
			}
			out.cases = append(out.cases, compiledCase{when: program, value: c.Value})
		}
	}
	return out, problems
}

func compileReverse(spec ReverseSpec, issues *[]string) Reverse {
	rev := Reverse{
		FieldMap:         spec.FieldMap,
		NotesField:       firstNonEmpty(spec.NotesField, defaultNotesField),
		StatusMap:        spec.StatusMap,
		AllowedStatusIDs: spec.AllowedStatusIDs,
		SeverityMap:      spec.SeverityMap,
	}
	if rev.FieldMap == nil {
		rev.FieldMap = map[string]string{}
	}
	if len(rev.StatusMap) > 0 && len(rev.AllowedStatusIDs) == 0 {
		*issues = append(*issues, "reverse.allowed_status_ids: required when status_map is set")
		return rev
	}
	for _, ordinal := range slices.Sorted(maps.Keys(rev.StatusMap)) {
		id := rev.StatusMap[ordinal]
		if !slices.Contains(rev.AllowedStatusIDs, id) {
			*issues = append(*issues, fmt.Sprintf("reverse.status_map.%s: %q is not an allowed status id", ordinal, id))
		}
	}
	return rev
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
