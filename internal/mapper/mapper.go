// Package mapper turns a source incident document into ServiceNow fields by
// interpreting the rules of a compiled mappings file.
package mapper

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/expr"
)

// DefaultExpressionTimeout bounds a single expression evaluation.
const DefaultExpressionTimeout = time.Second

// Field error codes.
const (
	CodeRequired   = "required"
	CodeExpression = "expression"
	CodeLookup     = "lookup"
	CodeMaxLength  = "max_length"
)

// Document is a normalized source record.
type Document map[string]any

// Lookup resolves display values to ServiceNow sys_ids. A miss is reported as
// ok=false with a nil error.
type Lookup interface {
	LookupUser(ctx context.Context, value string) (string, bool, error)
	LookupReference(ctx context.Context, table, field, value string) (string, bool, error)
}

// FieldError is a soft, per-field mapping failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Result is the outcome of one mapping pass.
type Result struct {
	Fields    map[string]any
	Errors    []FieldError
	Truncated []string
}

// MissingRequired lists fields that failed required validation, in order.
func (r Result) MissingRequired() []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range r.Errors {
		if e.Code == CodeRequired && !seen[e.Field] {
			seen[e.Field] = true
			out = append(out, e.Field)
		}
	}
	return out
}

// Err returns a required-field error for operation, or nil when every
// required field was produced. Other field errors never fail the operation.
func (r Result) Err(operation string) error {
	missing := r.MissingRequired()
	if len(missing) == 0 {
		return nil
	}
	return apperrors.RequiredMissing(operation, missing)
}

func (r *Result) fail(field, code, format string, args ...any) {
	r.Errors = append(r.Errors, FieldError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) hasError(field, code string) bool {
	for _, e := range r.Errors {
		if e.Field == field && e.Code == code {
			return true
		}
	}
	return false
}

// Mapper is stateless apart from its logger and timeout and safe for
// concurrent use.
type Mapper struct {
	logger      glog.Logger
	exprTimeout time.Duration
	titleCaser  cases.Caser
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger used for soft failures.
func WithLogger(logger glog.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithExpressionTimeout overrides DefaultExpressionTimeout.
func WithExpressionTimeout(d time.Duration) Option {
	return func(m *Mapper) {
		if d > 0 {
			m.exprTimeout = d
		}
	}
}

func New(opts ...Option) *Mapper {
	m := &Mapper{
		logger:      glog.Nop(),
		exprTimeout: DefaultExpressionTimeout,
		titleCaser:  cases.Title(language.English),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map applies set to doc. lookup may be nil when set has no lookup rules.
// Soft failures are collected in the result; the returned error is only set
// when ctx is cancelled.
func (m *Mapper) Map(ctx context.Context, doc Document, set *RuleSet, lookup Lookup) (Result, error) {
	res := Result{Fields: map[string]any{}}
	if set == nil {
		return res, nil
	}

	for i := range set.Rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m.applyRule(ctx, doc, &set.Rules[i], lookup, &res)
	}

	for i := range set.Computed {
		m.applyComputed(ctx, doc, &set.Computed[i], &res)
	}

	m.validate(set.Validation, &res)
	return res, nil
}

func (m *Mapper) applyRule(ctx context.Context, doc Document, rule *CompiledRule, lookup Lookup, res *Result) {
	var (
		value    any
		hasValue bool
	)
	if !rule.source.IsZero() {
		value, hasValue = rule.source.Resolve(doc)
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			value, hasValue = nil, false
		}
	}

	if rule.condition != nil {
		ok, err := m.evalBool(ctx, rule.condition, newEnv(doc, value, hasValue, res.Fields))
		if err != nil {
			m.logger.Warn("mapping condition failed", "field", rule.Field, "error", err)
			res.fail(rule.Field, CodeExpression, "condition: %v", err)
			return
		}
		if !ok {
			return
		}
	}

	sourced := !rule.source.IsZero()
	if sourced && !hasValue {
		m.applyFallback(rule, res)
		return
	}

	var (
		out      any
		produced bool
	)
	switch rule.Kind {
	case TypeDirect:
		out, produced = m.applyCase(rule.Case, expr.ToString(value)), true
	case TypeUserLookup, TypeReferenceLookup:
		out, produced = m.lookup(ctx, rule, expr.ToString(value), lookup, res)
	case TypeChoice:
		out, produced = m.choose(rule, value)
	case TypeExpression:
		result, err := m.eval(ctx, rule.expression, newEnv(doc, value, hasValue, res.Fields))
		if err != nil {
			m.logger.Warn("mapping expression failed", "field", rule.Field, "expression", rule.expression.Source(), "error", err)
			res.fail(rule.Field, CodeExpression, "%v", err)
			return
		}
		out, produced = result, result != nil
	case TypeConditional:
		env := newEnv(doc, value, hasValue, res.Fields)
		for _, c := range rule.cases {
			ok, err := m.evalBool(ctx, c.when, env)
			if err != nil {
				m.logger.Warn("mapping conditional failed", "field", rule.Field, "when", c.when.Source(), "error", err)
				res.fail(rule.Field, CodeExpression, "%v", err)
				return
			}
			if ok {
				out, produced = c.value, c.value != nil
				break
			}
		}
		if !produced && rule.Else != nil {
			out, produced = rule.Else, true
		}
	}

	if !produced {
		// A lookup miss or an unmatched choice still honours fallback and required.
		m.applyFallback(rule, res)
		return
	}
	res.Fields[rule.Field] = m.truncate(rule.Field, out, rule.MaxLength, res)
}

func (m *Mapper) applyFallback(rule *CompiledRule, res *Result) {
	switch {
	case rule.Fallback != nil:
		res.Fields[rule.Field] = m.truncate(rule.Field, rule.Fallback, rule.MaxLength, res)
	case rule.Required:
		res.fail(rule.Field, CodeRequired, "no value for required field")
	}
}

func (m *Mapper) applyCase(mode, s string) string {
	switch strings.ToLower(mode) {
	case "upper":
		return strings.ToUpper(s)
	case "lower":
		return strings.ToLower(s)
	case "title":
		return m.titleCaser.String(s)
	default:
		return s
	}
}

func (m *Mapper) lookup(ctx context.Context, rule *CompiledRule, value string, lookup Lookup, res *Result) (any, bool) {
	if value == "" {
		return nil, false
	}
	if lookup == nil {
		res.fail(rule.Field, CodeLookup, "no lookup service configured")
		return nil, false
	}
	var (
		id  string
		ok  bool
		err error
	)
	if rule.Kind == TypeUserLookup {
		id, ok, err = lookup.LookupUser(ctx, value)
	} else {
		field := rule.LookupField
		if field == "" {
			field = "name"
		}
		id, ok, err = lookup.LookupReference(ctx, rule.Table, field, value)
	}
	if err != nil {
		m.logger.Warn("mapping lookup failed", "field", rule.Field, "value", value, "error", err)
		res.fail(rule.Field, CodeLookup, "%v", err)
		return nil, false
	}
	if !ok || id == "" {
		m.logger.Warn("mapping lookup found no match", "field", rule.Field, "value", value, "table", rule.Table)
		return nil, false
	}
	return id, true
}

func (m *Mapper) choose(rule *CompiledRule, value any) (any, bool) {
	key := expr.ToString(value)
	if out, ok := rule.Choices[key]; ok {
		return out, out != nil
	}
	if candidate, ok := rule.folded[strings.ToLower(key)]; ok {
		out := rule.Choices[candidate]
		return out, out != nil
	}
	if !rule.Lenient {
		m.logger.Info("mapping choice not found", "field", rule.Field, "value", key)
	}
	return nil, false
}

func (m *Mapper) applyComputed(ctx context.Context, doc Document, rule *CompiledComputed, res *Result) {
	for _, dep := range rule.DependsOn {
		if _, ok := res.Fields[dep]; !ok {
			m.logger.Debug("computed mapping skipped", "field", rule.Field, "missing", dep)
			return
		}
	}
	out, err := m.eval(ctx, rule.expression, newEnv(doc, nil, false, res.Fields))
	if err != nil {
		m.logger.Warn("computed mapping failed", "field", rule.Field, "expression", rule.expression.Source(), "error", err)
		res.fail(rule.Field, CodeExpression, "%v", err)
		return
	}
	if out == nil {
		return
	}
	res.Fields[rule.Field] = m.truncate(rule.Field, out, rule.MaxLength, res)
}

func (m *Mapper) validate(v Validation, res *Result) {
	for _, field := range v.Required {
		value, ok := res.Fields[field]
		if ok && expr.ToString(value) != "" {
			continue
		}
		if !res.hasError(field, CodeRequired) {
			res.fail(field, CodeRequired, "required field is empty")
		}
	}
	for field, limit := range v.MaxLength {
		value, ok := res.Fields[field]
		if !ok {
			continue
		}
		if n := utf8.RuneCountInString(expr.ToString(value)); n > limit {
			res.fail(field, CodeMaxLength, "length %d exceeds %d", n, limit)
		}
	}
}

func (m *Mapper) truncate(field string, value any, limit int, res *Result) any {
	if limit <= 0 {
		return value
	}
	s, ok := value.(string)
	if !ok || utf8.RuneCountInString(s) <= limit {
		return value
	}
	runes := []rune(s)
	m.logger.Info("mapping value truncated", "field", field, "length", len(runes), "max_length", limit)
	res.Truncated = append(res.Truncated, field)
	return string(runes[:limit])
}

func (m *Mapper) eval(ctx context.Context, program *expr.Program, env expr.Env) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, m.exprTimeout)
	defer cancel()
	return program.Eval(ctx, env)
}

func (m *Mapper) evalBool(ctx context.Context, program *expr.Program, env expr.Env) (bool, error) {
	out, err := m.eval(ctx, program, env)
	if err != nil {
		return false, err
	}
	return expr.Truthy(out), nil
}

// ruleEnv exposes the source document, the rule's resolved value and the
// fields produced so far. Bare paths resolve against the source document.
type ruleEnv struct {
	doc      Document
	value    any
	hasValue bool
	dest     map[string]any
}

func newEnv(doc Document, value any, hasValue bool, dest map[string]any) ruleEnv {
	return ruleEnv{doc: doc, value: value, hasValue: hasValue, dest: dest}
}

func (e ruleEnv) Lookup(path string) (any, bool) {
	head, rest, _ := strings.Cut(path, ".")
	switch {
	case path == "value":
		return e.value, e.hasValue && e.value != nil
	case head == "value" && e.hasValue:
		return ResolvePath(e.value, rest)
	case head == "dest" && rest != "":
		return ResolvePath(e.dest, rest)
	case head == "source" && rest != "":
		return ResolvePath(e.doc, rest)
	default:
		return ResolvePath(e.doc, path)
	}
}
