package expr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMaxSteps bounds the number of nodes visited in one evaluation.
const DefaultMaxSteps = 10000

// ErrStepLimit is returned when an evaluation visits more than MaxSteps nodes.
var ErrStepLimit = errors.New("expr: evaluation step limit exceeded")

// Env resolves field paths during evaluation.
type Env interface {
	Lookup(path string) (any, bool)
}

// MapEnv is an Env over a flat map, mostly useful in tests.
type MapEnv map[string]any

func (m MapEnv) Lookup(path string) (any, bool) {
	v, ok := m[path]
	return v, ok
}

// Program is a compiled expression ready for repeated evaluation.
type Program struct {
	source   string
	root     Node
	MaxSteps int
}

// Compile parses src into a Program.
func Compile(src string) (*Program, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{source: src, root: root, MaxSteps: DefaultMaxSteps}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Eval runs the program. It stops with the context error once ctx is done.
func (p *Program) Eval(ctx context.Context, env Env) (any, error) {
	if p == nil || p.root == nil {
		return nil, fmt.Errorf("expr: program is nil")
	}
	maxSteps := p.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	ev := &evaluator{ctx: ctx, env: env, maxSteps: maxSteps}
	return ev.eval(p.root)
}

type evaluator struct {
	ctx      context.Context
	env      Env
	steps    int
	maxSteps int
}

func (e *evaluator) eval(node Node) (any, error) {
	e.steps++
	if e.steps > e.maxSteps {
		return nil, ErrStepLimit
	}
	if err := e.ctx.Err(); err != nil {
		return nil, fmt.Errorf("expr: evaluation aborted: %w", err)
	}

	switch n := node.(type) {
	case Literal:
		return n.Value, nil
	case Field:
		if e.env == nil {
			return nil, nil
		}
		v, ok := e.env.Lookup(n.Path)
		if !ok {
			return nil, nil
		}
		return normalize(v), nil
	case Unary:
		x, err := e.eval(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case "!":
			return !Truthy(x), nil
		case "-":
			f, ok := toNumber(x)
			if !ok {
				return nil, fmt.Errorf("expr: cannot negate %T", x)
			}
			return -f, nil
		}
		return nil, fmt.Errorf("expr: unknown unary operator %q", n.Op)
	case Binary:
		return e.evalBinary(n)
	case Ternary:
		cond, err := e.eval(n.Cond)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return e.eval(n.Then)
		}
		return e.eval(n.Else)
	case Call:
		args := make([]any, 0, len(n.Args))
		for _, argNode := range n.Args {
			v, err := e.eval(argNode)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return callBuiltin(n.Name, args)
	default:
		return nil, fmt.Errorf("expr: unsupported node %T", node)
	}
}

func (e *evaluator) evalBinary(n Binary) (any, error) {
	left, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "&&":
		if !Truthy(left) {
			return false, nil
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "||":
		if Truthy(left) {
			return true, nil
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := e.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(n.Op, left, right)
	case "+":
		if lf, lok := left.(float64); lok {
			if rf, rok := right.(float64); rok {
				return lf + rf, nil
			}
		}
		_, ls := left.(string)
		_, rs := right.(string)
		if ls || rs {
			return ToString(left) + ToString(right), nil
		}
		return nil, fmt.Errorf("expr: cannot add %T and %T", left, right)
	case "-", "*", "/", "%":
		lf, lok := toNumber(left)
		rf, rok := toNumber(right)
		if !lok || !rok {
			return nil, fmt.Errorf("expr: operator %s needs numbers, got %T and %T", n.Op, left, right)
		}
		switch n.Op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("expr: division by zero")
			}
			return lf / rf, nil
		default:
			if rf == 0 {
				return nil, fmt.Errorf("expr: modulo by zero")
			}
			return math.Mod(lf, rf), nil
		}
	}
	return nil, fmt.Errorf("expr: unknown operator %q", n.Op)
}

func callBuiltin(name string, args []any) (any, error) {
	switch name {
	case "upper":
		return strings.ToUpper(ToString(args[0])), nil
	case "lower":
		return strings.ToLower(ToString(args[0])), nil
	case "trim":
		return strings.TrimSpace(ToString(args[0])), nil
	case "str":
		return ToString(args[0]), nil
	case "num":
		f, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("expr: num: %q is not numeric", ToString(args[0]))
		}
		return f, nil
	case "len":
		switch v := args[0].(type) {
		case nil:
			return float64(0), nil
		case string:
			return float64(utf8.RuneCountInString(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		default:
			return float64(utf8.RuneCountInString(ToString(v))), nil
		}
	case "contains":
		if list, ok := args[0].([]any); ok {
			for _, item := range list {
				if equal(normalize(item), args[1]) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(ToString(args[0]), ToString(args[1])), nil
	case "startswith":
		return strings.HasPrefix(ToString(args[0]), ToString(args[1])), nil
	case "endswith":
		return strings.HasSuffix(ToString(args[0]), ToString(args[1])), nil
	case "concat":
		var b strings.Builder
		for _, arg := range args {
			b.WriteString(ToString(arg))
		}
		return b.String(), nil
	case "coalesce":
		for _, arg := range args {
			if arg == nil {
				continue
			}
			if s, ok := arg.(string); ok && s == "" {
				continue
			}
			return arg, nil
		}
		return nil, nil
	case "min", "max":
		var best float64
		for i, arg := range args {
			f, ok := toNumber(arg)
			if !ok {
				return nil, fmt.Errorf("expr: %s: %q is not numeric", name, ToString(arg))
			}
			if i == 0 || (name == "min" && f < best) || (name == "max" && f > best) {
				best = f
			}
		}
		return best, nil
	}
	return nil, fmt.Errorf("expr: unknown function %q", name)
}

// Truthy reports whether v counts as true in a condition.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// ToString renders a value the way mapping output expects: integral numbers
// without a decimal point, nil as the empty string.
func ToString(v any) string {
	switch t := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func toNumber(v any) (float64, bool) {
	switch t := normalize(v).(type) {
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		if bf, ok := toNumber(b); ok {
			return av == bf
		}
		return false
	case string:
		if bs, ok := b.(string); ok {
			return av == bs
		}
		if bf, ok := b.(float64); ok {
			af, ok := toNumber(av)
			return ok && af == bf
		}
		return false
	case bool:
		bb, ok := b.(bool)
		return ok && av == bb
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

func compare(op string, a, b any) (bool, error) {
	a, b = normalize(a), normalize(b)
	as, aIsString := a.(string)
	bs, bIsString := b.(string)
	if aIsString && bIsString {
		_, aNum := toNumber(as)
		_, bNum := toNumber(bs)
		if !aNum || !bNum {
			return compareOrdered(op, strings.Compare(as, bs)), nil
		}
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if !aok || !bok {
		return false, fmt.Errorf("expr: cannot compare %T and %T with %s", a, b, op)
	}
	switch {
	case af < bf:
		return compareOrdered(op, -1), nil
	case af > bf:
		return compareOrdered(op, 1), nil
	default:
		return compareOrdered(op, 0), nil
	}
}

func compareOrdered(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}
