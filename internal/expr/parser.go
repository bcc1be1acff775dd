package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// builtin arity: min, max (-1 means unbounded).
var builtins = map[string][2]int{
	"upper":      {1, 1},
	"lower":      {1, 1},
	"trim":       {1, 1},
	"len":        {1, 1},
	"str":        {1, 1},
	"num":        {1, 1},
	"contains":   {2, 2},
	"startswith": {2, 2},
	"endswith":   {2, 2},
	"concat":     {1, -1},
	"coalesce":   {1, -1},
	"min":        {1, -1},
	"max":        {1, -1},
}

type parser struct {
	tokens []token
	pos    int
}

// Parse turns source text into an AST. Unknown functions and wrong argument
// counts are reported here so that they surface when mappings are loaded.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("expr: empty expression")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("expr: unexpected %q at %d", tok.text, tok.pos)
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(ops ...string) (string, bool) {
	tok := p.peek()
	text := tok.text
	switch {
	case tok.kind == tokOp:
	case tok.kind == tokIdent && (text == "and" || text == "or" || text == "not"):
		text = map[string]string{"and": "&&", "or": "||", "not": "!"}[text]
	default:
		return "", false
	}
	for _, op := range ops {
		if op == text {
			return text, true
		}
	}
	return "", false
}

func (p *parser) parseTernary() (Node, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokQuestion {
		return cond, nil
	}
	p.next()
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if tok := p.next(); tok.kind != tokColon {
		return nil, fmt.Errorf("expr: expected ':' at %d", tok.pos)
	}
	otherwise, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return Ternary{Cond: cond, Then: then, Else: otherwise}, nil
}

var precedence = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) parseBinary(level int) (Node, error) {
	if level >= len(precedence) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp(precedence[level]...)
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if op, ok := p.isOp("!", "-"); ok {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("expr: invalid number %q at %d", tok.text, tok.pos)
		}
		return Literal{Value: value}, nil
	case tokString:
		return Literal{Value: tok.text}, nil
	case tokLParen:
		inner, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expr: expected ')' at %d", closing.pos)
		}
		return inner, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		case "null", "nil":
			return Literal{Value: nil}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(tok)
		}
		return Field{Path: tok.text}, nil
	case tokEOF:
		return nil, fmt.Errorf("expr: unexpected end of expression")
	default:
		return nil, fmt.Errorf("expr: unexpected %q at %d", tok.text, tok.pos)
	}
}

func (p *parser) parseCall(name token) (Node, error) {
	arity, ok := builtins[name.text]
	if !ok {
		return nil, fmt.Errorf("expr: unknown function %q at %d", name.text, name.pos)
	}
	p.next() // (
	var args []Node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, fmt.Errorf("expr: expected ')' after arguments to %s at %d", name.text, closing.pos)
	}
	if len(args) < arity[0] || (arity[1] >= 0 && len(args) > arity[1]) {
		return nil, fmt.Errorf("expr: %s expects %s, got %d", name.text, describeArity(arity), len(args))
	}
	return Call{Name: name.text, Args: args}, nil
}

func describeArity(arity [2]int) string {
	switch {
	case arity[1] < 0:
		return fmt.Sprintf("at least %d argument(s)", arity[0])
	case arity[0] == arity[1]:
		return fmt.Sprintf("%d argument(s)", arity[0])
	default:
		return fmt.Sprintf("%d-%d arguments", arity[0], arity[1])
	}
}
