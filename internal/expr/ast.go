package expr

// Node is a parsed expression. The concrete node types below are the whole
// language; there is no way to declare variables, loop, or call out of the
// interpreter.
type Node interface {
	exprNode()
}

// Literal holds a constant: nil, bool, float64 or string.
type Literal struct {
	Value any
}

// Field reads a dot/index path such as "status.category" or "custom_fields[0].value"
// from the evaluation environment.
type Field struct {
	Path string
}

// Unary is "!x", "not x" or "-x".
type Unary struct {
	Op string
	X  Node
}

// Binary covers arithmetic, comparison and logical operators.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

// Ternary is "cond ? then : else".
type Ternary struct {
	Cond Node
	Then Node
	Else Node
}

// Call invokes one of the builtin functions.
type Call struct {
	Name string
	Args []Node
}

func (Literal) exprNode() {}
func (Field) exprNode()   {}
func (Unary) exprNode()   {}
func (Binary) exprNode()  {}
func (Ternary) exprNode() {}
func (Call) exprNode()    {}
