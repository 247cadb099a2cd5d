package ejs

// Node is any AST node in a parsed template.
type Node interface {
	node()
}

// Template is a parsed template. It is immutable once Parse returns and may
// be rendered by many goroutines at once.
type Template struct {
	Name   string
	Source string
	Nodes  []Node
}

// TextNode is literal text between tags.
type TextNode struct {
	Text string
}

func (*TextNode) node() {}

// OutputNode is <%= expr %> (escaped) or <%- expr %> (Raw).
type OutputNode struct {
	Expr string
	Raw  bool
	Line int
}

func (*OutputNode) node() {}

// IfNode is an if / else if / else chain.
type IfNode struct {
	Cond    string
	Then    []Node
	ElseIfs []ElseIfBranch
	Else    []Node
	Line    int
}

func (*IfNode) node() {}

// ElseIfBranch is one else-if condition with its body.
type ElseIfBranch struct {
	Cond string
	Body []Node
}

// EachNode is arr.each(function(item, i) { ... }) and its forEach and arrow forms.
type EachNode struct {
	ArrayExpr string
	ItemVar   string
	IndexVar  string
	Body      []Node
	Line      int
}

func (*EachNode) node() {}

// ForOfNode is for (const item of iterable) { ... }.
type ForOfNode struct {
	ItemVar  string
	Iterable string
	Body     []Node
	Line     int
}

func (*ForOfNode) node() {}

// ForInNode is for (const key in object) { ... }.
type ForInNode struct {
	KeyVar     string
	ObjectExpr string
	Body       []Node
	Line       int
}

func (*ForInNode) node() {}

// VarDeclNode is var|let|const name = expr. A var binding outlives the
// block it appears in; let and const are block scoped.
type VarDeclNode struct {
	Kind string
	Name string
	Expr string
	Line int
}

func (*VarDeclNode) node() {}

// CommentNode is <%# ... %>. It renders nothing.
type CommentNode struct {
	Text string
}

func (*CommentNode) node() {}

// CodeNode is a statement the parser kept verbatim.
type CodeNode struct {
	Code string
	Line int
}

func (*CodeNode) node() {}

// SequenceNode groups the statements of one multi-statement tag.
type SequenceNode struct {
	Nodes []Node
}

func (*SequenceNode) node() {}
