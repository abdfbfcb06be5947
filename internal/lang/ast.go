package lang

// Node is implemented by every AST node. Line is the 1-based source line the
// node starts on.
type Node interface {
	Line() int
}

// Expr is an expression node.
type Expr interface {
	Node
	expr()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmt()
}

type pos struct{ line int }

func (p pos) Line() int { return p.line }

// Expressions.
type (
	NameExpr struct {
		pos
		Name string
	}
	ConstExpr struct {
		pos
		Value Value
	}
	ListExpr struct {
		pos
		Elems []Expr
	}
	TupleExpr struct {
		pos
		Elems []Expr
	}
	DictExpr struct {
		pos
		Keys   []Expr
		Values []Expr
	}
	BinaryExpr struct {
		pos
		Op    string
		Left  Expr
		Right Expr
	}
	UnaryExpr struct {
		pos
		Op string
		X  Expr
	}
	BoolExpr struct {
		pos
		Op    string // "and" | "or"
		Left  Expr
		Right Expr
	}
	CompareExpr struct {
		pos
		Ops      []string
		Operands []Expr
	}
	CallExpr struct {
		pos
		Func     Expr
		Args     []Expr
		Star     Expr
		Keywords []Keyword
	}
	IndexExpr struct {
		pos
		X     Expr
		Index Expr
	}
	SliceExpr struct {
		pos
		X    Expr
		Low  Expr
		High Expr
	}
	AttrExpr struct {
		pos
		X    Expr
		Name string
	}
	CondExpr struct {
		pos
		Cond Expr
		Then Expr
		Else Expr
	}
)

// Keyword is a name=value call argument.
type Keyword struct {
	Name  string
	Value Expr
}

func (*NameExpr) expr()    {}
func (*ConstExpr) expr()   {}
func (*ListExpr) expr()    {}
func (*TupleExpr) expr()   {}
func (*DictExpr) expr()    {}
func (*BinaryExpr) expr()  {}
func (*UnaryExpr) expr()   {}
func (*BoolExpr) expr()    {}
func (*CompareExpr) expr() {}
func (*CallExpr) expr()    {}
func (*IndexExpr) expr()   {}
func (*SliceExpr) expr()   {}
func (*AttrExpr) expr()    {}
func (*CondExpr) expr()    {}

// Statements.
type (
	ExprStmt struct {
		pos
		X Expr
	}
	AssignStmt struct {
		pos
		Targets []Expr
		Value   Expr
	}
	AugAssignStmt struct {
		pos
		Target Expr
		Op     string
		Value  Expr
	}
	IfStmt struct {
		pos
		Cond Expr
		Body []Stmt
		Else []Stmt
	}
	WhileStmt struct {
		pos
		Cond Expr
		Body []Stmt
	}
	ForStmt struct {
		pos
		Target Expr
		Iter   Expr
		Body   []Stmt
	}
	BreakStmt    struct{ pos }
	ContinueStmt struct{ pos }
	PassStmt     struct{ pos }
	DefStmt      struct {
		pos
		Name   string
		Params []Param
		Star   string
		Body   []Stmt
	}
	ReturnStmt struct {
		pos
		Value Expr
	}
	GlobalStmt struct {
		pos
		Names []string
	}
	DelStmt struct {
		pos
		Targets []Expr
	}
	RaiseStmt struct {
		pos
		Exc Expr
	}
	TryStmt struct {
		pos
		Body     []Stmt
		Handlers []Handler
		Finally  []Stmt
	}
	AssertStmt struct {
		pos
		Test Expr
		Msg  Expr
	}
)

// Param is a function parameter with an optional default.
type Param struct {
	Name    string
	Default Expr
}

// Handler is one except clause. Class is nil for a bare except.
type Handler struct {
	Line  int
	Class Expr
	As    string
	Body  []Stmt
}

func (*ExprStmt) stmt()      {}
func (*AssignStmt) stmt()    {}
func (*AugAssignStmt) stmt() {}
func (*IfStmt) stmt()        {}
func (*WhileStmt) stmt()     {}
func (*ForStmt) stmt()       {}
func (*BreakStmt) stmt()     {}
func (*ContinueStmt) stmt()  {}
func (*PassStmt) stmt()      {}
func (*DefStmt) stmt()       {}
func (*ReturnStmt) stmt()    {}
func (*GlobalStmt) stmt()    {}
func (*DelStmt) stmt()       {}
func (*RaiseStmt) stmt()     {}
func (*TryStmt) stmt()       {}
func (*AssertStmt) stmt()    {}

// isCompound reports whether s is a statement that owns an indented block.
func isCompound(s Stmt) bool {
	switch s.(type) {
	case *IfStmt, *WhileStmt, *ForStmt, *DefStmt, *TryStmt:
		return true
	}
	return false
}
