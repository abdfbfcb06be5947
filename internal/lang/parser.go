package lang

import (
	"math"
	"strconv"
	"strings"
)

// Mode selects the top-level grammar used by Compile.
type Mode int

const (
	// ModeExec compiles a sequence of statements.
	ModeExec Mode = iota
	// ModeSingle compiles exactly one interactive statement. Expression
	// statements outside function bodies are echoed through the display hook.
	ModeSingle
	// ModeEval compiles a single expression.
	ModeEval
)

func (m Mode) String() string {
	switch m {
	case ModeExec:
		return "exec"
	case ModeSingle:
		return "single"
	case ModeEval:
		return "eval"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Flags are compile-time feature switches carried by compiled code.
type Flags struct {
	// TrueDivision makes int / int produce a float. When off, / on two ints
	// floors.
	TrueDivision bool
	// Display echoes expression statement values in ModeSingle.
	Display bool
}

// DefaultFlags returns the flags new compilers start with.
func DefaultFlags() Flags {
	return Flags{TrueDivision: true, Display: true}
}

// Code is the result of a successful compile.
type Code struct {
	Filename string
	Mode     Mode
	Source   string
	Flags    Flags
	Body     []Stmt
	Expr     Expr
	// LineOffset is added to AST line numbers when reporting positions.
	LineOffset int
	// Wrapped marks a body parsed inside a synthetic `if True:` block.
	Wrapped bool
}

// TopLevel returns the statements to execute, looking through the
// synthetic wrapper block when there is one.
func (c *Code) TopLevel() []Stmt {
	if c.Wrapped && len(c.Body) == 1 {
		if ifs, ok := c.Body[0].(*IfStmt); ok {
			return ifs.Body
		}
	}
	return c.Body
}

// SourceLine returns reported line n of the compiled source, or "".
func (c *Code) SourceLine(n int) string {
	lines := strings.Split(c.Source, "\n")
	i := n - c.LineOffset - 1
	if i < 0 || i >= len(lines) {
		return ""
	}
	return lines[i]
}

// Compile parses src in the given mode.
//
// On failure the error is always a *SyntaxError; its Pending field tells
// whether more input could complete the source.
func Compile(src, filename string, mode Mode, flags Flags) (*Code, error) {
	toks, err := Tokenize(src, filename)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, filename: filename, lines: strings.Split(src, "\n")}
	code := &Code{Filename: filename, Mode: mode, Source: src, Flags: flags}
	switch mode {
	case ModeEval:
		p.skipNewlines()
		if p.at(TokEOF) {
			return nil, p.errorAt(p.tok(), PendingNone, "unexpected EOF while parsing")
		}
		e, err := p.testList()
		if err != nil {
			return nil, err
		}
		p.skipNewlines()
		if !p.at(TokEOF) {
			return nil, p.errorAt(p.tok(), PendingNone, "invalid syntax")
		}
		code.Expr = e
	case ModeSingle:
		p.skipNewlines()
		if p.at(TokEOF) {
			return code, nil
		}
		body, err := p.statement()
		if err != nil {
			return nil, err
		}
		p.skipNewlines()
		if !p.at(TokEOF) {
			return nil, p.errorAt(p.tok(), PendingNone, "multiple statements found while compiling a single statement")
		}
		code.Body = body
	default:
		for {
			p.skipNewlines()
			if p.at(TokEOF) {
				break
			}
			stmts, err := p.statement()
			if err != nil {
				return nil, err
			}
			code.Body = append(code.Body, stmts...)
		}
	}
	return code, nil
}

// LastIsCompound reports whether the final top-level statement of body
// owns an indented block. For a body wrapped in a single synthetic block the
// check descends into that block.
func LastIsCompound(body []Stmt, wrapped bool) bool {
	if len(body) == 0 {
		return false
	}
	last := body[len(body)-1]
	if wrapped {
		ifs, ok := last.(*IfStmt)
		if !ok || len(ifs.Body) == 0 {
			return false
		}
		last = ifs.Body[len(ifs.Body)-1]
	}
	return isCompound(last)
}

type parser struct {
	toks     []Token
	i        int
	filename string
	lines    []string

	funcDepth int
	loopDepth int
}

func (p *parser) tok() Token { return p.toks[p.i] }

func (p *parser) next() Token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) at(k TokenKind) bool { return p.toks[p.i].Kind == k }

func (p *parser) atOp(op string) bool {
	t := p.toks[p.i]
	return t.Kind == TokOp && t.Text == op
}

func (p *parser) atKeyword(kw string) bool {
	t := p.toks[p.i]
	return t.Kind == TokKeyword && t.Text == kw
}

func (p *parser) skipNewlines() {
	for p.at(TokNewline) {
		p.next()
	}
}

func (p *parser) errorAt(t Token, pending Pending, msg string) *SyntaxError {
	text := ""
	if t.Line-1 >= 0 && t.Line-1 < len(p.lines) {
		text = p.lines[t.Line-1]
	}
	col := t.Col
	if col < 1 {
		col = len(text) + 1
	}
	return &SyntaxError{Msg: msg, Filename: p.filename, Line: t.Line, Col: col, Text: text, Pending: pending}
}

func (p *parser) expectOp(op string) error {
	if !p.atOp(op) {
		return p.errorAt(p.tok(), PendingNone, "invalid syntax")
	}
	p.next()
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return p.errorAt(p.tok(), PendingNone, "invalid syntax")
	}
	p.next()
	return nil
}

func (p *parser) expectName() (string, error) {
	if !p.at(TokName) {
		return "", p.errorAt(p.tok(), PendingNone, "invalid syntax")
	}
	return p.next().Text, nil
}

// onlyClosersLeft reports whether the rest of the stream is DEDENT/EOF, i.e.
// the input ended where a block body was expected.
func (p *parser) onlyClosersLeft() bool {
	for _, t := range p.toks[p.i:] {
		if t.Kind != TokDedent && t.Kind != TokEOF {
			return false
		}
	}
	return true
}

func (p *parser) statement() ([]Stmt, error) {
	t := p.tok()
	if t.Kind == TokIndent {
		return nil, p.errorAt(t, PendingNone, "unexpected indent")
	}
	if t.Kind == TokKeyword {
		switch t.Text {
		case "if":
			s, err := p.ifStmt()
			return wrap(s, err)
		case "while":
			s, err := p.whileStmt()
			return wrap(s, err)
		case "for":
			s, err := p.forStmt()
			return wrap(s, err)
		case "def":
			s, err := p.defStmt()
			return wrap(s, err)
		case "try":
			s, err := p.tryStmt()
			return wrap(s, err)
		case "elif", "else", "except", "finally":
			return nil, p.errorAt(t, PendingNone, "invalid syntax")
		}
	}
	return p.simpleStmt()
}

func wrap(s Stmt, err error) ([]Stmt, error) {
	if err != nil {
		return nil, err
	}
	return []Stmt{s}, nil
}

func (p *parser) simpleStmt() ([]Stmt, error) {
	var out []Stmt
	for {
		s, err := p.smallStmt()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if !p.atOp(";") {
			break
		}
		p.next()
		if p.at(TokNewline) || p.at(TokEOF) {
			break
		}
	}
	if p.at(TokEOF) {
		return out, nil
	}
	if !p.at(TokNewline) {
		return nil, p.errorAt(p.tok(), PendingNone, "invalid syntax")
	}
	p.next()
	return out, nil
}

func (p *parser) smallStmt() (Stmt, error) {
	t := p.tok()
	line := pos{t.Line}
	if t.Kind == TokKeyword {
		switch t.Text {
		case "pass":
			p.next()
			return &PassStmt{line}, nil
		case "break":
			if p.loopDepth == 0 {
				return nil, p.errorAt(t, PendingNone, "'break' outside loop")
			}
			p.next()
			return &BreakStmt{line}, nil
		case "continue":
			if p.loopDepth == 0 {
				return nil, p.errorAt(t, PendingNone, "'continue' not properly in loop")
			}
			p.next()
			return &ContinueStmt{line}, nil
		case "return":
			if p.funcDepth == 0 {
				return nil, p.errorAt(t, PendingNone, "'return' outside function")
			}
			p.next()
			s := &ReturnStmt{pos: line}
			if !p.endOfSimple() {
				v, err := p.testList()
				if err != nil {
					return nil, err
				}
				s.Value = v
			}
			return s, nil
		case "global":
			p.next()
			s := &GlobalStmt{pos: line}
			for {
				name, err := p.expectName()
				if err != nil {
					return nil, err
				}
				s.Names = append(s.Names, name)
				if !p.atOp(",") {
					break
				}
				p.next()
			}
			return s, nil
		case "del":
			p.next()
			s := &DelStmt{pos: line}
			for {
				e, err := p.expr()
				if err != nil {
					return nil, err
				}
				if err := p.checkTarget(e, "delete"); err != nil {
					return nil, err
				}
				s.Targets = append(s.Targets, e)
				if !p.atOp(",") {
					break
				}
				p.next()
			}
			return s, nil
		case "raise":
			p.next()
			s := &RaiseStmt{pos: line}
			if !p.endOfSimple() {
				e, err := p.test()
				if err != nil {
					return nil, err
				}
				s.Exc = e
			}
			return s, nil
		case "assert":
			p.next()
			test, err := p.test()
			if err != nil {
				return nil, err
			}
			s := &AssertStmt{pos: line, Test: test}
			if p.atOp(",") {
				p.next()
				msg, err := p.test()
				if err != nil {
					return nil, err
				}
				s.Msg = msg
			}
			return s, nil
		}
	}
	return p.exprStmt()
}

func (p *parser) endOfSimple() bool {
	return p.at(TokNewline) || p.at(TokEOF) || p.atOp(";")
}

var augOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "//=": "//", "%=": "%", "**=": "**",
}

func (p *parser) exprStmt() (Stmt, error) {
	start := p.tok()
	first, err := p.testList()
	if err != nil {
		return nil, err
	}
	line := pos{start.Line}
	if t := p.tok(); t.Kind == TokOp {
		if op, ok := augOps[t.Text]; ok {
			if _, isTuple := first.(*TupleExpr); isTuple {
				return nil, p.errorAt(start, PendingNone, "illegal expression for augmented assignment")
			}
			if err := p.checkTarget(first, "assign to"); err != nil {
				return nil, err
			}
			p.next()
			v, err := p.testList()
			if err != nil {
				return nil, err
			}
			return &AugAssignStmt{pos: line, Target: first, Op: op, Value: v}, nil
		}
	}
	if !p.atOp("=") {
		return &ExprStmt{pos: line, X: first}, nil
	}
	targets := []Expr{first}
	var value Expr
	for p.atOp("=") {
		p.next()
		v, err := p.testList()
		if err != nil {
			return nil, err
		}
		targets = append(targets, v)
	}
	value = targets[len(targets)-1]
	targets = targets[:len(targets)-1]
	for _, tg := range targets {
		if err := p.checkTarget(tg, "assign to"); err != nil {
			return nil, err
		}
	}
	return &AssignStmt{pos: line, Targets: targets, Value: value}, nil
}

func (p *parser) checkTarget(e Expr, verb string) error {
	switch t := e.(type) {
	case *NameExpr, *IndexExpr:
		return nil
	case *TupleExpr:
		for _, el := range t.Elems {
			if err := p.checkTarget(el, verb); err != nil {
				return err
			}
		}
		return nil
	case *ListExpr:
		for _, el := range t.Elems {
			if err := p.checkTarget(el, verb); err != nil {
				return err
			}
		}
		return nil
	case *ConstExpr:
		return p.errorAt(Token{Line: e.Line()}, PendingNone, "cannot "+verb+" literal")
	case *CallExpr:
		return p.errorAt(Token{Line: e.Line()}, PendingNone, "cannot "+verb+" function call")
	case *AttrExpr:
		return p.errorAt(Token{Line: e.Line()}, PendingNone, "cannot "+verb+" attribute")
	}
	return p.errorAt(Token{Line: e.Line()}, PendingNone, "cannot "+verb+" expression")
}

// suite parses the block after a ':'.
func (p *parser) suite() ([]Stmt, error) {
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	if !p.at(TokNewline) {
		if p.at(TokEOF) {
			return nil, p.errorAt(p.tok(), PendingBlock, "unexpected EOF while parsing")
		}
		return p.simpleStmt()
	}
	nl := p.next()
	if !p.at(TokIndent) {
		if p.onlyClosersLeft() {
			return nil, p.errorAt(nl, PendingBlock, "expected an indented block")
		}
		return nil, p.errorAt(p.tok(), PendingNone, "expected an indented block")
	}
	p.next()
	var body []Stmt
	for !p.at(TokDedent) && !p.at(TokEOF) {
		if p.at(TokNewline) {
			p.next()
			continue
		}
		stmts, err := p.statement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmts...)
	}
	if p.at(TokDedent) {
		p.next()
	}
	return body, nil
}

func (p *parser) ifStmt() (Stmt, error) {
	line := p.next().Line
	cond, err := p.test()
	if err != nil {
		return nil, err
	}
	body, err := p.suite()
	if err != nil {
		return nil, err
	}
	s := &IfStmt{pos: pos{line}, Cond: cond, Body: body}
	switch {
	case p.atKeyword("elif"):
		elif, err := p.ifStmt()
		if err != nil {
			return nil, err
		}
		s.Else = []Stmt{elif}
	case p.atKeyword("else"):
		p.next()
		els, err := p.suite()
		if err != nil {
			return nil, err
		}
		s.Else = els
	}
	return s, nil
}

func (p *parser) whileStmt() (Stmt, error) {
	line := p.next().Line
	cond, err := p.test()
	if err != nil {
		return nil, err
	}
	p.loopDepth++
	body, err := p.suite()
	p.loopDepth--
	if err != nil {
		return nil, err
	}
	return &WhileStmt{pos: pos{line}, Cond: cond, Body: body}, nil
}

func (p *parser) forStmt() (Stmt, error) {
	line := p.next().Line
	target, err := p.targetList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	iter, err := p.testList()
	if err != nil {
		return nil, err
	}
	p.loopDepth++
	body, err := p.suite()
	p.loopDepth--
	if err != nil {
		return nil, err
	}
	return &ForStmt{pos: pos{line}, Target: target, Iter: iter, Body: body}, nil
}

// targetList parses `a` or `a, b` up to (not including) `in`.
func (p *parser) targetList() (Expr, error) {
	start := p.tok()
	first, err := p.expr()
	if err != nil {
		return nil, err
	}
	if !p.atOp(",") {
		if err := p.checkTarget(first, "assign to"); err != nil {
			return nil, err
		}
		return first, nil
	}
	tup := &TupleExpr{pos: pos{start.Line}, Elems: []Expr{first}}
	for p.atOp(",") {
		p.next()
		if p.atKeyword("in") {
			break
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		tup.Elems = append(tup.Elems, e)
	}
	if err := p.checkTarget(tup, "assign to"); err != nil {
		return nil, err
	}
	return tup, nil
}

func (p *parser) defStmt() (Stmt, error) {
	line := p.next().Line
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	s := &DefStmt{pos: pos{line}, Name: name}
	seenDefault := false
	for !p.atOp(")") {
		if p.atOp("*") {
			p.next()
			star, err := p.expectName()
			if err != nil {
				return nil, err
			}
			s.Star = star
			if p.atOp(",") {
				p.next()
			}
			if !p.atOp(")") {
				return nil, p.errorAt(p.tok(), PendingNone, "invalid syntax")
			}
			break
		}
		pname, err := p.expectName()
		if err != nil {
			return nil, err
		}
		param := Param{Name: pname}
		if p.atOp("=") {
			p.next()
			d, err := p.test()
			if err != nil {
				return nil, err
			}
			param.Default = d
			seenDefault = true
		} else if seenDefault {
			return nil, p.errorAt(p.tok(), PendingNone, "non-default argument follows default argument")
		}
		for _, prev := range s.Params {
			if prev.Name == pname {
				return nil, p.errorAt(p.tok(), PendingNone, "duplicate argument '"+pname+"' in function definition")
			}
		}
		s.Params = append(s.Params, param)
		if !p.atOp(",") {
			break
		}
		p.next()
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	savedLoops := p.loopDepth
	p.funcDepth++
	p.loopDepth = 0
	body, err := p.suite()
	p.funcDepth--
	p.loopDepth = savedLoops
	if err != nil {
		return nil, err
	}
	s.Body = body
	return s, nil
}

func (p *parser) tryStmt() (Stmt, error) {
	line := p.next().Line
	body, err := p.suite()
	if err != nil {
		return nil, err
	}
	s := &TryStmt{pos: pos{line}, Body: body}
	for p.atKeyword("except") {
		ht := p.next()
		h := Handler{Line: ht.Line}
		if !p.atOp(":") {
			c, err := p.test()
			if err != nil {
				return nil, err
			}
			h.Class = c
			if p.atKeyword("as") {
				p.next()
				name, err := p.expectName()
				if err != nil {
					return nil, err
				}
				h.As = name
			}
		}
		hb, err := p.suite()
		if err != nil {
			return nil, err
		}
		h.Body = hb
		s.Handlers = append(s.Handlers, h)
	}
	if p.atKeyword("finally") {
		p.next()
		fin, err := p.suite()
		if err != nil {
			return nil, err
		}
		s.Finally = fin
	}
	if len(s.Handlers) == 0 && s.Finally == nil {
		if p.onlyClosersLeft() {
			return nil, p.errorAt(p.tok(), PendingBlock, "expected 'except' or 'finally' block")
		}
		return nil, p.errorAt(p.tok(), PendingNone, "expected 'except' or 'finally' block")
	}
	return s, nil
}

// testList parses `a` or `a, b, ...`, producing a tuple when a comma is seen.
func (p *parser) testList() (Expr, error) {
	start := p.tok()
	first, err := p.test()
	if err != nil {
		return nil, err
	}
	if !p.atOp(",") {
		return first, nil
	}
	tup := &TupleExpr{pos: pos{start.Line}, Elems: []Expr{first}}
	for p.atOp(",") {
		p.next()
		if !p.startsExpr() {
			break
		}
		e, err := p.test()
		if err != nil {
			return nil, err
		}
		tup.Elems = append(tup.Elems, e)
	}
	return tup, nil
}

func (p *parser) startsExpr() bool {
	t := p.tok()
	switch t.Kind {
	case TokName, TokInt, TokFloat, TokString:
		return true
	case TokKeyword:
		switch t.Text {
		case "not", "None", "True", "False":
			return true
		}
	case TokOp:
		switch t.Text {
		case "(", "[", "{", "-", "+":
			return true
		}
	}
	return false
}

func (p *parser) test() (Expr, error) {
	start := p.tok()
	e, err := p.orTest()
	if err != nil {
		return nil, err
	}
	if !p.atKeyword("if") {
		return e, nil
	}
	p.next()
	cond, err := p.orTest()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("else"); err != nil {
		return nil, err
	}
	els, err := p.test()
	if err != nil {
		return nil, err
	}
	return &CondExpr{pos: pos{start.Line}, Cond: cond, Then: e, Else: els}, nil
}

func (p *parser) orTest() (Expr, error) {
	left, err := p.andTest()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") {
		t := p.next()
		right, err := p.andTest()
		if err != nil {
			return nil, err
		}
		left = &BoolExpr{pos: pos{t.Line}, Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) andTest() (Expr, error) {
	left, err := p.notTest()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") {
		t := p.next()
		right, err := p.notTest()
		if err != nil {
			return nil, err
		}
		left = &BoolExpr{pos: pos{t.Line}, Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) notTest() (Expr, error) {
	if p.atKeyword("not") {
		t := p.next()
		x, err := p.notTest()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{pos: pos{t.Line}, Op: "not", X: x}, nil
	}
	return p.comparison()
}

func (p *parser) compOp() (string, bool) {
	t := p.tok()
	if t.Kind == TokOp {
		switch t.Text {
		case "<", ">", "==", ">=", "<=", "!=":
			p.next()
			return t.Text, true
		}
		return "", false
	}
	if t.Kind != TokKeyword {
		return "", false
	}
	switch t.Text {
	case "in":
		p.next()
		return "in", true
	case "not":
		if n := p.toks[p.i+1]; n.Kind == TokKeyword && n.Text == "in" {
			p.next()
			p.next()
			return "not in", true
		}
	case "is":
		p.next()
		if p.atKeyword("not") {
			p.next()
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) comparison() (Expr, error) {
	start := p.tok()
	first, err := p.expr()
	if err != nil {
		return nil, err
	}
	var ops []string
	operands := []Expr{first}
	for {
		op, ok := p.compOp()
		if !ok {
			break
		}
		next, err := p.expr()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		operands = append(operands, next)
	}
	if len(ops) == 0 {
		return first, nil
	}
	return &CompareExpr{pos: pos{start.Line}, Ops: ops, Operands: operands}, nil
}

// expr is the arithmetic level (no comparisons, no boolean operators).
func (p *parser) expr() (Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") {
		t := p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{pos: pos{t.Line}, Op: t.Text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) term() (Expr, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") || p.atOp("//") || p.atOp("%") {
		t := p.next()
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{pos: pos{t.Line}, Op: t.Text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) factor() (Expr, error) {
	if p.atOp("-") || p.atOp("+") {
		t := p.next()
		x, err := p.factor()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{pos: pos{t.Line}, Op: t.Text, X: x}, nil
	}
	return p.power()
}

func (p *parser) power() (Expr, error) {
	base, err := p.atomExpr()
	if err != nil {
		return nil, err
	}
	if !p.atOp("**") {
		return base, nil
	}
	t := p.next()
	exp, err := p.factor()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{pos: pos{t.Line}, Op: "**", Left: base, Right: exp}, nil
}

func (p *parser) atomExpr() (Expr, error) {
	x, err := p.atom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atOp("("):
			t := p.next()
			call, err := p.callArgs(x, t.Line)
			if err != nil {
				return nil, err
			}
			x = call
		case p.atOp("["):
			t := p.next()
			sub, err := p.subscript(x, t.Line)
			if err != nil {
				return nil, err
			}
			x = sub
		case p.atOp("."):
			t := p.next()
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			x = &AttrExpr{pos: pos{t.Line}, X: x, Name: name}
		default:
			return x, nil
		}
	}
}

func (p *parser) callArgs(fn Expr, line int) (Expr, error) {
	call := &CallExpr{pos: pos{line}, Func: fn}
	for !p.atOp(")") {
		if p.atOp("*") {
			p.next()
			star, err := p.test()
			if err != nil {
				return nil, err
			}
			call.Star = star
		} else if p.at(TokName) && p.toks[p.i+1].Kind == TokOp && p.toks[p.i+1].Text == "=" {
			name := p.next().Text
			p.next()
			v, err := p.test()
			if err != nil {
				return nil, err
			}
			call.Keywords = append(call.Keywords, Keyword{Name: name, Value: v})
		} else {
			if len(call.Keywords) > 0 || call.Star != nil {
				return nil, p.errorAt(p.tok(), PendingNone, "positional argument follows keyword argument")
			}
			a, err := p.test()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, a)
		}
		if !p.atOp(",") {
			break
		}
		p.next()
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) subscript(x Expr, line int) (Expr, error) {
	var low, high Expr
	var err error
	if !p.atOp(":") {
		low, err = p.testList()
		if err != nil {
			return nil, err
		}
		if p.atOp("]") {
			p.next()
			return &IndexExpr{pos: pos{line}, X: x, Index: low}, nil
		}
	}
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	if !p.atOp("]") {
		high, err = p.test()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &SliceExpr{pos: pos{line}, X: x, Low: low, High: high}, nil
}

func (p *parser) atom() (Expr, error) {
	t := p.tok()
	line := pos{t.Line}
	switch t.Kind {
	case TokName:
		p.next()
		return &NameExpr{pos: line, Name: t.Text}, nil
	case TokInt:
		p.next()
		v, err := parseIntLiteral(t.Text)
		if err != nil {
			return nil, p.errorAt(t, PendingNone, "integer literal too large")
		}
		return &ConstExpr{pos: line, Value: Int(v)}, nil
	case TokFloat:
		p.next()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil && !math.IsInf(f, 0) {
			return nil, p.errorAt(t, PendingNone, "invalid float literal")
		}
		return &ConstExpr{pos: line, Value: Float(f)}, nil
	case TokString:
		var b strings.Builder
		for p.at(TokString) {
			b.WriteString(p.next().Text)
		}
		return &ConstExpr{pos: line, Value: Str(b.String())}, nil
	case TokKeyword:
		switch t.Text {
		case "None":
			p.next()
			return &ConstExpr{pos: line, Value: None}, nil
		case "True":
			p.next()
			return &ConstExpr{pos: line, Value: True}, nil
		case "False":
			p.next()
			return &ConstExpr{pos: line, Value: False}, nil
		}
	case TokOp:
		switch t.Text {
		case "(":
			p.next()
			if p.atOp(")") {
				p.next()
				return &TupleExpr{pos: line}, nil
			}
			first, err := p.test()
			if err != nil {
				return nil, err
			}
			if p.atOp(")") {
				p.next()
				return first, nil
			}
			tup := &TupleExpr{pos: line, Elems: []Expr{first}}
			for p.atOp(",") {
				p.next()
				if p.atOp(")") {
					break
				}
				e, err := p.test()
				if err != nil {
					return nil, err
				}
				tup.Elems = append(tup.Elems, e)
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return tup, nil
		case "[":
			p.next()
			list := &ListExpr{pos: line}
			for !p.atOp("]") {
				e, err := p.test()
				if err != nil {
					return nil, err
				}
				list.Elems = append(list.Elems, e)
				if !p.atOp(",") {
					break
				}
				p.next()
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			return list, nil
		case "{":
			p.next()
			d := &DictExpr{pos: line}
			for !p.atOp("}") {
				k, err := p.test()
				if err != nil {
					return nil, err
				}
				if err := p.expectOp(":"); err != nil {
					return nil, err
				}
				v, err := p.test()
				if err != nil {
					return nil, err
				}
				d.Keys = append(d.Keys, k)
				d.Values = append(d.Values, v)
				if !p.atOp(",") {
					break
				}
				p.next()
			}
			if err := p.expectOp("}"); err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	if t.Kind == TokEOF {
		return nil, p.errorAt(t, PendingNone, "unexpected EOF while parsing")
	}
	return nil, p.errorAt(t, PendingNone, "invalid syntax")
}

func parseIntLiteral(text string) (int64, error) {
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		return strconv.ParseInt(text[2:], 16, 64)
	}
	return strconv.ParseInt(text, 10, 64)
}
