package lang

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"
)

// DefaultMaxDepth bounds nested rscript calls.
const DefaultMaxDepth = 400

// Scope is a flat variable table.
type Scope struct {
	vars map[string]Value
}

func NewScope() *Scope { return &Scope{vars: map[string]Value{}} }

func (s *Scope) Get(name string) (Value, bool) {
	v, ok := s.vars[name]
	return v, ok
}

func (s *Scope) Set(name string, v Value) { s.vars[name] = v }

// Delete removes name and reports whether it was bound.
func (s *Scope) Delete(name string) bool {
	if _, ok := s.vars[name]; !ok {
		return false
	}
	delete(s.vars, name)
	return true
}

// Names returns the bound names in lexical order.
func (s *Scope) Names() []string { return SortedNames(s.vars) }

func (s *Scope) Len() int { return len(s.vars) }

// Dict returns a snapshot of the scope as a dict keyed by name.
func (s *Scope) Dict() *Dict { return scopeDict(s) }

// Replace makes the scope hold exactly the string-keyed entries of d.
func (s *Scope) Replace(d *Dict) error {
	next := make(map[string]Value, d.Len())
	vals := d.Values()
	for i, k := range d.Keys() {
		name, ok := k.(Str)
		if !ok {
			return NewException(TypeError, "scope keys must be strings, not '%s'", k.Type())
		}
		next[string(name)] = vals[i]
	}
	s.vars = next
	return nil
}

// Namespace is the pair of scopes code executes against. At module level
// Locals and Globals are the same scope.
type Namespace struct {
	Globals *Scope
	Locals  *Scope
}

// NewNamespace returns a module namespace with a single fresh scope.
func NewNamespace() *Namespace {
	g := NewScope()
	return &Namespace{Globals: g, Locals: g}
}

// Frame is one activation on the rscript call stack.
type Frame struct {
	Name     string
	Filename string
	Line     int
	Back     *Frame
	NS       *Namespace
	Code     *Code

	fn          *Func
	hidden      bool
	depth       int
	globalNames map[string]bool
	handling    []*Exception
}

// Hidden reports whether the frame belongs to the embedding host rather
// than to user code. Hidden frames still appear in tracebacks; debuggers
// skip them when listing scopes.
func (f *Frame) Hidden() bool { return f.hidden }

// Depth is the number of frames below f.
func (f *Frame) Depth() int { return f.depth }

// IsFunction reports whether the frame is a function activation.
func (f *Frame) IsFunction() bool { return f.fn != nil }

// SourceLine returns the text of the line the frame is executing.
func (f *Frame) SourceLine() string {
	if f.Code == nil {
		return ""
	}
	return f.Code.SourceLine(f.Line)
}

func (f *Frame) lineOffset() int {
	if f.Code == nil {
		return 0
	}
	return f.Code.LineOffset
}

func (f *Frame) trueDiv() bool {
	if f.Code == nil {
		return true
	}
	return f.Code.Flags.TrueDivision
}

// Tracer observes execution. Any error returned aborts the running code
// with that error.
type Tracer interface {
	// Line is called before every statement.
	Line(f *Frame) error
	// Call is called when a function frame has been entered.
	Call(f *Frame) error
	// Return is called when a function frame returns normally.
	Return(f *Frame, v Value) error
}

// Interp executes compiled code.
type Interp struct {
	Builtins *Scope
	Stdout   io.Writer
	// Stdin supplies lines for input(). A nil Stdin makes input() raise
	// EOFError.
	Stdin func() (string, error)
	// Display receives the values of interactive expression statements.
	// When nil they are written to Stdout.
	Display  func(v Value) error
	MaxDepth int

	tracer    Tracer
	frame     *Frame
	depth     int
	interrupt atomic.Bool
	running   atomic.Int32
}

// New returns an interpreter with the standard builtins installed.
func New() *Interp {
	in := &Interp{Stdout: io.Discard, MaxDepth: DefaultMaxDepth}
	in.Builtins = newBuiltins()
	return in
}

// SetTracer installs t, or removes the tracer when t is nil.
func (in *Interp) SetTracer(t Tracer) { in.tracer = t }

// Tracer returns the installed tracer.
func (in *Interp) Tracer() Tracer { return in.tracer }

// Interrupt asks the running code to raise KeyboardInterrupt at the next
// statement boundary. It is safe to call from any goroutine.
func (in *Interp) Interrupt() { in.interrupt.Store(true) }

// Running reports whether code is executing. It is safe to call from any
// goroutine.
func (in *Interp) Running() bool { return in.running.Load() > 0 }

// CheckInterrupt consumes a pending interrupt, returning KeyboardInterrupt.
func (in *Interp) CheckInterrupt() error {
	if in.interrupt.Swap(false) {
		return NewException(KeyboardInterrupt, "")
	}
	return nil
}

type execConfig struct {
	callIn     string
	callInFile string
}

// ExecOption configures a single Exec call.
type ExecOption func(*execConfig)

// WithCallIn pushes a hidden host frame below the module frame, so that
// tools walking the stack can tell where user code begins.
func WithCallIn(name, filename string) ExecOption {
	return func(c *execConfig) {
		c.callIn = name
		c.callInFile = filename
	}
}

type savedState struct {
	frame *Frame
	depth int
}

func (in *Interp) enter() savedState {
	if in.running.Load() == 0 {
		in.interrupt.Store(false)
	}
	in.running.Add(1)
	return savedState{frame: in.frame, depth: in.depth}
}

func (in *Interp) leave(s savedState) {
	in.frame = s.frame
	in.depth = s.depth
	in.running.Add(-1)
}

func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = NewException(RuntimeError, "internal error: %v", r)
	}
}

func (in *Interp) pushFrame(f *Frame) {
	f.Back = in.frame
	if in.frame != nil {
		f.depth = in.frame.depth + 1
	}
	in.frame = f
}

// Exec runs code in ns. Script errors are returned as *Exception; errors
// from the tracer are returned unchanged.
func (in *Interp) Exec(code *Code, ns *Namespace, opts ...ExecOption) (err error) {
	if code.Mode == ModeEval {
		_, err := in.Eval(code, ns)
		return err
	}
	var cfg execConfig
	for _, o := range opts {
		o(&cfg)
	}
	saved := in.enter()
	defer in.leave(saved)
	defer recoverPanic(&err)

	if cfg.callIn != "" {
		in.pushFrame(&Frame{Name: cfg.callIn, Filename: cfg.callInFile, NS: ns, hidden: true})
	}
	f := &Frame{Name: "<module>", Filename: code.Filename, NS: ns, Code: code}
	in.pushFrame(f)

	_, _, err = in.execBlock(f, code.TopLevel())
	return err
}

// Eval evaluates an expression compiled in ModeEval.
func (in *Interp) Eval(code *Code, ns *Namespace) (v Value, err error) {
	if code.Mode != ModeEval || code.Expr == nil {
		return nil, NewException(TypeError, "code object is not an expression")
	}
	saved := in.enter()
	defer in.leave(saved)
	defer recoverPanic(&err)

	f := &Frame{Name: "<module>", Filename: code.Filename, NS: ns, Code: code, Line: code.Expr.Line() + code.LineOffset}
	in.pushFrame(f)
	v, err = in.eval(f, code.Expr)
	if err != nil {
		in.attachTraceback(f, err)
	}
	return v, err
}

// Call invokes a callable value with positional arguments.
func (in *Interp) Call(fn Value, args ...Value) (v Value, err error) {
	saved := in.enter()
	defer in.leave(saved)
	defer recoverPanic(&err)
	return in.call(fn, args, nil)
}

type ctl int

const (
	ctlNext ctl = iota
	ctlBreak
	ctlContinue
	ctlReturn
)

func (in *Interp) execBlock(f *Frame, body []Stmt) (ctl, Value, error) {
	for _, s := range body {
		c, v, err := in.execStmt(f, s)
		if err != nil || c != ctlNext {
			return c, v, err
		}
	}
	return ctlNext, nil, nil
}

func (in *Interp) execStmt(f *Frame, s Stmt) (ctl, Value, error) {
	f.Line = s.Line() + f.lineOffset()
	if err := in.CheckInterrupt(); err != nil {
		in.attachTraceback(f, err)
		return ctlNext, nil, err
	}
	if in.tracer != nil {
		if err := in.tracer.Line(f); err != nil {
			return ctlNext, nil, err
		}
		if err := in.CheckInterrupt(); err != nil {
			in.attachTraceback(f, err)
			return ctlNext, nil, err
		}
	}
	c, v, err := in.stmt(f, s)
	if err != nil {
		in.attachTraceback(f, err)
	}
	return c, v, err
}

func (in *Interp) attachTraceback(f *Frame, err error) {
	exc, ok := err.(*Exception)
	if !ok || exc.Traceback != nil {
		return
	}
	exc.Traceback = Stack(f)
}

// Stack returns the frames from the outermost down to f.
func Stack(f *Frame) []TraceFrame {
	var out []TraceFrame
	for k := f; k != nil; k = k.Back {
		out = append(out, TraceFrame{Filename: k.Filename, Line: k.Line, Name: k.Name})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (in *Interp) stmt(f *Frame, s Stmt) (ctl, Value, error) {
	switch s := s.(type) {
	case *ExprStmt:
		v, err := in.eval(f, s.X)
		if err != nil {
			return ctlNext, nil, err
		}
		if f.fn == nil && f.Code != nil && f.Code.Mode == ModeSingle && f.Code.Flags.Display {
			if err := in.display(v); err != nil {
				return ctlNext, nil, err
			}
		}
		return ctlNext, nil, nil

	case *AssignStmt:
		v, err := in.eval(f, s.Value)
		if err != nil {
			return ctlNext, nil, err
		}
		for _, t := range s.Targets {
			if err := in.assign(f, t, v); err != nil {
				return ctlNext, nil, err
			}
		}
		return ctlNext, nil, nil

	case *AugAssignStmt:
		return ctlNext, nil, in.augAssign(f, s)

	case *IfStmt:
		cond, err := in.eval(f, s.Cond)
		if err != nil {
			return ctlNext, nil, err
		}
		if Truth(cond) {
			return in.execBlock(f, s.Body)
		}
		return in.execBlock(f, s.Else)

	case *WhileStmt:
		for {
			cond, err := in.eval(f, s.Cond)
			if err != nil {
				return ctlNext, nil, err
			}
			if !Truth(cond) {
				return ctlNext, nil, nil
			}
			c, v, err := in.execBlock(f, s.Body)
			if err != nil || c == ctlReturn {
				return c, v, err
			}
			if c == ctlBreak {
				return ctlNext, nil, nil
			}
			f.Line = s.Line() + f.lineOffset()
		}

	case *ForStmt:
		iter, err := in.eval(f, s.Iter)
		if err != nil {
			return ctlNext, nil, err
		}
		var (
			out    ctl
			outVal Value
		)
		err = in.iterate(iter, func(item Value) (bool, error) {
			if err := in.assign(f, s.Target, item); err != nil {
				return true, err
			}
			c, v, err := in.execBlock(f, s.Body)
			if err != nil {
				return true, err
			}
			switch c {
			case ctlReturn:
				out, outVal = c, v
				return true, nil
			case ctlBreak:
				return true, nil
			}
			f.Line = s.Line() + f.lineOffset()
			return false, nil
		})
		return out, outVal, err

	case *BreakStmt:
		return ctlBreak, nil, nil
	case *ContinueStmt:
		return ctlContinue, nil, nil
	case *PassStmt:
		return ctlNext, nil, nil

	case *DefStmt:
		fn, err := in.makeFunc(f, s)
		if err != nil {
			return ctlNext, nil, err
		}
		in.setName(f, s.Name, fn)
		return ctlNext, nil, nil

	case *ReturnStmt:
		if s.Value == nil {
			return ctlReturn, None, nil
		}
		v, err := in.eval(f, s.Value)
		if err != nil {
			return ctlNext, nil, err
		}
		return ctlReturn, v, nil

	case *GlobalStmt:
		if f.fn == nil {
			if f.globalNames == nil {
				f.globalNames = map[string]bool{}
			}
			for _, n := range s.Names {
				f.globalNames[n] = true
			}
		}
		return ctlNext, nil, nil

	case *DelStmt:
		for _, t := range s.Targets {
			if err := in.del(f, t); err != nil {
				return ctlNext, nil, err
			}
		}
		return ctlNext, nil, nil

	case *RaiseStmt:
		return ctlNext, nil, in.raise(f, s)

	case *TryStmt:
		return in.try(f, s)

	case *AssertStmt:
		v, err := in.eval(f, s.Test)
		if err != nil {
			return ctlNext, nil, err
		}
		if Truth(v) {
			return ctlNext, nil, nil
		}
		exc := &Exception{Class: AssertionError}
		if s.Msg != nil {
			m, err := in.eval(f, s.Msg)
			if err != nil {
				return ctlNext, nil, err
			}
			exc.Args = []Value{m}
			exc.Msg = ToStr(m)
		}
		return ctlNext, nil, exc
	}
	return ctlNext, nil, NewException(RuntimeError, "unsupported statement %T", s)
}

func (in *Interp) display(v Value) error {
	if _, isNone := v.(NoneType); isNone {
		return nil
	}
	in.Builtins.Set("_", v)
	if in.Display != nil {
		return in.Display(v)
	}
	_, err := fmt.Fprintln(in.Stdout, Repr(v))
	return err
}

func (in *Interp) raise(f *Frame, s *RaiseStmt) error {
	if s.Exc == nil {
		for k := f; k != nil; k = k.Back {
			if n := len(k.handling); n > 0 {
				return k.handling[n-1]
			}
		}
		return NewException(RuntimeError, "No active exception to reraise")
	}
	v, err := in.eval(f, s.Exc)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case *Exception:
		return x
	case *Class:
		if x.IsException() {
			return newInstance(x, nil)
		}
	}
	return NewException(TypeError, "exceptions must derive from BaseException")
}

func (in *Interp) try(f *Frame, s *TryStmt) (ctl, Value, error) {
	c, v, err := in.execBlock(f, s.Body)
	if exc, ok := err.(*Exception); ok && len(s.Handlers) > 0 {
		for _, h := range s.Handlers {
			matched, merr := in.handlerMatches(f, h, exc)
			if merr != nil {
				c, v, err = ctlNext, nil, merr
				break
			}
			if !matched {
				continue
			}
			if h.As != "" {
				in.setName(f, h.As, exc)
			}
			f.handling = append(f.handling, exc)
			c, v, err = in.execBlock(f, h.Body)
			f.handling = f.handling[:len(f.handling)-1]
			break
		}
	}
	if s.Finally != nil {
		if _, isExc := err.(*Exception); err != nil && !isExc {
			return c, v, err
		}
		fc, fv, ferr := in.execBlock(f, s.Finally)
		if ferr != nil || fc != ctlNext {
			return fc, fv, ferr
		}
	}
	return c, v, err
}

func (in *Interp) handlerMatches(f *Frame, h Handler, exc *Exception) (bool, error) {
	if h.Class == nil {
		return true, nil
	}
	cv, err := in.eval(f, h.Class)
	if err != nil {
		return false, err
	}
	classes := []Value{cv}
	if t, ok := cv.(Tuple); ok {
		classes = t
	}
	for _, c := range classes {
		cls, ok := c.(*Class)
		if !ok || !cls.IsException() {
			return false, NewException(TypeError, "catching classes that do not inherit from BaseException is not allowed")
		}
		if exc.Matches(cls) {
			return true, nil
		}
	}
	return false, nil
}

func (in *Interp) makeFunc(f *Frame, s *DefStmt) (*Func, error) {
	fn := &Func{
		Name:     s.Name,
		Params:   s.Params,
		Star:     s.Star,
		Body:     s.Body,
		Filename: f.Filename,
		DefLine:  s.Line() + f.lineOffset(),
		Code:     f.Code,
		Globals:  f.NS.Globals,
	}
	for _, p := range s.Params {
		if p.Default == nil {
			fn.Defaults = append(fn.Defaults, nil)
			continue
		}
		d, err := in.eval(f, p.Default)
		if err != nil {
			return nil, err
		}
		fn.Defaults = append(fn.Defaults, d)
	}
	switch {
	case f.fn != nil:
		fn.closure = append([]*Scope{f.NS.Locals}, f.fn.closure...)
	case f.NS.Locals != f.NS.Globals:
		fn.closure = []*Scope{f.NS.Locals}
	}
	fn.locals, fn.global = scanLocals(s)
	return fn, nil
}

// scanLocals finds the names a function body binds, minus those declared
// global.
func scanLocals(s *DefStmt) (locals, globals map[string]bool) {
	locals = map[string]bool{}
	globals = map[string]bool{}
	for _, p := range s.Params {
		locals[p.Name] = true
	}
	if s.Star != "" {
		locals[s.Star] = true
	}
	var target func(e Expr)
	target = func(e Expr) {
		switch t := e.(type) {
		case *NameExpr:
			locals[t.Name] = true
		case *TupleExpr:
			for _, el := range t.Elems {
				target(el)
			}
		case *ListExpr:
			for _, el := range t.Elems {
				target(el)
			}
		}
	}
	var walk func(body []Stmt)
	walk = func(body []Stmt) {
		for _, st := range body {
			switch st := st.(type) {
			case *AssignStmt:
				for _, t := range st.Targets {
					target(t)
				}
			case *AugAssignStmt:
				target(st.Target)
			case *ForStmt:
				target(st.Target)
				walk(st.Body)
			case *IfStmt:
				walk(st.Body)
				walk(st.Else)
			case *WhileStmt:
				walk(st.Body)
			case *TryStmt:
				walk(st.Body)
				for _, h := range st.Handlers {
					if h.As != "" {
						locals[h.As] = true
					}
					walk(h.Body)
				}
				walk(st.Finally)
			case *DefStmt:
				locals[st.Name] = true
			case *DelStmt:
				for _, t := range st.Targets {
					target(t)
				}
			case *GlobalStmt:
				for _, n := range st.Names {
					globals[n] = true
				}
			}
		}
	}
	walk(s.Body)
	for n := range globals {
		delete(locals, n)
	}
	return locals, globals
}

func (in *Interp) lookup(f *Frame, name string) (Value, error) {
	if fn := f.fn; fn != nil {
		if fn.locals[name] {
			if v, ok := f.NS.Locals.Get(name); ok {
				return v, nil
			}
			return nil, NewException(UnboundLocalError, "local variable '%s' referenced before assignment", name)
		}
		if !fn.global[name] {
			for _, s := range fn.closure {
				if v, ok := s.Get(name); ok {
					return v, nil
				}
			}
		}
	} else if !f.globalNames[name] {
		if v, ok := f.NS.Locals.Get(name); ok {
			return v, nil
		}
	}
	if v, ok := f.NS.Globals.Get(name); ok {
		return v, nil
	}
	if v, ok := in.Builtins.Get(name); ok {
		return v, nil
	}
	return nil, NewException(NameError, "name '%s' is not defined", name)
}

func (in *Interp) scopeFor(f *Frame, name string) *Scope {
	if f.fn != nil {
		if f.fn.global[name] {
			return f.NS.Globals
		}
		return f.NS.Locals
	}
	if f.globalNames[name] {
		return f.NS.Globals
	}
	return f.NS.Locals
}

func (in *Interp) setName(f *Frame, name string, v Value) {
	in.scopeFor(f, name).Set(name, v)
}

func (in *Interp) assign(f *Frame, target Expr, v Value) error {
	switch t := target.(type) {
	case *NameExpr:
		in.setName(f, t.Name, v)
		return nil
	case *IndexExpr:
		x, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		i, err := in.eval(f, t.Index)
		if err != nil {
			return err
		}
		return SetIndex(x, i, v)
	case *TupleExpr:
		return in.unpack(f, t.Elems, v)
	case *ListExpr:
		return in.unpack(f, t.Elems, v)
	}
	return NewException(TypeError, "cannot assign to %T", target)
}

func (in *Interp) unpack(f *Frame, targets []Expr, v Value) error {
	items, err := in.collect(v)
	if err != nil {
		if exc, ok := err.(*Exception); ok && exc.Class == TypeError {
			return NewException(TypeError, "cannot unpack non-iterable %s object", v.Type())
		}
		return err
	}
	if len(items) < len(targets) {
		return NewException(ValueError, "not enough values to unpack (expected %d, got %d)", len(targets), len(items))
	}
	if len(items) > len(targets) {
		return NewException(ValueError, "too many values to unpack (expected %d)", len(targets))
	}
	for i, t := range targets {
		if err := in.assign(f, t, items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) augAssign(f *Frame, s *AugAssignStmt) error {
	switch t := s.Target.(type) {
	case *NameExpr:
		cur, err := in.lookup(f, t.Name)
		if err != nil {
			return err
		}
		rhs, err := in.eval(f, s.Value)
		if err != nil {
			return err
		}
		v, err := in.inplace(f, s.Op, cur, rhs)
		if err != nil {
			return err
		}
		in.setName(f, t.Name, v)
		return nil
	case *IndexExpr:
		x, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		i, err := in.eval(f, t.Index)
		if err != nil {
			return err
		}
		cur, err := Index(x, i)
		if err != nil {
			return err
		}
		rhs, err := in.eval(f, s.Value)
		if err != nil {
			return err
		}
		v, err := in.inplace(f, s.Op, cur, rhs)
		if err != nil {
			return err
		}
		return SetIndex(x, i, v)
	}
	return NewException(TypeError, "illegal expression for augmented assignment")
}

func (in *Interp) inplace(f *Frame, op string, cur, rhs Value) (Value, error) {
	if l, ok := cur.(*List); ok && op == "+" {
		items, err := in.collect(rhs)
		if err != nil {
			return nil, err
		}
		l.Elems = append(l.Elems, items...)
		return l, nil
	}
	return BinaryOp(op, cur, rhs, f.trueDiv())
}

func (in *Interp) del(f *Frame, target Expr) error {
	switch t := target.(type) {
	case *NameExpr:
		if !in.scopeFor(f, t.Name).Delete(t.Name) {
			return NewException(NameError, "name '%s' is not defined", t.Name)
		}
		return nil
	case *IndexExpr:
		x, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		i, err := in.eval(f, t.Index)
		if err != nil {
			return err
		}
		return DelIndex(x, i)
	case *TupleExpr:
		for _, el := range t.Elems {
			if err := in.del(f, el); err != nil {
				return err
			}
		}
		return nil
	case *ListExpr:
		for _, el := range t.Elems {
			if err := in.del(f, el); err != nil {
				return err
			}
		}
		return nil
	}
	return NewException(TypeError, "cannot delete %T", target)
}

func (in *Interp) eval(f *Frame, e Expr) (Value, error) {
	switch e := e.(type) {
	case *NameExpr:
		return in.lookup(f, e.Name)
	case *ConstExpr:
		return e.Value, nil
	case *ListExpr:
		elems, err := in.evalAll(f, e.Elems)
		if err != nil {
			return nil, err
		}
		return &List{Elems: elems}, nil
	case *TupleExpr:
		elems, err := in.evalAll(f, e.Elems)
		if err != nil {
			return nil, err
		}
		return Tuple(elems), nil
	case *DictExpr:
		d := NewDict()
		for i := range e.Keys {
			k, err := in.eval(f, e.Keys[i])
			if err != nil {
				return nil, err
			}
			v, err := in.eval(f, e.Values[i])
			if err != nil {
				return nil, err
			}
			if err := d.Set(k, v); err != nil {
				return nil, err
			}
		}
		return d, nil
	case *BinaryExpr:
		l, err := in.eval(f, e.Left)
		if err != nil {
			return nil, err
		}
		r, err := in.eval(f, e.Right)
		if err != nil {
			return nil, err
		}
		return BinaryOp(e.Op, l, r, f.trueDiv())
	case *UnaryExpr:
		x, err := in.eval(f, e.X)
		if err != nil {
			return nil, err
		}
		return UnaryOp(e.Op, x)
	case *BoolExpr:
		l, err := in.eval(f, e.Left)
		if err != nil {
			return nil, err
		}
		if (e.Op == "and") != Truth(l) {
			return l, nil
		}
		return in.eval(f, e.Right)
	case *CompareExpr:
		left, err := in.eval(f, e.Operands[0])
		if err != nil {
			return nil, err
		}
		for i, op := range e.Ops {
			right, err := in.eval(f, e.Operands[i+1])
			if err != nil {
				return nil, err
			}
			ok, err := Compare(op, left, right)
			if err != nil {
				return nil, err
			}
			if !ok {
				return False, nil
			}
			left = right
		}
		return True, nil
	case *CallExpr:
		return in.evalCall(f, e)
	case *IndexExpr:
		x, err := in.eval(f, e.X)
		if err != nil {
			return nil, err
		}
		i, err := in.eval(f, e.Index)
		if err != nil {
			return nil, err
		}
		return Index(x, i)
	case *SliceExpr:
		x, err := in.eval(f, e.X)
		if err != nil {
			return nil, err
		}
		var lo, hi Value
		if e.Low != nil {
			if lo, err = in.eval(f, e.Low); err != nil {
				return nil, err
			}
		}
		if e.High != nil {
			if hi, err = in.eval(f, e.High); err != nil {
				return nil, err
			}
		}
		return Slice(x, lo, hi)
	case *AttrExpr:
		x, err := in.eval(f, e.X)
		if err != nil {
			return nil, err
		}
		return getAttr(x, e.Name)
	case *CondExpr:
		c, err := in.eval(f, e.Cond)
		if err != nil {
			return nil, err
		}
		if Truth(c) {
			return in.eval(f, e.Then)
		}
		return in.eval(f, e.Else)
	}
	return nil, NewException(RuntimeError, "unsupported expression %T", e)
}

func (in *Interp) evalAll(f *Frame, exprs []Expr) ([]Value, error) {
	out := make([]Value, 0, len(exprs))
	for _, x := range exprs {
		v, err := in.eval(f, x)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (in *Interp) evalCall(f *Frame, e *CallExpr) (Value, error) {
	fn, err := in.eval(f, e.Func)
	if err != nil {
		return nil, err
	}
	args, err := in.evalAll(f, e.Args)
	if err != nil {
		return nil, err
	}
	if e.Star != nil {
		sv, err := in.eval(f, e.Star)
		if err != nil {
			return nil, err
		}
		extra, err := in.collect(sv)
		if err != nil {
			return nil, err
		}
		args = append(args, extra...)
	}
	var kwargs map[string]Value
	if len(e.Keywords) > 0 {
		kwargs = make(map[string]Value, len(e.Keywords))
		for _, kw := range e.Keywords {
			if _, dup := kwargs[kw.Name]; dup {
				return nil, NewException(TypeError, "keyword argument repeated: %s", kw.Name)
			}
			v, err := in.eval(f, kw.Value)
			if err != nil {
				return nil, err
			}
			kwargs[kw.Name] = v
		}
	}
	return in.call(fn, args, kwargs)
}

func (in *Interp) call(fnv Value, args []Value, kwargs map[string]Value) (Value, error) {
	switch fn := fnv.(type) {
	case *Func:
		return in.callFunc(fn, args, kwargs)
	case *Builtin:
		return fn.Fn(in, args, kwargs)
	case *Class:
		if fn.construct != nil {
			return fn.construct(in, args, kwargs)
		}
		if fn.IsException() {
			if len(kwargs) > 0 {
				return nil, NewException(TypeError, "%s() takes no keyword arguments", fn.Name)
			}
			return newInstance(fn, args), nil
		}
		return nil, NewException(TypeError, "cannot create '%s' instances", fn.Name)
	}
	return nil, NewException(TypeError, "'%s' object is not callable", fnv.Type())
}

func newInstance(c *Class, args []Value) *Exception {
	exc := &Exception{Class: c, Args: append([]Value(nil), args...)}
	switch len(args) {
	case 0:
	case 1:
		exc.Msg = ToStr(args[0])
	default:
		exc.Msg = Repr(Tuple(args))
	}
	if c.IsSubclass(SystemExit) {
		exc.Code = exitCode(args)
	}
	return exc
}

func exitCode(args []Value) int {
	if len(args) == 0 {
		return 0
	}
	switch v := args[0].(type) {
	case NoneType:
		return 0
	case Int:
		return int(v)
	case Bool:
		if v {
			return 1
		}
		return 0
	}
	return 1
}

func (in *Interp) maxDepth() int {
	if in.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return in.MaxDepth
}

func (in *Interp) callFunc(fn *Func, args []Value, kwargs map[string]Value) (Value, error) {
	if in.depth >= in.maxDepth() {
		return nil, NewException(RecursionError, "maximum recursion depth exceeded")
	}
	locals := NewScope()
	if err := bindArgs(fn, locals, args, kwargs); err != nil {
		return nil, err
	}
	f := &Frame{
		Name:     fn.Name,
		Filename: fn.Filename,
		Line:     fn.DefLine,
		NS:       &Namespace{Globals: fn.Globals, Locals: locals},
		Code:     fn.Code,
		fn:       fn,
	}
	prevFrame, prevDepth := in.frame, in.depth
	in.pushFrame(f)
	in.depth++
	defer func() {
		in.frame, in.depth = prevFrame, prevDepth
	}()

	if in.tracer != nil {
		if err := in.tracer.Call(f); err != nil {
			return nil, err
		}
	}
	c, v, err := in.execBlock(f, fn.Body)
	if err != nil {
		return nil, err
	}
	if c != ctlReturn || v == nil {
		v = None
	}
	if in.tracer != nil {
		if err := in.tracer.Return(f, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func bindArgs(fn *Func, locals *Scope, args []Value, kwargs map[string]Value) error {
	n := len(fn.Params)
	if len(args) > n && fn.Star == "" {
		return NewException(TypeError, "%s() takes %d positional argument%s but %d %s given",
			fn.Name, n, plural(n), len(args), wasWere(len(args)))
	}
	for i := 0; i < n && i < len(args); i++ {
		locals.Set(fn.Params[i].Name, args[i])
	}
	if fn.Star != "" {
		var rest Tuple
		if len(args) > n {
			rest = append(rest, args[n:]...)
		}
		if rest == nil {
			rest = Tuple{}
		}
		locals.Set(fn.Star, rest)
	}
	for _, name := range SortedNames(kwargs) {
		idx := -1
		for i, p := range fn.Params {
			if p.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return NewException(TypeError, "%s() got an unexpected keyword argument '%s'", fn.Name, name)
		}
		if idx < len(args) {
			return NewException(TypeError, "%s() got multiple values for argument '%s'", fn.Name, name)
		}
		locals.Set(name, kwargs[name])
	}
	var missing []string
	for i, p := range fn.Params {
		if _, ok := locals.Get(p.Name); ok {
			continue
		}
		if fn.Defaults[i] != nil {
			locals.Set(p.Name, fn.Defaults[i])
			continue
		}
		missing = append(missing, "'"+p.Name+"'")
	}
	if len(missing) > 0 {
		return NewException(TypeError, "%s() missing %d required positional argument%s: %s",
			fn.Name, len(missing), plural(len(missing)), joinAnd(missing))
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func wasWere(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}

func joinAnd(items []string) string {
	switch len(items) {
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	out := ""
	for i, it := range items[:len(items)-1] {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out + ", and " + items[len(items)-1]
}

// iterate calls fn for each item of v until fn asks to stop.
func (in *Interp) iterate(v Value, fn func(Value) (stop bool, err error)) error {
	switch x := v.(type) {
	case *List:
		for i := 0; i < len(x.Elems); i++ {
			if stop, err := fn(x.Elems[i]); stop || err != nil {
				return err
			}
		}
		return nil
	case Tuple:
		for _, e := range x {
			if stop, err := fn(e); stop || err != nil {
				return err
			}
		}
		return nil
	case Str:
		for _, r := range string(x) {
			if stop, err := fn(Str(r)); stop || err != nil {
				return err
			}
		}
		return nil
	case *Dict:
		for _, k := range x.Keys() {
			if stop, err := fn(k); stop || err != nil {
				return err
			}
		}
		return nil
	case *Range:
		n := x.Len()
		for i := int64(0); i < n; i++ {
			if i&0xfff == 0xfff {
				if err := in.CheckInterrupt(); err != nil {
					return err
				}
			}
			if stop, err := fn(Int(x.Start + i*x.Step)); stop || err != nil {
				return err
			}
		}
		return nil
	}
	return NewException(TypeError, "'%s' object is not iterable", v.Type())
}

// collect materialises an iterable.
func (in *Interp) collect(v Value) ([]Value, error) {
	if l, ok := v.(*List); ok {
		return append([]Value(nil), l.Elems...), nil
	}
	if t, ok := v.(Tuple); ok {
		return append([]Value(nil), t...), nil
	}
	var out []Value
	err := in.iterate(v, func(item Value) (bool, error) {
		out = append(out, item)
		return false, nil
	})
	return out, err
}

// Collect materialises an iterable value.
func (in *Interp) Collect(v Value) ([]Value, error) { return in.collect(v) }

func (in *Interp) sleep(d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if err := in.CheckInterrupt(); err != nil {
			return err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		if left > 10*time.Millisecond {
			left = 10 * time.Millisecond
		}
		time.Sleep(left)
	}
}

func sortValues(items []Value, reverse bool, key func(Value) (Value, error)) error {
	keys := items
	if key != nil {
		keys = make([]Value, len(items))
		for i, it := range items {
			k, err := key(it)
			if err != nil {
				return err
			}
			keys[i] = k
		}
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	sort.SliceStable(idx, func(a, b int) bool {
		if sortErr != nil {
			return false
		}
		ka, kb := keys[idx[a]], keys[idx[b]]
		if reverse {
			ka, kb = kb, ka
		}
		c, err := order(ka, kb, "<")
		if err != nil {
			sortErr = err
			return false
		}
		return c < 0
	})
	if sortErr != nil {
		return sortErr
	}
	sorted := make([]Value, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
	return nil
}
