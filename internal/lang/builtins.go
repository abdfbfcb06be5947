package lang

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

func newBuiltins() *Scope {
	s := NewScope()
	for _, c := range exceptionClasses {
		s.Set(c.Name, c)
	}
	for _, c := range []*Class{BoolClass, IntClass, FloatClass, StrClass, ListClass, TupleClass, DictClass, RangeClass, TypeClass} {
		s.Set(c.Name, c)
	}
	add := func(b *Builtin) { s.Set(b.Name, b) }

	add(&Builtin{Name: "print", Fn: builtinPrint})
	add(&Builtin{Name: "input", Fn: builtinInput})
	add(&Builtin{Name: "sorted", Fn: builtinSorted})
	add(&Builtin{Name: "exit", Fn: builtinExit})
	add(&Builtin{Name: "quit", Fn: builtinExit})
	add(NewBuiltin("len", func(in *Interp, args []Value) (Value, error) {
		if err := arity("len", args, 1, 1); err != nil {
			return nil, err
		}
		n, err := Len(args[0])
		return Int(n), err
	}))
	add(NewBuiltin("repr", func(in *Interp, args []Value) (Value, error) {
		if err := arity("repr", args, 1, 1); err != nil {
			return nil, err
		}
		return Str(Repr(args[0])), nil
	}))
	add(NewBuiltin("abs", func(in *Interp, args []Value) (Value, error) {
		if err := arity("abs", args, 1, 1); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case Int:
			if x < 0 {
				return UnaryOp("-", x)
			}
			return x, nil
		case Bool:
			if x {
				return Int(1), nil
			}
			return Int(0), nil
		case Float:
			return Float(math.Abs(float64(x))), nil
		}
		return nil, NewException(TypeError, "bad operand type for abs(): '%s'", args[0].Type())
	}))
	add(NewBuiltin("min", func(in *Interp, args []Value) (Value, error) { return extreme(in, "min", args, -1) }))
	add(NewBuiltin("max", func(in *Interp, args []Value) (Value, error) { return extreme(in, "max", args, 1) }))
	add(NewBuiltin("sum", func(in *Interp, args []Value) (Value, error) {
		if err := arity("sum", args, 1, 2); err != nil {
			return nil, err
		}
		var acc Value = Int(0)
		if len(args) == 2 {
			acc = args[1]
		}
		err := in.iterate(args[0], func(item Value) (bool, error) {
			v, err := BinaryOp("+", acc, item, true)
			if err != nil {
				return true, err
			}
			acc = v
			return false, nil
		})
		return acc, err
	}))
	add(NewBuiltin("enumerate", func(in *Interp, args []Value) (Value, error) {
		if err := arity("enumerate", args, 1, 2); err != nil {
			return nil, err
		}
		start := int64(0)
		if len(args) == 2 {
			n, ok := args[1].(Int)
			if !ok {
				return nil, NewException(TypeError, "enumerate() start must be an integer")
			}
			start = int64(n)
		}
		items, err := in.collect(args[0])
		if err != nil {
			return nil, err
		}
		out := make([]Value, len(items))
		for i, it := range items {
			out[i] = Tuple{Int(start + int64(i)), it}
		}
		return &List{Elems: out}, nil
	}))
	add(NewBuiltin("zip", func(in *Interp, args []Value) (Value, error) {
		cols := make([][]Value, len(args))
		shortest := -1
		for i, a := range args {
			items, err := in.collect(a)
			if err != nil {
				return nil, err
			}
			cols[i] = items
			if shortest < 0 || len(items) < shortest {
				shortest = len(items)
			}
		}
		out := make([]Value, 0, max(shortest, 0))
		for r := 0; r < shortest; r++ {
			row := make(Tuple, len(cols))
			for c := range cols {
				row[c] = cols[c][r]
			}
			out = append(out, row)
		}
		return &List{Elems: out}, nil
	}))
	add(NewBuiltin("isinstance", func(in *Interp, args []Value) (Value, error) {
		if err := arity("isinstance", args, 2, 2); err != nil {
			return nil, err
		}
		classes := []Value{args[1]}
		if t, ok := args[1].(Tuple); ok {
			classes = t
		}
		cls := TypeOf(args[0])
		for _, c := range classes {
			k, ok := c.(*Class)
			if !ok {
				return nil, NewException(TypeError, "isinstance() arg 2 must be a type or tuple of types")
			}
			if cls.IsSubclass(k) {
				return True, nil
			}
		}
		return False, nil
	}))
	add(NewBuiltin("globals", func(in *Interp, args []Value) (Value, error) {
		if in.frame == nil {
			return NewDict(), nil
		}
		return scopeDict(in.frame.NS.Globals), nil
	}))
	add(NewBuiltin("locals", func(in *Interp, args []Value) (Value, error) {
		if in.frame == nil {
			return NewDict(), nil
		}
		return scopeDict(in.frame.NS.Locals), nil
	}))
	add(NewBuiltin("round", func(in *Interp, args []Value) (Value, error) {
		if err := arity("round", args, 1, 2); err != nil {
			return nil, err
		}
		n, ok := numeric(args[0])
		if !ok {
			return nil, NewException(TypeError, "type %s doesn't define __round__ method", args[0].Type())
		}
		if len(args) == 1 || args[1] == None {
			if !n.isFloat {
				return Int(n.i), nil
			}
			r := math.RoundToEven(n.f)
			if math.IsInf(r, 0) || math.IsNaN(r) {
				return nil, NewException(OverflowError, "cannot convert float to integer")
			}
			return Int(int64(r)), nil
		}
		digits, ok := args[1].(Int)
		if !ok {
			return nil, NewException(TypeError, "'%s' object cannot be interpreted as an integer", args[1].Type())
		}
		if !n.isFloat {
			return Int(n.i), nil
		}
		p := math.Pow(10, float64(digits))
		return Float(math.RoundToEven(n.f*p) / p), nil
	}))
	add(NewBuiltin("chr", func(in *Interp, args []Value) (Value, error) {
		if err := arity("chr", args, 1, 1); err != nil {
			return nil, err
		}
		n, ok := args[0].(Int)
		if !ok {
			return nil, NewException(TypeError, "an integer is required (got type %s)", args[0].Type())
		}
		if n < 0 || n > utf8.MaxRune {
			return nil, NewException(ValueError, "chr() arg not in range(0x110000)")
		}
		return Str(rune(n)), nil
	}))
	add(NewBuiltin("ord", func(in *Interp, args []Value) (Value, error) {
		if err := arity("ord", args, 1, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(Str)
		if !ok {
			return nil, NewException(TypeError, "ord() expected string of length 1, but %s found", args[0].Type())
		}
		rs := []rune(string(s))
		if len(rs) != 1 {
			return nil, NewException(TypeError, "ord() expected a character, but string of length %d found", len(rs))
		}
		return Int(rs[0]), nil
	}))
	add(NewBuiltin("any", func(in *Interp, args []Value) (Value, error) {
		if err := arity("any", args, 1, 1); err != nil {
			return nil, err
		}
		found := false
		err := in.iterate(args[0], func(item Value) (bool, error) {
			found = Truth(item)
			return found, nil
		})
		return Bool(found), err
	}))
	add(NewBuiltin("all", func(in *Interp, args []Value) (Value, error) {
		if err := arity("all", args, 1, 1); err != nil {
			return nil, err
		}
		ok := true
		err := in.iterate(args[0], func(item Value) (bool, error) {
			ok = Truth(item)
			return !ok, nil
		})
		return Bool(ok), err
	}))
	add(NewBuiltin("sleep", func(in *Interp, args []Value) (Value, error) {
		if err := arity("sleep", args, 1, 1); err != nil {
			return nil, err
		}
		n, ok := numeric(args[0])
		if !ok {
			return nil, NewException(TypeError, "sleep() argument must be a number, not %s", args[0].Type())
		}
		secs := n.float()
		if secs < 0 {
			return nil, NewException(ValueError, "sleep length must be non-negative")
		}
		return None, in.sleep(time.Duration(secs * float64(time.Second)))
	}))
	return s
}

func arity(name string, args []Value, lo, hi int) error {
	switch {
	case lo == hi && len(args) != lo:
		return NewException(TypeError, "%s() takes exactly %d argument%s (%d given)", name, lo, plural(lo), len(args))
	case len(args) < lo:
		return NewException(TypeError, "%s() takes at least %d argument%s (%d given)", name, lo, plural(lo), len(args))
	case hi >= 0 && len(args) > hi:
		return NewException(TypeError, "%s() takes at most %d argument%s (%d given)", name, hi, plural(hi), len(args))
	}
	return nil
}

func scopeDict(s *Scope) *Dict {
	d := NewDict()
	for _, n := range s.Names() {
		v, _ := s.Get(n)
		d.SetStr(n, v)
	}
	return d
}

func kwarg(kwargs map[string]Value, fname string, allowed ...string) error {
	for k := range kwargs {
		ok := false
		for _, a := range allowed {
			if k == a {
				ok = true
				break
			}
		}
		if !ok {
			return NewException(TypeError, "%s() got an unexpected keyword argument '%s'", fname, k)
		}
	}
	return nil
}

func strKwarg(kwargs map[string]Value, name, def string) (string, error) {
	v, ok := kwargs[name]
	if !ok || v == None {
		return def, nil
	}
	s, ok := v.(Str)
	if !ok {
		return "", NewException(TypeError, "%s must be None or a string, not %s", name, v.Type())
	}
	return string(s), nil
}

func builtinPrint(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := kwarg(kwargs, "print", "sep", "end"); err != nil {
		return nil, err
	}
	sep, err := strKwarg(kwargs, "sep", " ")
	if err != nil {
		return nil, err
	}
	end, err := strKwarg(kwargs, "end", "\n")
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = ToStr(a)
	}
	if _, err := io.WriteString(in.Stdout, strings.Join(parts, sep)+end); err != nil {
		return nil, NewException(RuntimeError, "print: %v", err)
	}
	return None, nil
}

func builtinInput(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := kwarg(kwargs, "input"); err != nil {
		return nil, err
	}
	if err := arity("input", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		if _, err := io.WriteString(in.Stdout, ToStr(args[0])); err != nil {
			return nil, NewException(RuntimeError, "input: %v", err)
		}
	}
	if in.Stdin == nil {
		return nil, NewException(EOFError, "EOF when reading a line")
	}
	line, err := in.Stdin()
	if err != nil {
		var exc *Exception
		if errors.As(err, &exc) {
			return nil, exc
		}
		if errors.Is(err, io.EOF) {
			return nil, NewException(EOFError, "EOF when reading a line")
		}
		return nil, err
	}
	return Str(strings.TrimSuffix(line, "\n")), nil
}

func builtinExit(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := kwarg(kwargs, "exit"); err != nil {
		return nil, err
	}
	if err := arity("exit", args, 0, 1); err != nil {
		return nil, err
	}
	return nil, newInstance(SystemExit, args)
}

func builtinSorted(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := kwarg(kwargs, "sorted", "reverse", "key"); err != nil {
		return nil, err
	}
	if err := arity("sorted", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := in.collect(args[0])
	if err != nil {
		return nil, err
	}
	var key func(Value) (Value, error)
	if k, ok := kwargs["key"]; ok && k != None {
		key = func(v Value) (Value, error) { return in.call(k, []Value{v}, nil) }
	}
	if err := sortValues(items, Truth(kwargOr(kwargs, "reverse", False)), key); err != nil {
		return nil, err
	}
	return &List{Elems: items}, nil
}

func kwargOr(kwargs map[string]Value, name string, def Value) Value {
	if v, ok := kwargs[name]; ok {
		return v
	}
	return def
}

func extreme(in *Interp, name string, args []Value, sign int) (Value, error) {
	items := args
	if len(args) == 1 {
		var err error
		if items, err = in.collect(args[0]); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return nil, NewException(ValueError, "%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, it := range items[1:] {
		c, err := order(it, best, "<")
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best = it
		}
	}
	return best, nil
}

func init() {
	TypeClass = &Class{Name: "type"}
	TypeClass.construct = func(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("type", args, 1, 1); err != nil {
			return nil, err
		}
		return TypeOf(args[0]), nil
	}
	NoneClass = &Class{Name: "NoneType"}
	FunctionClass = &Class{Name: "function"}
	BuiltinClass = &Class{Name: "builtin_function_or_method"}

	IntClass = &Class{Name: "int", construct: constructInt}
	BoolClass = &Class{Name: "bool", Base: IntClass, construct: func(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("bool", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return False, nil
		}
		return Bool(Truth(args[0])), nil
	}}
	FloatClass = &Class{Name: "float", construct: constructFloat}
	StrClass = &Class{Name: "str", construct: func(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("str", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return Str(""), nil
		}
		return Str(ToStr(args[0])), nil
	}}
	ListClass = &Class{Name: "list", construct: func(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("list", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return &List{}, nil
		}
		items, err := in.collect(args[0])
		return &List{Elems: items}, err
	}}
	TupleClass = &Class{Name: "tuple", construct: func(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("tuple", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return Tuple{}, nil
		}
		items, err := in.collect(args[0])
		return Tuple(items), err
	}}
	DictClass = &Class{Name: "dict", construct: constructDict}
	RangeClass = &Class{Name: "range", construct: constructRange}
}

func constructInt(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := arity("int", args, 0, 2); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return Int(0), nil
	}
	base := 10
	if len(args) == 2 {
		b, ok := args[1].(Int)
		if !ok {
			return nil, NewException(TypeError, "int() base must be an integer")
		}
		base = int(b)
	}
	switch x := args[0].(type) {
	case Int:
		return x, nil
	case Bool:
		if x {
			return Int(1), nil
		}
		return Int(0), nil
	case Float:
		f := math.Trunc(float64(x))
		if math.IsInf(f, 0) || math.IsNaN(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return nil, NewException(OverflowError, "cannot convert float %s to integer", FormatFloat(float64(x)))
		}
		return Int(int64(f)), nil
	case Str:
		text := strings.ReplaceAll(strings.TrimSpace(string(x)), "_", "")
		n, err := strconv.ParseInt(text, base, 64)
		if err != nil {
			return nil, NewException(ValueError, "invalid literal for int() with base %d: %s", base, Repr(x))
		}
		return Int(n), nil
	}
	return nil, NewException(TypeError, "int() argument must be a string or a number, not '%s'", args[0].Type())
}

func constructFloat(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := arity("float", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return Float(0), nil
	}
	if n, ok := numeric(args[0]); ok {
		return Float(n.float()), nil
	}
	if s, ok := args[0].(Str); ok {
		text := strings.ToLower(strings.TrimSpace(string(s)))
		switch text {
		case "inf", "+inf", "infinity":
			return Float(math.Inf(1)), nil
		case "-inf", "-infinity":
			return Float(math.Inf(-1)), nil
		case "nan":
			return Float(math.NaN()), nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, NewException(ValueError, "could not convert string to float: %s", Repr(s))
		}
		return Float(f), nil
	}
	return nil, NewException(TypeError, "float() argument must be a string or a number, not '%s'", args[0].Type())
}

func constructDict(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := arity("dict", args, 0, 1); err != nil {
		return nil, err
	}
	d := NewDict()
	if len(args) == 1 {
		if src, ok := args[0].(*Dict); ok {
			for i, k := range src.keys {
				_ = d.Set(k, src.vals[i])
			}
		} else {
			pairs, err := in.collect(args[0])
			if err != nil {
				return nil, err
			}
			for i, p := range pairs {
				kv, err := in.collect(p)
				if err != nil || len(kv) != 2 {
					return nil, NewException(ValueError, "dictionary update sequence element #%d has wrong length", i)
				}
				if err := d.Set(kv[0], kv[1]); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, k := range SortedNames(kwargs) {
		d.SetStr(k, kwargs[k])
	}
	return d, nil
}

func constructRange(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
	if err := arity("range", args, 1, 3); err != nil {
		return nil, err
	}
	ints := make([]int64, len(args))
	for i, a := range args {
		n, err := toIndex(a, "range")
		if err != nil {
			return nil, NewException(TypeError, "'%s' object cannot be interpreted as an integer", a.Type())
		}
		ints[i] = n
	}
	r := &Range{Step: 1}
	switch len(ints) {
	case 1:
		r.Stop = ints[0]
	case 2:
		r.Start, r.Stop = ints[0], ints[1]
	case 3:
		r.Start, r.Stop, r.Step = ints[0], ints[1], ints[2]
	}
	if r.Step == 0 {
		return nil, NewException(ValueError, "range() arg 3 must not be zero")
	}
	return r, nil
}

// Describe renders a short human description of v, used by tooling that
// lists namespace contents.
func Describe(v Value) string {
	switch x := v.(type) {
	case *Func:
		params := make([]string, 0, len(x.Params)+1)
		for i, p := range x.Params {
			if x.Defaults[i] != nil {
				params = append(params, p.Name+"="+Repr(x.Defaults[i]))
			} else {
				params = append(params, p.Name)
			}
		}
		if x.Star != "" {
			params = append(params, "*"+x.Star)
		}
		return fmt.Sprintf("%s(%s)", x.Name, strings.Join(params, ", "))
	case *Builtin:
		return x.Name + "(...)"
	}
	return Repr(v)
}
