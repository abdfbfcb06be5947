package lang

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is any rscript runtime value.
type Value interface {
	Type() string
}

// NoneType is the type of None.
type NoneType struct{}

// None is the single NoneType value.
var None Value = NoneType{}

func (NoneType) Type() string { return "NoneType" }

type (
	Bool  bool
	Int   int64
	Float float64
	Str   string
)

const (
	True  Bool = true
	False Bool = false
)

func (Bool) Type() string  { return "bool" }
func (Int) Type() string   { return "int" }
func (Float) Type() string { return "float" }
func (Str) Type() string   { return "str" }

// List is a mutable sequence. It is always handled by pointer.
type List struct {
	Elems []Value
}

func NewList(elems ...Value) *List { return &List{Elems: elems} }

func (*List) Type() string { return "list" }

// Tuple is an immutable sequence.
type Tuple []Value

func (Tuple) Type() string { return "tuple" }

// Range is a lazy arithmetic progression.
type Range struct {
	Start, Stop, Step int64
}

func (*Range) Type() string { return "range" }

// Len is the number of elements the range yields.
func (r *Range) Len() int64 {
	switch {
	case r.Step > 0 && r.Start < r.Stop:
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	case r.Step < 0 && r.Start > r.Stop:
		return (r.Start - r.Stop - r.Step - 1) / -r.Step
	}
	return 0
}

// Dict is an insertion-ordered hash map.
type Dict struct {
	keys  []Value
	vals  []Value
	index map[string]int
}

func NewDict() *Dict { return &Dict{index: map[string]int{}} }

func (*Dict) Type() string { return "dict" }

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Get looks up k.
func (d *Dict) Get(k Value) (Value, bool, error) {
	h, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[h]
	if !ok {
		return nil, false, nil
	}
	return d.vals[i], true, nil
}

// Set inserts or replaces k. Replacing keeps the original position.
func (d *Dict) Set(k, v Value) error {
	h, err := hashKey(k)
	if err != nil {
		return err
	}
	if i, ok := d.index[h]; ok {
		d.vals[i] = v
		return nil
	}
	d.index[h] = len(d.keys)
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, v)
	return nil
}

// Delete removes k and reports whether it was present.
func (d *Dict) Delete(k Value) (bool, error) {
	h, err := hashKey(k)
	if err != nil {
		return false, err
	}
	i, ok := d.index[h]
	if !ok {
		return false, nil
	}
	d.keys = append(d.keys[:i], d.keys[i+1:]...)
	d.vals = append(d.vals[:i], d.vals[i+1:]...)
	delete(d.index, h)
	for j := i; j < len(d.keys); j++ {
		hk, _ := hashKey(d.keys[j])
		d.index[hk] = j
	}
	return true, nil
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value { return append([]Value(nil), d.keys...) }

// Values returns the values in insertion order.
func (d *Dict) Values() []Value { return append([]Value(nil), d.vals...) }

// SetStr is Set for string keys, which cannot fail.
func (d *Dict) SetStr(k string, v Value) { _ = d.Set(Str(k), v) }

func hashKey(v Value) (string, error) {
	switch x := v.(type) {
	case NoneType:
		return "N", nil
	case Bool:
		if x {
			return "i:1", nil
		}
		return "i:0", nil
	case Int:
		return "i:" + strconv.FormatInt(int64(x), 10), nil
	case Float:
		f := float64(x)
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return "i:" + strconv.FormatInt(int64(f), 10), nil
		}
		return "f:" + strconv.FormatFloat(f, 'g', -1, 64), nil
	case Str:
		return "s:" + string(x), nil
	case Tuple:
		parts := make([]string, len(x))
		for i, e := range x {
			h, err := hashKey(e)
			if err != nil {
				return "", err
			}
			parts[i] = h
		}
		return "t(" + strings.Join(parts, ",") + ")", nil
	case *Class:
		return "c:" + x.Name + fmt.Sprintf(":%p", x), nil
	case *Func:
		return fmt.Sprintf("p:%p", x), nil
	case *Builtin:
		return fmt.Sprintf("p:%p", x), nil
	}
	return "", NewException(TypeError, "unhashable type: '%s'", v.Type())
}

// Func is a function defined in rscript.
type Func struct {
	Name     string
	Params   []Param
	Defaults []Value
	Star     string
	Body     []Stmt
	Filename string
	DefLine  int
	Code     *Code
	Globals  *Scope
	closure  []*Scope
	locals   map[string]bool
	global   map[string]bool
}

func (*Func) Type() string { return "function" }

// Builtin is a function implemented in Go.
type Builtin struct {
	Name string
	Fn   func(in *Interp, args []Value, kwargs map[string]Value) (Value, error)
}

func (*Builtin) Type() string { return "builtin_function_or_method" }

// NewBuiltin wraps a positional-only Go function.
func NewBuiltin(name string, fn func(in *Interp, args []Value) (Value, error)) *Builtin {
	return &Builtin{Name: name, Fn: func(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
		if len(kwargs) > 0 {
			for k := range kwargs {
				return nil, NewException(TypeError, "%s() got an unexpected keyword argument '%s'", name, k)
			}
		}
		return fn(in, args)
	}}
}

// Class is a type object. Exception classes form the only user-visible
// hierarchy; the builtin type classes exist so that type() and isinstance()
// have something to return and compare.
type Class struct {
	Name      string
	Base      *Class
	construct func(in *Interp, args []Value, kwargs map[string]Value) (Value, error)
}

func (*Class) Type() string { return "type" }

// IsSubclass reports whether c is other or derives from it.
func (c *Class) IsSubclass(other *Class) bool {
	for k := c; k != nil; k = k.Base {
		if k == other {
			return true
		}
	}
	return false
}

// IsException reports whether instances of c are exceptions.
func (c *Class) IsException() bool { return c.IsSubclass(BaseExceptionClass) }

// NewExceptionClass derives a new exception class.
func NewExceptionClass(name string, base *Class) *Class {
	return &Class{Name: name, Base: base}
}

// Exception classes.
var (
	BaseExceptionClass  = &Class{Name: "BaseException"}
	ExceptionClass      = NewExceptionClass("Exception", BaseExceptionClass)
	KeyboardInterrupt   = NewExceptionClass("KeyboardInterrupt", BaseExceptionClass)
	SystemExit          = NewExceptionClass("SystemExit", BaseExceptionClass)
	ArithmeticError     = NewExceptionClass("ArithmeticError", ExceptionClass)
	ZeroDivisionError   = NewExceptionClass("ZeroDivisionError", ArithmeticError)
	OverflowError       = NewExceptionClass("OverflowError", ArithmeticError)
	LookupError         = NewExceptionClass("LookupError", ExceptionClass)
	KeyError            = NewExceptionClass("KeyError", LookupError)
	IndexError          = NewExceptionClass("IndexError", LookupError)
	TypeError           = NewExceptionClass("TypeError", ExceptionClass)
	ValueError          = NewExceptionClass("ValueError", ExceptionClass)
	NameError           = NewExceptionClass("NameError", ExceptionClass)
	UnboundLocalError   = NewExceptionClass("UnboundLocalError", NameError)
	AttributeError      = NewExceptionClass("AttributeError", ExceptionClass)
	RuntimeError        = NewExceptionClass("RuntimeError", ExceptionClass)
	RecursionError      = NewExceptionClass("RecursionError", RuntimeError)
	NotImplementedError = NewExceptionClass("NotImplementedError", RuntimeError)
	AssertionError      = NewExceptionClass("AssertionError", ExceptionClass)
	EOFError            = NewExceptionClass("EOFError", ExceptionClass)
)

var exceptionClasses = []*Class{
	BaseExceptionClass, ExceptionClass, KeyboardInterrupt, SystemExit,
	ArithmeticError, ZeroDivisionError, OverflowError, LookupError, KeyError,
	IndexError, TypeError, ValueError, NameError, UnboundLocalError,
	AttributeError, RuntimeError, RecursionError, NotImplementedError,
	AssertionError, EOFError,
}

// Builtin type classes, filled in by init so their constructors may refer
// back to them.
var (
	NoneClass     *Class
	BoolClass     *Class
	IntClass      *Class
	FloatClass    *Class
	StrClass      *Class
	ListClass     *Class
	TupleClass    *Class
	DictClass     *Class
	RangeClass    *Class
	FunctionClass *Class
	BuiltinClass  *Class
	TypeClass     *Class
)

// TypeOf returns the class of v.
func TypeOf(v Value) *Class {
	switch x := v.(type) {
	case NoneType:
		return NoneClass
	case Bool:
		return BoolClass
	case Int:
		return IntClass
	case Float:
		return FloatClass
	case Str:
		return StrClass
	case *List:
		return ListClass
	case Tuple:
		return TupleClass
	case *Dict:
		return DictClass
	case *Range:
		return RangeClass
	case *Func:
		return FunctionClass
	case *Builtin:
		return BuiltinClass
	case *Class:
		return TypeClass
	case *Exception:
		return x.Class
	}
	return &Class{Name: v.Type()}
}

// Truth is the boolean interpretation of v.
func Truth(v Value) bool {
	switch x := v.(type) {
	case NoneType:
		return false
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Float:
		return x != 0
	case Str:
		return len(x) > 0
	case *List:
		return len(x.Elems) > 0
	case Tuple:
		return len(x) > 0
	case *Dict:
		return x.Len() > 0
	case *Range:
		return x.Len() > 0
	}
	return true
}

// ToStr is str(v).
func ToStr(v Value) string {
	switch x := v.(type) {
	case Str:
		return string(x)
	case *Exception:
		switch len(x.Args) {
		case 0:
			return x.Msg
		case 1:
			if x.Class.IsSubclass(KeyError) {
				return Repr(x.Args[0])
			}
			return ToStr(x.Args[0])
		}
		return Repr(Tuple(x.Args))
	}
	return Repr(v)
}

// Repr is repr(v).
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v, map[any]bool{})
	return b.String()
}

func writeRepr(b *strings.Builder, v Value, seen map[any]bool) {
	switch x := v.(type) {
	case nil:
		b.WriteString("<nil>")
	case NoneType:
		b.WriteString("None")
	case Bool:
		if x {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case Int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case Float:
		b.WriteString(FormatFloat(float64(x)))
	case Str:
		b.WriteString(quote(string(x)))
	case *List:
		if seen[x] {
			b.WriteString("[...]")
			return
		}
		seen[x] = true
		b.WriteByte('[')
		for i, e := range x.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, e, seen)
		}
		b.WriteByte(']')
		delete(seen, x)
	case Tuple:
		b.WriteByte('(')
		for i, e := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, e, seen)
		}
		if len(x) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case *Dict:
		if seen[x] {
			b.WriteString("{...}")
			return
		}
		seen[x] = true
		b.WriteByte('{')
		for i := range x.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, x.keys[i], seen)
			b.WriteString(": ")
			writeRepr(b, x.vals[i], seen)
		}
		b.WriteByte('}')
		delete(seen, x)
	case *Range:
		if x.Step == 1 {
			fmt.Fprintf(b, "range(%d, %d)", x.Start, x.Stop)
		} else {
			fmt.Fprintf(b, "range(%d, %d, %d)", x.Start, x.Stop, x.Step)
		}
	case *Func:
		fmt.Fprintf(b, "<function %s>", x.Name)
	case *Builtin:
		fmt.Fprintf(b, "<built-in function %s>", x.Name)
	case *Class:
		fmt.Fprintf(b, "<class '%s'>", x.Name)
	case *Exception:
		b.WriteString(x.Class.Name)
		b.WriteByte('(')
		for i, a := range x.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, a, seen)
		}
		b.WriteByte(')')
	default:
		fmt.Fprintf(b, "<%s object>", v.Type())
	}
}

// FormatFloat renders f the way repr does: shortest round-tripping digits,
// always with a decimal point or exponent.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if f == 0 {
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	exp := int(math.Floor(math.Log10(math.Abs(f))))
	if exp < -4 || exp >= 16 {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}

// SortedNames returns the keys of m in lexical order.
func SortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
