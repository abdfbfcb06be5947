package lang

import (
	"math"
	"strings"
)

// Equal implements ==.
func Equal(a, b Value) bool {
	if an, ok := numeric(a); ok {
		if bn, ok := numeric(b); ok {
			return an.eq(bn)
		}
		return false
	}
	switch x := a.(type) {
	case NoneType:
		_, ok := b.(NoneType)
		return ok
	case Str:
		y, ok := b.(Str)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		if !ok {
			return false
		}
		if x == y {
			return true
		}
		return seqEqual(x.Elems, y.Elems)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && seqEqual(x, y)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, found, err := y.Get(k)
			if err != nil || !found || !Equal(x.vals[i], v) {
				return false
			}
		}
		return true
	case *Range:
		y, ok := b.(*Range)
		return ok && *x == *y
	case *Exception:
		return a == b
	}
	return a == b
}

func seqEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// num is an int-or-float operand.
type num struct {
	isFloat bool
	i       int64
	f       float64
}

func numeric(v Value) (num, bool) {
	switch x := v.(type) {
	case Bool:
		if x {
			return num{i: 1}, true
		}
		return num{}, true
	case Int:
		return num{i: int64(x)}, true
	case Float:
		return num{isFloat: true, f: float64(x)}, true
	}
	return num{}, false
}

func (n num) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n num) eq(o num) bool {
	if !n.isFloat && !o.isFloat {
		return n.i == o.i
	}
	return n.float() == o.float()
}

func (n num) cmp(o num) int {
	if !n.isFloat && !o.isFloat {
		switch {
		case n.i < o.i:
			return -1
		case n.i > o.i:
			return 1
		}
		return 0
	}
	a, b := n.float(), o.float()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func overflow() error {
	return NewException(OverflowError, "integer overflow")
}

func addInt(a, b int64) (Value, error) {
	s := a + b
	if (s > a) != (b > 0) {
		return nil, overflow()
	}
	return Int(s), nil
}

func subInt(a, b int64) (Value, error) {
	s := a - b
	if (s < a) != (b > 0) {
		return nil, overflow()
	}
	return Int(s), nil
}

func mulInt(a, b int64) (Value, error) {
	if a == 0 || b == 0 {
		return Int(0), nil
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return nil, overflow()
	}
	return Int(p), nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

func powInt(base, exp int64) (Value, error) {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			r, err := mulInt(result, base)
			if err != nil {
				return nil, err
			}
			result = int64(r.(Int))
		}
		exp >>= 1
		if exp > 0 {
			b, err := mulInt(base, base)
			if err != nil {
				return nil, err
			}
			base = int64(b.(Int))
		}
	}
	return Int(result), nil
}

func unsupported(op string, a, b Value) error {
	return NewException(TypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op, a.Type(), b.Type())
}

// BinaryOp evaluates an arithmetic operator. trueDiv selects the meaning of
// / on two integers.
func BinaryOp(op string, a, b Value, trueDiv bool) (Value, error) {
	an, aok := numeric(a)
	bn, bok := numeric(b)
	if aok && bok {
		return numericOp(op, an, bn, trueDiv)
	}
	switch op {
	case "+":
		switch x := a.(type) {
		case Str:
			if y, ok := b.(Str); ok {
				return x + y, nil
			}
			return nil, NewException(TypeError, "can only concatenate str (not \"%s\") to str", b.Type())
		case *List:
			if y, ok := b.(*List); ok {
				out := make([]Value, 0, len(x.Elems)+len(y.Elems))
				return &List{Elems: append(append(out, x.Elems...), y.Elems...)}, nil
			}
			return nil, NewException(TypeError, "can only concatenate list (not \"%s\") to list", b.Type())
		case Tuple:
			if y, ok := b.(Tuple); ok {
				out := make(Tuple, 0, len(x)+len(y))
				return append(append(out, x...), y...), nil
			}
			return nil, NewException(TypeError, "can only concatenate tuple (not \"%s\") to tuple", b.Type())
		}
	case "*":
		if n, ok := b.(Int); ok {
			return repeat(a, int64(n), op, b)
		}
		if n, ok := a.(Int); ok {
			return repeat(b, int64(n), op, a)
		}
	}
	return nil, unsupported(op, a, b)
}

func repeat(seq Value, n int64, op string, other Value) (Value, error) {
	if n < 0 {
		n = 0
	}
	const limit = 1 << 26
	switch x := seq.(type) {
	case Str:
		if int64(len(x))*n > limit {
			return nil, NewException(OverflowError, "repeated string is too long")
		}
		return Str(strings.Repeat(string(x), int(n))), nil
	case *List:
		if int64(len(x.Elems))*n > limit {
			return nil, NewException(OverflowError, "repeated list is too long")
		}
		out := make([]Value, 0, int64(len(x.Elems))*n)
		for i := int64(0); i < n; i++ {
			out = append(out, x.Elems...)
		}
		return &List{Elems: out}, nil
	case Tuple:
		if int64(len(x))*n > limit {
			return nil, NewException(OverflowError, "repeated tuple is too long")
		}
		out := make(Tuple, 0, int64(len(x))*n)
		for i := int64(0); i < n; i++ {
			out = append(out, x...)
		}
		return out, nil
	}
	return nil, unsupported(op, seq, other)
}

func numericOp(op string, a, b num, trueDiv bool) (Value, error) {
	if !a.isFloat && !b.isFloat {
		x, y := a.i, b.i
		switch op {
		case "+":
			return addInt(x, y)
		case "-":
			return subInt(x, y)
		case "*":
			return mulInt(x, y)
		case "/":
			if y == 0 {
				return nil, NewException(ZeroDivisionError, "division by zero")
			}
			if trueDiv {
				return Float(float64(x) / float64(y)), nil
			}
			if x == math.MinInt64 && y == -1 {
				return nil, overflow()
			}
			return Int(floorDiv(x, y)), nil
		case "//":
			if y == 0 {
				return nil, NewException(ZeroDivisionError, "integer division or modulo by zero")
			}
			if x == math.MinInt64 && y == -1 {
				return nil, overflow()
			}
			return Int(floorDiv(x, y)), nil
		case "%":
			if y == 0 {
				return nil, NewException(ZeroDivisionError, "integer division or modulo by zero")
			}
			if y == -1 {
				return Int(0), nil
			}
			return Int(floorMod(x, y)), nil
		case "**":
			if y < 0 {
				if x == 0 {
					return nil, NewException(ZeroDivisionError, "0.0 cannot be raised to a negative power")
				}
				return Float(math.Pow(float64(x), float64(y))), nil
			}
			return powInt(x, y)
		}
		return nil, NewException(TypeError, "unsupported operator %s", op)
	}
	x, y := a.float(), b.float()
	switch op {
	case "+":
		return Float(x + y), nil
	case "-":
		return Float(x - y), nil
	case "*":
		return Float(x * y), nil
	case "/":
		if y == 0 {
			return nil, NewException(ZeroDivisionError, "float division by zero")
		}
		return Float(x / y), nil
	case "//":
		if y == 0 {
			return nil, NewException(ZeroDivisionError, "float floor division by zero")
		}
		return Float(math.Floor(x / y)), nil
	case "%":
		if y == 0 {
			return nil, NewException(ZeroDivisionError, "float modulo")
		}
		m := math.Mod(x, y)
		if m != 0 && ((m < 0) != (y < 0)) {
			m += y
		}
		return Float(m), nil
	case "**":
		if x == 0 && y < 0 {
			return nil, NewException(ZeroDivisionError, "0.0 cannot be raised to a negative power")
		}
		return Float(math.Pow(x, y)), nil
	}
	return nil, NewException(TypeError, "unsupported operator %s", op)
}

// UnaryOp evaluates -x, +x and not x.
func UnaryOp(op string, x Value) (Value, error) {
	if op == "not" {
		return Bool(!Truth(x)), nil
	}
	n, ok := numeric(x)
	if !ok {
		return nil, NewException(TypeError, "bad operand type for unary %s: '%s'", op, x.Type())
	}
	if op == "+" {
		if n.isFloat {
			return Float(n.f), nil
		}
		return Int(n.i), nil
	}
	if n.isFloat {
		return Float(-n.f), nil
	}
	if n.i == math.MinInt64 {
		return nil, overflow()
	}
	return Int(-n.i), nil
}

// Compare evaluates a single comparison operator.
func Compare(op string, a, b Value) (bool, error) {
	switch op {
	case "==":
		return Equal(a, b), nil
	case "!=":
		return !Equal(a, b), nil
	case "is":
		return identical(a, b), nil
	case "is not":
		return !identical(a, b), nil
	case "in":
		return Contains(b, a)
	case "not in":
		ok, err := Contains(b, a)
		return !ok, err
	}
	c, err := order(a, b, op)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, NewException(TypeError, "unknown comparison %s", op)
}

func identical(a, b Value) bool {
	switch x := a.(type) {
	case NoneType, Bool:
		return a == b
	case Int, Float, Str:
		return a == b
	case *List, *Dict, *Func, *Builtin, *Class, *Exception, *Range:
		return a == b
	case Tuple:
		y, ok := b.(Tuple)
		return ok && len(x) == 0 && len(y) == 0
	}
	return false
}

// order returns -1, 0 or 1 for values that support ordering.
func order(a, b Value, op string) (int, error) {
	if an, ok := numeric(a); ok {
		if bn, ok := numeric(b); ok {
			return an.cmp(bn), nil
		}
	}
	switch x := a.(type) {
	case Str:
		if y, ok := b.(Str); ok {
			return strings.Compare(string(x), string(y)), nil
		}
	case *List:
		if y, ok := b.(*List); ok {
			return seqOrder(x.Elems, y.Elems, op)
		}
	case Tuple:
		if y, ok := b.(Tuple); ok {
			return seqOrder(x, y, op)
		}
	}
	return 0, NewException(TypeError, "'%s' not supported between instances of '%s' and '%s'", op, a.Type(), b.Type())
}

func seqOrder(a, b []Value, op string) (int, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if Equal(a[i], b[i]) {
			continue
		}
		return order(a[i], b[i], op)
	}
	switch {
	case len(a) < len(b):
		return -1, nil
	case len(a) > len(b):
		return 1, nil
	}
	return 0, nil
}

// Contains implements `item in container`.
func Contains(container, item Value) (bool, error) {
	switch c := container.(type) {
	case Str:
		s, ok := item.(Str)
		if !ok {
			return false, NewException(TypeError, "'in <string>' requires string as left operand, not %s", item.Type())
		}
		return strings.Contains(string(c), string(s)), nil
	case *List:
		for _, e := range c.Elems {
			if Equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	case Tuple:
		for _, e := range c {
			if Equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	case *Dict:
		_, ok, err := c.Get(item)
		return ok, err
	case *Range:
		n, ok := item.(Int)
		if !ok {
			return false, nil
		}
		v := int64(n)
		if c.Step > 0 && (v < c.Start || v >= c.Stop) {
			return false, nil
		}
		if c.Step < 0 && (v > c.Start || v <= c.Stop) {
			return false, nil
		}
		return (v-c.Start)%c.Step == 0, nil
	}
	return false, NewException(TypeError, "argument of type '%s' is not iterable", container.Type())
}

// Len implements len().
func Len(v Value) (int64, error) {
	switch x := v.(type) {
	case Str:
		return int64(len([]rune(string(x)))), nil
	case *List:
		return int64(len(x.Elems)), nil
	case Tuple:
		return int64(len(x)), nil
	case *Dict:
		return int64(x.Len()), nil
	case *Range:
		return x.Len(), nil
	}
	return 0, NewException(TypeError, "object of type '%s' has no len()", v.Type())
}

func normIndex(i, n int64, what string) (int64, error) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, NewException(IndexError, "%s index out of range", what)
	}
	return i, nil
}

func toIndex(v Value, what string) (int64, error) {
	switch x := v.(type) {
	case Int:
		return int64(x), nil
	case Bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, NewException(TypeError, "%s indices must be integers, not %s", what, v.Type())
}

// Index implements x[i].
func Index(x, i Value) (Value, error) {
	switch c := x.(type) {
	case *List:
		n, err := toIndex(i, "list")
		if err != nil {
			return nil, err
		}
		n, err = normIndex(n, int64(len(c.Elems)), "list")
		if err != nil {
			return nil, err
		}
		return c.Elems[n], nil
	case Tuple:
		n, err := toIndex(i, "tuple")
		if err != nil {
			return nil, err
		}
		n, err = normIndex(n, int64(len(c)), "tuple")
		if err != nil {
			return nil, err
		}
		return c[n], nil
	case Str:
		n, err := toIndex(i, "string")
		if err != nil {
			return nil, err
		}
		rs := []rune(string(c))
		n, err = normIndex(n, int64(len(rs)), "string")
		if err != nil {
			return nil, err
		}
		return Str(rs[n]), nil
	case *Range:
		n, err := toIndex(i, "range object")
		if err != nil {
			return nil, err
		}
		n, err = normIndex(n, c.Len(), "range object")
		if err != nil {
			return nil, err
		}
		return Int(c.Start + n*c.Step), nil
	case *Dict:
		v, ok, err := c.Get(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &Exception{Class: KeyError, Msg: Repr(i), Args: []Value{i}}
		}
		return v, nil
	}
	return nil, NewException(TypeError, "'%s' object is not subscriptable", x.Type())
}

// SetIndex implements x[i] = v.
func SetIndex(x, i, v Value) error {
	switch c := x.(type) {
	case *List:
		n, err := toIndex(i, "list")
		if err != nil {
			return err
		}
		n, err = normIndex(n, int64(len(c.Elems)), "list assignment")
		if err != nil {
			return err
		}
		c.Elems[n] = v
		return nil
	case *Dict:
		return c.Set(i, v)
	}
	return NewException(TypeError, "'%s' object does not support item assignment", x.Type())
}

// DelIndex implements del x[i].
func DelIndex(x, i Value) error {
	switch c := x.(type) {
	case *List:
		n, err := toIndex(i, "list")
		if err != nil {
			return err
		}
		n, err = normIndex(n, int64(len(c.Elems)), "list assignment")
		if err != nil {
			return err
		}
		c.Elems = append(c.Elems[:n], c.Elems[n+1:]...)
		return nil
	case *Dict:
		ok, err := c.Delete(i)
		if err != nil {
			return err
		}
		if !ok {
			return &Exception{Class: KeyError, Msg: Repr(i), Args: []Value{i}}
		}
		return nil
	}
	return NewException(TypeError, "'%s' object does not support item deletion", x.Type())
}

func sliceBounds(low, high Value, n int64) (int64, int64, error) {
	clamp := func(v Value, def int64) (int64, error) {
		if v == nil {
			return def, nil
		}
		if _, ok := v.(NoneType); ok {
			return def, nil
		}
		i, err := toIndex(v, "slice")
		if err != nil {
			return 0, err
		}
		if i < 0 {
			i += n
		}
		if i < 0 {
			i = 0
		}
		if i > n {
			i = n
		}
		return i, nil
	}
	lo, err := clamp(low, 0)
	if err != nil {
		return 0, 0, err
	}
	hi, err := clamp(high, n)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

// Slice implements x[low:high]. Nil bounds are open.
func Slice(x, low, high Value) (Value, error) {
	switch c := x.(type) {
	case *List:
		lo, hi, err := sliceBounds(low, high, int64(len(c.Elems)))
		if err != nil {
			return nil, err
		}
		return &List{Elems: append([]Value(nil), c.Elems[lo:hi]...)}, nil
	case Tuple:
		lo, hi, err := sliceBounds(low, high, int64(len(c)))
		if err != nil {
			return nil, err
		}
		return append(Tuple(nil), c[lo:hi]...), nil
	case Str:
		rs := []rune(string(c))
		lo, hi, err := sliceBounds(low, high, int64(len(rs)))
		if err != nil {
			return nil, err
		}
		return Str(rs[lo:hi]), nil
	}
	return nil, NewException(TypeError, "'%s' object is not subscriptable", x.Type())
}
