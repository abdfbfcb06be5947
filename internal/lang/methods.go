package lang

import (
	"strings"
)

// getAttr resolves x.name. Only builtin methods and a few exception fields
// are exposed.
func getAttr(x Value, name string) (Value, error) {
	var table map[string]methodFn
	switch v := x.(type) {
	case Str:
		table = strMethods
	case *List:
		table = listMethods
	case *Dict:
		table = dictMethods
	case *Exception:
		switch name {
		case "args":
			return Tuple(append([]Value(nil), v.Args...)), nil
		case "code":
			if v.Class.IsSubclass(SystemExit) {
				return Int(v.Code), nil
			}
		}
	case *Class:
		if name == "__name__" {
			return Str(v.Name), nil
		}
	case *Func:
		if name == "__name__" {
			return Str(v.Name), nil
		}
	}
	if m, ok := table[name]; ok {
		qual := x.Type() + "." + name
		return &Builtin{Name: qual, Fn: func(in *Interp, args []Value, kwargs map[string]Value) (Value, error) {
			if err := kwarg(kwargs, qual, m.kwargs...); err != nil {
				return nil, err
			}
			return m.fn(in, x, args, kwargs)
		}}, nil
	}
	return nil, NewException(AttributeError, "'%s' object has no attribute '%s'", x.Type(), name)
}

// Method tables are filled in by init because their entries call back into
// the evaluator, which refers to the tables.
var strMethods, listMethods, dictMethods map[string]methodFn

type methodFn struct {
	fn     func(in *Interp, self Value, args []Value, kwargs map[string]Value) (Value, error)
	kwargs []string
}

func method(fn func(in *Interp, self Value, args []Value) (Value, error)) methodFn {
	return methodFn{fn: func(in *Interp, self Value, args []Value, _ map[string]Value) (Value, error) {
		return fn(in, self, args)
	}}
}

func strArg(name string, v Value) (string, error) {
	s, ok := v.(Str)
	if !ok {
		return "", NewException(TypeError, "%s() argument must be str, not %s", name, v.Type())
	}
	return string(s), nil
}

func init() {
	strMethods = map[string]methodFn{
		"upper": method(func(in *Interp, self Value, args []Value) (Value, error) {
			return Str(strings.ToUpper(string(self.(Str)))), arity("upper", args, 0, 0)
		}),
		"lower": method(func(in *Interp, self Value, args []Value) (Value, error) {
			return Str(strings.ToLower(string(self.(Str)))), arity("lower", args, 0, 0)
		}),
		"strip": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("strip", args, 0, 1); err != nil {
				return nil, err
			}
			if len(args) == 1 && args[0] != None {
				cut, err := strArg("strip", args[0])
				if err != nil {
					return nil, err
				}
				return Str(strings.Trim(string(self.(Str)), cut)), nil
			}
			return Str(strings.TrimSpace(string(self.(Str)))), nil
		}),
		"split": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("split", args, 0, 1); err != nil {
				return nil, err
			}
			s := string(self.(Str))
			var parts []string
			if len(args) == 0 || args[0] == None {
				parts = strings.Fields(s)
			} else {
				sep, err := strArg("split", args[0])
				if err != nil {
					return nil, err
				}
				if sep == "" {
					return nil, NewException(ValueError, "empty separator")
				}
				parts = strings.Split(s, sep)
			}
			out := make([]Value, len(parts))
			for i, p := range parts {
				out[i] = Str(p)
			}
			return &List{Elems: out}, nil
		}),
		"join": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("join", args, 1, 1); err != nil {
				return nil, err
			}
			items, err := in.collect(args[0])
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(items))
			for i, it := range items {
				s, ok := it.(Str)
				if !ok {
					return nil, NewException(TypeError, "sequence item %d: expected str instance, %s found", i, it.Type())
				}
				parts[i] = string(s)
			}
			return Str(strings.Join(parts, string(self.(Str)))), nil
		}),
		"startswith": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("startswith", args, 1, 1); err != nil {
				return nil, err
			}
			p, err := strArg("startswith", args[0])
			return Bool(strings.HasPrefix(string(self.(Str)), p)), err
		}),
		"endswith": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("endswith", args, 1, 1); err != nil {
				return nil, err
			}
			p, err := strArg("endswith", args[0])
			return Bool(strings.HasSuffix(string(self.(Str)), p)), err
		}),
		"replace": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("replace", args, 2, 2); err != nil {
				return nil, err
			}
			old, err := strArg("replace", args[0])
			if err != nil {
				return nil, err
			}
			repl, err := strArg("replace", args[1])
			if err != nil {
				return nil, err
			}
			return Str(strings.ReplaceAll(string(self.(Str)), old, repl)), nil
		}),
		"find": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("find", args, 1, 1); err != nil {
				return nil, err
			}
			sub, err := strArg("find", args[0])
			if err != nil {
				return nil, err
			}
			s := string(self.(Str))
			i := strings.Index(s, sub)
			if i < 0 {
				return Int(-1), nil
			}
			return Int(len([]rune(s[:i]))), nil
		}),
	}
}

func init() {
	listMethods = map[string]methodFn{
		"append": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("append", args, 1, 1); err != nil {
				return nil, err
			}
			l := self.(*List)
			l.Elems = append(l.Elems, args[0])
			return None, nil
		}),
		"extend": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("extend", args, 1, 1); err != nil {
				return nil, err
			}
			items, err := in.collect(args[0])
			if err != nil {
				return nil, err
			}
			l := self.(*List)
			l.Elems = append(l.Elems, items...)
			return None, nil
		}),
		"insert": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("insert", args, 2, 2); err != nil {
				return nil, err
			}
			l := self.(*List)
			i, err := toIndex(args[0], "list")
			if err != nil {
				return nil, err
			}
			n := int64(len(l.Elems))
			if i < 0 {
				i += n
			}
			i = max(0, min(i, n))
			l.Elems = append(l.Elems, nil)
			copy(l.Elems[i+1:], l.Elems[i:])
			l.Elems[i] = args[1]
			return None, nil
		}),
		"pop": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("pop", args, 0, 1); err != nil {
				return nil, err
			}
			l := self.(*List)
			if len(l.Elems) == 0 {
				return nil, NewException(IndexError, "pop from empty list")
			}
			i := int64(len(l.Elems) - 1)
			if len(args) == 1 {
				n, err := toIndex(args[0], "list")
				if err != nil {
					return nil, err
				}
				if i, err = normIndex(n, int64(len(l.Elems)), "pop"); err != nil {
					return nil, err
				}
			}
			v := l.Elems[i]
			l.Elems = append(l.Elems[:i], l.Elems[i+1:]...)
			return v, nil
		}),
		"remove": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("remove", args, 1, 1); err != nil {
				return nil, err
			}
			l := self.(*List)
			for i, e := range l.Elems {
				if Equal(e, args[0]) {
					l.Elems = append(l.Elems[:i], l.Elems[i+1:]...)
					return None, nil
				}
			}
			return nil, NewException(ValueError, "list.remove(x): x not in list")
		}),
		"index": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("index", args, 1, 1); err != nil {
				return nil, err
			}
			for i, e := range self.(*List).Elems {
				if Equal(e, args[0]) {
					return Int(i), nil
				}
			}
			return nil, NewException(ValueError, "%s is not in list", Repr(args[0]))
		}),
		"count": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("count", args, 1, 1); err != nil {
				return nil, err
			}
			n := 0
			for _, e := range self.(*List).Elems {
				if Equal(e, args[0]) {
					n++
				}
			}
			return Int(n), nil
		}),
		"reverse": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("reverse", args, 0, 0); err != nil {
				return nil, err
			}
			e := self.(*List).Elems
			for i, j := 0, len(e)-1; i < j; i, j = i+1, j-1 {
				e[i], e[j] = e[j], e[i]
			}
			return None, nil
		}),
		"sort": {kwargs: []string{"reverse", "key"}, fn: func(in *Interp, self Value, args []Value, kwargs map[string]Value) (Value, error) {
			if err := arity("sort", args, 0, 0); err != nil {
				return nil, err
			}
			var key func(Value) (Value, error)
			if k, ok := kwargs["key"]; ok && k != None {
				key = func(v Value) (Value, error) { return in.call(k, []Value{v}, nil) }
			}
			return None, sortValues(self.(*List).Elems, Truth(kwargOr(kwargs, "reverse", False)), key)
		}},
	}
}

func init() {
	dictMethods = map[string]methodFn{
		"keys": method(func(in *Interp, self Value, args []Value) (Value, error) {
			return &List{Elems: self.(*Dict).Keys()}, arity("keys", args, 0, 0)
		}),
		"values": method(func(in *Interp, self Value, args []Value) (Value, error) {
			return &List{Elems: self.(*Dict).Values()}, arity("values", args, 0, 0)
		}),
		"items": method(func(in *Interp, self Value, args []Value) (Value, error) {
			d := self.(*Dict)
			out := make([]Value, d.Len())
			for i := range d.keys {
				out[i] = Tuple{d.keys[i], d.vals[i]}
			}
			return &List{Elems: out}, arity("items", args, 0, 0)
		}),
		"get": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("get", args, 1, 2); err != nil {
				return nil, err
			}
			v, ok, err := self.(*Dict).Get(args[0])
			if err != nil {
				return nil, err
			}
			if ok {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return None, nil
		}),
		"pop": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("pop", args, 1, 2); err != nil {
				return nil, err
			}
			d := self.(*Dict)
			v, ok, err := d.Get(args[0])
			if err != nil {
				return nil, err
			}
			if !ok {
				if len(args) == 2 {
					return args[1], nil
				}
				return nil, &Exception{Class: KeyError, Msg: Repr(args[0]), Args: []Value{args[0]}}
			}
			_, _ = d.Delete(args[0])
			return v, nil
		}),
		"setdefault": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("setdefault", args, 1, 2); err != nil {
				return nil, err
			}
			d := self.(*Dict)
			v, ok, err := d.Get(args[0])
			if err != nil {
				return nil, err
			}
			if ok {
				return v, nil
			}
			def := None
			if len(args) == 2 {
				def = args[1]
			}
			return def, d.Set(args[0], def)
		}),
		"update": method(func(in *Interp, self Value, args []Value) (Value, error) {
			if err := arity("update", args, 1, 1); err != nil {
				return nil, err
			}
			src, ok := args[0].(*Dict)
			if !ok {
				return nil, NewException(TypeError, "update() argument must be a dict, not %s", args[0].Type())
			}
			d := self.(*Dict)
			for i, k := range src.keys {
				if err := d.Set(k, src.vals[i]); err != nil {
					return nil, err
				}
			}
			return None, nil
		}),
	}
}
