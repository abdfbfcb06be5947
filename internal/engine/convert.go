package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/roach88/rengine/internal/lang"
	"github.com/roach88/rengine/internal/protocol"
)

// maxValueDepth bounds how deeply nested containers are converted; anything
// deeper crosses the wire as its repr.
const maxValueDepth = 32

// toWire converts a script value for a reply. Values without a wire form
// (functions, classes, NaN) are sent as their repr.
func toWire(v lang.Value) protocol.Value {
	return toWireDepth(v, 0)
}

func toWireDepth(v lang.Value, depth int) protocol.Value {
	if depth > maxValueDepth {
		return protocol.String(lang.Repr(v))
	}
	switch x := v.(type) {
	case nil, lang.NoneType:
		return protocol.Null{}
	case lang.Bool:
		return protocol.Bool(x)
	case lang.Int:
		return protocol.Int(x)
	case lang.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return protocol.String(lang.Repr(x))
		}
		return protocol.Float(f)
	case lang.Str:
		return protocol.String(x)
	case *lang.List:
		return toWireList(x.Elems, depth)
	case lang.Tuple:
		return toWireList(x, depth)
	case *lang.Dict:
		out := make(protocol.Map, x.Len())
		keys, vals := x.Keys(), x.Values()
		for i, k := range keys {
			s, ok := k.(lang.Str)
			if !ok {
				return protocol.String(lang.Repr(x))
			}
			out[string(s)] = toWireDepth(vals[i], depth+1)
		}
		return out
	default:
		return protocol.String(lang.Repr(v))
	}
}

func toWireList(elems []lang.Value, depth int) protocol.List {
	out := make(protocol.List, len(elems))
	for i, e := range elems {
		out[i] = toWireDepth(e, depth+1)
	}
	return out
}

// fromWire converts a task argument into a script value.
func fromWire(v protocol.Value) (lang.Value, error) {
	switch x := v.(type) {
	case nil, protocol.Null:
		return lang.None, nil
	case protocol.Bool:
		return lang.Bool(x), nil
	case protocol.Int:
		return lang.Int(x), nil
	case protocol.Float:
		return lang.Float(x), nil
	case protocol.String:
		return lang.Str(x), nil
	case protocol.List:
		elems := make([]lang.Value, len(x))
		for i, e := range x {
			ev, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			elems[i] = ev
		}
		return lang.NewList(elems...), nil
	case protocol.Map:
		d := lang.NewDict()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ev, err := fromWire(x[k])
			if err != nil {
				return nil, err
			}
			d.SetStr(k, ev)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported wire value %T", v)
	}
}

// resultOf builds the reply payload for an evaluated value.
func resultOf(v lang.Value) (protocol.Result, error) {
	if v == nil {
		v = lang.None
	}
	raw, err := protocol.MarshalValue(toWire(v))
	if err != nil {
		return protocol.Result{}, err
	}
	return protocol.Result{Value: raw, Repr: lang.Repr(v), Type: lang.TypeOf(v).Name}, nil
}
