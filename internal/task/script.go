package task

import (
	"errors"
	"fmt"

	"github.com/roach88/rengine/internal/lang"
)

// ScriptFilename tags code compiled from task and builtin definitions.
const ScriptFilename = "<task>"

// ErrNotDefinition is returned when task source is not a single def.
var ErrNotDefinition = errors.New("task: source must be a single function definition")

// Define compiles source, which must consist of exactly one def statement,
// and returns the resulting function. The function is created in a private
// module scope so that its globals never alias the engine namespace.
func Define(in *lang.Interp, source string) (*lang.Func, error) {
	code, err := lang.Compile(source, ScriptFilename, lang.ModeExec, lang.DefaultFlags())
	if err != nil {
		return nil, err
	}
	if len(code.Body) != 1 {
		return nil, ErrNotDefinition
	}
	def, ok := code.Body[0].(*lang.DefStmt)
	if !ok {
		return nil, ErrNotDefinition
	}
	scratch := lang.NewNamespace()
	if err := in.Exec(code, scratch); err != nil {
		return nil, err
	}
	v, _ := scratch.Globals.Get(def.Name)
	fn, ok := v.(*lang.Func)
	if !ok {
		return nil, ErrNotDefinition
	}
	return fn, nil
}

// FromScript turns a script function with the signature
// (globals, locals, *args) into a task. It returns the function's name
// alongside the task.
//
// globals and locals are passed as dicts holding the namespace's bindings.
// When the function returns normally the namespace is updated to match the
// dicts, so assignments through them behave like assignments to names.
func FromScript(in *lang.Interp, source string) (string, Func, error) {
	fn, err := Define(in, source)
	if err != nil {
		return "", nil, err
	}
	if len(fn.Params) < 2 && fn.Star == "" {
		return "", nil, fmt.Errorf("%w: %s() must accept globals and locals", ErrInvalidTask, fn.Name)
	}
	return fn.Name, func(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
		globals := ns.Globals.Dict()
		locals := globals
		if ns.Locals != ns.Globals {
			locals = ns.Locals.Dict()
		}
		callArgs := append([]lang.Value{globals, locals}, args...)
		v, err := in.Call(fn, callArgs...)
		if err != nil {
			return nil, err
		}
		if err := ns.Globals.Replace(globals); err != nil {
			return nil, err
		}
		if ns.Locals != ns.Globals {
			if err := ns.Locals.Replace(locals); err != nil {
				return nil, err
			}
		}
		return v, nil
	}, nil
}
