package task

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/roach88/rengine/internal/lang"
)

// Builtins returns the tasks every engine starts with, keyed by name.
//
//   - names: sorted identifiers bound in the namespace
//   - typeof(name): type name of a binding
//   - describe(name): {"name", "type", "repr"} of a binding
//   - getcwd(): the process working directory
//   - chdir(path): change the working directory, returning the new one
func Builtins() map[string]Func {
	return map[string]Func{
		"names":    namesTask,
		"typeof":   typeofTask,
		"describe": describeTask,
		"getcwd":   getcwdTask,
		"chdir":    chdirTask,
	}
}

// RegisterBuiltins adds Builtins to r. Names already taken are skipped.
func RegisterBuiltins(r *Registry) error {
	tasks := Builtins()
	for _, name := range lang.SortedNames(tasks) {
		err := r.Register(name, tasks[name])
		if err != nil && !errors.Is(err, ErrTaskExists) {
			return err
		}
	}
	return nil
}

func namesTask(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
	if len(args) != 0 {
		return nil, lang.NewException(lang.TypeError, "names() takes no arguments (%d given)", len(args))
	}
	seen := make(map[string]bool)
	for _, n := range ns.Globals.Names() {
		seen[n] = true
	}
	for _, n := range ns.Locals.Names() {
		seen[n] = true
	}
	out := lang.NewList()
	for _, n := range lang.SortedNames(seen) {
		out.Elems = append(out.Elems, lang.Str(n))
	}
	return out, nil
}

func lookupArg(fname string, ns *lang.Namespace, args []lang.Value) (string, lang.Value, error) {
	if len(args) != 1 {
		return "", nil, lang.NewException(lang.TypeError, "%s() takes exactly 1 argument (%d given)", fname, len(args))
	}
	name, ok := args[0].(lang.Str)
	if !ok {
		return "", nil, lang.NewException(lang.TypeError, "%s() argument must be str, not %s", fname, args[0].Type())
	}
	if v, ok := ns.Locals.Get(string(name)); ok {
		return string(name), v, nil
	}
	if v, ok := ns.Globals.Get(string(name)); ok {
		return string(name), v, nil
	}
	return "", nil, lang.NewException(lang.NameError, "name '%s' is not defined", string(name))
}

func typeofTask(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
	_, v, err := lookupArg("typeof", ns, args)
	if err != nil {
		return nil, err
	}
	return lang.Str(lang.TypeOf(v).Name), nil
}

func describeTask(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
	name, v, err := lookupArg("describe", ns, args)
	if err != nil {
		return nil, err
	}
	d := lang.NewDict()
	d.SetStr("name", lang.Str(name))
	d.SetStr("type", lang.Str(lang.TypeOf(v).Name))
	d.SetStr("repr", lang.Str(lang.Describe(v)))
	return d, nil
}

func getcwdTask(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
	if len(args) != 0 {
		return nil, lang.NewException(lang.TypeError, "getcwd() takes no arguments (%d given)", len(args))
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, lang.NewException(lang.RuntimeError, "%v", err)
	}
	return lang.Str(wd), nil
}

func chdirTask(ns *lang.Namespace, args ...lang.Value) (lang.Value, error) {
	if len(args) != 1 {
		return nil, lang.NewException(lang.TypeError, "chdir() takes exactly 1 argument (%d given)", len(args))
	}
	p, ok := args[0].(lang.Str)
	if !ok {
		return nil, lang.NewException(lang.TypeError, "chdir() argument must be str, not %s", args[0].Type())
	}
	target := filepath.Clean(string(p))
	if err := os.Chdir(target); err != nil {
		return nil, lang.NewException(lang.ValueError, "%v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, lang.NewException(lang.RuntimeError, "%v", err)
	}
	return lang.Str(wd), nil
}
