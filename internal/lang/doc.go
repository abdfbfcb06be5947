// Package lang implements rscript, the indentation-based scripting language
// executed by the engine.
//
// The package is split into three stages:
//
//   - lexing (lexer.go): source text to tokens, synthesising NEWLINE, INDENT
//     and DEDENT tokens from line structure. Identifiers are NFKC normalised.
//   - parsing (parser.go): tokens to an AST, in one of three modes (exec,
//     single, eval). A parse that runs out of input reports a SyntaxError
//     whose Pending field says what was still open, which is what the
//     incremental compiler uses to ask for more input.
//   - interpretation (interp.go): a tree-walking evaluator over a Namespace,
//     with statement-boundary and call/return hooks (Tracer) and an
//     asynchronous Interrupt that raises KeyboardInterrupt in the running
//     stack at the next statement boundary.
//
// # Values
//
// None, bool, int (64-bit, overflow raises OverflowError), float, str, list,
// tuple, dict (insertion ordered), functions, builtins, classes and
// exceptions. See value.go.
//
// # Concurrency
//
// An Interp executes on exactly one goroutine at a time. Interrupt and
// Running are the only methods safe to call from other goroutines.
package lang
