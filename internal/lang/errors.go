package lang

import (
	"fmt"
	"strings"
)

// Pending describes what was still open when a parse ran out of input.
type Pending int

const (
	// PendingNone means the error is not caused by missing input.
	PendingNone Pending = iota
	// PendingBlock means a block header was not followed by its body.
	PendingBlock
	// PendingBracket means a bracket or a line continuation was still open.
	PendingBracket
)

// SyntaxError is a compile-time error. Line and Col are 1-based and refer to
// the source as it was handed to the compiler.
type SyntaxError struct {
	Msg      string
	Filename string
	Line     int
	Col      int
	Text     string
	Pending  Pending
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s (%s, line %d)", e.Msg, e.Filename, e.Line)
}

// Incomplete reports whether the error would go away with more input.
func (e *SyntaxError) Incomplete() bool {
	return e.Pending != PendingNone
}

// TraceFrame is one entry of an exception traceback, outermost first.
type TraceFrame struct {
	Filename string
	Line     int
	Name     string
}

// Exception is a runtime error raised by executing code. It is also a
// Value so that `except E as e` can bind it.
type Exception struct {
	Class     *Class
	Msg       string
	Args      []Value
	Traceback []TraceFrame
	// Code carries the exit status for SystemExit.
	Code int
}

func (e *Exception) Type() string { return e.Class.Name }

func (e *Exception) Error() string {
	if e.Msg == "" {
		return e.Class.Name
	}
	return e.Class.Name + ": " + e.Msg
}

// Is lets errors.Is match an exception against its class sentinel.
func (e *Exception) Is(target error) bool {
	t, ok := target.(*Exception)
	if !ok {
		return false
	}
	return e.Class.IsSubclass(t.Class)
}

// Kind is the exception class name.
func (e *Exception) Kind() string { return e.Class.Name }

// Matches reports whether the exception is an instance of c.
func (e *Exception) Matches(c *Class) bool { return e.Class.IsSubclass(c) }

// NewException builds an exception of class c with a formatted message.
func NewException(c *Class, format string, args ...any) *Exception {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	exc := &Exception{Class: c, Msg: msg}
	if msg != "" {
		exc.Args = []Value{Str(msg)}
	}
	return exc
}

// FormatTraceback renders a traceback in the conventional layout, followed by
// the exception line itself.
func FormatTraceback(frames []TraceFrame, exc *Exception, source func(filename string, line int) string) string {
	var b strings.Builder
	if len(frames) > 0 {
		b.WriteString("Traceback (most recent call last):\n")
		for _, f := range frames {
			fmt.Fprintf(&b, "  File \"%s\", line %d, in %s\n", f.Filename, f.Line, f.Name)
			if source != nil {
				if text := strings.TrimSpace(source(f.Filename, f.Line)); text != "" {
					fmt.Fprintf(&b, "    %s\n", text)
				}
			}
		}
	}
	b.WriteString(exc.Error())
	b.WriteString("\n")
	return b.String()
}

// FormatSyntaxError renders a syntax error the way the console shows it.
func FormatSyntaxError(e *SyntaxError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  File \"%s\", line %d\n", e.Filename, e.Line)
	if text := strings.TrimRight(e.Text, "\n"); strings.TrimSpace(text) != "" {
		trimmed := strings.TrimLeft(text, " \t")
		fmt.Fprintf(&b, "    %s\n", trimmed)
		col := e.Col - (len(text) - len(trimmed))
		if col < 1 {
			col = 1
		}
		fmt.Fprintf(&b, "    %s^\n", strings.Repeat(" ", col-1))
	}
	fmt.Fprintf(&b, "SyntaxError: %s\n", e.Msg)
	return b.String()
}
