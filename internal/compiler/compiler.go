// Package compiler turns accumulated console input into compiled units.
//
// Console input arrives one line at a time. The compiler decides after each
// line whether the buffer is a complete statement, needs more lines, or is a
// syntax error. To let a buffer of several top-level statements compile as
// one unit, a buffer whose first line is not indented is wrapped inside a
// synthetic `if True:` block; the resulting one-line shift is recorded on the
// unit and undone whenever a position is shown to the user.
package compiler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/rengine/internal/lang"
)

const (
	// Filename tags code compiled from console input.
	Filename = "<console>"

	// CallInName and CallInFilename identify the host frame the engine pushes
	// beneath every unit. FormatTraceback drops it.
	CallInName     = "run_code"
	CallInFilename = "<engine>"

	indentUnit = "    "
	wrapHeader = "if True:"
)

var (
	// ErrUnitConsumed is returned by Unit.Take after the first call.
	ErrUnitConsumed = errors.New("compiler: unit already consumed")

	// ErrUnknownFlag is returned by SetFlag for names it does not know.
	ErrUnknownFlag = errors.New("compiler: unknown flag")
)

// Unit is a compiled console statement, executable exactly once.
type Unit struct {
	Code       *lang.Code
	Source     string
	LineAdjust int
	Filename   string

	taken atomic.Bool
}

// Take hands out the compiled code. Only the first call succeeds.
func (u *Unit) Take() (*lang.Code, error) {
	if !u.taken.CompareAndSwap(false, true) {
		return nil, ErrUnitConsumed
	}
	return u.Code, nil
}

// Result is the outcome of Compile. At most one of NeedMore, Unit and
// SyntaxError is set; all zero means the buffer was blank.
type Result struct {
	NeedMore    bool
	Unit        *Unit
	SyntaxError bool
	Err         *lang.SyntaxError
	// LineAdjust is the adjustment that applies to Err.
	LineAdjust int
}

// Compiler holds the feature flags applied to every compile.
type Compiler struct {
	mu    sync.Mutex
	flags lang.Flags
}

// New returns a compiler with default flags.
func New() *Compiler {
	return &Compiler{flags: lang.DefaultFlags()}
}

// Flags returns the current flags.
func (c *Compiler) Flags() lang.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// FlagNames lists the names accepted by SetFlag.
func FlagNames() []string { return []string{"division", "display"} }

// SetFlag turns a named compile flag on or off.
func (c *Compiler) SetFlag(name string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "division":
		c.flags.TrueDivision = on
	case "display":
		c.flags.Display = on
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, name)
	}
	return nil
}

// Compile compiles a console buffer.
func (c *Compiler) Compile(source string) Result {
	if strings.TrimSpace(source) == "" {
		return Result{}
	}

	// One trailing newline ends a line; a second one (a blank line) closes
	// any open block.
	text := strings.TrimSuffix(source, "\n")
	closed := strings.HasSuffix(text, "\n") || strings.TrimSpace(lastLine(text)) == ""

	adjust := 0
	wrapped := false
	if first := firstLine(text); first != "" && first[0] != ' ' && first[0] != '\t' {
		text = wrap(text)
		adjust = -1
		wrapped = true
	}

	code, err := lang.Compile(text, Filename, lang.ModeSingle, c.Flags())
	if err != nil {
		var se *lang.SyntaxError
		if !errors.As(err, &se) {
			se = &lang.SyntaxError{Msg: err.Error(), Filename: Filename}
		}
		switch se.Pending {
		case lang.PendingBracket:
			return Result{NeedMore: true}
		case lang.PendingBlock:
			if !closed {
				return Result{NeedMore: true}
			}
		}
		return Result{SyntaxError: true, Err: se, LineAdjust: adjust}
	}
	if !closed && lang.LastIsCompound(code.Body, wrapped) {
		return Result{NeedMore: true}
	}
	code.LineOffset = adjust
	code.Wrapped = wrapped
	return Result{Unit: &Unit{Code: code, Source: source, LineAdjust: adjust, Filename: Filename}}
}

// CompileExpr compiles a single expression from console input.
func (c *Compiler) CompileExpr(src string) (*lang.Code, error) {
	return lang.Compile(strings.TrimSpace(src), Filename, lang.ModeEval, c.Flags())
}

// CompileExec compiles a whole module.
func (c *Compiler) CompileExec(src, filename string) (*lang.Code, error) {
	return lang.Compile(src, filename, lang.ModeExec, c.Flags())
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func wrap(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.WriteString(wrapHeader)
	for _, line := range lines {
		b.WriteByte('\n')
		if line != "" {
			b.WriteString(indentUnit)
		}
		b.WriteString(line)
	}
	return b.String()
}

// AdjustSyntaxError maps a syntax error back onto the unwrapped source.
// Errors from other files are returned unchanged.
func AdjustSyntaxError(err *lang.SyntaxError, adjust int) *lang.SyntaxError {
	if err == nil || err.Filename != Filename || adjust == 0 {
		return err
	}
	out := *err
	out.Line = max(err.Line+adjust, 1)
	if strings.HasPrefix(out.Text, indentUnit) {
		out.Text = strings.TrimPrefix(out.Text, indentUnit)
		out.Col = max(out.Col-len(indentUnit), 1)
	}
	return &out
}

// FormatSyntaxError renders err for the console with line numbers
// corrected by adjust.
func FormatSyntaxError(err *lang.SyntaxError, adjust int) string {
	return lang.FormatSyntaxError(AdjustSyntaxError(err, adjust))
}

// FormatTraceback renders a runtime exception. The leading engine call-in
// frame is dropped. Frame line numbers already include the unit's
// adjustment, since compiled units carry it as their line offset.
func FormatTraceback(exc *lang.Exception, source func(filename string, line int) string) string {
	frames := exc.Traceback
	if len(frames) > 0 && frames[0].Filename == CallInFilename {
		frames = frames[1:]
	}
	return lang.FormatTraceback(frames, exc, source)
}
