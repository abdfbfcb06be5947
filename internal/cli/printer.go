package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/roach88/rengine/internal/protocol"
)

// printer renders the console traffic an engine sends its controller.
type printer struct {
	out     io.Writer
	errOut  io.Writer
	prompts bool

	mu    sync.Mutex
	marks map[string]chan struct{}
}

func newPrinter(out, errOut io.Writer, prompts bool) *printer {
	return &printer{out: out, errOut: errOut, prompts: prompts, marks: map[string]chan struct{}{}}
}

// expect registers a drain marker and returns the channel closed when it
// is handled.
func (p *printer) expect(id string) <-chan struct{} {
	ch := make(chan struct{})
	p.mu.Lock()
	p.marks[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *printer) handle(m protocol.Message) {
	switch m.Name {
	case drainName:
		p.mu.Lock()
		ch, ok := p.marks[m.ID]
		delete(p.marks, m.ID)
		p.mu.Unlock()
		if ok {
			close(ch)
		}
	case protocol.ConsoleWriteStdOut, protocol.ConsoleWriteDebug:
		p.write(p.out, m)
	case protocol.ConsoleWriteStdErr:
		p.write(p.errOut, m)
	case protocol.ConsolePrompt, protocol.ConsolePromptDebug, protocol.ConsolePromptStdIn:
		if !p.prompts {
			return
		}
		if pr, err := protocol.DecodeAs[protocol.Prompt](m); err == nil {
			fmt.Fprint(p.out, pr.Text)
		}
	}
}

func (p *printer) write(w io.Writer, m protocol.Message) {
	out, err := protocol.DecodeAs[protocol.Write](m)
	if err != nil {
		return
	}
	fmt.Fprint(w, out.Text)
}
