package debug

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/rengine/internal/lang"
)

// Stat is the accumulated timing of one routine.
type Stat struct {
	Name  string
	Calls int64
	Total time.Duration
	Max   time.Duration
}

type activation struct {
	frame *lang.Frame
	name  string
	start time.Time
}

// Profiler is a call/return tracer that times every rscript function.
//
// A panic inside a hook disables the profiler for the rest of the unit; the
// hook itself never fails, so profiling cannot change what the profiled
// code does.
type Profiler struct {
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	stats    map[string]*Stat
	stack    []activation
	disabled atomic.Bool
}

// ProfilerOption configures a Profiler.
type ProfilerOption func(*Profiler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) { p.now = now }
}

// WithLogger sets where hook failures are reported.
func WithLogger(l *slog.Logger) ProfilerOption {
	return func(p *Profiler) { p.logger = l }
}

// NewProfiler returns an empty profiler.
func NewProfiler(opts ...ProfilerOption) *Profiler {
	p := &Profiler{
		now:    time.Now,
		logger: slog.Default(),
		stats:  make(map[string]*Stat),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RoutineName is the key a frame's timings are filed under.
func RoutineName(f *lang.Frame) string {
	return fmt.Sprintf("%s:%d(%s)", f.Filename, f.Line, f.Name)
}

func (p *Profiler) guard() {
	if r := recover(); r != nil {
		p.disabled.Store(true)
		p.logger.Warn("profiler hook failed, profiling disabled", "panic", r)
	}
}

// Line implements lang.Tracer.
func (p *Profiler) Line(f *lang.Frame) error { return nil }

// Call implements lang.Tracer.
func (p *Profiler) Call(f *lang.Frame) error {
	defer p.guard()
	if p.disabled.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stack = append(p.stack, activation{frame: f, name: RoutineName(f), start: p.now()})
	return nil
}

// Return implements lang.Tracer.
func (p *Profiler) Return(f *lang.Frame, v lang.Value) error {
	defer p.guard()
	if p.disabled.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	end := p.now()
	// Frames unwound by an exception never return; they are closed here
	// together with the frame that did.
	for len(p.stack) > 0 {
		top := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		p.record(top, end)
		if top.frame == f {
			break
		}
	}
	return nil
}

// Finish closes activations left open when the unit ended with an
// exception.
func (p *Profiler) Finish() {
	defer p.guard()
	p.mu.Lock()
	defer p.mu.Unlock()
	end := p.now()
	for len(p.stack) > 0 {
		top := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		p.record(top, end)
	}
}

func (p *Profiler) record(a activation, end time.Time) {
	d := end.Sub(a.start)
	s, ok := p.stats[a.name]
	if !ok {
		s = &Stat{Name: a.name}
		p.stats[a.name] = s
	}
	s.Calls++
	s.Total += d
	if d > s.Max {
		s.Max = d
	}
}

// Disabled reports whether a hook failure turned the profiler off.
func (p *Profiler) Disabled() bool { return p.disabled.Load() }

// Stats returns the timings, largest total first. Ties are broken by name.
func (p *Profiler) Stats() []Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stat, 0, len(p.stats))
	for _, s := range p.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reset discards all timings and re-enables a disabled profiler.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = make(map[string]*Stat)
	p.stack = nil
	p.disabled.Store(false)
}
