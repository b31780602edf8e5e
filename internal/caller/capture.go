package caller

import (
	"runtime"

	"github.com/coachpo/diagcore/errs"
)

const (
	component    = "caller"
	defaultDepth = 64
)

// ErrNoFrames is returned when a capturer produced an empty stack.
var ErrNoFrames = errs.New(component, errs.CodeCapture, errs.WithMessage("no frames captured"))

// StackCapturer snapshots the current call stack. skip counts frames above
// the caller of Capture that should be omitted, so Capture(0) starts at the
// function that called Capture.
type StackCapturer interface {
	Capture(skip int) ([]Frame, error)
}

// CapturerFunc adapts a function to StackCapturer.
type CapturerFunc func(skip int) ([]Frame, error)

// Capture calls f(skip).
func (f CapturerFunc) Capture(skip int) ([]Frame, error) { return f(skip) }

// RuntimeCapturer reads the live goroutine stack through runtime.Callers.
type RuntimeCapturer struct {
	// Depth bounds the number of frames captured; zero means 64.
	Depth int
}

// Capture implements StackCapturer.
func (c RuntimeCapturer) Capture(skip int) ([]Frame, error) {
	depth := c.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	if skip < 0 {
		skip = 0
	}
	pcs := make([]uintptr, depth)
	// 0 is runtime.Callers, 1 is this method.
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil, ErrNoFrames
	}

	iter := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		rf, more := iter.Next()
		f := NewFrame(rf.Function, rf.File, rf.Line)
		f.Entry = rf.Entry
		out = append(out, f)
		if !more {
			break
		}
	}
	return out, nil
}

// StaticCapturer replays a fixed stack and ignores skip. It backs synthetic
// stacks in tests and replayed traces.
type StaticCapturer []Frame

// Capture implements StackCapturer.
func (s StaticCapturer) Capture(int) ([]Frame, error) {
	if len(s) == 0 {
		return nil, ErrNoFrames
	}
	out := make([]Frame, len(s))
	copy(out, s)
	return out, nil
}
