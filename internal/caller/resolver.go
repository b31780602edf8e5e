package caller

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/diagcore/errs"
	"github.com/coachpo/diagcore/internal/observability"
	"github.com/coachpo/diagcore/internal/pool"
	"github.com/coachpo/diagcore/internal/telemetry"
)

const (
	// ModuleTypeName stands in for the type of package-level functions and for
	// an unresolved caller.
	ModuleTypeName = "<Module>"
	// ErrorPlaceholder marks fields that could not be resolved.
	ErrorPlaceholder = "<StackTrace Error>"
	// FastModeStackTrace is reported as the stack trace in ModeFast.
	FastModeStackTrace = "<<<ERROR: STACKTRACE DISABLED FOR PERFORMANCE>>>"
)

const (
	resultResolved = "resolved"
	resultFallback = "fallback"
	resultError    = "error"
)

// Mode selects how much work Resolve does on the resolved frame.
type Mode uint8

const (
	// ModeFull renders package-qualified names and a stack trace.
	ModeFull Mode = iota
	// ModeFast reports the raw identity of the resolved frame only.
	ModeFast
)

func (m Mode) String() string {
	if m == ModeFast {
		return "fast"
	}
	return "full"
}

// ParseMode maps "full" or "fast" onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return ModeFull, nil
	case "fast":
		return ModeFast, nil
	default:
		return ModeFull, errs.Invalid(component, "mode", fmt.Sprintf("unknown resolver mode %q", s))
	}
}

// Options tune a single Resolve call.
type Options struct {
	Mode Mode
}

// Resolution is the identity attributed to a diagnostic call.
type Resolution struct {
	TypeName   string
	MethodName string
	File       string
	Line       int
	Column     int
	StackTrace string
	// Degraded is set when the result carries placeholders.
	Degraded bool
}

// Resolver finds the first application frame past the logging engine.
// It is safe for concurrent use.
type Resolver struct {
	capturer    StackCapturer
	cache       *hiddenCache
	library     LibraryMarker
	text        *pool.TextPool
	logger      observability.Logger
	meter       metric.Meter
	resolutions metric.Int64Counter
	latency     metric.Float64Histogram
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCapturer replaces the runtime stack capturer.
func WithCapturer(c StackCapturer) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.capturer = c
		}
	}
}

// WithHidden installs the always-hidden lookup.
func WithHidden(lookup HiddenMarkerLookup) ResolverOption {
	return func(r *Resolver) {
		r.cache = newHiddenCache(lookup)
	}
}

// WithLibraryMarker installs the library predicate. Without one no frame is
// library code and every walk ends in the fallback.
func WithLibraryMarker(m LibraryMarker) ResolverOption {
	return func(r *Resolver) {
		if m != nil {
			r.library = m
		}
	}
}

// WithTextPool sets the pool backing stack trace rendering.
func WithTextPool(tp *pool.TextPool) ResolverOption {
	return func(r *Resolver) {
		r.text = tp
	}
}

// WithLogger sets the logger used to report capture failures.
func WithLogger(l observability.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMeter enables the caller.resolutions counter and the
// caller.resolve.duration histogram.
func WithMeter(m metric.Meter) ResolverOption {
	return func(r *Resolver) {
		r.meter = m
	}
}

// NewResolver builds a resolver capturing the live stack.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		capturer: RuntimeCapturer{},
		library:  func(Frame) bool { return false },
		logger:   observability.Log(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.cache == nil {
		r.cache = newHiddenCache(nil)
	}
	if r.text == nil {
		tp, err := pool.NewTextPool(pool.TextPoolConfig{Name: "caller-text"})
		if err != nil {
			r.logger.Warn("caller: text pool unavailable, rendering unpooled",
				observability.Field{Key: "error", Value: err})
		}
		r.text = tp
	}
	if r.meter != nil {
		counter, err := r.meter.Int64Counter("caller.resolutions",
			metric.WithDescription("Caller resolutions by mode and result"),
			metric.WithUnit("{resolution}"))
		if err != nil {
			r.logger.Warn("caller: resolutions counter unavailable",
				observability.Field{Key: "error", Value: err})
		} else {
			r.resolutions = counter
		}
		hist, err := r.meter.Float64Histogram("caller.resolve.duration",
			metric.WithDescription("Time spent resolving the calling frame"),
			metric.WithUnit("ms"))
		if err != nil {
			r.logger.Warn("caller: duration histogram unavailable",
				observability.Field{Key: "error", Value: err})
		} else {
			r.latency = hist
		}
	}
	return r
}

// TextPool returns the pool used to render stack traces.
func (r *Resolver) TextPool() *pool.TextPool { return r.text }

// Resolve walks the current stack and returns the identity of the first
// application frame reached after passing through library code. It never
// fails: capture errors and panics yield a placeholder result.
func (r *Resolver) Resolve(opts Options) (res Resolution) {
	var start time.Time
	if r.latency != nil {
		start = time.Now()
	}
	result := resultResolved
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("caller: resolution panicked",
				observability.Field{Key: "panic", Value: fmt.Sprint(p)})
			res = failed()
			result = resultError
		}
		r.record(opts.Mode, result, start)
	}()

	// 1 drops Resolve itself.
	frames, err := r.capturer.Capture(1)
	if err == nil && len(frames) == 0 {
		err = ErrNoFrames
	}
	if err != nil {
		r.logger.Warn("caller: stack capture failed", observability.Field{Key: "error", Value: err})
		result = resultError
		return failed()
	}

	idx := r.walk(frames)
	if idx < 0 {
		result = resultFallback
		return r.fallback(frames, opts.Mode)
	}
	return r.describe(frames, idx, opts.Mode)
}

// walk applies the two-phase skip and returns the index of the resolved
// frame, or -1 when the stack is exhausted.
func (r *Resolver) walk(frames []Frame) int {
	entered := false
	for i, f := range frames {
		if !f.Valid() || r.cache.hidden(f) {
			continue
		}
		library := r.library(f)
		if !entered {
			entered = library
			continue
		}
		if !library {
			return i
		}
	}
	return -1
}

func (r *Resolver) describe(frames []Frame, idx int, mode Mode) Resolution {
	f := frames[idx]
	res := Resolution{
		MethodName: f.Method,
		File:       f.File,
		Line:       f.Line,
		Column:     f.Column,
	}
	if mode == ModeFast {
		res.TypeName = f.Type
		if res.TypeName == "" {
			res.TypeName = ModuleTypeName
		}
		res.StackTrace = FastModeStackTrace
		return res
	}

	res.TypeName = f.QualifiedType()
	if res.TypeName == "" {
		res.TypeName = ModuleTypeName
	}
	res.StackTrace = r.renderTrace(frames[idx:])
	return res
}

func (r *Resolver) fallback(frames []Frame, mode Mode) Resolution {
	res := Resolution{
		TypeName:   ModuleTypeName,
		MethodName: ErrorPlaceholder,
		Degraded:   true,
	}
	for _, f := range frames {
		if f.Valid() {
			res.MethodName = f.Method
			res.File = f.File
			res.Line = f.Line
			break
		}
	}
	if mode == ModeFast {
		res.StackTrace = FastModeStackTrace
	} else {
		res.StackTrace = r.renderTrace(frames)
	}
	return res
}

func failed() Resolution {
	return Resolution{
		TypeName:   ErrorPlaceholder,
		MethodName: ErrorPlaceholder,
		File:       ErrorPlaceholder,
		StackTrace: ErrorPlaceholder,
		Degraded:   true,
	}
}

// renderTrace writes one "at pkg.Type.Method in file:line" line per visible
// frame.
func (r *Resolver) renderTrace(frames []Frame) string {
	write := func(buf *bytes.Buffer) error {
		first := true
		for _, f := range frames {
			if !f.Valid() || r.cache.hidden(f) {
				continue
			}
			if !first {
				buf.WriteByte('\n')
			}
			first = false
			buf.WriteString("   at ")
			buf.WriteString(f.DisplayName())
			if f.File != "" {
				buf.WriteString(" in ")
				buf.WriteString(f.File)
				buf.WriteByte(':')
				buf.Write(strconv.AppendInt(buf.AvailableBuffer(), int64(f.Line), 10))
			}
		}
		return nil
	}

	if r.text == nil {
		var buf bytes.Buffer
		_ = write(&buf)
		return buf.String()
	}
	trace, err := r.text.BorrowScratch(write)
	if err != nil {
		return ErrorPlaceholder
	}
	return trace
}

func (r *Resolver) record(mode Mode, result string, start time.Time) {
	if r.resolutions == nil && r.latency == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(telemetry.ResolutionAttributes(telemetry.Environment(), mode.String(), result)...)
	if r.resolutions != nil {
		r.resolutions.Add(ctx, 1, attrs)
	}
	if r.latency != nil && !start.IsZero() {
		r.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
	}
}
