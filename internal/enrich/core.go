// Package enrich attaches the resolved calling frame to every log entry
// written through zap or slog.
package enrich

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coachpo/diagcore/internal/caller"
)

// Field keys added to each entry.
const (
	FieldCallingType   = "calling_type"
	FieldCallingMethod = "calling_method"
	FieldStackTrace    = "stack_trace"
	FieldCallerFile    = "caller_file"
	FieldCallerLine    = "caller_line"
	FieldEventNumber   = "event_number"
)

// DefaultLibraryPrefixes are the packages treated as logging engine code.
var DefaultLibraryPrefixes = []string{
	"go.uber.org/zap",
	"log/slog",
	"github.com/coachpo/diagcore/internal/enrich",
}

// Core is a zapcore.Core that resolves the application caller on Write and
// appends it as fields. Fields already present on the entry win.
type Core struct {
	zapcore.Core

	resolver *caller.Resolver
	mode     caller.Mode
	events   *atomic.Uint64
	bound    map[string]struct{}
}

// Option configures a Core.
type Option func(*Core)

// WithMode selects full or fast resolution; full is the default.
func WithMode(mode caller.Mode) Option {
	return func(c *Core) {
		c.mode = mode
	}
}

// NewCore wraps inner. The resolver's library marker should cover
// DefaultLibraryPrefixes, see NewResolver.
func NewCore(inner zapcore.Core, resolver *caller.Resolver, opts ...Option) *Core {
	c := &Core{
		Core:     inner,
		resolver: resolver,
		events:   new(atomic.Uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewResolver builds a resolver whose library marker covers
// DefaultLibraryPrefixes plus extra.
func NewResolver(extra []string, opts ...caller.ResolverOption) *caller.Resolver {
	prefixes := append(append([]string(nil), DefaultLibraryPrefixes...), extra...)
	opts = append([]caller.ResolverOption{caller.WithLibraryMarker(caller.PackagePrefixes(prefixes...))}, opts...)
	return caller.NewResolver(opts...)
}

// With implements zapcore.Core.
func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	bound := make(map[string]struct{}, len(c.bound)+len(fields))
	for k := range c.bound {
		bound[k] = struct{}{}
	}
	for _, f := range fields {
		bound[f.Key] = struct{}{}
	}
	return &Core{
		Core:     c.Core.With(fields),
		resolver: c.resolver,
		mode:     c.mode,
		events:   c.events,
		bound:    bound,
	}
}

// Check implements zapcore.Core.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write implements zapcore.Core.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	res := c.resolver.Resolve(caller.Options{Mode: c.mode})

	present := func(key string) bool {
		if _, ok := c.bound[key]; ok {
			return true
		}
		for _, f := range fields {
			if f.Key == key {
				return true
			}
		}
		return false
	}
	extra := make([]zapcore.Field, 0, 6)
	add := func(f zapcore.Field) {
		if !present(f.Key) {
			extra = append(extra, f)
		}
	}

	add(zap.String(FieldCallingType, res.TypeName))
	add(zap.String(FieldCallingMethod, res.MethodName))
	if c.mode == caller.ModeFull {
		add(zap.String(FieldStackTrace, res.StackTrace))
	}
	add(zap.String(FieldCallerFile, res.File))
	add(zap.Int(FieldCallerLine, res.Line))
	add(zap.Uint64(FieldEventNumber, c.events.Add(1)))

	all := make([]zapcore.Field, 0, len(fields)+len(extra))
	all = append(all, fields...)
	all = append(all, extra...)
	return c.Core.Write(ent, all)
}

// Events returns how many entries this core and its children have written.
func (c *Core) Events() uint64 { return c.events.Load() }
