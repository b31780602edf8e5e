// Package caller resolves the application frame responsible for a diagnostic
// call by walking the captured stack past the logging engine.
package caller

import "strings"

// Frame is one activation record of a captured stack, innermost first.
type Frame struct {
	// Function is the runtime's fully qualified symbol, e.g.
	// "github.com/acme/app/orders.(*Service).Place.func1".
	Function string
	Package  string
	// Type is empty for package-level functions.
	Type string
	// Method reads "outer+func1" for closures declared inside outer.
	Method string
	File   string
	Line   int
	// Column is always 0; the Go runtime does not record columns.
	Column int
	Entry  uintptr
}

// NewFrame builds a Frame from a runtime function symbol.
func NewFrame(function, file string, line int) Frame {
	pkg, typ, method := splitFunction(function)
	return Frame{
		Function: function,
		Package:  pkg,
		Type:     typ,
		Method:   method,
		File:     file,
		Line:     line,
	}
}

// Valid reports whether the frame carries a usable method identity.
func (f Frame) Valid() bool {
	return f.Function != "" && f.Method != ""
}

// QualifiedType returns "pkg/path.Type", or "" for package-level functions.
func (f Frame) QualifiedType() string {
	if f.Type == "" {
		return ""
	}
	return f.Package + "." + f.Type
}

// DisplayName renders the normalised identity used in stack traces.
func (f Frame) DisplayName() string {
	var b strings.Builder
	b.Grow(len(f.Package) + len(f.Type) + len(f.Method) + 2)
	if f.Package != "" {
		b.WriteString(f.Package)
		b.WriteByte('.')
	}
	if f.Type != "" {
		b.WriteString(f.Type)
		b.WriteByte('.')
	}
	b.WriteString(f.Method)
	return b.String()
}

func splitFunction(fn string) (pkg, typ, method string) {
	if fn == "" {
		return "", "", ""
	}
	fn = strings.ReplaceAll(fn, "[...]", "")

	slash := strings.LastIndexByte(fn, '/')
	dot := strings.IndexByte(fn[slash+1:], '.')
	if dot < 0 {
		return "", "", fn
	}
	dot += slash + 1
	pkg = strings.ReplaceAll(fn[:dot], "%2e", ".")
	rest := fn[dot+1:]

	switch {
	case strings.HasPrefix(rest, "glob.."):
		// package-level variable initialisers
		rest = "glob" + rest[len("glob."):]
	case strings.HasPrefix(rest, "("):
		if end := strings.IndexByte(rest, ')'); end > 0 {
			typ = strings.TrimPrefix(rest[1:end], "*")
			rest = strings.TrimPrefix(rest[end+1:], ".")
		}
	default:
		if head, tail, ok := strings.Cut(rest, "."); ok {
			next, _, _ := strings.Cut(tail, ".")
			if !isSynthetic(next) {
				typ, rest = head, tail
			}
		}
	}
	return pkg, typ, strings.ReplaceAll(rest, ".", "+")
}

// isSynthetic matches the compiler's names for closures and go/defer wrappers.
func isSynthetic(segment string) bool {
	for _, prefix := range [...]string{"func", "gowrap", "deferwrap"} {
		if rest, ok := strings.CutPrefix(segment, prefix); ok {
			return allDigits(rest)
		}
	}
	return allDigits(segment)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
