package caller

import "strings"

// LibraryMarker reports whether a frame belongs to the logging engine rather
// than to application code.
type LibraryMarker func(Frame) bool

// PackagePrefixes marks frames whose package equals one of prefixes or lives
// beneath it. "go.uber.org/zap" matches "go.uber.org/zap/zapcore" but not
// "go.uber.org/zapper".
func PackagePrefixes(prefixes ...string) LibraryMarker {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSuffix(strings.TrimSpace(p), "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return func(f Frame) bool {
		for _, p := range cleaned {
			if f.Package == p || strings.HasPrefix(f.Package, p+"/") {
				return true
			}
		}
		return false
	}
}

// Any combines markers; a frame is library code if any marker says so.
func Any(markers ...LibraryMarker) LibraryMarker {
	return func(f Frame) bool {
		for _, m := range markers {
			if m != nil && m(f) {
				return true
			}
		}
		return false
	}
}
