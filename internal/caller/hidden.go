package caller

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// HiddenMarkerLookup answers whether a function or type is marked as always
// hidden from caller resolution. Answers must not change for a given key
// during the life of the process; resolvers memoise them.
type HiddenMarkerLookup interface {
	MethodHidden(function string) bool
	TypeHidden(qualifiedType string) bool
}

// HiddenSet is a HiddenMarkerLookup populated explicitly. Populate it before
// handing it to a resolver.
type HiddenSet struct {
	mu      sync.RWMutex
	methods map[string]struct{}
	types   map[string]struct{}
}

// NewHiddenSet returns an empty set.
func NewHiddenSet() *HiddenSet {
	return &HiddenSet{
		methods: make(map[string]struct{}),
		types:   make(map[string]struct{}),
	}
}

// HideFunc hides the function or method value fn. Closures declared inside fn
// are not covered.
func (h *HiddenSet) HideFunc(fn any) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return
	}
	h.HideMethod(strings.TrimSuffix(rf.Name(), "-fm"))
}

// HideMethod hides a function by its runtime symbol,
// e.g. "github.com/acme/app/logx.(*Wrapper).Infof".
func (h *HiddenSet) HideMethod(function string) {
	function = strings.TrimSpace(function)
	if function == "" {
		return
	}
	h.mu.Lock()
	h.methods[function] = struct{}{}
	h.mu.Unlock()
}

// HideType hides every method of "pkg/path.Type".
func (h *HiddenSet) HideType(qualifiedType string) {
	qualifiedType = strings.TrimPrefix(strings.TrimSpace(qualifiedType), "*")
	if qualifiedType == "" {
		return
	}
	h.mu.Lock()
	h.types[qualifiedType] = struct{}{}
	h.mu.Unlock()
}

// MethodHidden implements HiddenMarkerLookup.
func (h *HiddenSet) MethodHidden(function string) bool {
	h.mu.RLock()
	_, ok := h.methods[function]
	h.mu.RUnlock()
	return ok
}

// TypeHidden implements HiddenMarkerLookup.
func (h *HiddenSet) TypeHidden(qualifiedType string) bool {
	h.mu.RLock()
	_, ok := h.types[qualifiedType]
	h.mu.RUnlock()
	return ok
}

// hiddenCache memoises lookups per identity token. Entries are append-only and
// concurrent duplicate stores write the same value.
type hiddenCache struct {
	lookup  HiddenMarkerLookup
	entries sync.Map
}

func newHiddenCache(lookup HiddenMarkerLookup) *hiddenCache {
	return &hiddenCache{lookup: lookup}
}

func (c *hiddenCache) hidden(f Frame) bool {
	if c == nil || c.lookup == nil {
		return false
	}
	if c.check("m:"+f.Function, f.Function, c.lookup.MethodHidden) {
		return true
	}
	if qt := f.QualifiedType(); qt != "" {
		return c.check("t:"+qt, qt, c.lookup.TypeHidden)
	}
	return false
}

func (c *hiddenCache) check(token, key string, lookup func(string) bool) bool {
	if v, ok := c.entries.Load(token); ok {
		return v.(bool)
	}
	hidden := lookup(key)
	c.entries.Store(token, hidden)
	return hidden
}

func (c *hiddenCache) size() int {
	n := 0
	c.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
