//go:build debug

package pool

import (
	"reflect"
	"runtime/debug"
	"sync"
)

// debugState remembers where each checked-out pointer item was borrowed so a
// shutdown that finds outstanding items can name the leaking call sites.
type debugState struct {
	name   string
	mu     sync.Mutex
	stacks map[uintptr]string
}

func newDebugState(name string) *debugState {
	return &debugState{
		name:   name,
		stacks: make(map[uintptr]string),
	}
}

func (d *debugState) recordAcquire(obj any) {
	if d == nil {
		return
	}
	key := pointerKey(obj)
	if key == 0 {
		return
	}
	stack := string(debug.Stack())
	d.mu.Lock()
	d.stacks[key] = stack
	d.mu.Unlock()
}

func (d *debugState) recordRelease(obj any) {
	if d == nil {
		return
	}
	key := pointerKey(obj)
	if key == 0 {
		return
	}
	d.mu.Lock()
	delete(d.stacks, key)
	d.mu.Unlock()
}

func (d *debugState) activeStacks() []string {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stacks) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.stacks))
	for _, stack := range d.stacks {
		out = append(out, stack)
	}
	return out
}

// pointerKey returns 0 for non-pointer values; those are not tracked.
func pointerKey(obj any) uintptr {
	if obj == nil {
		return 0
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return 0
	}
	return v.Pointer()
}
