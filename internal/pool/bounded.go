// Package pool contains bounded object pooling primitives and helpers.
package pool

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/coachpo/diagcore/errs"
)

const component = "pool"

// Pool is a fixed-capacity cache of reusable values. The store is a buffered
// channel: a receive hands ownership of exactly one item to one caller and a
// non-blocking send is the try-add. Neither Get nor Return ever waits.
type Pool[T any] struct {
	name     string
	capacity int
	store    chan T
	factory  func() (T, error)
	policy   func(T) bool
	reset    func(T)
	debug    *debugState

	created     atomic.Uint64
	returned    atomic.Uint64
	discarded   atomic.Uint64
	outstanding atomic.Int64
	closed      atomic.Bool
}

// Option configures a Pool at construction.
type Option[T any] func(*Pool[T])

// WithName labels the pool in stats, metrics and error messages.
func WithName[T any](name string) Option[T] {
	return func(p *Pool[T]) {
		p.name = name
	}
}

// WithReturnPolicy installs the predicate deciding whether a returned item is
// retained (true) or discarded (false). The default retains everything.
func WithReturnPolicy[T any](policy func(T) bool) Option[T] {
	return func(p *Pool[T]) {
		if policy != nil {
			p.policy = policy
		}
	}
}

// WithReset installs the hook that clears an accepted item before it is stored.
// Without it, items implementing Resetter are reset through Reset().
func WithReset[T any](reset func(T)) Option[T] {
	return func(p *Pool[T]) {
		p.reset = reset
	}
}

// New constructs a pool holding up to capacity items and pre-fills it by
// invoking factory capacity times. A pre-fill factory error is returned wrapped
// with %w; pre-filled items are not counted as created.
func New[T any](capacity int, factory func() (T, error), opts ...Option[T]) (*Pool[T], error) {
	if capacity <= 0 {
		return nil, errs.Invalid(component, "capacity", fmt.Sprintf("capacity must be positive, got %d", capacity))
	}
	if factory == nil {
		return nil, errs.Invalid(component, "factory", "factory must be provided")
	}

	p := new(Pool[T])
	p.capacity = capacity
	p.store = make(chan T, capacity)
	p.factory = factory
	p.policy = retainAll[T]
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.name == "" {
		p.name = reflect.TypeOf((*T)(nil)).Elem().String()
	}
	p.debug = newDebugState(p.name)

	for i := 0; i < capacity; i++ {
		item, err := factory()
		if err != nil {
			return nil, fmt.Errorf("pool %s: prefill: %w", p.name, err)
		}
		p.store <- item
	}
	return p, nil
}

// Get removes an item from the store, or mints a fresh one when the store is
// empty. A factory error is returned to the caller unchanged.
func (p *Pool[T]) Get() (T, error) {
	var item T
	select {
	case item = <-p.store:
	default:
		fresh, err := p.factory()
		if err != nil {
			return item, err
		}
		p.created.Add(1)
		item = fresh
	}
	p.outstanding.Add(1)
	p.debug.recordAcquire(item)
	return item, nil
}

// Return hands an item back. Items rejected by the return policy, returned to
// a full store, or returned after Close are discarded.
func (p *Pool[T]) Return(item T) {
	p.outstanding.Add(-1)
	p.debug.recordRelease(item)

	if p.closed.Load() || !p.admit(item) {
		p.discarded.Add(1)
		return
	}

	select {
	case p.store <- item:
		if p.closed.Load() {
			// Close drained the store between the check above and the send.
			p.drainOne()
			p.discarded.Add(1)
			return
		}
		p.returned.Add(1)
	default:
		p.discarded.Add(1)
	}
}

// admit runs the return policy and, on acceptance, the reset hook. A panic in
// either counts as a rejection so Return keeps its never-panics contract.
func (p *Pool[T]) admit(item T) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if !p.policy(item) {
		return false
	}
	if p.reset != nil {
		p.reset(item)
	} else if r, isResetter := any(item).(Resetter); isResetter {
		r.Reset()
	}
	return true
}

// MaxStored returns the fixed capacity of the store.
func (p *Pool[T]) MaxStored() int { return p.capacity }

// Name returns the pool label.
func (p *Pool[T]) Name() string { return p.name }

// Stored returns the number of items currently held by the pool.
func (p *Pool[T]) Stored() int { return len(p.store) }

// Created returns how many items were minted because the store was empty.
func (p *Pool[T]) Created() uint64 { return p.created.Load() }

// Returned returns how many items were accepted back into the store.
func (p *Pool[T]) Returned() uint64 { return p.returned.Load() }

// Discarded returns how many returned items were abandoned.
func (p *Pool[T]) Discarded() uint64 { return p.discarded.Load() }

// Outstanding returns Gets minus Returns. Returning items that did not come
// from this pool can drive it below zero.
func (p *Pool[T]) Outstanding() int64 { return p.outstanding.Load() }

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:        p.name,
		Capacity:    p.capacity,
		Stored:      len(p.store),
		Outstanding: p.outstanding.Load(),
		Created:     p.created.Load(),
		Returned:    p.returned.Load(),
		Discarded:   p.discarded.Load(),
	}
}

// Borrow takes an item, runs fn against it and returns the item to the pool
// on every exit path, including a panic inside fn.
func Borrow[T, R any](p *Pool[T], fn func(T) (R, error)) (R, error) {
	item, err := p.Get()
	if err != nil {
		var zero R
		return zero, err
	}
	defer p.Return(item)
	return fn(item)
}

func retainAll[T any](T) bool { return true }
