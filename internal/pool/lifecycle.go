package pool

// Close tears the pool down: the store is drained and every later Return is
// discarded. Get keeps working by minting through the factory, so callers that
// race with shutdown degrade to plain allocation instead of failing.
func (p *Pool[T]) Close() {
	if p.closed.Swap(true) {
		return
	}
	for p.drainOne() {
	}
}

func (p *Pool[T]) drainOne() bool {
	select {
	case <-p.store:
		return true
	default:
		return false
	}
}

// Closed reports whether Close has been called.
func (p *Pool[T]) Closed() bool { return p.closed.Load() }

func (p *Pool[T]) activeStacks() []string {
	if p == nil {
		return nil
	}
	return p.debug.activeStacks()
}
