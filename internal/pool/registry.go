package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/diagcore/errs"
	"github.com/coachpo/diagcore/internal/observability"
)

var (
	// ErrRegistryClosed indicates the registry is shutting down and cannot accept pools.
	ErrRegistryClosed = errors.New("pool registry: shutdown in progress")
)

const (
	defaultShutdownTimeout = 5 * time.Second
	drainPollInterval      = 10 * time.Millisecond
)

// Registry tracks named pools for stats export and coordinated shutdown.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]StatsSource
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	logger       observability.Logger
}

// NewRegistry constructs an empty registry. A nil logger uses observability.Log().
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.Log()
	}
	r := new(Registry)
	r.sources = make(map[string]StatsSource)
	r.shutdownCh = make(chan struct{})
	r.logger = logger
	return r
}

// Register adds a pool under name.
func (r *Registry) Register(name string, src StatsSource) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errs.Invalid("pool registry", "name", "pool name must be non-empty")
	}
	if src == nil {
		return errs.Invalid("pool registry", "source", fmt.Sprintf("pool %s: nil source", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.shutdownCh:
		return ErrRegistryClosed
	default:
	}

	if _, exists := r.sources[name]; exists {
		return errs.New("pool registry", errs.CodeConflict,
			errs.WithMessage(fmt.Sprintf("pool %s already registered", name)),
			errs.WithField("pool", name))
	}
	r.sources[name] = src
	return nil
}

// Lookup returns the pool registered under name.
func (r *Registry) Lookup(name string) (StatsSource, bool) {
	r.mu.RLock()
	src, ok := r.sources[name]
	r.mu.RUnlock()
	return src, ok
}

// Snapshot returns the stats of every registered pool ordered by name. The
// Name field carries the registration name.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.sources))
	for name, src := range r.sources {
		st := src.Stats()
		st.Name = name
		out = append(out, st)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown waits for outstanding items to come back, bounded by ctx (five
// seconds when ctx has no deadline), then closes every pool. Pools still owed
// items are logged together with their borrow stacks when built with -tags debug.
func (r *Registry) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
	}
	if cancel != nil {
		defer cancel()
	}

	r.shutdownOnce.Do(func() {
		close(r.shutdownCh)
	})

	var waitErr error
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		remaining := r.outstanding()
		if remaining <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			r.logOutstanding(remaining)
			waitErr = fmt.Errorf("shutdown timeout: %d pooled objects unreturned", remaining)
		case <-ticker.C:
			continue
		}
		break
	}

	r.mu.RLock()
	for _, src := range r.sources {
		if c, ok := src.(interface{ Close() }); ok {
			c.Close()
		}
	}
	r.mu.RUnlock()
	return waitErr
}

func (r *Registry) outstanding() int64 {
	var total int64
	for _, st := range r.Snapshot() {
		if st.Outstanding > 0 {
			total += st.Outstanding
		}
	}
	return total
}

func (r *Registry) logOutstanding(remaining int64) {
	r.logger.Warn("pool registry: shutdown timed out",
		observability.Field{Key: "outstanding", Value: remaining})

	r.mu.RLock()
	deferred := make(map[string]StatsSource, len(r.sources))
	for name, src := range r.sources {
		deferred[name] = src
	}
	r.mu.RUnlock()

	for name, src := range deferred {
		tracked, ok := src.(interface{ activeStacks() []string })
		if !ok {
			continue
		}
		for _, stack := range tracked.activeStacks() {
			r.logger.Warn("pool registry: leak candidate",
				observability.Field{Key: "pool", Value: name},
				observability.Field{Key: "stack", Value: stack})
		}
	}
}
