package pool

import (
	"bytes"
	"fmt"
)

const (
	// DefaultTextCapacity is the number of scratch buffers kept by a text pool.
	DefaultTextCapacity = 64
	// DefaultTextInitialSize is the starting capacity of a freshly minted buffer.
	DefaultTextInitialSize = 1024
	// DefaultTextCeiling is the largest buffer capacity accepted back into the pool.
	DefaultTextCeiling = 66536
)

// TextPoolConfig sizes a TextPool. Zero fields take the defaults above.
type TextPoolConfig struct {
	Name        string
	Capacity    int
	InitialSize int
	Ceiling     int
}

func (c TextPoolConfig) withDefaults() TextPoolConfig {
	if c.Name == "" {
		c.Name = "text"
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultTextCapacity
	}
	if c.InitialSize == 0 {
		c.InitialSize = DefaultTextInitialSize
	}
	if c.Ceiling == 0 {
		c.Ceiling = DefaultTextCeiling
	}
	return c
}

// TextPool manages reusable text-assembly buffers. Buffers that grew past the
// ceiling are discarded on return so one oversized render cannot inflate the
// steady-state footprint.
type TextPool struct {
	pool    *Pool[*bytes.Buffer]
	ceiling int
}

// NewTextPool constructs and pre-fills a text pool.
func NewTextPool(cfg TextPoolConfig) (*TextPool, error) {
	cfg = cfg.withDefaults()
	if cfg.InitialSize < 0 {
		return nil, fmt.Errorf("text pool %s: initial size must be >= 0, got %d", cfg.Name, cfg.InitialSize)
	}
	if cfg.Ceiling < cfg.InitialSize {
		return nil, fmt.Errorf("text pool %s: ceiling %d below initial size %d", cfg.Name, cfg.Ceiling, cfg.InitialSize)
	}

	tp := &TextPool{ceiling: cfg.Ceiling}
	initial := cfg.InitialSize
	p, err := New(cfg.Capacity,
		func() (*bytes.Buffer, error) {
			return bytes.NewBuffer(make([]byte, 0, initial)), nil
		},
		WithName[*bytes.Buffer](cfg.Name),
		WithReturnPolicy(tp.fits),
		WithReset(func(b *bytes.Buffer) { b.Reset() }),
	)
	if err != nil {
		return nil, err
	}
	tp.pool = p
	return tp, nil
}

func (tp *TextPool) fits(b *bytes.Buffer) bool {
	return b != nil && b.Cap() <= tp.ceiling
}

// BorrowScratch borrows a buffer, lets fn write into it and returns the
// assembled text. The buffer goes back to the pool on every exit path and must
// not be retained by fn.
func (tp *TextPool) BorrowScratch(fn func(*bytes.Buffer) error) (string, error) {
	return Borrow(tp.pool, func(buf *bytes.Buffer) (string, error) {
		if err := fn(buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	})
}

// Get borrows a buffer directly; pair with Return.
func (tp *TextPool) Get() *bytes.Buffer {
	buf, _ := tp.pool.Get()
	return buf
}

// Return hands a buffer back to the pool.
func (tp *TextPool) Return(buf *bytes.Buffer) {
	tp.pool.Return(buf)
}

// Ceiling returns the largest buffer capacity retained on return.
func (tp *TextPool) Ceiling() int { return tp.ceiling }

// MaxStored returns the pool capacity.
func (tp *TextPool) MaxStored() int { return tp.pool.MaxStored() }

// Stats returns the underlying pool counters.
func (tp *TextPool) Stats() Stats { return tp.pool.Stats() }

// Close tears the underlying pool down.
func (tp *TextPool) Close() { tp.pool.Close() }

func (tp *TextPool) activeStacks() []string { return tp.pool.activeStacks() }
