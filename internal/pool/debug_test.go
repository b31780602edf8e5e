//go:build debug

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/coachpo/diagcore/internal/observability"
)

func TestRegistryShutdownLogsBorrowStacks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := NewRegistry(observability.NewZapLogger(zap.New(core)))

	p, err := New(1, slotFactory(), WithName[*slot]("slots"))
	require.NoError(t, err)
	require.NoError(t, reg.Register("slots", p))

	item, err := p.Get()
	require.NoError(t, err)
	require.Len(t, p.activeStacks(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.Error(t, reg.Shutdown(ctx))

	leaks := logs.FilterMessage("pool registry: leak candidate").All()
	require.Len(t, leaks, 1)
	fields := leaks[0].ContextMap()
	require.Equal(t, "slots", fields["pool"])
	require.Contains(t, fields["stack"], "TestRegistryShutdownLogsBorrowStacks")

	p.Return(item)
	require.Empty(t, p.activeStacks())
}

func TestDebugStateIgnoresNonPointers(t *testing.T) {
	p, err := New(1, func() (int, error) { return 7, nil })
	require.NoError(t, err)

	v, err := p.Get()
	require.NoError(t, err)
	require.Empty(t, p.activeStacks())
	p.Return(v)
	require.Zero(t, pointerKey(nil))
}
