package enrich_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/coachpo/diagcore/internal/caller"
	"github.com/coachpo/diagcore/internal/enrich"
)

func TestSlogCallSitesAreAttributed(t *testing.T) {
	_, logs, core := newObserved(caller.ModeFast, zapcore.InfoLevel)
	logger := enrich.NewSlog(core)

	logger.Info("from slog", "order", 42)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "from slog", entry.Message)

	ctx := entry.ContextMap()
	require.Equal(t, caller.ModuleTypeName, ctx[enrich.FieldCallingType])
	require.Equal(t, "TestSlogCallSitesAreAttributed", ctx[enrich.FieldCallingMethod])
	require.EqualValues(t, 42, ctx["order"])
}
