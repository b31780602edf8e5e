package enrich

import (
	"log/slog"

	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// NewSlog returns a slog logger backed by core, so slog call sites are
// attributed the same way as zap ones when core is an enrich Core.
func NewSlog(core zapcore.Core, opts ...zapslog.HandlerOption) *slog.Logger {
	return slog.New(zapslog.NewHandler(core, opts...))
}
