package caller

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/coachpo/diagcore/internal/observability"
	"github.com/coachpo/diagcore/internal/pool"
)

var (
	resolverInternal = NewFrame("github.com/coachpo/diagcore/internal/caller.(*Resolver).Resolve", "resolver.go", 210)
	libraryA         = NewFrame("go.uber.org/zap/zapcore.(*CheckedEntry).Write", "entry.go", 253)
	libraryB         = NewFrame("go.uber.org/zap.(*Logger).Info", "logger.go", 221)
	applicationX     = NewFrame("example.com/shop/orders.(*Service).Place", "service.go", 42)
	applicationY     = NewFrame("example.com/shop/cmd.main", "main.go", 10)
)

func zapLibrary() LibraryMarker {
	return PackagePrefixes("go.uber.org/zap")
}

func TestResolveSkipsToFirstApplicationFrame(t *testing.T) {
	stack := StaticCapturer{resolverInternal, resolverInternal, libraryA, libraryB, applicationX, applicationY}
	r := NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()))

	res := r.Resolve(Options{Mode: ModeFull})
	require.False(t, res.Degraded)
	require.Equal(t, "example.com/shop/orders.Service", res.TypeName)
	require.Equal(t, "Place", res.MethodName)
	require.Equal(t, "service.go", res.File)
	require.Equal(t, 42, res.Line)
	require.Zero(t, res.Column)
	require.Equal(t,
		"   at example.com/shop/orders.Service.Place in service.go:42\n"+
			"   at example.com/shop/cmd.main in main.go:10",
		res.StackTrace)
}

func TestResolveFastModeReportsRawIdentity(t *testing.T) {
	stack := StaticCapturer{resolverInternal, libraryA, applicationX, applicationY}
	r := NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()))

	res := r.Resolve(Options{Mode: ModeFast})
	require.Equal(t, "Service", res.TypeName)
	require.Equal(t, "Place", res.MethodName)
	require.Equal(t, 42, res.Line)
	require.Equal(t, FastModeStackTrace, res.StackTrace)

	pkgLevel := StaticCapturer{resolverInternal, libraryA, applicationY}
	r = NewResolver(WithCapturer(pkgLevel), WithLibraryMarker(zapLibrary()))
	res = r.Resolve(Options{Mode: ModeFast})
	require.Equal(t, ModuleTypeName, res.TypeName)
	require.Equal(t, "main", res.MethodName)
}

func TestResolveHiddenFrameSkippedBeforeEnteringLibrary(t *testing.T) {
	hiddenLibrary := NewFrame("go.uber.org/zap.(*SugaredLogger).Infof", "sugar.go", 150)
	helper := NewFrame("example.com/shop/logx.Infof", "logx.go", 9)
	stack := StaticCapturer{resolverInternal, hiddenLibrary, helper, libraryB, applicationX, applicationY}

	r := NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()))
	res := r.Resolve(Options{})
	require.Equal(t, "Infof", res.MethodName, "without the marker the first library frame opens phase two")

	hidden := NewHiddenSet()
	hidden.HideMethod(hiddenLibrary.Function)
	r = NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()), WithHidden(hidden))
	res = r.Resolve(Options{})
	require.Equal(t, "Place", res.MethodName)
	require.Equal(t, "example.com/shop/orders.Service", res.TypeName)
}

func TestResolveHiddenTypeSkippedAfterEnteringLibrary(t *testing.T) {
	wrapper := NewFrame("example.com/shop/logx.(*Wrapper).Info", "wrapper.go", 21)
	stack := StaticCapturer{resolverInternal, libraryA, wrapper, applicationX}

	hidden := NewHiddenSet()
	hidden.HideType("*example.com/shop/logx.Wrapper")
	r := NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()), WithHidden(hidden))

	res := r.Resolve(Options{})
	require.Equal(t, "Place", res.MethodName)
	require.NotContains(t, res.StackTrace, "Wrapper")
}

func TestResolveExhaustionFallsBackToModule(t *testing.T) {
	stack := StaticCapturer{{}, libraryA, libraryB}
	r := NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()))

	res := r.Resolve(Options{})
	require.True(t, res.Degraded)
	require.Equal(t, ModuleTypeName, res.TypeName)
	require.Equal(t, "Write", res.MethodName)
	require.Equal(t, "entry.go", res.File)
	require.Contains(t, res.StackTrace, "go.uber.org/zap.Logger.Info")

	res = NewResolver(WithCapturer(StaticCapturer{{}, NewFrame("broken", "", 0)})).Resolve(Options{Mode: ModeFast})
	require.True(t, res.Degraded)
	require.Equal(t, ModuleTypeName, res.TypeName)
	require.Equal(t, "broken", res.MethodName)

	res = NewResolver(WithCapturer(StaticCapturer{{}, {}})).Resolve(Options{Mode: ModeFast})
	require.Equal(t, ErrorPlaceholder, res.MethodName)
	require.Equal(t, FastModeStackTrace, res.StackTrace)
}

func TestResolveCaptureFailureYieldsPlaceholders(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := observability.NewZapLogger(zap.New(core))

	failing := CapturerFunc(func(int) ([]Frame, error) { return nil, errors.New("stack unavailable") })
	panicking := CapturerFunc(func(int) ([]Frame, error) { panic("corrupt stack") })

	for _, c := range []StackCapturer{failing, panicking, StaticCapturer{}} {
		r := NewResolver(WithCapturer(c), WithLogger(logger))
		var res Resolution
		require.NotPanics(t, func() { res = r.Resolve(Options{}) })
		require.True(t, res.Degraded)
		require.Equal(t, ErrorPlaceholder, res.TypeName)
		require.Equal(t, ErrorPlaceholder, res.MethodName)
		require.Equal(t, ErrorPlaceholder, res.File)
		require.Equal(t, ErrorPlaceholder, res.StackTrace)
		require.Zero(t, res.Line)
	}

	require.Equal(t, 2, logs.FilterMessage("caller: stack capture failed").Len())
	require.Equal(t, 1, logs.FilterMessage("caller: resolution panicked").Len())
}

type countingLookup struct {
	methodCalls atomic.Int64
	typeCalls   atomic.Int64
}

func (c *countingLookup) MethodHidden(string) bool {
	c.methodCalls.Add(1)
	return false
}

func (c *countingLookup) TypeHidden(string) bool {
	c.typeCalls.Add(1)
	return false
}

func TestHiddenLookupsAreMemoised(t *testing.T) {
	lookup := &countingLookup{}
	stack := StaticCapturer{resolverInternal, libraryA, applicationX}
	r := NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()), WithHidden(lookup))

	var wg conc.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Go(func() {
			for j := 0; j < 100; j++ {
				res := r.Resolve(Options{Mode: ModeFast})
				if res.MethodName != "Place" {
					panic("unexpected resolution " + res.MethodName)
				}
			}
		})
	}
	wg.Wait()

	require.Equal(t, 6, r.cache.size())
	// Racing goroutines may each miss before the first store lands.
	require.LessOrEqual(t, lookup.methodCalls.Load(), int64(3*64))
	require.LessOrEqual(t, lookup.typeCalls.Load(), int64(3*64))

	before := lookup.methodCalls.Load()
	r.Resolve(Options{})
	require.Equal(t, before, lookup.methodCalls.Load())
}

type widget struct{}

func (*widget) Emit() {}

func hiddenHelper() {}

func TestHiddenSetHideFunc(t *testing.T) {
	h := NewHiddenSet()
	h.HideFunc(hiddenHelper)
	h.HideFunc((&widget{}).Emit)
	h.HideFunc(nil)
	h.HideFunc("not a func")

	require.True(t, h.MethodHidden("github.com/coachpo/diagcore/internal/caller.hiddenHelper"))
	require.True(t, h.MethodHidden("github.com/coachpo/diagcore/internal/caller.(*widget).Emit"))
	require.False(t, h.MethodHidden("github.com/coachpo/diagcore/internal/caller.other"))
	require.False(t, h.TypeHidden("github.com/coachpo/diagcore/internal/caller.widget"))
}

//go:noinline
func resolveThroughShim(r *Resolver, mode Mode) Resolution {
	return r.Resolve(Options{Mode: mode})
}

func TestResolveLiveStack(t *testing.T) {
	shim := func(f Frame) bool { return strings.HasSuffix(f.Function, ".resolveThroughShim") }
	r := NewResolver(WithLibraryMarker(shim))

	res := resolveThroughShim(r, ModeFull)
	require.False(t, res.Degraded)
	require.Equal(t, ModuleTypeName, res.TypeName)
	require.Equal(t, "TestResolveLiveStack", res.MethodName)
	require.Equal(t, "resolver_test.go", filepath.Base(res.File))
	require.Positive(t, res.Line)
	require.True(t, strings.HasPrefix(res.StackTrace,
		"   at github.com/coachpo/diagcore/internal/caller.TestResolveLiveStack in "))

	func() {
		res = resolveThroughShim(r, ModeFast)
	}()
	require.Equal(t, "TestResolveLiveStack+func1", res.MethodName)
	require.Equal(t, FastModeStackTrace, res.StackTrace)
}

func TestResolveRendersThroughTextPool(t *testing.T) {
	tp, err := pool.NewTextPool(pool.TextPoolConfig{Name: "trace", Capacity: 1})
	require.NoError(t, err)

	stack := StaticCapturer{resolverInternal, libraryA, applicationX}
	r := NewResolver(WithCapturer(stack), WithLibraryMarker(zapLibrary()), WithTextPool(tp))
	require.Same(t, tp, r.TextPool())

	r.Resolve(Options{})
	r.Resolve(Options{})
	st := tp.Stats()
	require.EqualValues(t, 2, st.Returned)
	require.Equal(t, 1, st.Stored)

	r.Resolve(Options{Mode: ModeFast})
	require.EqualValues(t, 2, tp.Stats().Returned, "fast mode renders nothing")
}

func TestResolverMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	meter := provider.Meter("caller-test")

	good := NewResolver(WithCapturer(StaticCapturer{resolverInternal, libraryA, applicationX}),
		WithLibraryMarker(zapLibrary()), WithMeter(meter))
	exhausted := NewResolver(WithCapturer(StaticCapturer{libraryA}),
		WithLibraryMarker(zapLibrary()), WithMeter(meter))

	good.Resolve(Options{Mode: ModeFast})
	good.Resolve(Options{Mode: ModeFast})
	exhausted.Resolve(Options{})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	var histogramSeen bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "caller.resolutions":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					mode, _ := dp.Attributes.Value(attribute.Key("resolver.mode"))
					result, _ := dp.Attributes.Value(attribute.Key("result"))
					counts[mode.AsString()+"/"+result.AsString()] += dp.Value
				}
			case "caller.resolve.duration":
				histogramSeen = true
			}
		}
	}
	require.Equal(t, map[string]int64{"fast/resolved": 2, "full/fallback": 1}, counts)
	require.True(t, histogramSeen)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" FAST ")
	require.NoError(t, err)
	require.Equal(t, ModeFast, m)
	require.Equal(t, "fast", m.String())

	m, err = ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeFull, m)

	_, err = ParseMode("verbose")
	require.Error(t, err)
}
