// Command diagcore drives the diagnostic core: it logs a concurrent burst
// through caller-enriched zap and slog loggers and prints the pool stats.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/coachpo/diagcore/internal/caller"
	"github.com/coachpo/diagcore/internal/config"
	"github.com/coachpo/diagcore/internal/enrich"
	"github.com/coachpo/diagcore/internal/observability"
	"github.com/coachpo/diagcore/internal/pool"
	"github.com/coachpo/diagcore/internal/telemetry"
)

const (
	defaultConfigPath        = "config/diagcore.yaml"
	cliLoggerPrefix          = "diagcore "
	textPoolName             = "text"
	meterName                = "github.com/coachpo/diagcore"
	shutdownTimeout          = 15 * time.Second
	registryShutdownTimeout  = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	defaultWorkers           = 8
	defaultIterations        = 1000
)

type cliOptions struct {
	configPath string
	workers    int
	iterations int
	mode       string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newCLILogger()

	cfg, loadedFromFile, err := config.LoadOrDefault(ctx, resolveConfigPath(opts.configPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	if opts.mode != "" {
		cfg.Resolver.Mode = opts.mode
		cfg.Normalise()
		if err := cfg.Validate(); err != nil {
			logger.Fatalf("resolver mode: %v", err)
		}
	}
	logger.Printf("configuration initialised: env=%s, mode=%s, level=%s",
		cfg.Environment, cfg.Resolver.Mode, cfg.Logging.Level)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg.Environment, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	meter := telemetryProvider.Meter(meterName)

	plain := zap.New(observability.NewCore(cfg.Logging.Level, os.Stderr))
	internalLogger := observability.NewZapLogger(plain.Named("diagcore"))
	observability.SetLogger(internalLogger)

	registry := pool.NewRegistry(internalLogger)
	text, err := buildTextPool(registry, cfg.Pools.Text)
	if err != nil {
		logger.Fatalf("initialise pools: %v", err)
	}
	if err := pool.ObserveMetrics(meter, registry); err != nil {
		logger.Fatalf("register pool metrics: %v", err)
	}

	resolver := enrich.NewResolver(cfg.Resolver.LibraryPrefixes,
		caller.WithHidden(buildHidden(cfg.Resolver)),
		caller.WithTextPool(text),
		caller.WithLogger(internalLogger),
		caller.WithMeter(meter),
	)
	core := enrich.NewCore(observability.NewCore(cfg.Logging.Level, os.Stderr), resolver,
		enrich.WithMode(cfg.ResolverMode()))
	zlog := zap.New(core)
	slogger := enrich.NewSlog(core)

	start := time.Now()
	renders, err := runWorkload(ctx, workload{
		workers:    opts.workers,
		iterations: opts.iterations,
		text:       text,
		zlog:       zlog,
		slog:       slogger,
	})
	if err != nil {
		logger.Printf("workload interrupted: %v", err)
	}
	logger.Printf("workload finished: renders=%d, events=%d, elapsed=%v", renders, core.Events(), time.Since(start))

	if err := pool.WriteStatsJSON(os.Stdout, registry.Snapshot()); err != nil {
		logger.Printf("write stats: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	err = performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		registry:  registry,
		telemetry: telemetryProvider,
		sync:      []func() error{zlog.Sync, plain.Sync},
		events:    internalLogger,
	})
	if err != nil {
		os.Exit(1)
	}
}

func parseFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("diagcore", flag.ContinueOnError)
	opts := cliOptions{}
	fs.StringVar(&opts.configPath, "config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	fs.IntVar(&opts.workers, "workers", defaultWorkers, "Number of concurrent workers")
	fs.IntVar(&opts.iterations, "iterations", defaultIterations, "Scratch renders per worker")
	fs.StringVar(&opts.mode, "mode", "", "Resolver mode override: full or fast")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if opts.workers <= 0 {
		opts.workers = 1
	}
	if opts.iterations < 0 {
		opts.iterations = 0
	}
	return opts, nil
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newCLILogger() *log.Logger {
	return log.New(os.Stderr, cliLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.Enabled = telemetryCfg.Enabled || cfg.Enabled

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func buildTextPool(registry *pool.Registry, cfg config.TextPoolConfig) (*pool.TextPool, error) {
	text, err := pool.NewTextPool(pool.TextPoolConfig{
		Name:        textPoolName,
		Capacity:    cfg.Capacity,
		InitialSize: cfg.InitialSize,
		Ceiling:     cfg.Ceiling,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s pool: %w", textPoolName, err)
	}
	if err := registry.Register(textPoolName, text); err != nil {
		return nil, fmt.Errorf("register %s pool: %w", textPoolName, err)
	}
	return text, nil
}

func buildHidden(cfg config.ResolverConfig) *caller.HiddenSet {
	hidden := caller.NewHiddenSet()
	for _, m := range cfg.HiddenMethods {
		hidden.HideMethod(m)
	}
	for _, t := range cfg.HiddenTypes {
		hidden.HideType(t)
	}
	return hidden
}

type workload struct {
	workers    int
	iterations int
	text       *pool.TextPool
	zlog       *zap.Logger
	slog       *slog.Logger
}

type worker struct {
	id   int
	text *pool.TextPool
	zlog *zap.Logger
	slog *slog.Logger
}

// runWorkload fans the burst out over a bounded conc pool and returns the
// number of completed renders.
func runWorkload(ctx context.Context, w workload) (int, error) {
	if w.workers <= 0 {
		w.workers = 1
	}
	results := make([]int, w.workers)
	p := concpool.New().WithContext(ctx).WithMaxGoroutines(w.workers)
	for i := 0; i < w.workers; i++ {
		wk := &worker{id: i, text: w.text, zlog: w.zlog, slog: w.slog}
		p.Go(func(ctx context.Context) error {
			n, err := wk.run(ctx, w.iterations)
			results[wk.id] = n
			return err
		})
	}
	err := p.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	return total, err
}

func (w *worker) run(ctx context.Context, iterations int) (int, error) {
	done := 0
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		line, err := w.text.BorrowScratch(func(buf *bytes.Buffer) error {
			_, err := fmt.Fprintf(buf, "worker=%d iteration=%d", w.id, i)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("worker %d: render: %w", w.id, err)
		}
		w.zlog.Debug("rendered", zap.String("line", line))
		done++
	}
	w.zlog.Info("worker finished", zap.Int("worker", w.id), zap.Int("renders", done))
	w.slog.Info("worker summary", "worker", w.id, "renders", done)
	return done, nil
}

type gracefulShutdownConfig struct {
	registry  *pool.Registry
	telemetry *telemetry.Provider
	sync      []func() error
	events    observability.Logger
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) error {
	var failures []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.registry != nil {
		shutdownStep("closing pools", registryShutdownTimeout, cfg.registry.Shutdown)
	}
	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
	for _, sync := range cfg.sync {
		// stderr returns EINVAL on Sync under Linux.
		_ = sync()
	}
	return observability.AggregateErrors(cfg.events, "shutdown", failures)
}
