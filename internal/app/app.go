// Package app wires all voicetap subsystems into a running application.
//
// The App struct owns the full lifecycle: New activates the engine and
// attaches one router and level meter per configured consumer, Run serves
// metrics and health endpoints and applies config reloads, and Shutdown
// tears everything down in order.
//
// For testing, inject an engine and metrics via functional options
// (WithEngine, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicetap/internal/bridge"
	"github.com/MrWong99/voicetap/internal/config"
	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/internal/health"
	"github.com/MrWong99/voicetap/internal/meter"
	"github.com/MrWong99/voicetap/internal/observe"
	"github.com/MrWong99/voicetap/internal/router"
)

// shutdownGrace bounds the HTTP server shutdown once Run's context ends.
const shutdownGrace = 5 * time.Second

// consumer is one configured router and the meter it emits to.
type consumer struct {
	router *router.Router
	meter  *meter.Meter
	stop   context.CancelFunc // stops the meter reporter; nil before Run
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	eng      engine.Engine
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	levelVar *slog.LevelVar

	configPath    string
	watchInterval time.Duration

	hub    *bridge.Hub
	bridge *bridge.Bridge
	health *health.Handler

	// mu guards everything below.
	mu        sync.Mutex
	consumers map[string]*consumer
	runCtx    context.Context
	channels  metric.Registration
	levels    metric.Registration
	meters    sync.WaitGroup
	addr      net.Addr

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEngine injects an engine instead of building one from cfg.Engine.
func WithEngine(e engine.Engine) Option {
	return func(a *App) { a.eng = e }
}

// WithMetrics injects the metrics instruments. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the Prometheus gatherer served on /metrics. Default:
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigWatch makes Run watch path and apply consumer changes and log
// level changes on the fly. interval <= 0 uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App: it configures one router per consumer, activates the
// engine, and registers the observable metrics. On error nothing is left
// attached and the engine is logged out.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		consumers: make(map[string]*consumer, len(cfg.Consumers)),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}
	if a.eng == nil {
		eng, err := NewEngine(cfg.Engine)
		if err != nil {
			return nil, err
		}
		a.eng = eng
	}

	// ── 1. Hub + consumers ───────────────────────────────────────────────
	a.hub = bridge.NewHub()
	for _, c := range cfg.Consumers {
		if err := a.addConsumer(ctx, c); err != nil {
			a.destroyConsumers()
			return nil, fmt.Errorf("app: consumer %q: %w", c.Name, err)
		}
	}

	// ── 2. Engine ────────────────────────────────────────────────────────
	b, err := bridge.Activate(ctx, a.eng, a.hub, bridge.Options{
		ClientName: cfg.Engine.Application,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.destroyConsumers()
		return nil, fmt.Errorf("app: activate engine: %w", err)
	}
	a.bridge = b

	// Routes were checked against an unknown tier above; check again now
	// that the tier is known.
	tier := a.hub.Tier()
	for _, c := range cfg.Consumers {
		s := settingsFor(c)
		if stale := s.Stale(tier); len(stale) > 0 {
			slog.Warn("app: consumer routes exceed tier", "consumer", c.Name, "tier", tier.String(), "err", errors.Join(stale...))
		}
	}

	// ── 3. Metrics ───────────────────────────────────────────────────────
	sources := make([]observe.StatsSource, 0, len(engine.Categories))
	for _, ch := range a.hub.Channels() {
		sources = append(sources, ch)
	}
	reg, err := a.metrics.ObserveChannels(sources...)
	if err != nil {
		_ = b.Shutdown(ctx)
		a.destroyConsumers()
		return nil, fmt.Errorf("app: observe channels: %w", err)
	}
	a.channels = reg
	a.mu.Lock()
	err = a.observeLevelsLocked()
	a.mu.Unlock()
	if err != nil {
		_ = reg.Unregister()
		_ = b.Shutdown(ctx)
		a.destroyConsumers()
		return nil, fmt.Errorf("app: observe levels: %w", err)
	}

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.BridgeActive(a.bridge),
		health.TierKnown(a.hub),
		health.ConsumersAttached(a.attachedCount),
	)

	slog.Info("app: ready",
		"tier", tier.String(),
		"version", b.Version().String(),
		"consumers", len(cfg.Consumers),
	)
	return a, nil
}

// settingsFor converts a persisted consumer config into router settings.
func settingsFor(c config.ConsumerConfig) router.Settings {
	return router.Settings{
		Category: c.Category(),
		Layout:   c.SpeakerLayout(),
		Routes:   append([]int(nil), c.Routes...),
	}
}

// addConsumer creates, configures and registers the router and meter for c.
func (a *App) addConsumer(ctx context.Context, c config.ConsumerConfig) error {
	m := meter.New(c.Name)
	r := router.New(c.Name, a.hub, m, router.WithMetrics(a.metrics))
	if err := r.Configure(ctx, settingsFor(c)); err != nil {
		r.Destroy()
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	cons := &consumer{router: r, meter: m}
	a.consumers[c.Name] = cons
	a.startMeterLocked(cons)
	return nil
}

// removeConsumer destroys the named consumer. It reports whether it existed.
func (a *App) removeConsumer(name string) bool {
	a.mu.Lock()
	cons, ok := a.consumers[name]
	delete(a.consumers, name)
	var stop context.CancelFunc
	if ok {
		stop, cons.stop = cons.stop, nil
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	cons.router.Destroy()
	if stop != nil {
		stop()
	}
	return true
}

func (a *App) destroyConsumers() {
	a.mu.Lock()
	names := make([]string, 0, len(a.consumers))
	for name := range a.consumers {
		names = append(names, name)
	}
	a.mu.Unlock()
	for _, name := range names {
		a.removeConsumer(name)
	}
}

// startMeterLocked starts the level reporter of cons once Run is active.
func (a *App) startMeterLocked(cons *consumer) {
	if a.runCtx == nil || cons.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(a.runCtx)
	cons.stop = cancel
	interval := a.cfg.Meter.ReportInterval
	if interval <= 0 {
		interval = config.DefaultReportInterval
	}
	a.meters.Add(1)
	go func() {
		defer a.meters.Done()
		_ = cons.meter.Run(ctx, interval)
	}()
}

// observeLevelsLocked (re)registers the level gauges over the current
// meters.
func (a *App) observeLevelsLocked() error {
	if a.levels != nil {
		if err := a.levels.Unregister(); err != nil {
			return err
		}
		a.levels = nil
	}
	sources := make([]observe.LevelSource, 0, len(a.consumers))
	for _, c := range a.consumers {
		sources = append(sources, c.meter)
	}
	reg, err := a.metrics.ObserveLevels(sources...)
	if err != nil {
		return err
	}
	a.levels = reg
	return nil
}

func (a *App) attachedCount() (attached, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.consumers {
		if st, _ := c.router.State(); st == router.StateAttached {
			attached++
		}
	}
	return attached, len(a.consumers)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Hub returns the process-wide hub.
func (a *App) Hub() *bridge.Hub { return a.hub }

// Bridge returns the active engine bridge.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// Consumer returns the router and meter of the named consumer.
func (a *App) Consumer(name string) (*router.Router, *meter.Meter, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.consumers[name]
	if !ok {
		return nil, nil, false
	}
	return c.router, c.meter, true
}

// Addr returns the address the HTTP server listens on once Run has started
// it, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Handler returns the HTTP handler serving /metrics, /healthz, /readyz and
// the consumer status under /consumers.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /consumers", a.handleConsumers)
	mux.HandleFunc("GET /consumers/{name}", a.handleConsumer)
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (when server.listen_addr is set), runs the level meter
// reporters, and watches the config file (when [WithConfigWatch] was
// given) until ctx is cancelled or the engine session ends on its own. It
// returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// ── Config watcher ───────────────────────────────────────────────────
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, func(_, new *config.Config, d config.ConfigDiff) {
			a.apply(gctx, new, d)
		}, wopts...)
		if err != nil {
			if ln != nil {
				_ = ln.Close()
			}
			return fmt.Errorf("app: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})
	}

	// ── Level meters ─────────────────────────────────────────────────────
	a.mu.Lock()
	a.runCtx = gctx
	for _, c := range a.consumers {
		a.startMeterLocked(c)
	}
	n := len(a.consumers)
	a.mu.Unlock()

	// ── HTTP ─────────────────────────────────────────────────────────────
	if ln != nil {
		a.mu.Lock()
		a.addr = ln.Addr()
		a.mu.Unlock()

		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("app: serving metrics and health", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Engine end of session ────────────────────────────────────────────
	if d, ok := a.eng.(interface{ Done() <-chan struct{} }); ok {
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-d.Done():
				slog.Info("app: engine session ended")
				cancel()
			}
			return nil
		})
	}

	slog.Info("app: running", "consumers", n)
	err := g.Wait()

	a.mu.Lock()
	a.runCtx = nil
	for _, c := range a.consumers {
		if c.stop != nil {
			c.stop()
			c.stop = nil
		}
	}
	a.mu.Unlock()
	a.meters.Wait()
	return err
}

// Reload applies the hot-reloadable differences between old and new: the
// log level and every added, removed, or reconfigured consumer. Engine,
// server and meter changes are logged and need a restart.
func (a *App) Reload(ctx context.Context, old, new *config.Config) {
	a.apply(ctx, new, config.Diff(old, new))
}

// apply brings the running consumers and log level in line with new, given
// what changed since the previous config.
func (a *App) apply(ctx context.Context, new *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(ParseLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		slog.Warn("app: engine, server or meter settings changed; restart to apply")
	}
	if !d.ConsumersChanged {
		return
	}

	byName := make(map[string]config.ConsumerConfig, len(new.Consumers))
	for _, c := range new.Consumers {
		byName[c.Name] = c
	}

	for _, cd := range d.ConsumerChanges {
		switch {
		case cd.Removed:
			a.removeConsumer(cd.Name)
			slog.Info("app: consumer removed", "consumer", cd.Name)
		case cd.Added:
			if err := a.addConsumer(ctx, byName[cd.Name]); err != nil {
				slog.Error("app: add consumer", "consumer", cd.Name, "err", err)
				continue
			}
			slog.Info("app: consumer added", "consumer", cd.Name)
		default:
			r, _, ok := a.Consumer(cd.Name)
			if !ok {
				continue
			}
			if err := r.Configure(ctx, settingsFor(byName[cd.Name])); err != nil {
				slog.Error("app: reconfigure consumer", "consumer", cd.Name, "err", err)
				continue
			}
			slog.Info("app: consumer reconfigured",
				"consumer", cd.Name,
				"stage", cd.StageChanged,
				"layout", cd.LayoutChanged,
				"routes", cd.RoutesChanged,
			)
		}
	}

	a.mu.Lock()
	if err := a.observeLevelsLocked(); err != nil {
		slog.Warn("app: re-register level gauges", "err", err)
	}
	a.mu.Unlock()
}

// ParseLevel maps a config log level to a slog level. Unknown values map
// to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the engine callback and tears the hub down, then destroys
// every consumer and unregisters the observable metrics. Only the first
// call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")

		var errs []error
		if err := a.bridge.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.destroyConsumers()

		a.mu.Lock()
		if a.levels != nil {
			if err := a.levels.Unregister(); err != nil {
				errs = append(errs, fmt.Errorf("app: unregister level gauges: %w", err))
			}
			a.levels = nil
		}
		a.mu.Unlock()
		if a.channels != nil {
			if err := a.channels.Unregister(); err != nil {
				errs = append(errs, fmt.Errorf("app: unregister channel metrics: %w", err))
			}
		}
		a.stopErr = errors.Join(errs...)

		slog.Info("app: shutdown complete", "err", a.stopErr)
	})
	return a.stopErr
}
