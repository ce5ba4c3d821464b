// Package bridge connects the mixing engine's audio callback to the three
// broadcast channels of a [Hub].
//
// [Activate] runs the engine bring-up sequence (login, launching a tier if
// the engine is not running, identity and version discovery, device
// enumeration, callback registration) and either leaves the bridge fully
// live or logs the engine back out and reports why. Once active, the
// [Bridge] receives every engine event on the audio thread: buffers are
// timestamped, routed to the channel for their category, passed through to
// the engine's outputs, and fanned out to the attached routers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/internal/observe"
	"github.com/MrWong99/voicetap/pkg/audio"
	"github.com/MrWong99/voicetap/pkg/audio/broadcast"
)

// DefaultClientName is the name the callback is registered under.
const DefaultClientName = "voicetap"

// launchOrder is the order tiers are tried in when the engine is installed
// but not running.
var launchOrder = []engine.Tier{engine.TierPotato, engine.TierBanana, engine.TierBasic}

// Compile-time interface assertion.
var _ engine.Handler = (*Bridge)(nil)

// Options configures [Activate].
type Options struct {
	// ClientName is the callback registration name. Default: "voicetap".
	ClientName string

	// Metrics receives fan-out timings and engine events. Default:
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Clock returns the monotonic capture timestamp in nanoseconds stamped
	// on every buffer. Default: nanoseconds since Activate.
	Clock func() uint64

	// Release is handed to [Hub.Teardown] on Shutdown. Nil frees plane
	// storage directly.
	Release func(*audio.FrameBuffer)
}

// Bridge implements [engine.Handler] on top of a [Hub]. Create instances
// with [Activate].
type Bridge struct {
	hub     *Hub
	eng     engine.Engine
	metrics *observe.Metrics
	clock   func() uint64
	release func(*audio.FrameBuffer)
	version engine.Version

	// Per-category values built once so the audio path does not allocate.
	transforms  [3]broadcast.Transform
	fanoutAttrs [3]metric.RecordOption

	info   atomic.Pointer[engine.StreamInfo]
	active atomic.Bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// Activate brings the engine up and registers a Bridge as its callback
// handler. Activation is all or nothing: on any failure the callback is
// unregistered, the engine is logged out, hub keeps an unknown tier, and
// the returned error wraps one of the [engine] sentinels.
func Activate(ctx context.Context, eng engine.Engine, hub *Hub, opts Options) (b *Bridge, err error) {
	ctx, span := observe.StartSpan(ctx, "bridge.Activate")
	defer observe.EndSpan(span, &err)
	log := observe.Logger(ctx)

	if hub.TornDown() {
		return nil, fmt.Errorf("bridge: activate: %w", broadcast.ErrClosed)
	}
	if opts.ClientName == "" {
		opts.ClientName = DefaultClientName
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.Clock == nil {
		start := time.Now()
		opts.Clock = func() uint64 { return uint64(time.Since(start)) }
	}

	status, err := eng.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: login: %w", err)
	}
	switch status {
	case engine.LoginOK:
	case engine.LoginNotRunning:
		if err := launch(ctx, eng, log); err != nil {
			return nil, logout(eng, err)
		}
	default:
		return nil, fmt.Errorf("bridge: login %s: %w", status, engine.ErrLoginFailed)
	}

	tier, err := eng.Tier()
	if err != nil {
		return nil, logout(eng, fmt.Errorf("bridge: query tier: %w", err))
	}
	if !tier.Valid() {
		return nil, logout(eng, fmt.Errorf("bridge: tier %d: %w", int(tier), engine.ErrUnknownTier))
	}
	version, err := eng.Version()
	if err != nil {
		return nil, logout(eng, fmt.Errorf("bridge: query version: %w", err))
	}
	log.Info("bridge: engine identified", "tier", tier.String(), "version", version.String())

	logDevices(eng, log)

	b = &Bridge{
		hub:     hub,
		eng:     eng,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		release: opts.Release,
		version: version,
	}
	for _, cat := range engine.Categories {
		b.transforms[cat] = func(f *audio.Frame, _ *audio.FrameBuffer, _ bool) {
			PassThrough(f, cat, hub.Tier())
		}
		b.fanoutAttrs[cat] = metric.WithAttributeSet(attribute.NewSet(attribute.String("category", cat.String())))
	}

	hub.SetTier(tier)
	b.metrics.EngineTier.Record(ctx, int64(tier))

	if err := eng.RegisterCallback(opts.ClientName, b); err != nil {
		hub.SetTier(engine.TierUnknown)
		return nil, logout(eng, fmt.Errorf("bridge: register callback %q: %w", opts.ClientName, err))
	}
	b.active.Store(true)
	if err := eng.StartCallback(); err != nil {
		b.active.Store(false)
		hub.SetTier(engine.TierUnknown)
		_ = eng.UnregisterCallback()
		return nil, logout(eng, fmt.Errorf("bridge: start callback: %w", err))
	}

	log.Info("bridge: activated", "client", opts.ClientName)
	return b, nil
}

// launch tries every tier in launchOrder until one starts.
func launch(ctx context.Context, eng engine.Engine, log *slog.Logger) error {
	var errs []error
	for _, t := range launchOrder {
		err := eng.Launch(ctx, t)
		if err == nil {
			log.Info("bridge: launched engine", "tier", t.String())
			return nil
		}
		log.Debug("bridge: launch failed", "tier", t.String(), "err", err)
		errs = append(errs, err)
	}
	return fmt.Errorf("bridge: engine not running and no tier could be launched: %w",
		errors.Join(append([]error{engine.ErrLoginFailed}, errs...)...))
}

// logout logs the engine out after a failed activation step and returns
// cause, joined with the logout error if there was one.
func logout(eng engine.Engine, cause error) error {
	if err := eng.Logout(); err != nil {
		return errors.Join(cause, fmt.Errorf("bridge: logout: %w", err))
	}
	return cause
}

func logDevices(eng engine.Engine, log *slog.Logger) {
	devices, err := eng.InputDevices()
	if err != nil {
		log.Warn("bridge: failed to enumerate input devices", "err", err)
		return
	}
	for i, d := range devices {
		if !d.Kind.Known() {
			continue
		}
		log.Info("bridge: input device", "index", i, "kind", d.Kind.String(), "name", d.Name, "id", d.ID)
	}
}

// Hub returns the hub the bridge publishes into.
func (b *Bridge) Hub() *Hub { return b.hub }

// Version returns the engine version discovered at activation.
func (b *Bridge) Version() engine.Version { return b.version }

// Active reports whether the bridge is registered and has not been shut
// down.
func (b *Bridge) Active() bool { return b.active.Load() }

// StreamInfo returns the most recently announced session parameters, or
// false before the first session.
func (b *Bridge) StreamInfo() (engine.StreamInfo, bool) {
	p := b.info.Load()
	if p == nil {
		return engine.StreamInfo{}, false
	}
	return *p, true
}

// SessionStarting implements [engine.Handler].
func (b *Bridge) SessionStarting(info engine.StreamInfo) {
	b.info.Store(&info)
	tier := b.refreshTier()
	b.metrics.RecordEngineEvent(context.Background(), "session_starting")
	slog.Info("bridge: session starting",
		"tier", tier.String(),
		"sample_rate", info.SampleRate,
		"samples", info.Samples,
		"inputs", info.Inputs,
		"outputs", info.Outputs,
	)
}

// SessionChanged implements [engine.Handler].
func (b *Bridge) SessionChanged(info engine.StreamInfo) {
	b.info.Store(&info)
	tier := b.refreshTier()
	b.metrics.RecordEngineEvent(context.Background(), "session_changed")
	slog.Info("bridge: session changed",
		"tier", tier.String(),
		"sample_rate", info.SampleRate,
		"samples", info.Samples,
	)
}

// SessionEnding implements [engine.Handler].
func (b *Bridge) SessionEnding() {
	b.metrics.RecordEngineEvent(context.Background(), "session_ending")
	slog.Info("bridge: session ending")
}

// BufferReady implements [engine.Handler]. It stamps frame with the
// capture time and writes it to the category's channel, which retains a
// copy, passes the frame through to the engine outputs, and fans the copy
// out. Buffers for unknown categories are dropped.
func (b *Bridge) BufferReady(cat engine.Category, frame *audio.Frame) {
	ch := b.hub.Channel(cat)
	if ch == nil {
		return
	}
	start := time.Now()
	frame.Timestamp = b.clock()
	ch.Write(frame, b.transforms[cat])
	b.metrics.FanoutDuration.Record(context.Background(), time.Since(start).Seconds(), b.fanoutAttrs[cat])
}

// refreshTier re-queries the engine identity. A failed query leaves the hub
// at the unknown tier, which silences every router until the next session
// event.
func (b *Bridge) refreshTier() engine.Tier {
	tier, err := b.eng.Tier()
	if err != nil || !tier.Valid() {
		slog.Warn("bridge: engine tier unavailable, routing silenced", "tier", int(tier), "err", err)
		tier = engine.TierUnknown
	}
	b.hub.SetTier(tier)
	b.metrics.EngineTier.Record(context.Background(), int64(tier))
	return tier
}

// Shutdown stops the engine callback, tears the hub down, then unregisters
// the callback and logs out. Stopping first guarantees no buffer is being
// written while the channels are released. Every step runs even if an
// earlier one failed; the errors are joined. Only the first call has any
// effect; later calls return the first call's result.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		var err error
		ctx, span := observe.StartSpan(ctx, "bridge.Shutdown")
		defer observe.EndSpan(span, &err)

		b.active.Store(false)
		var errs []error
		if e := b.eng.StopCallback(); e != nil {
			errs = append(errs, fmt.Errorf("bridge: stop callback: %w", e))
		}
		b.hub.Teardown(b.release)
		if e := b.eng.UnregisterCallback(); e != nil {
			errs = append(errs, fmt.Errorf("bridge: unregister callback: %w", e))
		}
		if e := b.eng.Logout(); e != nil {
			errs = append(errs, fmt.Errorf("bridge: logout: %w", e))
		}
		err = errors.Join(errs...)
		b.shutdownErr = err

		observe.Logger(ctx).Info("bridge: shut down", "err", err)
	})
	return b.shutdownErr
}
