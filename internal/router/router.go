// Package router implements the per-consumer channel router.
//
// A [Router] is a broadcast listener attached to exactly one of the hub's
// channels at a time. For every frame it receives it picks one source plane
// per output channel of its speaker layout, substitutes a shared silence
// buffer for muted or out-of-range routes, and emits a planar float
// descriptor to its [audio.Sink].
//
// Configuration is applied as a whole: [Router.Configure] builds a complete
// route table and publishes it with an atomic pointer swap, so the audio
// thread never observes a half-updated table. Switching category detaches
// from the old channel before attaching to the new one.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/internal/observe"
	"github.com/MrWong99/voicetap/pkg/audio"
	"github.com/MrWong99/voicetap/pkg/audio/broadcast"
)

// Mute is the route value that selects silence.
const Mute = -1

// ErrDestroyed is returned by [Router.Configure] after [Router.Destroy].
var ErrDestroyed = errors.New("router: destroyed")

// Source provides the broadcast channels and the current engine tier.
// [bridge.Hub] implements it.
type Source interface {
	Channel(cat engine.Category) *broadcast.Channel
	Tier() engine.Tier
}

// Settings is the persisted per-consumer configuration.
type Settings struct {
	// Category selects the channel the router listens to (the "stage").
	Category engine.Category

	// Layout is the output speaker layout. Only the first
	// Layout.Channels() routes are used.
	Layout audio.SpeakerLayout

	// Routes maps output channel index to source plane index, or [Mute].
	// Missing entries are muted.
	Routes []int
}

// DefaultSettings returns stereo insert-input settings with every route
// muted.
func DefaultSettings() Settings {
	return Settings{
		Category: engine.InsertInput,
		Layout:   audio.LayoutStereo,
		Routes:   muted(),
	}
}

func muted() []int {
	routes := make([]int, audio.MaxChannels)
	for i := range routes {
		routes[i] = Mute
	}
	return routes
}

// normalize returns a copy of s with exactly MaxChannels routes, negative
// entries folded to Mute, and an invalid layout replaced by stereo.
func (s Settings) normalize() Settings {
	out := Settings{Category: s.Category, Layout: s.Layout, Routes: muted()}
	if !out.Layout.IsValid() {
		out.Layout = audio.LayoutStereo
	}
	for i := 0; i < len(s.Routes) && i < audio.MaxChannels; i++ {
		if s.Routes[i] >= 0 {
			out.Routes[i] = s.Routes[i]
		}
	}
	return out
}

// Stale returns one error wrapping [engine.ErrStaleConfiguration] per active
// route that points past the valid plane range for tier. An unknown tier
// yields no errors; everything is silent then anyway.
func (s Settings) Stale(tier engine.Tier) []error {
	if !tier.Valid() {
		return nil
	}
	n := s.normalize()
	limit := tier.PlaneLimit(n.Category)
	var errs []error
	for ch := 0; ch < n.Layout.Channels(); ch++ {
		if src := n.Routes[ch]; src >= limit {
			errs = append(errs, fmt.Errorf("%w: channel %d routes plane %d, %s %s has %d",
				engine.ErrStaleConfiguration, ch, src, tier, n.Category, limit))
		}
	}
	return errs
}

// State is the category membership of a router.
type State int

const (
	StateDetached State = iota
	StateAttached
)

// String returns "detached" or "attached".
func (s State) String() string {
	if s == StateAttached {
		return "attached"
	}
	return "detached"
}

// routeTable is the immutable snapshot read by Receive.
type routeTable struct {
	category engine.Category
	layout   audio.SpeakerLayout
	channels int
	routes   [audio.MaxChannels]int
}

// Option configures a [Router].
type Option func(*Router)

// WithMetrics sets the metrics the router reports to. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router routes frames from one broadcast channel to a sink. Create
// instances with [New]; a new router is detached until the first
// [Router.Configure].
type Router struct {
	id      uuid.UUID
	name    string
	src     Source
	sink    audio.Sink
	metrics *observe.Metrics

	// mu serialises Configure and Destroy.
	mu        sync.Mutex
	settings  Settings
	attached  *broadcast.Channel
	destroyed bool

	table atomic.Pointer[routeTable]

	// Owned by the delivering goroutine; Receive is never re-entered.
	silence []float32
	data    [audio.MaxChannels][]float32

	staleWarned atomic.Bool
	tierWarned  atomic.Bool
}

// New returns a detached router named name that emits to sink.
func New(name string, src Source, sink audio.Sink, opts ...Option) *Router {
	r := &Router{
		id:       uuid.New(),
		name:     name,
		src:      src,
		sink:     sink,
		settings: DefaultSettings(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// ID returns the router's unique identity.
func (r *Router) ID() uuid.UUID { return r.id }

// Name returns the consumer name given to [New].
func (r *Router) Name() string { return r.name }

// Settings returns a copy of the settings last applied.
func (r *Router) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.settings
	s.Routes = append([]int(nil), s.Routes...)
	return s
}

// State reports whether the router is attached and to which category.
func (r *Router) State() (State, engine.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachedLocked() == nil {
		return StateDetached, r.settings.Category
	}
	return StateAttached, r.settings.Category
}

// attachedLocked returns the channel the router is attached to. A channel
// torn down under the router counts as a detach.
func (r *Router) attachedLocked() *broadcast.Channel {
	if r.attached != nil && r.attached.Closed() {
		r.attached = nil
		r.metrics.ActiveConsumers.Add(context.Background(), -1)
	}
	return r.attached
}

// Configure validates and applies s. If the category changes the router is
// detached from the old channel, the new table is published, and only then
// is the router attached to the new channel; it is never attached to two
// channels at once. Routes outside the valid range for the current tier are
// accepted and play silence; they are logged and counted, not returned.
func (r *Router) Configure(ctx context.Context, s Settings) (err error) {
	var staleCount int
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordReconfiguration(ctx, r.name, r.id.String(), status, staleCount)
	}()

	if !s.Category.Valid() {
		return fmt.Errorf("router %s: invalid stage %d", r.name, int(s.Category))
	}
	if !s.Layout.IsValid() {
		observe.Logger(ctx).Warn("router: invalid layout, using stereo", "consumer", r.name, "id", r.id.String(), "layout", int(s.Layout))
	}
	s = s.normalize()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return ErrDestroyed
	}

	next := r.src.Channel(s.Category)
	if next == nil {
		return fmt.Errorf("router %s: no channel for %s", r.name, s.Category)
	}
	if cur := r.attachedLocked(); cur != nil && cur != next {
		cur.Detach(r)
		r.attached = nil
		r.metrics.ActiveConsumers.Add(ctx, -1)
	}

	t := &routeTable{
		category: s.Category,
		layout:   s.Layout,
		channels: s.Layout.Channels(),
	}
	copy(t.routes[:], s.Routes)
	r.table.Store(t)
	r.staleWarned.Store(false)

	if r.attached == nil {
		if err := next.Attach(r); err != nil {
			r.table.Store(nil)
			return fmt.Errorf("router %s: attach %s: %w", r.name, s.Category, err)
		}
		r.attached = next
		r.metrics.ActiveConsumers.Add(ctx, 1)
	}
	r.settings = s

	tier := r.src.Tier()
	if stale := s.Stale(tier); len(stale) > 0 {
		staleCount = len(stale)
		observe.Logger(ctx).Warn("router: routes resolve to silence",
			"consumer", r.name, "id", r.id.String(), "tier", tier.String(), "err", errors.Join(stale...))
	}
	observe.Logger(ctx).Debug("router: configured",
		"consumer", r.name,
		"id", r.id.String(),
		"stage", s.Category.String(),
		"layout", s.Layout.String(),
		"routes", s.Routes[:s.Layout.Channels()],
	)
	return nil
}

// Destroy detaches the router. It waits for an in-flight delivery to
// complete, so the sink receives nothing after Destroy returns. Destroy is
// idempotent.
func (r *Router) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.destroyed = true
	if r.attachedLocked() != nil {
		r.attached.Detach(r)
		r.attached = nil
		r.metrics.ActiveConsumers.Add(context.Background(), -1)
	}
	r.table.Store(nil)
}

// Receive implements [broadcast.Listener]. It is a no-op until the engine
// tier is known.
func (r *Router) Receive(frame *audio.Frame) {
	t := r.table.Load()
	if t == nil {
		return
	}
	tier := r.src.Tier()
	if !tier.Valid() {
		if r.tierWarned.CompareAndSwap(false, true) {
			slog.Warn("router: engine tier unknown, dropping frames", "consumer", r.name, "id", r.id.String())
		}
		return
	}
	r.tierWarned.Store(false)

	n := frame.Samples
	if n < 0 {
		return
	}
	silence := r.silenceFor(n)
	limit := min(tier.PlaneLimit(t.category), len(frame.Inputs))

	for ch := 0; ch < t.channels; ch++ {
		src := t.routes[ch]
		switch {
		case src < 0:
			r.data[ch] = silence
		case src < limit && len(frame.Inputs[src]) >= n:
			r.data[ch] = frame.Inputs[src][:n]
		default:
			if r.staleWarned.CompareAndSwap(false, true) {
				slog.Warn("router: route out of range, playing silence",
					"consumer", r.name, "id", r.id.String(), "channel", ch, "route", src, "limit", limit)
			}
			r.data[ch] = silence
		}
	}

	r.sink.Output(audio.SinkFrame{
		Timestamp:  frame.Timestamp,
		Samples:    uint32(n),
		SampleRate: uint32(frame.SampleRate),
		Format:     audio.FormatFloatPlanar,
		Layout:     t.layout,
		Data:       r.data[:t.channels],
	})
}

// silenceFor returns an all-zero slice of length n. The backing buffer grows
// by doubling and never shrinks.
func (r *Router) silenceFor(n int) []float32 {
	if cap(r.silence) < n {
		size := max(n, 2*cap(r.silence))
		r.silence = make([]float32, size)
	}
	return r.silence[:n]
}
