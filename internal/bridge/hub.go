package bridge

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/pkg/audio"
	"github.com/MrWong99/voicetap/pkg/audio/broadcast"
)

// Hub is the process-scoped audio context: one broadcast channel per stream
// category plus the mixing engine tier last reported. Routers and the
// callback bridge share a Hub instead of reaching for globals.
//
// A Hub is created once at startup and torn down once at shutdown. It is
// safe for concurrent use.
type Hub struct {
	channels [3]*broadcast.Channel
	tier     atomic.Int32
	torn     atomic.Bool
}

// NewHub returns a Hub with three live channels and an unknown tier.
func NewHub() *Hub {
	h := &Hub{}
	for _, cat := range engine.Categories {
		h.channels[cat] = broadcast.New(cat.String())
	}
	return h
}

// Channel returns the broadcast channel for cat, or nil if cat is not a
// valid category.
func (h *Hub) Channel(cat engine.Category) *broadcast.Channel {
	if !cat.Valid() {
		return nil
	}
	return h.channels[cat]
}

// Channels returns the three channels in category order.
func (h *Hub) Channels() []*broadcast.Channel {
	return h.channels[:]
}

// Tier returns the current engine tier. It is read on the audio thread.
func (h *Hub) Tier() engine.Tier {
	return engine.Tier(h.tier.Load())
}

// SetTier records the engine tier. Tiers outside the capability table are
// stored as [engine.TierUnknown].
func (h *Hub) SetTier(t engine.Tier) {
	if !t.Valid() {
		t = engine.TierUnknown
	}
	h.tier.Store(int32(t))
}

// TornDown reports whether Teardown has run.
func (h *Hub) TornDown() bool { return h.torn.Load() }

// Teardown force-detaches every listener from all three channels and
// releases their retained frames. The channels are torn down concurrently;
// each one invokes release on its own buffers only, so release must be safe
// to call from several goroutines for distinct buffers. A nil release frees
// plane storage directly. Only the first call has any effect; it returns
// once all three channels are torn down.
func (h *Hub) Teardown(release func(*audio.FrameBuffer)) {
	if !h.torn.CompareAndSwap(false, true) {
		return
	}
	h.SetTier(engine.TierUnknown)

	var g errgroup.Group
	for _, ch := range h.channels {
		g.Go(func() error {
			ch.Teardown(release)
			return nil
		})
	}
	_ = g.Wait()
}
