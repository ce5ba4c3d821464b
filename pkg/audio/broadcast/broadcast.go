// Package broadcast implements the multi-listener streaming buffer that sits
// between a single real-time producer and any number of consumers.
//
// A [Channel] accepts one [audio.Frame] at a time from the producer, lets a
// caller-supplied [Transform] run against the producer's own buffers, and
// then hands every attached [Listener] an independent deep copy of the
// frame. Listeners may attach and detach from any goroutine at any time
// without interrupting delivery to the others.
//
// Locking is two-level. The channel mutex guards the listener set and the
// retained snapshot and is held only long enough to copy the frame and take
// the listener list. Each listener slot has its own mutex, taken once to
// refresh the slot's copy and again around its Receive only; this
// serialises Receive per listener and lets [Channel.Detach] wait out that
// listener's in-flight delivery without waiting on any other listener. A
// listener detached between the copy and its turn is skipped.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voicetap/pkg/audio"
)

// ErrClosed is returned by [Channel.Attach] after [Channel.Teardown].
var ErrClosed = errors.New("broadcast: channel closed")

// Listener receives frames fanned out by a [Channel].
type Listener interface {
	// Receive is called on the producer goroutine with a fully-formed frame
	// owned by the listener's slot. The frame is only valid for the duration
	// of the call. Receive is never invoked concurrently with itself for the
	// same listener, and must not call Detach on the channel delivering to it.
	Receive(frame *audio.Frame)
}

// ListenerFunc adapts a plain function to the [Listener] interface. Because
// func values are not comparable, attach a pointer to a ListenerFunc.
type ListenerFunc func(frame *audio.Frame)

// Receive implements [Listener].
func (f *ListenerFunc) Receive(frame *audio.Frame) { (*f)(frame) }

// Transform runs inside [Channel.Write] after the incoming frame has been
// retained and before fan-out. It may mutate frame (the producer's buffer);
// listeners observe the retained pre-transform copy. prev is the channel's
// retained buffer and used reports whether it held a frame before this
// write.
type Transform func(frame *audio.Frame, prev *audio.FrameBuffer, used bool)

// Stats is a point-in-time snapshot of channel counters.
type Stats struct {
	// Writes counts accepted producer writes.
	Writes uint64

	// Deliveries counts frames handed to listeners.
	Deliveries uint64

	// Skipped counts deliveries abandoned because the listener detached
	// between the snapshot and its turn.
	Skipped uint64

	// Reallocations counts FrameBuffer growths across the retained snapshot
	// and every listener slot.
	Reallocations uint64

	// Listeners is the number of currently attached listeners.
	Listeners int
}

type slot struct {
	listener Listener

	mu       sync.Mutex
	buf      audio.FrameBuffer
	detached bool
}

// Channel is a thread-safe broadcast buffer. The zero value is not usable;
// create instances with [New].
type Channel struct {
	name string

	mu     sync.Mutex
	latest audio.FrameBuffer
	index  map[Listener]*slot
	slots  []*slot // copy-on-write; never mutated in place
	closed bool

	// pending is producer-owned scratch space reused across writes.
	pending []*slot

	writes        atomic.Uint64
	deliveries    atomic.Uint64
	skipped       atomic.Uint64
	reallocations atomic.Uint64
}

// New returns an empty channel. name is used for diagnostics only.
func New(name string) *Channel {
	return &Channel{
		name:  name,
		index: make(map[Listener]*slot),
	}
}

// Name returns the diagnostic name given to [New].
func (c *Channel) Name() string { return c.name }

// Attach registers l for every frame written after Attach returns. Attaching
// an already attached listener is a no-op. Attach returns [ErrClosed] once
// the channel has been torn down.
func (c *Channel) Attach(l Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, ok := c.index[l]; ok {
		return nil
	}

	s := &slot{listener: l}
	c.index[l] = s
	next := make([]*slot, len(c.slots), len(c.slots)+1)
	copy(next, c.slots)
	c.slots = append(next, s)
	return nil
}

// Detach removes l. When Detach returns no further delivery to l will
// start, and a delivery that was already running has completed. Detaching
// an unknown listener is a no-op. The slot's frame storage is released.
func (c *Channel) Detach(l Listener) {
	c.mu.Lock()
	s, ok := c.index[l]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.index, l)
	next := make([]*slot, 0, len(c.slots))
	for _, other := range c.slots {
		if other != s {
			next = append(next, other)
		}
	}
	c.slots = next
	c.mu.Unlock()

	s.mu.Lock()
	s.detached = true
	s.buf.Release()
	s.mu.Unlock()
}

// Closed reports whether Teardown has run.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Listeners returns the number of attached listeners.
func (c *Channel) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Write publishes frame. It must only be called from the single producer
// goroutine. The frame is first retained as the channel's latest snapshot,
// then transform (if non-nil) runs against the producer's frame, then each
// attached listener receives its own copy of the snapshot.
//
// Write never blocks on a slow listener beyond that listener's own Receive;
// no lock is held across another listener's callback.
func (c *Channel) Write(frame *audio.Frame, transform Transform) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	used := c.latest.Used()
	if c.latest.Store(frame, used) && used {
		c.reallocations.Add(1)
	}
	if transform != nil {
		transform(frame, &c.latest, used)
	}
	snapshot := c.latest.Frame()
	slots := c.slots
	c.writes.Add(1)

	// Copy into every slot while the snapshot is still guarded. Slots
	// taken from c.slots under c.mu cannot be detached yet.
	pending := c.pending[:0]
	for _, s := range slots {
		s.mu.Lock()
		reuse := s.buf.Used()
		if s.buf.Store(snapshot, reuse) && reuse {
			c.reallocations.Add(1)
		}
		s.mu.Unlock()
		pending = append(pending, s)
	}
	c.pending = pending
	c.mu.Unlock()

	// Each slot is locked only around its own Receive. A listener detached
	// after the copy is skipped.
	for _, s := range pending {
		s.mu.Lock()
		if s.detached {
			s.mu.Unlock()
			c.skipped.Add(1)
			continue
		}
		s.listener.Receive(s.buf.Frame())
		s.mu.Unlock()
		c.deliveries.Add(1)
	}
}

// Teardown detaches every listener and then calls release on each retained
// buffer (every listener slot, followed by the channel's own snapshot).
// release may be nil, in which case [audio.FrameBuffer.Release] is used.
// Subsequent writes are ignored and Attach returns [ErrClosed]. Teardown is
// idempotent; release is only invoked on the first call.
func (c *Channel) Teardown(release func(*audio.FrameBuffer)) {
	if release == nil {
		release = (*audio.FrameBuffer).Release
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	slots := c.slots
	c.slots = nil
	clear(c.index)
	c.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		s.detached = true
		release(&s.buf)
		s.mu.Unlock()
	}

	c.mu.Lock()
	release(&c.latest)
	c.mu.Unlock()
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Writes:        c.writes.Load(),
		Deliveries:    c.deliveries.Load(),
		Skipped:       c.skipped.Load(),
		Reallocations: c.reallocations.Load(),
		Listeners:     c.Listeners(),
	}
}
