// Package mock provides recording implementations of [audio.Sink] and
// [broadcast.Listener] for use in unit tests.
//
// Both mocks deep-copy everything they are handed, since frames passed to
// sinks and listeners are only valid for the duration of the call. They are
// safe for concurrent use.
package mock

import (
	"sync"

	"github.com/MrWong99/voicetap/pkg/audio"
)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records every emitted frame.
type Sink struct {
	mu     sync.Mutex
	frames []audio.SinkFrame

	// OnOutput, if set, is called after the frame is recorded.
	OnOutput func(audio.SinkFrame)
}

// Output implements [audio.Sink].
func (s *Sink) Output(frame audio.SinkFrame) {
	cp := frame
	cp.Data = make([][]float32, len(frame.Data))
	for i, ch := range frame.Data {
		cp.Data[i] = append([]float32(nil), ch...)
	}

	s.mu.Lock()
	s.frames = append(s.frames, cp)
	cb := s.OnOutput
	s.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
}

// Frames returns a copy of the recorded frames in emission order.
func (s *Sink) Frames() []audio.SinkFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.SinkFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Count returns the number of recorded frames.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// ─── Listener ─────────────────────────────────────────────────────────────────

// Listener is a mock broadcast listener that records a deep copy of every
// received frame.
type Listener struct {
	mu     sync.Mutex
	frames []audio.Frame
	active int
	maxAct int

	// OnReceive, if set, is called with the live frame before it is copied.
	// Use it to stall delivery or observe aliasing in tests.
	OnReceive func(*audio.Frame)
}

// Receive implements broadcast.Listener.
func (l *Listener) Receive(frame *audio.Frame) {
	l.mu.Lock()
	l.active++
	if l.active > l.maxAct {
		l.maxAct = l.active
	}
	cb := l.OnReceive
	l.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
	cp := Clone(frame)

	l.mu.Lock()
	l.frames = append(l.frames, cp)
	l.active--
	l.mu.Unlock()
}

// Frames returns a copy of the recorded frames in delivery order.
func (l *Listener) Frames() []audio.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audio.Frame, len(l.frames))
	copy(out, l.frames)
	return out
}

// Count returns the number of recorded frames.
func (l *Listener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

// MaxConcurrent returns the highest number of Receive calls observed running
// at the same time.
func (l *Listener) MaxConcurrent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxAct
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// Clone returns a deep copy of f.
func Clone(f *audio.Frame) audio.Frame {
	cp := *f
	cp.Inputs = clonePlanes(f.Inputs)
	cp.Outputs = clonePlanes(f.Outputs)
	return cp
}

// NewFrame builds a frame with the given plane counts and length. Input
// plane i is filled with float32(i+1) and output plane i with
// -float32(i+1), so planes are distinguishable in assertions.
func NewFrame(inputs, outputs, samples int) *audio.Frame {
	f := &audio.Frame{
		Inputs:     make([][]float32, inputs),
		Outputs:    make([][]float32, outputs),
		Samples:    samples,
		SampleRate: 48000,
	}
	for i := range f.Inputs {
		f.Inputs[i] = fill(samples, float32(i+1))
	}
	for i := range f.Outputs {
		f.Outputs[i] = fill(samples, -float32(i+1))
	}
	return f
}

// Checksum sums every sample of every plane. Tests use it to detect torn
// frames.
func Checksum(f *audio.Frame) float64 {
	var sum float64
	for _, p := range f.Inputs {
		for _, v := range p {
			sum += float64(v)
		}
	}
	for _, p := range f.Outputs {
		for _, v := range p {
			sum += float64(v)
		}
	}
	return sum
}

func fill(n int, v float32) []float32 {
	p := make([]float32, n)
	for i := range p {
		p[i] = v
	}
	return p
}

func clonePlanes(planes [][]float32) [][]float32 {
	if planes == nil {
		return nil
	}
	out := make([][]float32, len(planes))
	for i, p := range planes {
		out[i] = append([]float32(nil), p...)
	}
	return out
}
