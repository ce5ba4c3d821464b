package audio

// FrameBuffer owns the backing storage for one retained [Frame].
//
// Plane storage is reused across [FrameBuffer.Store] calls while the
// incoming frame fits the current capacity (frame length and plane counts);
// otherwise every plane is released and reallocated at the new size.
// Capacity never shrinks while the buffer is in use.
//
// A FrameBuffer is not safe for concurrent use. Callers serialise access
// (the broadcast channel does so per listener slot).
type FrameBuffer struct {
	frame Frame

	// in and out hold the owned planes at full capacity; frame.Inputs and
	// frame.Outputs are views resliced to the current frame length.
	in       [][]float32
	out      [][]float32
	capacity int // samples per plane

	used     bool
	released bool

	allocations int
	releases    int
}

// Store deep-copies src into the buffer. With reuse set and sufficient
// capacity the copy happens in place; otherwise the old planes are released
// and fresh ones sized to src are allocated. Metadata (plane counts, frame
// length, sample rate, timestamp) always mirrors src afterwards.
//
// Store reports whether a reallocation took place. After it returns the
// buffer shares no memory with src.
func (b *FrameBuffer) Store(src *Frame, reuse bool) (grew bool) {
	if !reuse || !b.fits(src) {
		b.reallocate(src)
		grew = true
	}

	n := src.Samples
	b.frame.Inputs = copyPlanes(b.frame.Inputs[:0], b.in, src.Inputs, n)
	b.frame.Outputs = copyPlanes(b.frame.Outputs[:0], b.out, src.Outputs, n)
	b.frame.Samples = n
	b.frame.SampleRate = src.SampleRate
	b.frame.Timestamp = src.Timestamp

	b.used = true
	b.released = false
	return grew
}

// Frame returns the retained frame. The returned pointer stays valid until
// the next Store or Release.
func (b *FrameBuffer) Frame() *Frame { return &b.frame }

// Used reports whether the buffer currently holds a stored frame.
func (b *FrameBuffer) Used() bool { return b.used }

// Release drops every owned plane. Calling Release more than once, or on a
// buffer that never stored anything, is a no-op.
func (b *FrameBuffer) Release() {
	if b.released || !b.used {
		b.released = true
		return
	}
	b.releasePlanes()
	b.frame = Frame{}
	b.used = false
	b.released = true
}

// Released reports whether Release has been called since the last Store.
func (b *FrameBuffer) Released() bool { return b.released }

// Allocations returns the number of planes allocated over the buffer's
// lifetime.
func (b *FrameBuffer) Allocations() int { return b.allocations }

// Releases returns the number of planes released over the buffer's lifetime.
func (b *FrameBuffer) Releases() int { return b.releases }

// fits reports whether src can be copied into the current planes without
// growing them.
func (b *FrameBuffer) fits(src *Frame) bool {
	return b.used &&
		src.Samples <= b.capacity &&
		len(src.Inputs) <= len(b.in) &&
		len(src.Outputs) <= len(b.out)
}

func (b *FrameBuffer) reallocate(src *Frame) {
	if b.used {
		b.releasePlanes()
	}
	n := src.Samples
	b.in = allocPlanes(len(src.Inputs), n)
	b.out = allocPlanes(len(src.Outputs), n)
	b.allocations += len(b.in) + len(b.out)
	b.capacity = n
	b.frame.Inputs = make([][]float32, 0, len(b.in))
	b.frame.Outputs = make([][]float32, 0, len(b.out))
}

func (b *FrameBuffer) releasePlanes() {
	b.releases += len(b.in) + len(b.out)
	b.in = nil
	b.out = nil
	b.capacity = 0
}

func allocPlanes(count, samples int) [][]float32 {
	planes := make([][]float32, count)
	for i := range planes {
		planes[i] = make([]float32, samples)
	}
	return planes
}

// copyPlanes copies each source plane into the matching owned plane and
// appends the resliced view to dst. Short source planes are zero-padded.
func copyPlanes(dst, owned, src [][]float32, n int) [][]float32 {
	for i, p := range src {
		plane := owned[i][:n]
		clear(plane[copy(plane, p):])
		dst = append(dst, plane)
	}
	return dst
}
