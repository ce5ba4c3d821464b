package audio

// SampleWidth is the size in bytes of one sample. Frames carry 32-bit float
// planar samples exclusively.
const SampleWidth = 4

// MaxChannels is the maximum number of output channels a [SinkFrame] can
// carry, mirroring the widest supported [SpeakerLayout] (7.1).
const MaxChannels = 8

// Frame is one timestamped bundle of planar sample data as delivered by the
// mixing engine callback. Input planes hold raw capture, output planes hold
// what the engine will play after the callback returns.
//
// A Frame handed to a listener is an independent deep copy owned by the
// listener's slot; it is only valid until the listener's Receive returns.
type Frame struct {
	// Inputs holds one sample slice per input plane.
	Inputs [][]float32

	// Outputs holds one sample slice per output plane.
	Outputs [][]float32

	// Samples is the frame length in samples per plane.
	Samples int

	// SampleRate in Hz (e.g. 44100, 48000).
	SampleRate int

	// Timestamp is the capture time in monotonic nanoseconds.
	Timestamp uint64
}

// InputCount returns the number of input planes.
func (f *Frame) InputCount() int { return len(f.Inputs) }

// OutputCount returns the number of output planes.
func (f *Frame) OutputCount() int { return len(f.Outputs) }

// Size returns the byte size of a single plane.
func (f *Frame) Size() int { return f.Samples * SampleWidth }

// SampleFormat identifies how samples in a [SinkFrame] are laid out.
type SampleFormat int

const (
	// FormatUnknown is the zero value.
	FormatUnknown SampleFormat = iota

	// FormatFloatPlanar is 32-bit float, one slice per channel.
	FormatFloatPlanar
)

// String returns the human-readable name of the format.
func (f SampleFormat) String() string {
	switch f {
	case FormatFloatPlanar:
		return "float-planar"
	default:
		return "unknown"
	}
}

// SinkFrame is the descriptor a router emits to its playback [Sink].
//
// Data holds exactly Layout.Channels() slices of Samples length each. The
// slices are borrowed: they alias either the listener's frame copy or a
// shared silence buffer and must not be retained or modified after Output
// returns.
type SinkFrame struct {
	Timestamp  uint64
	Samples    uint32
	SampleRate uint32
	Format     SampleFormat
	Layout     SpeakerLayout
	Data       [][]float32
}

// Sink consumes routed frames. Output is invoked on the engine's producer
// goroutine and must return quickly.
type Sink interface {
	Output(frame SinkFrame)
}

// SinkFunc adapts a plain function to the [Sink] interface.
type SinkFunc func(frame SinkFrame)

// Output implements [Sink].
func (f SinkFunc) Output(frame SinkFrame) { f(frame) }
