// Package replay provides a runnable [engine.Engine] that drives the audio
// callback from a WAV file or a generated test tone instead of a live mixing
// engine.
//
// Every frame period the replay engine fills one buffer per [engine.Category],
// shaped after the configured tier's capability table, with the next block of
// source samples and hands them to the registered handler on its own
// goroutine. Source channels are spread across input planes round-robin;
// output planes are cleared before each delivery so pass-through is
// observable downstream.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/pkg/audio"
)

// Compile-time interface assertion.
var _ engine.Engine = (*Engine)(nil)

const (
	defaultSampleRate = 48000
	defaultFrameSize  = 480
	toneHz            = 440.0
	toneAmplitude     = 0.25
)

// Options configures a replay [Engine].
type Options struct {
	// File is the WAV file to replay. Empty selects a 440 Hz test tone.
	File string

	// Tier is the tier the engine reports once logged in. [engine.TierUnknown]
	// simulates an engine that is installed but not running, so Login
	// reports [engine.LoginNotRunning] and a tier must be launched.
	Tier engine.Tier

	// MaxTier is the highest tier that can be launched. Zero allows every
	// tier.
	MaxTier engine.Tier

	// SampleRate for the test tone. Ignored when File is set. Defaults to
	// 48000.
	SampleRate int

	// FrameSize is the number of samples per plane per buffer. Defaults
	// to 480.
	FrameSize int

	// Loop restarts the file at its end. When false the session ends after
	// the last buffer. The test tone always loops.
	Loop bool
}

// Engine is a file- or tone-driven mixing engine. Create instances with
// [New].
type Engine struct {
	opts Options

	mu         sync.Mutex
	loggedIn   bool
	tier       engine.Tier
	source     [][]float32 // one slice per source channel
	sampleRate int
	name       string
	handler    engine.Handler
	cancel     context.CancelFunc
	done       chan struct{}
}

// New returns a replay engine. Nothing is read until Login.
func New(opts Options) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = defaultFrameSize
	}
	if opts.MaxTier == engine.TierUnknown {
		opts.MaxTier = engine.TierPotato
	}
	return &Engine{opts: opts}
}

// Login implements [engine.Engine]. It decodes the source file; a missing or
// undecodable file is reported as [engine.ErrDeviceNotFound].
func (e *Engine) Login(_ context.Context) (engine.LoginStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loggedIn {
		source, rate, err := e.load()
		if err != nil {
			return engine.LoginNoClient, err
		}
		e.source = source
		e.sampleRate = rate
		e.loggedIn = true
	}

	if !e.opts.Tier.Valid() {
		return engine.LoginNotRunning, nil
	}
	e.tier = e.opts.Tier
	return engine.LoginOK, nil
}

// Launch implements [engine.Engine].
func (e *Engine) Launch(_ context.Context, t engine.Tier) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loggedIn {
		return fmt.Errorf("replay: launch %s: %w", t, engine.ErrLoginFailed)
	}
	if !t.Valid() {
		return fmt.Errorf("replay: launch: %w", engine.ErrUnknownTier)
	}
	if t > e.opts.MaxTier {
		return fmt.Errorf("replay: launch %s: %w", t, engine.ErrDeviceNotFound)
	}
	e.tier = t
	return nil
}

// Tier implements [engine.Engine].
func (e *Engine) Tier() (engine.Tier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tier.Valid() {
		return engine.TierUnknown, fmt.Errorf("replay: tier: %w", engine.ErrVersionQuery)
	}
	return e.tier, nil
}

// Version implements [engine.Engine]. The major component follows the tier.
func (e *Engine) Version() (engine.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tier.Valid() {
		return engine.Version{}, fmt.Errorf("replay: version: %w", engine.ErrVersionQuery)
	}
	return engine.Version{Major: uint8(e.tier), Minor: 0, Patch: 2, Build: 0}, nil
}

// InputDevices implements [engine.Engine]. The replay source is the only
// device.
func (e *Engine) InputDevices() ([]engine.Device, error) {
	if e.opts.File == "" {
		return []engine.Device{{Kind: engine.DriverWDM, Name: "Test Tone", ID: "tone"}}, nil
	}
	return []engine.Device{{
		Kind: engine.DriverWDM,
		Name: filepath.Base(e.opts.File),
		ID:   e.opts.File,
	}}, nil
}

// RegisterCallback implements [engine.Engine].
func (e *Engine) RegisterCallback(name string, h engine.Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loggedIn {
		return fmt.Errorf("replay: register %q: %w", name, engine.ErrLoginFailed)
	}
	if e.handler != nil {
		return fmt.Errorf("replay: register %q (held by %q): %w", name, e.name, engine.ErrCallbackConflict)
	}
	e.name = name
	e.handler = h
	return nil
}

// StartCallback implements [engine.Engine]. Buffers are produced on a new
// goroutine until StopCallback, or until the file ends when Loop is off.
func (e *Engine) StartCallback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handler == nil {
		return fmt.Errorf("replay: start: %w", engine.ErrNotRegistered)
	}
	if e.cancel != nil {
		return nil
	}
	if !e.tier.Valid() {
		return fmt.Errorf("replay: start: %w", engine.ErrUnknownTier)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, e.handler, e.tier, e.source, e.sampleRate, e.done)
	return nil
}

// StopCallback implements [engine.Engine]. It waits for the producer
// goroutine, including its SessionEnding call, to finish.
func (e *Engine) StopCallback() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// UnregisterCallback implements [engine.Engine].
func (e *Engine) UnregisterCallback() error {
	if err := e.StopCallback(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handler == nil {
		return fmt.Errorf("replay: unregister: %w", engine.ErrNotRegistered)
	}
	e.handler = nil
	e.name = ""
	return nil
}

// Logout implements [engine.Engine].
func (e *Engine) Logout() error {
	if err := e.StopCallback(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = nil
	e.loggedIn = false
	e.tier = engine.TierUnknown
	e.source = nil
	return nil
}

// Done returns a channel closed when the current playback ends, or nil when
// the callback is not running.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// load returns the source channels and their sample rate.
func (e *Engine) load() ([][]float32, int, error) {
	if e.opts.File == "" {
		return [][]float32{tone(e.opts.SampleRate)}, e.opts.SampleRate, nil
	}
	return decodeFile(e.opts.File)
}

func (e *Engine) run(ctx context.Context, h engine.Handler, tier engine.Tier, source [][]float32, rate int, done chan struct{}) {
	defer close(done)

	n := e.opts.FrameSize
	caps := tier.Capabilities()
	h.SessionStarting(engine.StreamInfo{
		SampleRate: rate,
		Samples:    n,
		Inputs:     caps.Inputs,
		Outputs:    caps.Outputs,
	})
	defer h.SessionEnding()

	frames := make([]*audio.Frame, len(engine.Categories))
	for _, cat := range engine.Categories {
		in, out := tier.FrameShape(cat)
		frames[cat] = newFrame(in, out, n, rate)
	}

	period := time.Duration(n) * time.Second / time.Duration(rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	slog.Debug("replay: playback started", "tier", tier, "sample_rate", rate, "frame_size", n, "period", period)

	wrap := e.opts.Loop || e.opts.File == ""
	pos := 0
	length := len(source[0])
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pos >= length {
			if !wrap {
				slog.Debug("replay: end of file")
				return
			}
			pos = 0
		}
		for _, cat := range engine.Categories {
			fill(frames[cat], source, pos, wrap)
			h.BufferReady(cat, frames[cat])
		}
		pos += n
	}
}

func newFrame(inputs, outputs, samples, rate int) *audio.Frame {
	f := &audio.Frame{
		Inputs:     make([][]float32, inputs),
		Outputs:    make([][]float32, outputs),
		Samples:    samples,
		SampleRate: rate,
	}
	for i := range f.Inputs {
		f.Inputs[i] = make([]float32, samples)
	}
	for i := range f.Outputs {
		f.Outputs[i] = make([]float32, samples)
	}
	return f
}

// fill copies the block starting at pos into every input plane and clears
// the output planes. Blocks running past the end of a non-looping source are
// zero-padded; looping sources wrap.
func fill(f *audio.Frame, source [][]float32, pos int, wrap bool) {
	length := len(source[0])
	for p, plane := range f.Inputs {
		src := source[p%len(source)]
		for i := range plane {
			idx := pos + i
			switch {
			case idx < length:
				plane[i] = src[idx]
			case wrap:
				plane[i] = src[idx%length]
			default:
				plane[i] = 0
			}
		}
	}
	for _, plane := range f.Outputs {
		clear(plane)
	}
}

func tone(rate int) []float32 {
	out := make([]float32, rate)
	for i := range out {
		out[i] = float32(toneAmplitude * math.Sin(2*math.Pi*toneHz*float64(i)/float64(rate)))
	}
	return out
}

// decodeFile reads an integer PCM WAV file and splits it into one float
// slice per channel, scaled to [-1, 1).
func decodeFile(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("replay: open %q: %w: %w", path, engine.ErrDeviceNotFound, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("replay: %q is not a valid WAV file: %w", path, engine.ErrDeviceNotFound)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("replay: decode %q: %w", path, err)
	}

	if dec.SampleRate == 0 {
		return nil, 0, fmt.Errorf("replay: %q declares a sample rate of 0 Hz: %w", path, engine.ErrDeviceNotFound)
	}
	chans := int(dec.NumChans)
	if chans <= 0 || len(buf.Data) < chans {
		return nil, 0, fmt.Errorf("replay: %q: no audio data", path)
	}
	scale := float32(math.Pow(2, float64(dec.BitDepth)-1))
	frames := len(buf.Data) / chans

	out := make([][]float32, chans)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < chans; c++ {
			out[c][i] = float32(buf.Data[i*chans+c]) / scale
		}
	}
	return out, int(dec.SampleRate), nil
}
