// Package meter provides a level-metering [audio.Sink].
//
// A [Meter] accumulates per-channel peak and RMS over a window. [Meter.Flush]
// closes the window and publishes its levels; [Meter.Run] does so on a fixed
// interval and logs the result. The published levels back the
// voicetap.consumer.peak and voicetap.consumer.rms gauges.
package meter

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voicetap/pkg/audio"
)

// Floor is the dBFS value reported for digital silence.
const Floor = -120.0

// Level is the measured level of one output channel over a window.
type Level struct {
	Channel int
	Peak    float64 // linear, absolute
	RMS     float64 // linear
}

// PeakDBFS returns the peak in decibels relative to full scale.
func (l Level) PeakDBFS() float64 { return DBFS(l.Peak) }

// RMSDBFS returns the RMS in decibels relative to full scale.
func (l Level) RMSDBFS() float64 { return DBFS(l.RMS) }

// DBFS converts a linear amplitude to dBFS, clamped at [Floor].
func DBFS(v float64) float64 {
	if v <= 0 {
		return Floor
	}
	return max(20*math.Log10(v), Floor)
}

type accum struct {
	peak  float64
	sumSq float64
	n     int
}

// Meter is a concurrency-safe level meter. The zero value is not usable;
// create instances with [New].
type Meter struct {
	name string

	mu     sync.Mutex
	window [audio.MaxChannels]accum
	used   int // channels seen in the current window
	frames uint64
	last   []Level
}

// New returns a meter for the consumer called name.
func New(name string) *Meter {
	return &Meter{name: name}
}

// Name returns the consumer name.
func (m *Meter) Name() string { return m.name }

// Output implements [audio.Sink]. It reads frame.Data and does not retain it.
func (m *Meter) Output(frame audio.SinkFrame) {
	if frame.Format != audio.FormatFloatPlanar {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames++
	channels := min(len(frame.Data), audio.MaxChannels)
	m.used = max(m.used, channels)
	for ch := 0; ch < channels; ch++ {
		a := &m.window[ch]
		for _, s := range frame.Data[ch] {
			v := math.Abs(float64(s))
			if v > a.peak {
				a.peak = v
			}
			a.sumSq += v * v
		}
		a.n += len(frame.Data[ch])
	}
}

// Flush closes the current window, publishes its levels and returns them.
// A window that received no frames publishes nothing and returns nil.
func (m *Meter) Flush() []Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.used == 0 {
		m.last = nil
		return nil
	}
	levels := make([]Level, m.used)
	for ch := range levels {
		a := m.window[ch]
		levels[ch] = Level{Channel: ch, Peak: a.peak}
		if a.n > 0 {
			levels[ch].RMS = math.Sqrt(a.sumSq / float64(a.n))
		}
	}
	m.window = [audio.MaxChannels]accum{}
	m.used = 0
	m.last = levels
	return append([]Level(nil), levels...)
}

// Levels returns the levels published by the last [Meter.Flush].
func (m *Meter) Levels() []Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Level(nil), m.last...)
}

// Snapshot returns the published peak and RMS values indexed by channel.
func (m *Meter) Snapshot() (peak, rms []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peak = make([]float64, len(m.last))
	rms = make([]float64, len(m.last))
	for i, l := range m.last {
		peak[i], rms[i] = l.Peak, l.RMS
	}
	return peak, rms
}

// Frames returns the total number of frames metered.
func (m *Meter) Frames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Run flushes the meter every interval until ctx is cancelled, logging the
// levels at debug. It always returns nil so it can run in an errgroup.
func (m *Meter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			levels := m.Flush()
			if len(levels) == 0 {
				continue
			}
			attrs := make([]any, 0, 2+2*len(levels))
			attrs = append(attrs, "consumer", m.name)
			for _, l := range levels {
				attrs = append(attrs, slog.Group("ch"+strconv.Itoa(l.Channel),
					"peak_dbfs", round1(l.PeakDBFS()),
					"rms_dbfs", round1(l.RMSDBFS()),
				))
			}
			slog.Debug("meter: levels", attrs...)
		}
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

