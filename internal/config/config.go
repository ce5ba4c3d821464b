// Package config provides the configuration schema, loader, and hot-reload
// watcher for the voicetap server.
package config

import (
	"time"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/pkg/audio"
)

// LogLevel controls log verbosity for the voicetap server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr     = ":9464"
	DefaultEngine         = "replay"
	DefaultApplication    = "voicetap"
	DefaultSampleRate     = 48000
	DefaultFrameSize      = 480
	DefaultReportInterval = time.Second
)

// Config is the root configuration structure for voicetap.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Engine    EngineConfig     `yaml:"engine"`
	Meter     MeterConfig      `yaml:"meter"`
	Consumers []ConsumerConfig `yaml:"consumers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics and health endpoints listen
	// on (e.g., ":9464"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`
}

// EngineConfig selects and configures the mixing engine implementation.
type EngineConfig struct {
	// Name selects the engine implementation. Only "replay" ships with
	// voicetap.
	Name string `yaml:"name"`

	// Application is the client name the audio callback is registered under.
	Application string `yaml:"application"`

	Replay ReplayConfig `yaml:"replay"`
}

// ReplayConfig configures the file replay engine.
type ReplayConfig struct {
	// File is a WAV file to replay. Empty generates a test tone.
	File string `yaml:"file"`

	// Tier is the product tier the engine reports ("basic", "banana",
	// "potato"). Empty leaves the engine "not running" until a tier is
	// launched.
	Tier string `yaml:"tier"`

	SampleRate int  `yaml:"sample_rate"`
	FrameSize  int  `yaml:"frame_size"`
	Loop       bool `yaml:"loop"`
}

// MeterConfig configures the level meters attached to every consumer.
type MeterConfig struct {
	// ReportInterval is the metering window. Each window's levels are
	// logged at debug and exported as gauges.
	ReportInterval time.Duration `yaml:"report_interval"`
}

// ConsumerConfig is the persisted configuration of one channel router.
type ConsumerConfig struct {
	// Name identifies the consumer in logs and metrics. Must be unique.
	Name string `yaml:"name"`

	// Stage is the signal-chain category: 0 insert input, 1 insert output,
	// 2 main.
	Stage int `yaml:"stage"`

	// Layout is the output speaker layout name. Empty means stereo.
	Layout string `yaml:"layout"`

	// Routes maps output channel to source plane; -1 mutes. Missing
	// entries are muted.
	Routes []int `yaml:"routes"`
}

// Category returns the stage as an [engine.Category].
func (c ConsumerConfig) Category() engine.Category {
	return engine.Category(c.Stage)
}

// SpeakerLayout returns the parsed layout, falling back to stereo when the
// name is empty or unknown.
func (c ConsumerConfig) SpeakerLayout() audio.SpeakerLayout {
	l, err := audio.ParseLayout(c.Layout)
	if err != nil {
		return audio.LayoutStereo
	}
	return l
}
