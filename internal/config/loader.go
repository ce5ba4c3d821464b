package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/pkg/audio"
)

// ValidEngineNames lists the engine implementations [Validate] accepts.
var ValidEngineNames = []string{"replay"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields of cfg with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Engine.Name == "" {
		cfg.Engine.Name = DefaultEngine
	}
	if cfg.Engine.Application == "" {
		cfg.Engine.Application = DefaultApplication
	}
	if cfg.Engine.Replay.SampleRate == 0 {
		cfg.Engine.Replay.SampleRate = DefaultSampleRate
	}
	if cfg.Engine.Replay.FrameSize == 0 {
		cfg.Engine.Replay.FrameSize = DefaultFrameSize
	}
	if cfg.Meter.ReportInterval == 0 {
		cfg.Meter.ReportInterval = DefaultReportInterval
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Routes that exceed the plane range of some tier are valid; they play
// silence at run time.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Engine
	if cfg.Engine.Name != "" && !slices.Contains(ValidEngineNames, cfg.Engine.Name) {
		errs = append(errs, fmt.Errorf("engine.name %q is invalid; valid values: %v", cfg.Engine.Name, ValidEngineNames))
	}
	rp := cfg.Engine.Replay
	if rp.Tier != "" {
		if _, err := engine.ParseTier(rp.Tier); err != nil {
			errs = append(errs, fmt.Errorf("engine.replay.tier: %w", err))
		}
	}
	if rp.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("engine.replay.sample_rate %d must be positive", rp.SampleRate))
	}
	if rp.FrameSize < 0 || (rp.SampleRate > 0 && rp.FrameSize > rp.SampleRate) {
		errs = append(errs, fmt.Errorf("engine.replay.frame_size %d is out of range [1, sample_rate]", rp.FrameSize))
	}

	// Meter
	if cfg.Meter.ReportInterval < 0 {
		errs = append(errs, fmt.Errorf("meter.report_interval %s must not be negative", cfg.Meter.ReportInterval))
	}

	// Consumers
	seen := make(map[string]int, len(cfg.Consumers))
	for i, c := range cfg.Consumers {
		prefix := fmt.Sprintf("consumers[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[c.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of consumers[%d]", prefix, c.Name, prev))
			}
			seen[c.Name] = i
		}
		if !c.Category().Valid() {
			errs = append(errs, fmt.Errorf("%s.stage %d is invalid; valid values: 0 (insert input), 1 (insert output), 2 (main)", prefix, c.Stage))
		}
		if c.Layout != "" {
			if _, err := audio.ParseLayout(c.Layout); err != nil {
				errs = append(errs, fmt.Errorf("%s.layout: %w", prefix, err))
			}
		}
		if len(c.Routes) > audio.MaxChannels {
			errs = append(errs, fmt.Errorf("%s.routes has %d entries; at most %d are allowed", prefix, len(c.Routes), audio.MaxChannels))
		}
		for j, r := range c.Routes {
			if r < -1 {
				errs = append(errs, fmt.Errorf("%s.routes[%d] %d is invalid; use -1 to mute", prefix, j, r))
			}
		}
	}

	return errors.Join(errs...)
}
