package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicetap/internal/config"
	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/pkg/audio"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  log_format: json

engine:
  name: replay
  application: studio
  replay:
    file: /tmp/voice.wav
    tier: banana
    sample_rate: 44100
    frame_size: 441
    loop: true

meter:
  report_interval: 250ms

consumers:
  - name: stream
    stage: 2
    layout: "5.1"
    routes: [0, 1, -1, 3]
  - name: mic
    stage: 0
    layout: mono
    routes: [4]
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server.log_format: got %q, want json", cfg.Server.LogFormat)
	}
	if cfg.Engine.Application != "studio" {
		t.Errorf("engine.application: got %q", cfg.Engine.Application)
	}
	rp := cfg.Engine.Replay
	if rp.File != "/tmp/voice.wav" || rp.Tier != "banana" || rp.SampleRate != 44100 || rp.FrameSize != 441 || !rp.Loop {
		t.Errorf("engine.replay: got %+v", rp)
	}
	if cfg.Meter.ReportInterval != 250*time.Millisecond {
		t.Errorf("meter.report_interval: got %s, want 250ms", cfg.Meter.ReportInterval)
	}
	if len(cfg.Consumers) != 2 {
		t.Fatalf("consumers: got %d, want 2", len(cfg.Consumers))
	}
	c := cfg.Consumers[0]
	if c.Category() != engine.Main || c.SpeakerLayout() != audio.Layout5Point1 {
		t.Errorf("consumers[0]: got %s/%s", c.Category(), c.SpeakerLayout())
	}
	if len(c.Routes) != 4 || c.Routes[2] != -1 {
		t.Errorf("consumers[0].routes: got %v", c.Routes)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
			t.Errorf("server defaults: got %+v", cfg.Server)
		}
		if cfg.Engine.Name != config.DefaultEngine || cfg.Engine.Application != config.DefaultApplication {
			t.Errorf("engine defaults: got %+v", cfg.Engine)
		}
		if cfg.Engine.Replay.SampleRate != config.DefaultSampleRate || cfg.Engine.Replay.FrameSize != config.DefaultFrameSize {
			t.Errorf("replay defaults: got %+v", cfg.Engine.Replay)
		}
		if cfg.Meter.ReportInterval != config.DefaultReportInterval {
			t.Errorf("meter default: got %s", cfg.Meter.ReportInterval)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  port: 80\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicetap.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Consumers) != 2 {
		t.Errorf("consumers: got %d, want 2", len(cfg.Consumers))
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want ErrNotExist", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"log format", "server:\n  log_format: xml\n", "log_format"},
		{"engine name", "engine:\n  name: hardware\n", "engine.name"},
		{"replay tier", "engine:\n  replay:\n    tier: gold\n", "engine.replay.tier"},
		{"frame size", "engine:\n  replay:\n    sample_rate: 100\n    frame_size: 200\n", "frame_size"},
		{"negative interval", "meter:\n  report_interval: -1s\n", "report_interval"},
		{"missing name", "consumers:\n  - stage: 0\n", "consumers[0].name"},
		{"duplicate name", "consumers:\n  - name: a\n  - name: a\n", "duplicate"},
		{"stage", "consumers:\n  - name: a\n    stage: 3\n", "stage"},
		{"layout", "consumers:\n  - name: a\n    layout: quad\n", "layout"},
		{"too many routes", "consumers:\n  - name: a\n    routes: [0,1,2,3,4,5,6,7,8]\n", "at most 8"},
		{"route below mute", "consumers:\n  - name: a\n    routes: [-2]\n", "routes[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q, got: %v", tt.mention, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: "loud", LogFormat: "xml"},
		Consumers: []config.ConsumerConfig{{Stage: 9}},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "log_format", "name is required", "stage 9"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_OutOfTierRoutesAccepted(t *testing.T) {
	// Plane 97 exceeds every insert-input range; it is still valid
	// configuration and resolves to silence at run time.
	_, err := config.LoadFromReader(strings.NewReader("consumers:\n  - name: a\n    routes: [97, -1]\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConsumerConfig_SpeakerLayoutFallback(t *testing.T) {
	for _, name := range []string{"", "quad"} {
		c := config.ConsumerConfig{Layout: name}
		if got := c.SpeakerLayout(); got != audio.LayoutStereo {
			t.Errorf("SpeakerLayout(%q) = %s, want stereo", name, got)
		}
	}
}
