package config_test

import (
	"testing"

	"github.com/MrWong99/voicetap/internal/config"
)

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogDebug, LogFormat: config.LogFormatJSON},
		Engine: config.EngineConfig{
			Name:        "replay",
			Application: "desk",
			Replay:      config.ReplayConfig{SampleRate: 96000, FrameSize: 64},
		},
	}
	config.ApplyDefaults(cfg)

	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server overwritten: %+v", cfg.Server)
	}
	if cfg.Engine.Application != "desk" {
		t.Errorf("application overwritten: %q", cfg.Engine.Application)
	}
	if cfg.Engine.Replay.SampleRate != 96000 || cfg.Engine.Replay.FrameSize != 64 {
		t.Errorf("replay overwritten: %+v", cfg.Engine.Replay)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr should stay empty (HTTP disabled), got %q", cfg.Server.ListenAddr)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestLogFormat_IsValid(t *testing.T) {
	t.Parallel()
	if !config.LogFormatText.IsValid() || !config.LogFormatJSON.IsValid() {
		t.Error("text and json should be valid")
	}
	if config.LogFormat("logfmt").IsValid() {
		t.Error("logfmt should be invalid")
	}
}
