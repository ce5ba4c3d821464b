package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voicetap/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLayouts_ListsEveryLayout(t *testing.T) {
	out, err := execute(t, "layouts")
	if err != nil {
		t.Fatalf("layouts: %v", err)
	}
	for _, want := range []string{"mono", "stereo", "2.1", "5.1", "7.1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLayouts_Choices(t *testing.T) {
	out, err := execute(t, "layouts", "--tier", "basic", "--stage", "0")
	if err != nil {
		t.Fatalf("layouts: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 13 {
		t.Fatalf("got %d choices, want 13:\n%s", len(lines), out)
	}
	if lines[0] != "-1\tMute" || lines[12] != "11\tInput 11" {
		t.Errorf("first/last = %q/%q", lines[0], lines[12])
	}
}

func TestLayouts_BadFlags(t *testing.T) {
	if _, err := execute(t, "layouts", "--tier", "gold"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if _, err := execute(t, "layouts", "--tier", "basic", "--stage", "5"); err == nil {
		t.Error("expected error for invalid stage")
	}
}

func TestDevices_ToneWithoutConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")
	out, err := execute(t, "devices", "--config", missing)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "engine: not running") {
		t.Errorf("expected not-running engine:\n%s", out)
	}
	if !strings.Contains(out, "Test Tone") || !strings.Contains(out, "WDM") {
		t.Errorf("expected tone device:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "voicetap version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, lv := newLogger(&buf, config.LogWarn, config.LogFormatJSON)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not a single JSON record: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	lv.Set(-4) // debug
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("level change through LevelVar not applied")
	}
}
