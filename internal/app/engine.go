package app

import (
	"fmt"

	"github.com/MrWong99/voicetap/internal/config"
	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/internal/engine/replay"
)

// NewEngine builds the engine selected by cfg.Name.
func NewEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Name {
	case "", "replay":
		tier := engine.TierUnknown
		if cfg.Replay.Tier != "" {
			t, err := engine.ParseTier(cfg.Replay.Tier)
			if err != nil {
				return nil, fmt.Errorf("app: replay engine: %w", err)
			}
			tier = t
		}
		return replay.New(replay.Options{
			File:       cfg.Replay.File,
			Tier:       tier,
			SampleRate: cfg.Replay.SampleRate,
			FrameSize:  cfg.Replay.FrameSize,
			Loop:       cfg.Replay.Loop,
		}), nil
	default:
		return nil, fmt.Errorf("app: unknown engine %q", cfg.Name)
	}
}
