package bridge

import (
	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/pkg/audio"
)

// PassThrough makes the tap transparent to the engine: it copies the valid
// input planes of frame into its output planes so the engine plays back what
// it captured.
//
// For the insert categories input plane i is copied to output plane i for
// every plane below the tier's input (insert-in) or output (insert-out)
// count. The main bus buffer carries every input followed by every bus
// output, so output plane i is taken from input plane Inputs+i. Planes past
// the tier limit, or missing from the frame, are left untouched. An unknown
// tier leaves the frame unchanged.
func PassThrough(frame *audio.Frame, cat engine.Category, tier engine.Tier) {
	caps := tier.Capabilities()
	switch cat {
	case engine.InsertInput:
		copyPlanes(frame.Outputs, frame.Inputs, 0, caps.Inputs)
	case engine.InsertOutput:
		copyPlanes(frame.Outputs, frame.Inputs, 0, caps.Outputs)
	case engine.Main:
		copyPlanes(frame.Outputs, frame.Inputs, caps.Inputs, caps.Outputs)
	}
}

func copyPlanes(dst, src [][]float32, offset, n int) {
	for i := 0; i < n && i < len(dst) && offset+i < len(src); i++ {
		copy(dst[i], src[offset+i])
	}
}
