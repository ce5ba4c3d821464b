package audio_test

import (
	"testing"

	"github.com/MrWong99/voicetap/pkg/audio"
	"github.com/MrWong99/voicetap/pkg/audio/mock"
)

func TestFrameBuffer_FirstStoreAllocates(t *testing.T) {
	var b audio.FrameBuffer
	src := mock.NewFrame(3, 2, 64)
	src.Timestamp = 42

	if grew := b.Store(src, false); !grew {
		t.Fatal("first Store should allocate")
	}
	if got := b.Allocations(); got != 5 {
		t.Errorf("Allocations = %d, want 5", got)
	}

	f := b.Frame()
	if f.InputCount() != 3 || f.OutputCount() != 2 {
		t.Fatalf("plane counts = %d/%d, want 3/2", f.InputCount(), f.OutputCount())
	}
	if f.Samples != 64 || f.SampleRate != 48000 || f.Timestamp != 42 {
		t.Errorf("metadata = %d/%d/%d, want 64/48000/42", f.Samples, f.SampleRate, f.Timestamp)
	}
	if f.Inputs[2][10] != 3 || f.Outputs[1][63] != -2 {
		t.Errorf("sample data not copied: in[2]=%v out[1]=%v", f.Inputs[2][10], f.Outputs[1][63])
	}
}

func TestFrameBuffer_NoAliasing(t *testing.T) {
	var b audio.FrameBuffer
	src := mock.NewFrame(2, 2, 16)
	b.Store(src, false)

	src.Inputs[0][0] = 99
	src.Outputs[1][5] = 99

	f := b.Frame()
	if f.Inputs[0][0] == 99 || f.Outputs[1][5] == 99 {
		t.Fatal("stored frame aliases the source planes")
	}
}

func TestFrameBuffer_ReuseWhenSizeStable(t *testing.T) {
	var b audio.FrameBuffer
	sizes := []int{256, 256, 128, 256, 64}

	for i, n := range sizes {
		src := mock.NewFrame(4, 4, n)
		src.Timestamp = uint64(i)
		grew := b.Store(src, b.Used())
		if i == 0 {
			continue
		}
		if grew {
			t.Errorf("write %d (%d samples) reallocated; want in-place reuse", i, n)
		}
		if got := b.Frame().Samples; got != n {
			t.Errorf("write %d: Samples = %d, want %d", i, got, n)
		}
		if got := len(b.Frame().Inputs[3]); got != n {
			t.Errorf("write %d: plane length = %d, want %d", i, got, n)
		}
	}
	if got := b.Allocations(); got != 8 {
		t.Errorf("Allocations = %d, want 8 (first write only)", got)
	}
	if got := b.Releases(); got != 0 {
		t.Errorf("Releases = %d, want 0", got)
	}
}

func TestFrameBuffer_GrowthReleasesOldPlanesOnce(t *testing.T) {
	var b audio.FrameBuffer
	sizes := []int{64, 128, 256, 512}
	const planes = 2 + 3

	for _, n := range sizes {
		if grew := b.Store(mock.NewFrame(2, 3, n), b.Used()); !grew {
			t.Fatalf("Store(%d samples) did not reallocate", n)
		}
		if got := len(b.Frame().Outputs[2]); got != n {
			t.Fatalf("plane length = %d, want %d", got, n)
		}
	}

	if got, want := b.Allocations(), planes*len(sizes); got != want {
		t.Errorf("Allocations = %d, want %d", got, want)
	}
	if got, want := b.Releases(), planes*(len(sizes)-1); got != want {
		t.Errorf("Releases = %d, want %d", got, want)
	}

	b.Release()
	b.Release()
	if got, want := b.Releases(), b.Allocations(); got != want {
		t.Errorf("after Release: Releases = %d, want %d (every plane freed once)", got, want)
	}
	if !b.Released() || b.Used() {
		t.Error("buffer should be released and unused")
	}
}

func TestFrameBuffer_PlaneCountGrowthReallocates(t *testing.T) {
	var b audio.FrameBuffer
	b.Store(mock.NewFrame(2, 2, 128), false)

	if grew := b.Store(mock.NewFrame(4, 2, 64), true); !grew {
		t.Fatal("more input planes than owned must reallocate")
	}
	if got := b.Frame().InputCount(); got != 4 {
		t.Errorf("InputCount = %d, want 4", got)
	}
	if got := b.Frame().Inputs[3][0]; got != 4 {
		t.Errorf("Inputs[3][0] = %v, want 4", got)
	}
}

func TestFrameBuffer_ReuseFalseAlwaysReallocates(t *testing.T) {
	var b audio.FrameBuffer
	b.Store(mock.NewFrame(1, 1, 32), false)
	if grew := b.Store(mock.NewFrame(1, 1, 32), false); !grew {
		t.Error("Store with reuse=false should reallocate")
	}
	if got := b.Releases(); got != 2 {
		t.Errorf("Releases = %d, want 2", got)
	}
}

func TestFrameBuffer_ShortSourcePlaneZeroPadded(t *testing.T) {
	var b audio.FrameBuffer
	b.Store(mock.NewFrame(1, 0, 8), false)

	src := &audio.Frame{
		Inputs:  [][]float32{{5, 5}},
		Samples: 8,
	}
	b.Store(src, true)

	got := b.Frame().Inputs[0]
	want := []float32{5, 5, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFrameBuffer_ReleaseUnusedIsNoop(t *testing.T) {
	var b audio.FrameBuffer
	b.Release()
	if b.Releases() != 0 {
		t.Errorf("Releases = %d, want 0", b.Releases())
	}
	if !b.Released() {
		t.Error("Released() = false after Release")
	}
}
