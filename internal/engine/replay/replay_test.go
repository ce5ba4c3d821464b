package replay_test

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/internal/engine/replay"
	"github.com/MrWong99/voicetap/pkg/audio"
	"github.com/MrWong99/voicetap/pkg/audio/mock"
)

// recorder is an engine.Handler that keeps the first frame of every
// category and counts events.
type recorder struct {
	mu       sync.Mutex
	starting []engine.StreamInfo
	ending   int
	buffers  map[engine.Category]int
	first    map[engine.Category]audio.Frame
}

func newRecorder() *recorder {
	return &recorder{
		buffers: make(map[engine.Category]int),
		first:   make(map[engine.Category]audio.Frame),
	}
}

func (r *recorder) SessionStarting(info engine.StreamInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting = append(r.starting, info)
}

func (r *recorder) SessionChanged(engine.StreamInfo) {}

func (r *recorder) SessionEnding() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ending++
}

func (r *recorder) BufferReady(cat engine.Category, f *audio.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buffers[cat] == 0 {
		r.first[cat] = mock.Clone(f)
	}
	r.buffers[cat]++
}

func (r *recorder) count(cat engine.Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffers[cat]
}

// writeWAV writes a 16-bit stereo file: left is +0.5, right is -0.5.
func writeWAV(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 48000, 16, 2, 1)
	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[2*i] = 16384
		data[2*i+1] = -16384
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: 48000},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReplay_FileDeliversShapedBuffers(t *testing.T) {
	t.Parallel()

	e := replay.New(replay.Options{
		File:      writeWAV(t, 96),
		Tier:      engine.TierBasic,
		FrameSize: 48,
	})
	status, err := e.Login(context.Background())
	if err != nil || status != engine.LoginOK {
		t.Fatalf("Login = %v, %v", status, err)
	}

	rec := newRecorder()
	if err := e.RegisterCallback("test", rec); err != nil {
		t.Fatalf("RegisterCallback: %v", err)
	}
	if err := e.StartCallback(); err != nil {
		t.Fatalf("StartCallback: %v", err)
	}

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("non-looping replay did not finish")
	}
	_ = e.StopCallback()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if len(rec.starting) != 1 || rec.ending != 1 {
		t.Fatalf("session events = %d starting / %d ending, want 1/1", len(rec.starting), rec.ending)
	}
	if info := rec.starting[0]; info.SampleRate != 48000 || info.Samples != 48 || info.Inputs != 12 {
		t.Errorf("StreamInfo = %+v", info)
	}
	for _, cat := range engine.Categories {
		if got := rec.buffers[cat]; got != 2 {
			t.Errorf("%s buffers = %d, want 2", cat, got)
		}
	}

	main := rec.first[engine.Main]
	if main.InputCount() != 28 || main.OutputCount() != 16 {
		t.Errorf("main shape = %d/%d, want 28/16", main.InputCount(), main.OutputCount())
	}
	in := rec.first[engine.InsertInput]
	if in.InputCount() != 12 || in.Samples != 48 || in.SampleRate != 48000 {
		t.Errorf("insert-in frame = %d planes, %d samples @ %d", in.InputCount(), in.Samples, in.SampleRate)
	}
	if in.Inputs[0][0] != 0.5 || in.Inputs[1][0] != -0.5 || in.Inputs[2][5] != 0.5 {
		t.Errorf("source channels not spread round-robin: %v %v %v", in.Inputs[0][0], in.Inputs[1][0], in.Inputs[2][5])
	}
	for _, p := range in.Outputs {
		for _, v := range p {
			if v != 0 {
				t.Fatal("output planes must be cleared before delivery")
			}
		}
	}
}

func TestReplay_ToneLoopsUntilStopped(t *testing.T) {
	t.Parallel()

	e := replay.New(replay.Options{Tier: engine.TierPotato, FrameSize: 48})
	if _, err := e.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	_ = e.RegisterCallback("test", rec)
	if err := e.StartCallback(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return rec.count(engine.Main) >= 5 })

	if err := e.StopCallback(); err != nil {
		t.Fatal(err)
	}
	n := rec.count(engine.Main)
	time.Sleep(10 * time.Millisecond)
	if got := rec.count(engine.Main); got != n {
		t.Errorf("buffers delivered after StopCallback: %d -> %d", n, got)
	}

	devs, _ := e.InputDevices()
	if len(devs) != 1 || devs[0].ID != "tone" {
		t.Errorf("InputDevices = %+v", devs)
	}
}

func TestReplay_MissingFileIsDeviceNotFound(t *testing.T) {
	t.Parallel()

	e := replay.New(replay.Options{File: filepath.Join(t.TempDir(), "nope.wav"), Tier: engine.TierBasic})
	status, err := e.Login(context.Background())
	if !errors.Is(err, engine.ErrDeviceNotFound) {
		t.Fatalf("Login err = %v, want ErrDeviceNotFound", err)
	}
	if status != engine.LoginNoClient {
		t.Errorf("status = %v, want %v", status, engine.LoginNoClient)
	}
}

func TestReplay_ZeroSampleRateIsDeviceNotFound(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 960)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Sample rate field of the canonical fmt chunk; the byte rate stays set.
	binary.LittleEndian.PutUint32(raw[24:28], 0)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	e := replay.New(replay.Options{File: path, Tier: engine.TierBasic})
	if _, err := e.Login(context.Background()); !errors.Is(err, engine.ErrDeviceNotFound) {
		t.Fatalf("Login err = %v, want ErrDeviceNotFound", err)
	}
}

func TestReplay_NotRunningUntilLaunched(t *testing.T) {
	t.Parallel()

	e := replay.New(replay.Options{MaxTier: engine.TierBanana})
	status, err := e.Login(context.Background())
	if err != nil || status != engine.LoginNotRunning {
		t.Fatalf("Login = %v, %v; want not running", status, err)
	}
	if _, err := e.Tier(); !errors.Is(err, engine.ErrVersionQuery) {
		t.Errorf("Tier before launch err = %v, want ErrVersionQuery", err)
	}

	if err := e.Launch(context.Background(), engine.TierPotato); !errors.Is(err, engine.ErrDeviceNotFound) {
		t.Errorf("Launch(potato) err = %v, want ErrDeviceNotFound", err)
	}
	if err := e.Launch(context.Background(), engine.TierBanana); err != nil {
		t.Fatalf("Launch(banana): %v", err)
	}
	tier, err := e.Tier()
	if err != nil || tier != engine.TierBanana {
		t.Errorf("Tier = %v, %v", tier, err)
	}
	v, err := e.Version()
	if err != nil || v.Major != 2 {
		t.Errorf("Version = %v, %v", v, err)
	}
}

func TestReplay_SecondRegistrationConflicts(t *testing.T) {
	t.Parallel()

	e := replay.New(replay.Options{Tier: engine.TierBasic})
	_, _ = e.Login(context.Background())
	if err := e.RegisterCallback("first", newRecorder()); err != nil {
		t.Fatal(err)
	}
	if err := e.RegisterCallback("second", newRecorder()); !errors.Is(err, engine.ErrCallbackConflict) {
		t.Errorf("second RegisterCallback err = %v, want ErrCallbackConflict", err)
	}
	if err := e.UnregisterCallback(); err != nil {
		t.Fatal(err)
	}
	if err := e.UnregisterCallback(); !errors.Is(err, engine.ErrNotRegistered) {
		t.Errorf("second UnregisterCallback err = %v, want ErrNotRegistered", err)
	}
	if err := e.StartCallback(); !errors.Is(err, engine.ErrNotRegistered) {
		t.Errorf("StartCallback err = %v, want ErrNotRegistered", err)
	}
}
