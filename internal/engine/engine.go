// Package engine defines the port between the audio bridge and the external
// virtual mixing engine.
//
// The mixing engine owns the real-time audio thread. Once a callback has been
// registered and started it invokes a [Handler] for every session event and
// for every buffer it processes, tagged with the [Category] (the point in the
// signal chain) the buffer was captured from. The [Engine] interface is the
// outbound half: login, tier and version discovery, device enumeration, and
// callback lifecycle.
//
// Which planes are meaningful in a buffer depends on the product [Tier]
// reported by the engine. The capability table is exposed through
// [Tier.Capabilities], [Tier.PlaneLimit] and [Tier.FrameShape]; every lookup
// on an unknown tier yields zero so callers degrade to silence instead of
// indexing out of range.
//
// This package lives under internal/ because the bridge, router, and replay
// engine are its only consumers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voicetap/pkg/audio"
)

// Sentinel errors. Implementations wrap them with context; callers match with
// [errors.Is].
var (
	// ErrDeviceNotFound means the mixing engine (or its client library) is
	// not installed or could not be reached.
	ErrDeviceNotFound = errors.New("engine: device not found")

	// ErrLoginFailed means the client could not log in and no tier could be
	// launched.
	ErrLoginFailed = errors.New("engine: login failed")

	// ErrVersionQuery means the engine identity or version could not be read.
	ErrVersionQuery = errors.New("engine: version query failed")

	// ErrCallbackConflict means another client already holds the audio
	// callback under the requested name.
	ErrCallbackConflict = errors.New("engine: callback already registered")

	// ErrNotRegistered is returned by callback operations issued before
	// RegisterCallback succeeded.
	ErrNotRegistered = errors.New("engine: callback not registered")

	// ErrUnknownTier means the engine reported a tier outside the
	// capability table.
	ErrUnknownTier = errors.New("engine: unknown tier")

	// ErrStaleConfiguration marks a route that points outside the valid plane
	// range for the current tier and category. It is reported, never
	// returned from the audio path.
	ErrStaleConfiguration = errors.New("engine: stale configuration")
)

// ─── Tier ─────────────────────────────────────────────────────────────────────

// Tier is the product capability level of the mixing engine.
type Tier int

const (
	// TierUnknown is reported before the engine identity is known or when
	// the identity query fails.
	TierUnknown Tier = iota
	TierBasic
	TierBanana
	TierPotato
)

// Tiers lists the known tiers in ascending capability order.
var Tiers = []Tier{TierBasic, TierBanana, TierPotato}

// Capabilities holds the plane counts a tier exposes.
type Capabilities struct {
	// Inputs is the number of hardware and virtual input planes.
	Inputs int

	// Outputs is the number of bus output planes.
	Outputs int

	// Mains is the number of planes on the main bus buffer: every input
	// followed by every output.
	Mains int
}

// capabilities is indexed by Tier. Index 0 is the unknown tier.
var capabilities = [...]Capabilities{
	TierUnknown: {0, 0, 0},
	TierBasic:   {12, 16, 28},
	TierBanana:  {22, 40, 62},
	TierPotato:  {34, 64, 98},
}

// Valid reports whether t is one of [Tiers].
func (t Tier) Valid() bool { return t >= TierBasic && t <= TierPotato }

// Capabilities returns the plane counts for t, or the zero value for an
// unknown tier.
func (t Tier) Capabilities() Capabilities {
	if !t.Valid() {
		return Capabilities{}
	}
	return capabilities[t]
}

// PlaneLimit returns the number of input planes a listener of category c may
// route from. Insert-input buffers are bounded by the input count; the
// insert-output and main buffers by the output count.
func (t Tier) PlaneLimit(c Category) int {
	caps := t.Capabilities()
	switch c {
	case InsertInput:
		return caps.Inputs
	case InsertOutput, Main:
		return caps.Outputs
	default:
		return 0
	}
}

// FrameShape returns the input and output plane counts of a buffer of
// category c as the engine delivers it.
func (t Tier) FrameShape(c Category) (inputs, outputs int) {
	caps := t.Capabilities()
	switch c {
	case InsertInput:
		return caps.Inputs, caps.Inputs
	case InsertOutput:
		return caps.Outputs, caps.Outputs
	case Main:
		return caps.Mains, caps.Outputs
	default:
		return 0, 0
	}
}

// String returns the lower-case product name of the tier.
func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierBanana:
		return "banana"
	case TierPotato:
		return "potato"
	default:
		return "unknown"
	}
}

// ParseTier is the inverse of [Tier.String] for the known tiers. Matching is
// case-insensitive.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return TierUnknown, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// ─── Category ─────────────────────────────────────────────────────────────────

// Category identifies the point in the engine's signal chain a buffer was
// captured from. The numeric values are the persisted "stage" setting.
type Category int

const (
	InsertInput Category = iota
	InsertOutput
	Main
)

// Categories lists every category in stage order.
var Categories = []Category{InsertInput, InsertOutput, Main}

// Valid reports whether c is one of [Categories].
func (c Category) Valid() bool { return c >= InsertInput && c <= Main }

// String returns the identifier used in logs and metric attributes.
func (c Category) String() string {
	switch c {
	case InsertInput:
		return "insert-in"
	case InsertOutput:
		return "insert-out"
	case Main:
		return "main"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// DisplayName returns the stage name shown next to route choices.
func (c Category) DisplayName() string {
	switch c {
	case InsertInput:
		return "Input"
	case InsertOutput:
		return "Output"
	case Main:
		return "Main"
	default:
		return "Unknown"
	}
}

// ─── Identity ─────────────────────────────────────────────────────────────────

// Version is the four-part engine version.
type Version struct {
	Major, Minor, Patch, Build uint8
}

// VersionFromPacked unpacks a version reported as a single 32-bit value with
// the major component in the most significant byte.
func VersionFromPacked(v uint32) Version {
	return Version{
		Major: uint8(v >> 24),
		Minor: uint8(v >> 16),
		Patch: uint8(v >> 8),
		Build: uint8(v),
	}
}

// String formats the version as major.minor.patch.build.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Build)
}

// DriverKind is the driver model an audio device is exposed through.
type DriverKind int

const (
	DriverUnknown DriverKind = 0
	DriverMME     DriverKind = 1
	DriverWDM     DriverKind = 3
	DriverKS      DriverKind = 4
	DriverASIO    DriverKind = 5
)

// Known reports whether k is one of the supported driver models.
func (k DriverKind) Known() bool {
	switch k {
	case DriverMME, DriverWDM, DriverKS, DriverASIO:
		return true
	default:
		return false
	}
}

// String returns the driver model name.
func (k DriverKind) String() string {
	switch k {
	case DriverMME:
		return "MME"
	case DriverWDM:
		return "WDM"
	case DriverKS:
		return "KS"
	case DriverASIO:
		return "ASIO"
	default:
		return "unknown"
	}
}

// Device describes one input device known to the engine.
type Device struct {
	Kind DriverKind
	Name string
	ID   string
}

// StreamInfo describes the audio session announced by the engine.
type StreamInfo struct {
	SampleRate int
	Samples    int // samples per plane per buffer
	Inputs     int
	Outputs    int
}

// LoginStatus is the result code of [Engine.Login].
type LoginStatus int

const (
	// LoginOK means the client is logged in and the engine is running.
	LoginOK LoginStatus = 0

	// LoginNotRunning means the client is logged in but the engine
	// application is not running; a tier must be launched.
	LoginNotRunning LoginStatus = 1

	// LoginNoClient means the client interface could not be obtained.
	LoginNoClient LoginStatus = -1

	// LoginRejected means the engine refused the login.
	LoginRejected LoginStatus = -2
)

// String returns a short description of the status.
func (s LoginStatus) String() string {
	switch s {
	case LoginOK:
		return "ok"
	case LoginNotRunning:
		return "not running"
	case LoginNoClient:
		return "no client"
	case LoginRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ─── Ports ────────────────────────────────────────────────────────────────────

// Handler is the inbound port the engine calls from its audio thread.
//
// Every method runs on the engine's real-time thread and must return within a
// small bounded time. The frame passed to BufferReady is owned by the engine:
// its output planes are played back after the call returns, and it must not
// be retained.
type Handler interface {
	// SessionStarting is called once before the first buffer of a session.
	SessionStarting(info StreamInfo)

	// SessionChanged is called when the sample rate, buffer size or plane
	// counts change mid-session.
	SessionChanged(info StreamInfo)

	// SessionEnding is called after the last buffer of a session.
	SessionEnding()

	// BufferReady delivers one buffer of category cat.
	BufferReady(cat Category, frame *audio.Frame)
}

// Engine is the outbound port to the mixing engine. Implementations must be
// safe for concurrent use.
type Engine interface {
	// Login connects the client. A [LoginNotRunning] status is not an error;
	// the caller is expected to [Engine.Launch] a tier.
	Login(ctx context.Context) (LoginStatus, error)

	// Launch starts the engine application at tier t.
	Launch(ctx context.Context, t Tier) error

	// Tier reports the running engine's tier.
	Tier() (Tier, error)

	// Version reports the running engine's version.
	Version() (Version, error)

	// InputDevices enumerates the input devices the engine can capture from.
	InputDevices() ([]Device, error)

	// RegisterCallback installs h under the client name. It returns an error
	// wrapping [ErrCallbackConflict] if another client holds the callback.
	RegisterCallback(name string, h Handler) error

	// StartCallback begins delivering events to the registered handler.
	StartCallback() error

	// StopCallback stops delivery. When it returns no handler method is
	// running or will run.
	StopCallback() error

	// UnregisterCallback removes the handler.
	UnregisterCallback() error

	// Logout disconnects the client.
	Logout() error
}
