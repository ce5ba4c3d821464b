// Package mock provides a scriptable in-memory implementation of
// [engine.Engine] for use in unit tests.
//
// Return values are configured through exported fields. Every call is
// recorded in order in Calls, so tests can assert lifecycle ordering. Tests
// drive the registered handler directly with [Engine.Deliver],
// [Engine.StartSession], [Engine.ChangeSession] and [Engine.EndSession]; the
// drive helpers only reach the handler while the callback is started, which
// mirrors a real engine. It is safe for concurrent use.
//
// Example:
//
//	e := &mock.Engine{TierResult: engine.TierBanana}
//	b, err := bridge.Activate(ctx, e, bridge.NewHub(), bridge.Options{})
//	e.Deliver(engine.InsertInput, frame)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/pkg/audio"
)

// Compile-time interface assertion.
var _ engine.Engine = (*Engine)(nil)

// Engine is a mock implementation of [engine.Engine].
type Engine struct {
	mu sync.Mutex

	// LoginResult is the status returned by Login.
	LoginResult engine.LoginStatus

	// LoginError is the error returned by Login.
	LoginError error

	// LaunchErrors maps a tier to the error Launch returns for it. Tiers
	// missing from the map launch successfully.
	LaunchErrors map[engine.Tier]error

	// TierResult is returned by Tier.
	TierResult engine.Tier

	// TierError is returned by Tier.
	TierError error

	// VersionResult is returned by Version.
	VersionResult engine.Version

	// VersionError is returned by Version.
	VersionError error

	// DevicesResult is returned by InputDevices.
	DevicesResult []engine.Device

	// DevicesError is returned by InputDevices.
	DevicesError error

	// RegisterError is returned by RegisterCallback.
	RegisterError error

	// StartError is returned by StartCallback.
	StartError error

	// StopError is returned by StopCallback.
	StopError error

	// UnregisterError is returned by UnregisterCallback.
	UnregisterError error

	// LogoutError is returned by Logout.
	LogoutError error

	// Calls records the name of every method invoked, in order.
	Calls []string

	// LaunchCalls records the tiers passed to Launch, in order.
	LaunchCalls []engine.Tier

	// RegisteredName is the client name passed to RegisterCallback.
	RegisteredName string

	handler engine.Handler
	started bool
}

func (e *Engine) record(name string) {
	e.Calls = append(e.Calls, name)
}

// Login implements [engine.Engine].
func (e *Engine) Login(_ context.Context) (engine.LoginStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Login")
	return e.LoginResult, e.LoginError
}

// Launch implements [engine.Engine].
func (e *Engine) Launch(_ context.Context, t engine.Tier) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Launch")
	e.LaunchCalls = append(e.LaunchCalls, t)
	return e.LaunchErrors[t]
}

// Tier implements [engine.Engine].
func (e *Engine) Tier() (engine.Tier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Tier")
	return e.TierResult, e.TierError
}

// SetTier changes the values later returned by Tier.
func (e *Engine) SetTier(t engine.Tier, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TierResult = t
	e.TierError = err
}

// Version implements [engine.Engine].
func (e *Engine) Version() (engine.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Version")
	return e.VersionResult, e.VersionError
}

// InputDevices implements [engine.Engine].
func (e *Engine) InputDevices() ([]engine.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("InputDevices")
	return e.DevicesResult, e.DevicesError
}

// RegisterCallback implements [engine.Engine].
func (e *Engine) RegisterCallback(name string, h engine.Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("RegisterCallback")
	if e.RegisterError != nil {
		return e.RegisterError
	}
	e.RegisteredName = name
	e.handler = h
	return nil
}

// StartCallback implements [engine.Engine].
func (e *Engine) StartCallback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("StartCallback")
	if e.StartError != nil {
		return e.StartError
	}
	if e.handler == nil {
		return engine.ErrNotRegistered
	}
	e.started = true
	return nil
}

// StopCallback implements [engine.Engine].
func (e *Engine) StopCallback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("StopCallback")
	e.started = false
	return e.StopError
}

// UnregisterCallback implements [engine.Engine].
func (e *Engine) UnregisterCallback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("UnregisterCallback")
	e.handler = nil
	return e.UnregisterError
}

// Logout implements [engine.Engine].
func (e *Engine) Logout() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Logout")
	return e.LogoutError
}

// Started reports whether the callback is currently started.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// CallsSnapshot returns a copy of Calls.
func (e *Engine) CallsSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.Calls))
	copy(out, e.Calls)
	return out
}

// active returns the handler if the callback is started.
func (e *Engine) active() engine.Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	return e.handler
}

// Deliver invokes BufferReady on the registered handler. It reports whether
// the handler was reached.
func (e *Engine) Deliver(cat engine.Category, frame *audio.Frame) bool {
	h := e.active()
	if h == nil {
		return false
	}
	h.BufferReady(cat, frame)
	return true
}

// StartSession invokes SessionStarting on the registered handler.
func (e *Engine) StartSession(info engine.StreamInfo) bool {
	h := e.active()
	if h == nil {
		return false
	}
	h.SessionStarting(info)
	return true
}

// ChangeSession invokes SessionChanged on the registered handler.
func (e *Engine) ChangeSession(info engine.StreamInfo) bool {
	h := e.active()
	if h == nil {
		return false
	}
	h.SessionChanged(info)
	return true
}

// EndSession invokes SessionEnding on the registered handler.
func (e *Engine) EndSession() bool {
	h := e.active()
	if h == nil {
		return false
	}
	h.SessionEnding()
	return true
}
