package actuator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/gpio"
)

// ErrDisarmed is returned by Fire once the relay has been disarmed.
var ErrDisarmed = errors.New("actuator: disarmed")

// Config describes the trigger relay line.
type Config struct {
	Pin        int
	ActiveHigh bool
	Pulse      time.Duration // time the relay is held active
	Settle     time.Duration // wait after release before Fire returns
}

// Relay drives the trigger relay through the three-wire driver board:
// - VCC / GND from the Pi header
// - IN: the relay line (active level closes the contact)
//
// Fire sequence:
// 1. IN to active level
// 2. Hold for Pulse
// 3. IN back to inactive level
// 4. Wait Settle before accepting the next shot
type Relay struct {
	lines *gpio.Lines
	cfg   Config

	fireMu   sync.Mutex // serializes whole Fire sequences
	lineMu   sync.Mutex // guards the disarmed check + active write
	disarmed atomic.Bool
	onFire   func()
}

// NewRelay claims the relay line at its inactive level and registers that
// level as the line's safe state. A nil lines handle yields a relay whose
// Fire is a logged no-op.
func NewRelay(lines *gpio.Lines, cfg Config) (*Relay, error) {
	r := &Relay{lines: lines, cfg: cfg}
	if lines == nil {
		debug.Warn("Actuator: no hardware handle, fire is a no-op")
		return r, nil
	}
	if err := lines.ClaimOutput(cfg.Pin, r.inactive()); err != nil {
		return nil, fmt.Errorf("relay pin: %w", err)
	}
	lines.SetSafeLevel(cfg.Pin, r.inactive())
	return r, nil
}

// OnFire registers a callback run after every delivered pulse.
func (r *Relay) OnFire(fn func()) {
	r.onFire = fn
}

func (r *Relay) active() gpio.Level {
	return gpio.Level(r.cfg.ActiveHigh)
}

func (r *Relay) inactive() gpio.Level {
	return gpio.Level(!r.cfg.ActiveHigh)
}

// Fire delivers one fixed-length pulse on the relay line.
func (r *Relay) Fire() error {
	r.fireMu.Lock()
	defer r.fireMu.Unlock()

	if r.lines == nil {
		debug.Info("Actuator: fire requested without hardware handle, skipped")
		return nil
	}

	r.lineMu.Lock()
	if r.disarmed.Load() {
		r.lineMu.Unlock()
		return ErrDisarmed
	}
	debug.Verbose("Actuator: relay ACTIVE (pin %d -> %v)", r.cfg.Pin, r.active())
	r.lines.Write(r.cfg.Pin, r.active())
	r.lineMu.Unlock()

	time.Sleep(r.cfg.Pulse)

	debug.Verbose("Actuator: relay released (pin %d -> %v)", r.cfg.Pin, r.inactive())
	r.lines.Write(r.cfg.Pin, r.inactive())

	time.Sleep(r.cfg.Settle)

	debug.Live("Actuator: fired")
	if r.onFire != nil {
		r.onFire()
	}
	return nil
}

// ForceInactive drives the relay line to its inactive level.
func (r *Relay) ForceInactive() {
	if r.lines == nil {
		return
	}
	r.lineMu.Lock()
	defer r.lineMu.Unlock()
	r.lines.Write(r.cfg.Pin, r.inactive())
}

// Disarm forces the line inactive and makes every later Fire fail. It does
// not wait for a pulse in progress.
func (r *Relay) Disarm() {
	r.disarmed.Store(true)
	r.ForceInactive()
	debug.Info("Actuator: disarmed, relay forced inactive")
}

// Disarmed reports whether Disarm has been called.
func (r *Relay) Disarmed() bool {
	return r.disarmed.Load()
}
