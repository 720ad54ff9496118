package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/turret/internal/debug"
)

type claim struct {
	output  bool
	initial Level
	pull    Pull
	onEdge  EdgeHandler
}

// Lines is the process-wide hardware handle. It owns the driver and every
// claimed line. Writes never fail the caller: a write to an unclaimed line
// or after Close is logged and dropped, so a bad line cannot take the
// command server down with it.
type Lines struct {
	mu        sync.Mutex
	drv       Driver
	simulated bool
	closed    bool
	claims    map[int]claim
	safe      map[int]Level
}

// NewLines wraps a driver. simulated marks a handle that drives no hardware.
func NewLines(drv Driver, simulated bool) *Lines {
	return &Lines{
		drv:       drv,
		simulated: simulated,
		claims:    make(map[int]claim),
		safe:      make(map[int]Level),
	}
}

// Simulated reports whether the handle runs without physical hardware.
func (l *Lines) Simulated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.simulated
}

// Closed reports whether Close has been called.
func (l *Lines) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ClaimOutput claims pin as an output driven to initial.
func (l *Lines) ClaimOutput(pin int, initial Level) error {
	return l.claim(pin, claim{output: true, initial: initial})
}

// ClaimInput claims pin as an input with the given bias. onEdge may be nil.
func (l *Lines) ClaimInput(pin int, pull Pull, onEdge EdgeHandler) error {
	return l.claim(pin, claim{pull: pull, onEdge: onEdge})
}

func (l *Lines) claim(pin int, c claim) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if pin < 0 {
		return fmt.Errorf("invalid pin %d", pin)
	}

	if err := claimOn(l.drv, pin, c); err != nil {
		if l.simulated {
			return err
		}
		l.fallback(err)
		if err := claimOn(l.drv, pin, c); err != nil {
			return err
		}
	}
	l.claims[pin] = c
	return nil
}

func claimOn(drv Driver, pin int, c claim) error {
	if c.output {
		return drv.ClaimOutput(pin, c.initial)
	}
	return drv.ClaimInput(pin, c.pull, c.onEdge)
}

// fallback swaps the hardware driver for a mock and replays earlier claims.
// Called with l.mu held.
func (l *Lines) fallback(cause error) {
	debug.Warn("GPIO claim failed, switching to simulation mode: %v", cause)
	if err := l.drv.Close(); err != nil {
		debug.Warn("closing hardware driver: %v", err)
	}
	mock := NewMockDriver()
	for pin, c := range l.claims {
		_ = claimOn(mock, pin, c)
	}
	l.drv = mock
	l.simulated = true
}

// Write drives an output line. Unclaimed lines and writes after Close are
// logged and ignored.
func (l *Lines) Write(pin int, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		debug.Warn("write to pin %d after close ignored", pin)
		return
	}
	c, ok := l.claims[pin]
	if !ok || !c.output {
		debug.Warn("write to unclaimed output pin %d ignored", pin)
		return
	}
	if err := l.drv.WritePin(pin, level); err != nil {
		debug.Warn("write pin %d=%v failed: %v", pin, level, err)
	}
}

// Read samples a claimed line.
func (l *Lines) Read(pin int) (Level, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Low, ErrClosed
	}
	if _, ok := l.claims[pin]; !ok {
		return Low, fmt.Errorf("pin %d: %w", pin, ErrUnclaimed)
	}
	return l.drv.ReadPin(pin)
}

// SetSafeLevel registers the level a line must be left at when the handle
// is closed. Lines without a safe level are left as they are.
func (l *Lines) SetSafeLevel(pin int, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.safe[pin] = level
}

// Close drives every registered safe level and releases the hardware.
// Motor enable lines carry no safe level on purpose: holding torque is kept.
// Close is idempotent.
func (l *Lines) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	for pin, level := range l.safe {
		if _, ok := l.claims[pin]; !ok {
			continue
		}
		if err := l.drv.WritePin(pin, level); err != nil {
			errs = append(errs, fmt.Errorf("safe level on pin %d: %w", pin, err))
		}
	}
	if err := l.drv.Close(); err != nil {
		errs = append(errs, err)
	}
	debug.Info("GPIO handle released")
	return errors.Join(errs...)
}
