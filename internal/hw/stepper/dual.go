package stepper

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/turret/internal/debug"
)

// ErrHalted is returned when a move is cut short, or refused, because the
// driver has been halted.
var ErrHalted = errors.New("stepper: halted")

// Moved reports the signed number of steps actually emitted per axis.
type Moved struct {
	Yaw   int
	Pitch int
}

// DualAxis drives yaw and pitch from one timing loop so both pulse trains
// start together and keep the same cadence.
type DualAxis struct {
	yaw    *Stepper
	pitch  *Stepper
	half   time.Duration // half of the step period
	settle time.Duration // DIR setup time before the first pulse

	// pulseMu is held for the HIGH half of every pulse so Halt can wait for
	// a pulse in flight before forcing the step lines low.
	pulseMu sync.Mutex
	halted  atomic.Bool
}

// NewDualAxis creates the shared pulse generator. halfPeriod defaults to
// 625µs (1.25ms per step) and settle to 1µs when zero.
func NewDualAxis(yaw, pitch *Stepper, halfPeriod, settle time.Duration) *DualAxis {
	if halfPeriod <= 0 {
		halfPeriod = 625 * time.Microsecond
	}
	if settle <= 0 {
		settle = time.Microsecond
	}
	return &DualAxis{
		yaw:    yaw,
		pitch:  pitch,
		half:   halfPeriod,
		settle: settle,
	}
}

// MoveSimultaneous emits |stepsYaw| and |stepsPitch| pulses on the two step
// lines. Pulse i goes to every axis whose count exceeds i, so the shorter
// train simply ends early. A zero move touches no line.
func (d *DualAxis) MoveSimultaneous(stepsYaw, stepsPitch int) (Moved, error) {
	if d.halted.Load() {
		return Moved{}, ErrHalted
	}

	absYaw, absPitch := abs(stepsYaw), abs(stepsPitch)
	n := max(absYaw, absPitch)
	if n == 0 {
		return Moved{}, nil
	}

	d.yaw.setDirection(stepsYaw)
	d.pitch.setDirection(stepsPitch)
	time.Sleep(d.settle)

	debug.Move(string(Yaw), absYaw, direction(stepsYaw))
	debug.Move(string(Pitch), absPitch, direction(stepsPitch))

	done := 0
	for i := 0; i < n; i++ {
		if !d.pulse(i < absYaw, i < absPitch) {
			break
		}
		done++
	}

	moved := Moved{
		Yaw:   sign(stepsYaw) * min(done, absYaw),
		Pitch: sign(stepsPitch) * min(done, absPitch),
	}
	if done < n {
		debug.Warn("move halted after %d of %d pulses", done, n)
		return moved, ErrHalted
	}
	return moved, nil
}

// MoveAxis moves a single axis; the other axis emits nothing.
func (d *DualAxis) MoveAxis(axis Axis, steps int) (Moved, error) {
	if axis == Pitch {
		return d.MoveSimultaneous(0, steps)
	}
	return d.MoveSimultaneous(steps, 0)
}

func (d *DualAxis) pulse(yaw, pitch bool) bool {
	d.pulseMu.Lock()
	if d.halted.Load() {
		d.pulseMu.Unlock()
		return false
	}
	if yaw {
		d.yaw.stepHigh()
	}
	if pitch {
		d.pitch.stepHigh()
	}
	time.Sleep(d.half)
	d.yaw.stepLow()
	d.pitch.stepLow()
	d.pulseMu.Unlock()

	time.Sleep(d.half)
	return true
}

// Halt stops any pulse train within one half-period, forces both step lines
// low, and refuses every later move.
func (d *DualAxis) Halt() {
	d.halted.Store(true)
	d.ForceStepLow()
	debug.Info("Stepper pulse generation halted, step lines LOW")
}

// ForceStepLow drives both step lines low once no pulse is in its HIGH half.
func (d *DualAxis) ForceStepLow() {
	d.pulseMu.Lock()
	defer d.pulseMu.Unlock()
	d.yaw.stepLow()
	d.pitch.stepLow()
}

// Halted reports whether Halt has been called.
func (d *DualAxis) Halted() bool {
	return d.halted.Load()
}

// SetEnabled switches holding torque on or off for both axes.
func (d *DualAxis) SetEnabled(on bool) {
	if on {
		d.yaw.Enable()
		d.pitch.Enable()
		debug.Live("Motors ENABLED (holding torque)")
		return
	}
	d.yaw.Disable()
	d.pitch.Disable()
	debug.Live("Motors DISABLED (freewheel)")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

func direction(steps int) string {
	if steps < 0 {
		return "reverse"
	}
	return "forward"
}
