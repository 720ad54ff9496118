package motion

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/stepper"
	"github.com/cjeanneret/turret/internal/logic/geometry"
)

var (
	ErrInvalidTarget = errors.New("motion: target must be a finite angle")
	ErrInvalidIntent = errors.New("motion: invalid manual intent")
	ErrInvalidJog    = errors.New("motion: jog exceeds one revolution")
)

// MaxDegreesPerTick bounds one manual tick so a tick in progress, which
// holds the motion lock, always ends within half a turn.
const MaxDegreesPerTick = 180.0

// Driver is the pulse generator the controller moves through.
// *stepper.DualAxis satisfies it.
type Driver interface {
	MoveSimultaneous(stepsYaw, stepsPitch int) (stepper.Moved, error)
	MoveAxis(axis stepper.Axis, steps int) (stepper.Moved, error)
	SetEnabled(on bool)
}

// Recorder receives move and position updates. *observability.Collector
// satisfies it.
type Recorder interface {
	MoveCompleted(yawSteps, pitchSteps int, took time.Duration)
	SetPosition(yaw, pitch float64)
}

// Position is the dead-reckoned turret pose in degrees, each axis in (-180, 180].
type Position struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Intent is a standing manual-motion instruction applied on every tick.
type Intent struct {
	YawDir         int     `json:"yaw_direction"`
	PitchDir       int     `json:"pitch_direction"`
	DegreesPerTick float64 `json:"degrees_per_tick"`
}

// IsZero reports whether applying the intent would move nothing.
func (in Intent) IsZero() bool {
	return (in.YawDir == 0 && in.PitchDir == 0) || in.DegreesPerTick == 0
}

// Validate checks directions are in {-1, 0, 1} and the rate is a finite
// number in [0, MaxDegreesPerTick].
func (in Intent) Validate() error {
	if in.YawDir < -1 || in.YawDir > 1 {
		return fmt.Errorf("%w: yaw_direction %d", ErrInvalidIntent, in.YawDir)
	}
	if in.PitchDir < -1 || in.PitchDir > 1 {
		return fmt.Errorf("%w: pitch_direction %d", ErrInvalidIntent, in.PitchDir)
	}
	if in.DegreesPerTick < 0 || in.DegreesPerTick > MaxDegreesPerTick || math.IsNaN(in.DegreesPerTick) {
		return fmt.Errorf("%w: degrees_to_move %v", ErrInvalidIntent, in.DegreesPerTick)
	}
	return nil
}

// Controller is the angle model: it owns the turret position and the manual
// intent, turns angle requests into step counts, and drives the steppers.
//
// Two locks: motionMu serializes compute-move-update sequences so two moves
// never interleave; mu guards the stored values and is only held briefly,
// so readers are never blocked by a pulse train.
type Controller struct {
	drv  Driver
	calc *geometry.StepsCalculator
	rec  Recorder

	motionMu sync.Mutex

	mu            sync.RWMutex
	pos           Position
	intent        Intent
	motorsEnabled bool
}

func NewController(drv Driver, calc *geometry.StepsCalculator) *Controller {
	return &Controller{
		drv:           drv,
		calc:          calc,
		motorsEnabled: true,
	}
}

// SetRecorder attaches a metrics recorder. Call before the controller is shared.
func (c *Controller) SetRecorder(r Recorder) {
	c.rec = r
}

// Position returns the current pose.
func (c *Controller) Position() Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos
}

// SetTarget rotates both axes along the shortest path to (yaw, pitch).
func (c *Controller) SetTarget(yaw, pitch float64) (Position, error) {
	return c.SetTargetPartial(&yaw, &pitch)
}

// SetTargetPartial is SetTarget where a nil axis keeps its current angle.
func (c *Controller) SetTargetPartial(yaw, pitch *float64) (Position, error) {
	if !finite(yaw) || !finite(pitch) {
		return c.Position(), ErrInvalidTarget
	}
	return c.moveTo(func(cur Position) Position {
		tgt := cur
		if yaw != nil {
			tgt.Yaw = *yaw
		}
		if pitch != nil {
			tgt.Pitch = *pitch
		}
		return tgt
	})
}

// MoveBy rotates by a relative amount: the target is current + delta,
// still reached along the shortest path.
func (c *Controller) MoveBy(deltaYaw, deltaPitch float64) (Position, error) {
	if !finite(&deltaYaw) || !finite(&deltaPitch) {
		return c.Position(), ErrInvalidTarget
	}
	return c.moveTo(func(cur Position) Position {
		return Position{Yaw: cur.Yaw + deltaYaw, Pitch: cur.Pitch + deltaPitch}
	})
}

func (c *Controller) moveTo(target func(cur Position) Position) (Position, error) {
	c.motionMu.Lock()
	defer c.motionMu.Unlock()

	cur := c.Position()
	tgt := target(cur)
	dYaw := geometry.ShortestDelta(cur.Yaw, tgt.Yaw)
	dPitch := geometry.ShortestDelta(cur.Pitch, tgt.Pitch)

	debug.Verbose("Move to yaw=%.2f pitch=%.2f (delta %.2f, %.2f)", tgt.Yaw, tgt.Pitch, dYaw, dPitch)
	return c.step(c.calc.YawStepsFromAngle(dYaw), c.calc.PitchStepsFromAngle(dPitch))
}

// ApplyManualTick advances each axis by direction * degrees_per_tick of the
// current intent. A zero intent moves nothing.
func (c *Controller) ApplyManualTick() (Position, error) {
	c.motionMu.Lock()
	defer c.motionMu.Unlock()

	in := c.Intent()
	if in.IsZero() {
		return c.Position(), nil
	}
	yawSteps := c.calc.YawStepsFromAngle(float64(in.YawDir) * in.DegreesPerTick)
	pitchSteps := c.calc.PitchStepsFromAngle(float64(in.PitchDir) * in.DegreesPerTick)
	return c.step(yawSteps, pitchSteps)
}

// Jog emits a raw step count on one axis and folds it into the position.
// At most one revolution of the axis is accepted.
func (c *Controller) Jog(axis stepper.Axis, steps int) (Position, error) {
	perRev := c.calc.YawStepsPerDegree() * 360
	if axis == stepper.Pitch {
		perRev = c.calc.PitchStepsPerDegree() * 360
	}
	if math.Abs(float64(steps)) > perRev {
		return c.Position(), fmt.Errorf("%w: %d steps on %s", ErrInvalidJog, steps, axis)
	}

	c.motionMu.Lock()
	defer c.motionMu.Unlock()

	if steps == 0 {
		return c.Position(), nil
	}
	start := time.Now()
	moved, err := c.drv.MoveAxis(axis, steps)
	return c.advance(moved, time.Since(start)), err
}

// step runs one simultaneous move. Called with motionMu held.
func (c *Controller) step(yawSteps, pitchSteps int) (Position, error) {
	if yawSteps == 0 && pitchSteps == 0 {
		return c.Position(), nil
	}
	start := time.Now()
	moved, err := c.drv.MoveSimultaneous(yawSteps, pitchSteps)
	return c.advance(moved, time.Since(start)), err
}

// advance adds the steps actually emitted to the stored pose.
func (c *Controller) advance(moved stepper.Moved, took time.Duration) Position {
	c.mu.Lock()
	c.pos.Yaw = geometry.Normalize(c.pos.Yaw + c.calc.YawAngleFromSteps(moved.Yaw))
	c.pos.Pitch = geometry.Normalize(c.pos.Pitch + c.calc.PitchAngleFromSteps(moved.Pitch))
	pos := c.pos
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.MoveCompleted(moved.Yaw, moved.Pitch, took)
		c.rec.SetPosition(pos.Yaw, pos.Pitch)
	}
	return pos
}

// Reset declares the current physical pose the new logical zero. No motion.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.pos = Position{}
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.SetPosition(0, 0)
	}
	debug.Live("Angles reset to (0, 0)")
}

// Intent returns the current manual intent.
func (c *Controller) Intent() Intent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.intent
}

// SetIntent replaces the manual intent after validating it.
func (c *Controller) SetIntent(in Intent) error {
	if err := in.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.intent = in
	c.mu.Unlock()
	debug.Verbose("Manual intent yaw=%d pitch=%d deg/tick=%.2f", in.YawDir, in.PitchDir, in.DegreesPerTick)
	return nil
}

// ClearIntent stops manual motion after the tick in progress.
func (c *Controller) ClearIntent() {
	c.mu.Lock()
	c.intent = Intent{}
	c.mu.Unlock()
}

// SetMotorsEnabled switches holding torque. It waits for any move in progress.
func (c *Controller) SetMotorsEnabled(on bool) {
	c.motionMu.Lock()
	defer c.motionMu.Unlock()

	c.drv.SetEnabled(on)
	c.mu.Lock()
	c.motorsEnabled = on
	c.mu.Unlock()
}

// MotorsEnabled reports the last requested enable state.
func (c *Controller) MotorsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.motorsEnabled
}

func finite(v *float64) bool {
	return v == nil || !(math.IsNaN(*v) || math.IsInf(*v, 0))
}
