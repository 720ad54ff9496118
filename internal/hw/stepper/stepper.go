package stepper

import (
	"fmt"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/gpio"
)

// Axis names one independently driven rotational degree of freedom.
type Axis string

const (
	Yaw   Axis = "yaw"
	Pitch Axis = "pitch"
)

// ParseAxis converts a wire name into an Axis.
func ParseAxis(s string) (Axis, error) {
	switch Axis(s) {
	case Yaw, Pitch:
		return Axis(s), nil
	default:
		return "", fmt.Errorf("unknown axis %q", s)
	}
}

// Config holds the line assignment for one stepper driver (DRV8825/A4988 style).
type Config struct {
	StepPin        int
	DirPin         int
	EnablePin      int  // ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	DirForwardHigh bool // level of DIR for positive step counts
}

// Stepper owns the three lines of a single axis. Pulse generation lives in
// DualAxis so both axes share one timing loop.
type Stepper struct {
	name  Axis
	lines *gpio.Lines
	cfg   Config
}

// NewStepper claims the axis lines. STEP and DIR start LOW; the driver is
// enabled right away so the axis holds position.
func NewStepper(name Axis, lines *gpio.Lines, cfg Config) (*Stepper, error) {
	if err := lines.ClaimOutput(cfg.StepPin, gpio.Low); err != nil {
		return nil, fmt.Errorf("%s step pin: %w", name, err)
	}
	if err := lines.ClaimOutput(cfg.DirPin, gpio.Low); err != nil {
		return nil, fmt.Errorf("%s dir pin: %w", name, err)
	}

	// ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		if err := lines.ClaimOutput(cfg.EnablePin, gpio.Low); err != nil {
			return nil, fmt.Errorf("%s enable pin: %w", name, err)
		}
	}

	debug.Verbose("Stepper %s ready (step=%d dir=%d enable=%d)", name, cfg.StepPin, cfg.DirPin, cfg.EnablePin)
	return &Stepper{name: name, lines: lines, cfg: cfg}, nil
}

// Name returns the axis this stepper drives.
func (s *Stepper) Name() Axis {
	return s.name
}

// setDirection drives DIR from the sign of steps: non-negative is forward.
func (s *Stepper) setDirection(steps int) {
	forward := s.cfg.DirForwardHigh
	if steps >= 0 {
		s.lines.Write(s.cfg.DirPin, gpio.Level(forward))
	} else {
		s.lines.Write(s.cfg.DirPin, gpio.Level(!forward))
	}
}

func (s *Stepper) stepHigh() {
	s.lines.Write(s.cfg.StepPin, gpio.High)
}

func (s *Stepper) stepLow() {
	s.lines.Write(s.cfg.StepPin, gpio.Low)
}

// Enable turns on the motor driver (ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() {
	if s.cfg.EnablePin <= 0 {
		return
	}
	s.lines.Write(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() {
	if s.cfg.EnablePin <= 0 {
		return
	}
	s.lines.Write(s.cfg.EnablePin, gpio.High)
}
