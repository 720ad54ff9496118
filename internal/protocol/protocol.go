// Package protocol defines the line-delimited JSON records exchanged with
// the operator console: one request object per line in, one response object
// per line out.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Actions understood by the command server.
const (
	ActionSetAngles        = "set_angles"
	ActionGetAngles        = "get_angles"
	ActionFire             = "fire"
	ActionResetAngles      = "reset_angles"
	ActionMoveByDirection  = "move_by_direction"
	ActionSetDelta         = "set_proportional_angles_delta"
	ActionSetMotorsEnabled = "set_motors_enabled"
	ActionJogSteps         = "jog_steps"
	ActionGetStatus        = "get_status"
	ActionInvalid          = "invalid" // reply action for undecodable lines
	ActionConnect          = "connect" // reply action for rejected connections
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// MaxJogSteps bounds the magnitude of jog_steps so it always fits an int.
const MaxJogSteps = 1 << 20

var (
	ErrMalformed     = errors.New("malformed request")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidField  = errors.New("invalid field")
)

// Request is one decoded command line. Absent fields stay nil.
type Request struct {
	Action string `json:"action"`

	Yaw   *float64 `json:"yaw,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`

	DeltaYaw   *float64 `json:"delta_yaw,omitempty"`
	DeltaPitch *float64 `json:"delta_pitch,omitempty"`

	// Directions arrive as JSON numbers; integral values only.
	YawDirection   *float64 `json:"yaw_direction,omitempty"`
	PitchDirection *float64 `json:"pitch_direction,omitempty"`
	DegreesToMove  *float64 `json:"degrees_to_move,omitempty"`

	Enabled *bool    `json:"enabled,omitempty"`
	Axis    *string  `json:"axis,omitempty"`
	Steps   *float64 `json:"steps,omitempty"`
}

// Decode parses one line. Surrounding whitespace is ignored.
func Decode(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		return req, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	return req, nil
}

// Validate checks the fields the action needs. Optional fields that are
// absent keep their documented default (current angle, 0 or false).
func (r Request) Validate() error {
	switch r.Action {
	case ActionGetAngles, ActionFire, ActionResetAngles, ActionGetStatus:
		return nil
	case ActionSetAngles:
		return finite(map[string]*float64{"yaw": r.Yaw, "pitch": r.Pitch})
	case ActionSetDelta:
		return finite(map[string]*float64{"delta_yaw": r.DeltaYaw, "delta_pitch": r.DeltaPitch})
	case ActionMoveByDirection:
		if err := direction("yaw_direction", r.YawDirection); err != nil {
			return err
		}
		if err := direction("pitch_direction", r.PitchDirection); err != nil {
			return err
		}
		if err := finite(map[string]*float64{"degrees_to_move": r.DegreesToMove}); err != nil {
			return err
		}
		if r.DegreesToMove != nil && *r.DegreesToMove < 0 {
			return fmt.Errorf("%w: degrees_to_move must be >= 0", ErrInvalidField)
		}
		return nil
	case ActionSetMotorsEnabled:
		if r.Enabled == nil {
			return fmt.Errorf("%w: enabled is required", ErrInvalidField)
		}
		return nil
	case ActionJogSteps:
		if r.Axis == nil || (*r.Axis != "yaw" && *r.Axis != "pitch") {
			return fmt.Errorf("%w: axis must be yaw or pitch", ErrInvalidField)
		}
		if r.Steps == nil || !integral(*r.Steps) {
			return fmt.Errorf("%w: steps must be an integer", ErrInvalidField)
		}
		if math.Abs(*r.Steps) > MaxJogSteps {
			return fmt.Errorf("%w: steps must be within ±%d", ErrInvalidField, MaxJogSteps)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, r.Action)
	}
}

// Directions returns the manual-motion directions, absent as 0.
func (r Request) Directions() (yaw, pitch int) {
	return intOr(r.YawDirection), intOr(r.PitchDirection)
}

// Degrees returns degrees_to_move, absent as 0.
func (r Request) Degrees() float64 {
	return floatOr(r.DegreesToMove)
}

// Deltas returns the relative move, absent axes as 0.
func (r Request) Deltas() (yaw, pitch float64) {
	return floatOr(r.DeltaYaw), floatOr(r.DeltaPitch)
}

// StepCount returns the jog step count.
func (r Request) StepCount() int {
	return intOr(r.Steps)
}

func finite(fields map[string]*float64) error {
	for name, v := range fields {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalidField, name)
		}
	}
	return nil
}

func direction(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if !integral(*v) || *v < -1 || *v > 1 {
		return fmt.Errorf("%w: %s must be -1, 0 or 1", ErrInvalidField, name)
	}
	return nil
}

func integral(v float64) bool {
	return v == math.Trunc(v) && !math.IsInf(v, 0)
}

func intOr(v *float64) int {
	if v == nil {
		return 0
	}
	return int(*v)
}

func floatOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
