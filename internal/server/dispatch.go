package server

import (
	"errors"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/stepper"
	"github.com/cjeanneret/turret/internal/journal"
	"github.com/cjeanneret/turret/internal/logic/motion"
	"github.com/cjeanneret/turret/internal/protocol"
	"github.com/cjeanneret/turret/internal/safety"
)

// handle turns one request line into exactly one response.
func (s *Session) handle(line []byte) protocol.Response {
	resp, label := s.dispatch(line)
	s.srv.opts.Metrics.CommandHandled(label, resp.Status)
	if resp.Status == protocol.StatusError {
		debug.Logger().Warn().Str("session", s.ID).Str("action", resp.Action).Msg(resp.Message)
	}
	return resp
}

// invalid answers a line that could not be read as a request.
func (s *Session) invalid(err error) protocol.Response {
	resp := protocol.Error(protocol.ActionInvalid, err)
	s.srv.opts.Metrics.CommandHandled(protocol.ActionInvalid, resp.Status)
	debug.Logger().Warn().Str("session", s.ID).Msg(resp.Message)
	return resp
}

// dispatch also returns the metrics label: the action for known actions,
// "invalid" or "unknown" otherwise.
func (s *Session) dispatch(line []byte) (protocol.Response, string) {
	req, err := protocol.Decode(line)
	if err != nil {
		return protocol.Error(protocol.ActionInvalid, err), protocol.ActionInvalid
	}
	if err := req.Validate(); err != nil {
		if errors.Is(err, protocol.ErrUnknownAction) {
			return protocol.Error(req.Action, protocol.ErrUnknownAction), "unknown"
		}
		return protocol.Error(req.Action, err), req.Action
	}
	debug.Trace("session %s: %s", s.ID, line)

	opts := s.srv.opts
	ctrl := opts.Controller

	switch req.Action {
	case protocol.ActionSetAngles:
		pos, err := ctrl.SetTargetPartial(req.Yaw, req.Pitch)
		return moved(req.Action, pos, err), req.Action

	case protocol.ActionGetAngles:
		pos := ctrl.Position()
		return protocol.Angles(req.Action, pos.Yaw, pos.Pitch), req.Action

	case protocol.ActionFire:
		if opts.Relay != nil {
			if err := opts.Relay.Fire(); err != nil {
				return protocol.Error(req.Action, err), req.Action
			}
		}
		opts.Journal.Record(journal.Fire, s.ID, "")
		return protocol.Message(req.Action, "fired"), req.Action

	case protocol.ActionResetAngles:
		ctrl.Reset()
		opts.Journal.Record(journal.Reset, s.ID, "")
		return protocol.Message(req.Action, "angles reset to (0, 0)"), req.Action

	case protocol.ActionMoveByDirection:
		yawDir, pitchDir := req.Directions()
		in := motion.Intent{YawDir: yawDir, PitchDir: pitchDir, DegreesPerTick: req.Degrees()}
		if err := ctrl.SetIntent(in); err != nil {
			return protocol.Error(req.Action, err), req.Action
		}
		pos := ctrl.Position()
		return protocol.Angles(req.Action, pos.Yaw, pos.Pitch), req.Action

	case protocol.ActionSetDelta:
		pos, err := ctrl.MoveBy(req.Deltas())
		return moved(req.Action, pos, err), req.Action

	case protocol.ActionSetMotorsEnabled:
		ctrl.SetMotorsEnabled(*req.Enabled)
		if *req.Enabled {
			return protocol.Message(req.Action, "motors enabled"), req.Action
		}
		return protocol.Message(req.Action, "motors disabled"), req.Action

	case protocol.ActionJogSteps:
		axis, err := stepper.ParseAxis(*req.Axis)
		if err != nil {
			return protocol.Error(req.Action, err), req.Action
		}
		pos, err := ctrl.Jog(axis, req.StepCount())
		return moved(req.Action, pos, err), req.Action

	case protocol.ActionGetStatus:
		pos := ctrl.Position()
		armed := opts.Interlock == nil || opts.Interlock.State() == safety.Armed
		simulated := opts.Lines != nil && opts.Lines.Simulated()
		return protocol.Status(pos.Yaw, pos.Pitch, armed, simulated, ctrl.MotorsEnabled()), req.Action
	}

	// Validate accepted an action the switch does not handle.
	return protocol.Error(req.Action, protocol.ErrUnknownAction), "unknown"
}

// moved reports the pose after a move, or the move's error.
func moved(action string, pos motion.Position, err error) protocol.Response {
	if err != nil {
		return protocol.Error(action, err)
	}
	return protocol.Angles(action, pos.Yaw, pos.Pitch)
}
