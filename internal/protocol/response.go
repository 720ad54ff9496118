package protocol

import "encoding/json"

// Response is one reply line. Every response carries action and status;
// the remaining fields depend on the action.
type Response struct {
	Action        string   `json:"action"`
	Status        string   `json:"status"`
	Message       string   `json:"message,omitempty"`
	CurrentYaw    *float64 `json:"current_yaw,omitempty"`
	CurrentPitch  *float64 `json:"current_pitch,omitempty"`
	Armed         *bool    `json:"armed,omitempty"`
	Simulated     *bool    `json:"simulated,omitempty"`
	MotorsEnabled *bool    `json:"motors_enabled,omitempty"`
}

// Angles builds an ok response reporting the current position.
func Angles(action string, yaw, pitch float64) Response {
	return Response{
		Action:       action,
		Status:       StatusOK,
		CurrentYaw:   &yaw,
		CurrentPitch: &pitch,
	}
}

// Message builds an ok response carrying a human-readable message.
func Message(action, msg string) Response {
	return Response{Action: action, Status: StatusOK, Message: msg}
}

// Error builds an error response for action.
func Error(action string, err error) Response {
	return Response{Action: action, Status: StatusError, Message: err.Error()}
}

// Status builds the get_status reply.
func Status(yaw, pitch float64, armed, simulated, motorsEnabled bool) Response {
	r := Angles(ActionGetStatus, yaw, pitch)
	r.Armed = &armed
	r.Simulated = &simulated
	r.MotorsEnabled = &motorsEnabled
	return r
}

// Encode renders the response as one newline-terminated line.
func (r Response) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
