package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	req, err := Decode([]byte(`{"action":"set_angles","yaw":45,"pitch":-30}`))
	require.NoError(t, err)
	assert.Equal(t, ActionSetAngles, req.Action)
	require.NotNil(t, req.Yaw)
	require.NotNil(t, req.Pitch)
	assert.Equal(t, 45.0, *req.Yaw)
	assert.Equal(t, -30.0, *req.Pitch)
	assert.Nil(t, req.DeltaYaw)
}

func TestDecode_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"action":`,
		`{}`,
		`{"action":"   "}`,
		`{"action":5}`,
		`[1,2]`,
	}
	for _, line := range cases {
		_, err := Decode([]byte(line))
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		line string
		want error
	}{
		{"get_angles", `{"action":"get_angles"}`, nil},
		{"fire", `{"action":"fire"}`, nil},
		{"reset", `{"action":"reset_angles"}`, nil},
		{"status", `{"action":"get_status"}`, nil},
		{"set_angles_partial", `{"action":"set_angles","yaw":10}`, nil},
		{"delta", `{"action":"set_proportional_angles_delta","delta_yaw":1.5}`, nil},
		{"manual", `{"action":"move_by_direction","yaw_direction":1,"pitch_direction":0,"degrees_to_move":2.0}`, nil},
		{"manual_float_direction", `{"action":"move_by_direction","yaw_direction":-1.0}`, nil},
		{"manual_bad_direction", `{"action":"move_by_direction","yaw_direction":2}`, ErrInvalidField},
		{"manual_fractional_direction", `{"action":"move_by_direction","pitch_direction":0.5}`, ErrInvalidField},
		{"manual_negative_degrees", `{"action":"move_by_direction","yaw_direction":1,"degrees_to_move":-1}`, ErrInvalidField},
		{"motors", `{"action":"set_motors_enabled","enabled":false}`, nil},
		{"motors_missing", `{"action":"set_motors_enabled"}`, ErrInvalidField},
		{"jog", `{"action":"jog_steps","axis":"pitch","steps":-200}`, nil},
		{"jog_bad_axis", `{"action":"jog_steps","axis":"roll","steps":1}`, ErrInvalidField},
		{"jog_fractional", `{"action":"jog_steps","axis":"yaw","steps":1.5}`, ErrInvalidField},
		{"jog_missing_steps", `{"action":"jog_steps","axis":"yaw"}`, ErrInvalidField},
		{"jog_max", `{"action":"jog_steps","axis":"yaw","steps":-1048576}`, nil},
		{"jog_overflow", `{"action":"jog_steps","axis":"yaw","steps":1e19}`, ErrInvalidField},
		{"unknown", `{"action":"self_destruct"}`, ErrUnknownAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := Decode([]byte(tc.line))
			require.NoError(t, err)
			err = req.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestRequestDefaults(t *testing.T) {
	req, err := Decode([]byte(`{"action":"move_by_direction","pitch_direction":-1}`))
	require.NoError(t, err)

	yaw, pitch := req.Directions()
	assert.Equal(t, 0, yaw)
	assert.Equal(t, -1, pitch)
	assert.Equal(t, 0.0, req.Degrees())

	dy, dp := req.Deltas()
	assert.Equal(t, 0.0, dy)
	assert.Equal(t, 0.0, dp)
}

func TestResponseEncode(t *testing.T) {
	b, err := Angles(ActionSetAngles, 45, -30).Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"action":"set_angles","status":"ok","current_yaw":45,"current_pitch":-30}`+"\n", string(b))

	b, err = Angles(ActionGetAngles, 0, 0).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"get_angles","status":"ok","current_yaw":0,"current_pitch":0}`, string(b))
}

func TestResponseMessageAndError(t *testing.T) {
	b, err := Message(ActionFire, "fired").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"fire","status":"ok","message":"fired"}`, string(b))

	b, err = Error("self_destruct", ErrUnknownAction).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"self_destruct","status":"error","message":"unknown action"}`, string(b))
}

func TestStatusResponse(t *testing.T) {
	b, err := Status(1, 2, true, false, true).Encode()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "get_status", got["action"])
	assert.Equal(t, true, got["armed"])
	assert.Equal(t, false, got["simulated"])
	assert.Equal(t, true, got["motors_enabled"])
}
