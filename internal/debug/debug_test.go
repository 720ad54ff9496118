package debug

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init(LevelOff)
	})
	return &buf
}

func TestLevelGating(t *testing.T) {
	buf := capture(t, LevelInfo)

	Info("startup %d", 1)
	Live("should not appear")
	Verbose("nor this")
	Trace("nor this either")

	out := buf.String()
	assert.Contains(t, out, "startup 1")
	assert.NotContains(t, out, "should not appear")
	assert.NotContains(t, out, "nor this")
}

func TestTraceShowsGPIO(t *testing.T) {
	buf := capture(t, LevelTrace)

	GPIO("WritePin", 22, true)
	assert.Contains(t, buf.String(), "pin=22")
	assert.Contains(t, buf.String(), "op=WritePin")
}

func TestOffProducesNothing(t *testing.T) {
	buf := capture(t, LevelOff)

	Info("hidden")
	Warn("hidden")
	Error(errors.New("hidden"))
	assert.Empty(t, buf.String())
}

func TestIsEnabled(t *testing.T) {
	capture(t, LevelVerbose)

	assert.True(t, IsEnabled(LevelInfo))
	assert.True(t, IsEnabled(LevelVerbose))
	assert.False(t, IsEnabled(LevelTrace))
	assert.Equal(t, LevelVerbose, Level())
}

func TestLoggerCarriesFields(t *testing.T) {
	buf := capture(t, LevelInfo)

	Logger().Info().Str("session", "abc").Msg("session opened")
	assert.Contains(t, buf.String(), "session=abc")
	assert.Contains(t, buf.String(), "app=turretd")
}

func TestLoggerChildKeepsFields(t *testing.T) {
	buf := capture(t, LevelInfo)

	child := Logger().With().Str("remote", "10.0.0.2:5000").Logger()
	child.Warn().Msg("bad line")
	assert.Contains(t, buf.String(), "remote=10.0.0.2:5000")
	assert.Contains(t, buf.String(), "bad line")
}
