package debug

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, sessions, trips)
	LevelLive    = 2 // Live info (commands, moves, fires)
	LevelVerbose = 3 // Verbose (step calculations, angles)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  atomic.Int32
	logger atomic.Pointer[zerolog.Logger]

	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

func init() {
	nop := zerolog.Nop()
	logger.Store(&nop)
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (startup, sessions, emergency stop)
// 2 = live info (commands, movements, fires)
// 3 = verbose (step calculations, angles)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level.Store(int32(debugLevel))
	rebuild()
}

// SetOutput redirects log output (e.g. to tee lines to status stream clients).
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
	rebuild()
}

func rebuild() {
	lvl := int(level.Load())
	if lvl <= LevelOff {
		nop := zerolog.Nop()
		logger.Store(&nop)
		return
	}

	outMu.Lock()
	w := out
	outMu.Unlock()

	console := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05.000"}
	l := zerolog.New(console).Level(zerologLevel(lvl)).With().Timestamp().Str("app", "turretd").Logger()
	logger.Store(&l)
}

func zerologLevel(lvl int) zerolog.Level {
	switch {
	case lvl >= LevelTrace:
		return zerolog.TraceLevel
	case lvl >= LevelVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the structured logger for callers that attach fields.
// The returned logger is shared and must not be modified.
func Logger() *zerolog.Logger {
	return logger.Load()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Load().Info().Msgf(format, args...)
	}
}

// Warn prints a warning. Warnings are shown from level 1.
func Warn(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Load().Warn().Msgf(format, args...)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if IsEnabled(LevelLive) {
		logger.Load().Info().Str("tag", "live").Msgf(format, args...)
	}
}

// Move prints a motor movement (level 2).
func Move(axis string, steps int, direction string) {
	if IsEnabled(LevelLive) {
		logger.Load().Info().Str("tag", "live").Str("axis", axis).Int("steps", steps).Str("dir", direction).Msg("motor move")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if IsEnabled(LevelVerbose) {
		logger.Load().Debug().Msgf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if IsEnabled(LevelVerbose) {
		logger.Load().Debug().Msgf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if IsEnabled(LevelVerbose) {
		l := logger.Load()
		l.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Debug().Msgf("  %s", name)
		l.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if IsEnabled(LevelVerbose) {
		logger.Load().Debug().Msgf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Load().Info().Msgf("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if IsEnabled(LevelTrace) {
		logger.Load().Trace().Msgf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if IsEnabled(LevelTrace) {
		logger.Load().Trace().Str("op", operation).Int("pin", pin).Interface("value", value).Msg("gpio")
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if IsEnabled(LevelInfo) {
		logger.Load().Error().Err(err).Msg("error")
	}
}
