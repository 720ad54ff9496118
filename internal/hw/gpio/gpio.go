package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/turret/internal/debug"
)

// Level represents the logical state of a GPIO line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Pull selects the input bias.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// EdgeHandler is called with the new level whenever an input line changes.
// It runs on a driver-owned goroutine and must not block.
type EdgeHandler func(level Level)

var (
	ErrClosed    = errors.New("gpio: lines closed")
	ErrUnclaimed = errors.New("gpio: line not claimed")
)

// Driver defines the abstract interface for claiming and driving GPIO lines.
// This allows plugging in a real chip implementation or a mock for
// development on PC.
type Driver interface {
	ClaimOutput(pin int, initial Level) error
	ClaimInput(pin int, pull Pull, onEdge EdgeHandler) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend  string // "cdev" or "rpio"
	Chip     string // gpiochip name for the cdev backend
	Consumer string // label shown by gpioinfo
	Mock     bool
}

// Open returns the line handle for the chosen backend. When the hardware
// cannot be opened the handle runs in simulation mode instead of failing.
func Open(opts Options) *Lines {
	if opts.Mock {
		debug.Info("Using MOCK GPIO driver (simulation mode)")
		return NewLines(NewMockDriver(), true)
	}

	drv, err := newBackend(opts)
	if err != nil {
		debug.Warn("GPIO unavailable, falling back to simulation mode: %v", err)
		return NewLines(NewMockDriver(), true)
	}
	return NewLines(drv, false)
}

func newBackend(opts Options) (Driver, error) {
	switch opts.Backend {
	case "", "cdev":
		return NewCdevDriver(opts.Chip, opts.Consumer)
	case "rpio":
		return NewRPiRealDriver()
	default:
		return nil, fmt.Errorf("unknown gpio backend: %q", opts.Backend)
	}
}

// MockDriver is a simulation implementation that keeps line levels in
// memory and logs actions. Used for development on PC, testing, and as the
// fallback when the chip cannot be claimed.
type MockDriver struct {
	mu       sync.Mutex
	levels   map[int]Level
	handlers map[int]EdgeHandler
	driven   map[int]bool // set externally through Set
	closed   bool
}

// NewMockDriver creates an empty mock driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels:   make(map[int]Level),
		handlers: make(map[int]EdgeHandler),
		driven:   make(map[int]bool),
	}
}

func (m *MockDriver) ClaimOutput(pin int, initial Level) error {
	debug.GPIO("ClaimOutput", pin, initial)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = initial
	return nil
}

func (m *MockDriver) ClaimInput(pin int, pull Pull, onEdge EdgeHandler) error {
	debug.GPIO("ClaimInput", pin, pull)
	m.mu.Lock()
	defer m.mu.Unlock()
	// A pulled-up input with nothing attached idles high.
	if !m.driven[pin] {
		m.levels[pin] = pull == PullUp
	}
	if onEdge != nil {
		m.handlers[pin] = onEdge
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// Set simulates an external signal on an input line, invoking its edge
// handler when the level changes. The level survives a later claim.
func (m *MockDriver) Set(pin int, level Level) {
	m.mu.Lock()
	prev, known := m.levels[pin]
	m.levels[pin] = level
	m.driven[pin] = true
	h := m.handlers[pin]
	closed := m.closed
	m.mu.Unlock()

	if h != nil && !closed && (!known || prev != level) {
		h(level)
	}
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
