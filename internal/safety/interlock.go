package safety

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/gpio"
)

// ErrTripped reports that the emergency stop fired. The process must be
// restarted to move again.
var ErrTripped = errors.New("safety: emergency stop tripped")

// State of the interlock.
type State int

const (
	Armed State = iota
	Tripped
)

func (s State) String() string {
	if s == Tripped {
		return "tripped"
	}
	return "armed"
}

// Halter stops pulse generation and forces the step lines low.
type Halter interface {
	Halt()
}

// Disarmer forces the actuator inactive and refuses further shots.
type Disarmer interface {
	Disarm()
}

// Interlock watches the emergency-stop input. On a falling edge it halts the
// steppers, disarms the actuator and releases the hardware handle, then
// notifies its subscribers. Tripped is terminal.
type Interlock struct {
	lines *gpio.Lines
	halt  Halter
	relay Disarmer

	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	state  State
	reason string
	onTrip []func(reason string)
}

func New(lines *gpio.Lines, halt Halter, relay Disarmer) *Interlock {
	return &Interlock{
		lines: lines,
		halt:  halt,
		relay: relay,
		done:  make(chan struct{}),
	}
}

// OnTrip registers fn to run once, after the hardware has been made safe.
func (i *Interlock) OnTrip(fn func(reason string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onTrip = append(i.onTrip, fn)
}

// Arm claims the e-stop line with a pull-up and starts watching for the
// falling edge. A line already held low trips immediately.
func (i *Interlock) Arm(pin int) error {
	if err := i.lines.ClaimInput(pin, gpio.PullUp, i.edge); err != nil {
		return fmt.Errorf("estop pin: %w", err)
	}
	level, err := i.lines.Read(pin)
	if err != nil {
		return fmt.Errorf("estop pin: %w", err)
	}
	if level == gpio.Low {
		i.Trip("emergency stop asserted at startup")
		return ErrTripped
	}
	debug.Info("Emergency stop armed on pin %d", pin)
	return nil
}

// edge runs on the driver's event goroutine. The trip itself closes the
// driver, so it must not run here.
func (i *Interlock) edge(level gpio.Level) {
	if level == gpio.Low {
		go i.Trip("emergency stop pressed")
	}
}

// Trip moves the interlock to Tripped. Only the first call has an effect.
func (i *Interlock) Trip(reason string) {
	i.once.Do(func() {
		i.mu.Lock()
		i.state = Tripped
		i.reason = reason
		callbacks := append([]func(string){}, i.onTrip...)
		i.mu.Unlock()

		debug.Error(fmt.Errorf("%w: %s", ErrTripped, reason))
		if i.halt != nil {
			i.halt.Halt()
		}
		if i.relay != nil {
			i.relay.Disarm()
		}
		if err := i.lines.Close(); err != nil {
			debug.Warn("releasing GPIO after trip: %v", err)
		}
		close(i.done)

		for _, fn := range callbacks {
			fn(reason)
		}
	})
}

// Done is closed once the trip has made the hardware safe.
func (i *Interlock) Done() <-chan struct{} {
	return i.done
}

func (i *Interlock) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Reason returns why the interlock tripped, or "".
func (i *Interlock) Reason() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reason
}

// Err returns ErrTripped once tripped, nil while armed.
func (i *Interlock) Err() error {
	if i.State() == Tripped {
		return ErrTripped
	}
	return nil
}
