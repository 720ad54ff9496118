package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pollInterval is how often watched inputs are sampled. go-rpio has no
// reliable edge interrupts on current kernels, so edges are found by polling.
const pollInterval = time.Millisecond

// RPiDriver is the /dev/gpiomem implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
	stop chan struct{}
	once sync.Once
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
		stop: make(chan struct{}),
	}, nil
}

func (r *RPiDriver) ClaimOutput(pin int, initial Level) error {
	debug.GPIO("ClaimOutput", pin, initial)

	p := rpio.Pin(pin)
	p.Output()
	writeRPi(p, initial)

	r.mu.Lock()
	r.pins[pin] = p
	r.mu.Unlock()
	return nil
}

func (r *RPiDriver) ClaimInput(pin int, pull Pull, onEdge EdgeHandler) error {
	debug.GPIO("ClaimInput", pin, pull)

	p := rpio.Pin(pin)
	p.Input()
	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	case PullNone:
		p.PullOff()
	default:
		return fmt.Errorf("unknown pull mode: %d", pull)
	}

	r.mu.Lock()
	r.pins[pin] = p
	r.mu.Unlock()

	if onEdge != nil {
		go r.watch(p, onEdge)
	}
	return nil
}

func (r *RPiDriver) watch(p rpio.Pin, onEdge EdgeHandler) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := p.Read()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			s := p.Read()
			if s != last {
				last = s
				onEdge(s == rpio.High)
			}
		}
	}
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	r.mu.Lock()
	p, ok := r.pins[pin]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrUnclaimed)
	}

	writeRPi(p, level)
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	r.mu.Lock()
	p, ok := r.pins[pin]
	r.mu.Unlock()
	if !ok {
		return Low, fmt.Errorf("pin %d: %w", pin, ErrUnclaimed)
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close stops edge polling and unmaps GPIO memory. Output lines keep their
// last level so motor drivers stay enabled.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (go-rpio)")
	r.once.Do(func() { close(r.stop) })
	return rpio.Close()
}

func writeRPi(p rpio.Pin, level Level) {
	if level == High {
		p.High()
	} else {
		p.Low()
	}
}
