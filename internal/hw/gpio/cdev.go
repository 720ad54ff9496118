package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver claims lines through the Linux GPIO character device.
// Each pin is requested as its own line so inputs can carry an event handler.
type CdevDriver struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver opens the named chip (e.g. "gpiochip0").
func NewCdevDriver(chip, consumer string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	if consumer == "" {
		consumer = "turretd"
	}
	debug.Info("Initializing GPIO character device driver (%s)", chip)

	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", chip, err)
	}

	return &CdevDriver{
		chip:  c,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (d *CdevDriver) ClaimOutput(pin int, initial Level) error {
	debug.GPIO("ClaimOutput", pin, initial)

	l, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(levelValue(initial)))
	if err != nil {
		return fmt.Errorf("claim output %d: %w", pin, err)
	}
	d.store(pin, l)
	return nil
}

func (d *CdevDriver) ClaimInput(pin int, pull Pull, onEdge EdgeHandler) error {
	debug.GPIO("ClaimInput", pin, pull)

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	switch pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if onEdge != nil {
		opts = append(opts,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				switch evt.Type {
				case gpiocdev.LineEventFallingEdge:
					onEdge(Low)
				case gpiocdev.LineEventRisingEdge:
					onEdge(High)
				}
			}))
	}

	l, err := d.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("claim input %d: %w", pin, err)
	}
	d.store(pin, l)
	return nil
}

func (d *CdevDriver) store(pin int, l *gpiocdev.Line) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.lines[pin]; ok {
		_ = old.Close()
	}
	d.lines[pin] = l
}

func (d *CdevDriver) line(pin int) (*gpiocdev.Line, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lines[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d: %w", pin, ErrUnclaimed)
	}
	return l, nil
}

func (d *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, err := d.line(pin)
	if err != nil {
		return err
	}
	return l.SetValue(levelValue(level))
}

func (d *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	l, err := d.line(pin)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, err
	}
	return v != 0, nil
}

// Close releases every requested line and the chip. The kernel keeps the
// last driven value on released outputs on the Pi, which preserves the
// motor enable state.
func (d *CdevDriver) Close() error {
	debug.Trace("GPIO Close (cdev)")

	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for pin, l := range d.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release %d: %w", pin, err))
		}
	}
	d.lines = make(map[int]*gpiocdev.Line)
	if err := d.chip.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func levelValue(l Level) int {
	if l == High {
		return 1
	}
	return 0
}
