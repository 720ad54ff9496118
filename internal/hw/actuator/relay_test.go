package actuator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/turret/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	mu    sync.Mutex
	calls []gpioCall
}

type gpioCall struct {
	op    string
	pin   int
	level gpio.Level
}

func (d *recordingDriver) ClaimOutput(pin int, initial gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "output", pin: pin, level: initial})
	return nil
}

func (d *recordingDriver) ClaimInput(pin int, pull gpio.Pull, onEdge gpio.EdgeHandler) error {
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func testConfig() Config {
	return Config{Pin: 16, ActiveHigh: true, Pulse: time.Microsecond, Settle: time.Microsecond}
}

func TestRelay_ClaimedInactive(t *testing.T) {
	drv := &recordingDriver{}
	if _, err := NewRelay(gpio.NewLines(drv, false), testConfig()); err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	if len(drv.calls) != 1 {
		t.Fatalf("expected 1 claim, got %v", drv.calls)
	}
	if c := drv.calls[0]; c.op != "output" || c.pin != 16 || c.level != gpio.Low {
		t.Errorf("relay claimed as %+v, want output pin 16 LOW", c)
	}
}

func TestRelay_FireSequence(t *testing.T) {
	tests := []struct {
		name       string
		activeHigh bool
		want       []gpio.Level
	}{
		{"active high", true, []gpio.Level{gpio.High, gpio.Low}},
		{"active low", false, []gpio.Level{gpio.Low, gpio.High}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := &recordingDriver{}
			cfg := testConfig()
			cfg.ActiveHigh = tt.activeHigh
			r, err := NewRelay(gpio.NewLines(drv, false), cfg)
			if err != nil {
				t.Fatalf("NewRelay: %v", err)
			}

			fired := 0
			r.OnFire(func() { fired++ })
			if err := r.Fire(); err != nil {
				t.Fatalf("Fire: %v", err)
			}

			writes := drv.writeCalls()
			if len(writes) != len(tt.want) {
				t.Fatalf("expected %d writes, got %d: %v", len(tt.want), len(writes), writes)
			}
			for i, lvl := range tt.want {
				if writes[i].pin != 16 || writes[i].level != lvl {
					t.Errorf("write %d: pin=%d level=%v, want pin=16 level=%v", i, writes[i].pin, writes[i].level, lvl)
				}
			}
			if fired != 1 {
				t.Errorf("OnFire called %d times, want 1", fired)
			}
		})
	}
}

func TestRelay_FireSimulated(t *testing.T) {
	r, err := NewRelay(gpio.NewLines(gpio.NewMockDriver(), true), testConfig())
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	if err := r.Fire(); err != nil {
		t.Errorf("Fire in simulation mode should succeed, got: %v", err)
	}
}

func TestRelay_FireWithoutHandle(t *testing.T) {
	r, err := NewRelay(nil, testConfig())
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	if err := r.Fire(); err != nil {
		t.Errorf("Fire without handle should be a no-op, got: %v", err)
	}
}

func TestRelay_DisarmBlocksFire(t *testing.T) {
	drv := &recordingDriver{}
	r, err := NewRelay(gpio.NewLines(drv, false), testConfig())
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	r.Disarm()
	if !r.Disarmed() {
		t.Error("relay should report disarmed")
	}
	if err := r.Fire(); !errors.Is(err, ErrDisarmed) {
		t.Errorf("Fire after Disarm: got %v, want ErrDisarmed", err)
	}

	for _, w := range drv.writeCalls() {
		if w.level == gpio.High {
			t.Errorf("relay driven active after disarm: %+v", w)
		}
	}
}
