package safety

import (
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/turret/internal/hw/gpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHalter struct {
	mu sync.Mutex
	n  int
}

func (h *countingHalter) Halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.n++
}

func (h *countingHalter) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

type countingDisarmer struct {
	mu sync.Mutex
	n  int
}

func (d *countingDisarmer) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
}

func (d *countingDisarmer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

func waitDone(t *testing.T, il *Interlock) {
	t.Helper()
	select {
	case <-il.Done():
	case <-time.After(time.Second):
		t.Fatal("interlock did not trip")
	}
}

func TestInterlock_FallingEdgeTrips(t *testing.T) {
	mock := gpio.NewMockDriver()
	lines := gpio.NewLines(mock, true)
	halt, relay := &countingHalter{}, &countingDisarmer{}
	il := New(lines, halt, relay)

	reasons := make(chan string, 1)
	il.OnTrip(func(reason string) { reasons <- reason })

	require.NoError(t, il.Arm(18))
	assert.Equal(t, Armed, il.State())
	assert.NoError(t, il.Err())

	mock.Set(18, gpio.Low)
	waitDone(t, il)

	assert.Equal(t, Tripped, il.State())
	assert.ErrorIs(t, il.Err(), ErrTripped)
	assert.Equal(t, 1, halt.count())
	assert.Equal(t, 1, relay.count())
	assert.True(t, lines.Closed(), "hardware handle must be released")
	assert.Equal(t, "emergency stop pressed", <-reasons)
}

func TestInterlock_RisingEdgeIgnored(t *testing.T) {
	mock := gpio.NewMockDriver()
	il := New(gpio.NewLines(mock, true), &countingHalter{}, &countingDisarmer{})
	require.NoError(t, il.Arm(18))

	mock.Set(18, gpio.High) // already high, no edge
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Armed, il.State())
}

func TestInterlock_TripIsOnce(t *testing.T) {
	halt, relay := &countingHalter{}, &countingDisarmer{}
	il := New(gpio.NewLines(gpio.NewMockDriver(), true), halt, relay)
	calls := 0
	il.OnTrip(func(string) { calls++ })

	il.Trip("first")
	il.Trip("second")

	assert.Equal(t, 1, halt.count())
	assert.Equal(t, 1, relay.count())
	assert.Equal(t, 1, calls)
	assert.Equal(t, "first", il.Reason())
}

func TestInterlock_AssertedAtArm(t *testing.T) {
	mock := gpio.NewMockDriver()
	lines := gpio.NewLines(mock, true)
	il := New(lines, &countingHalter{}, &countingDisarmer{})

	mock.Set(18, gpio.Low)

	err := il.Arm(18)
	assert.ErrorIs(t, err, ErrTripped)
	waitDone(t, il)
	assert.Equal(t, "emergency stop asserted at startup", il.Reason())
}

func TestInterlock_NilCollaborators(t *testing.T) {
	il := New(gpio.NewLines(gpio.NewMockDriver(), true), nil, nil)
	assert.NotPanics(t, func() { il.Trip("manual") })
	waitDone(t, il)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "tripped", Tripped.String())
}
