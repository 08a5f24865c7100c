package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/fisaks/uhn-gpio/internal/logging"
)

// pulseScheduler reverts a digital output after a delay. One pending pulse
// per pin; a new write to the pin cancels it.
type pulseScheduler struct {
	c      *Controller
	mu     sync.Mutex
	pulses map[int]*time.Timer
}

func newPulseScheduler(c *Controller) *pulseScheduler {
	return &pulseScheduler{
		c:      c,
		pulses: make(map[int]*time.Timer),
	}
}

func (ps *pulseScheduler) SchedulePulse(pin int, state bool, delay time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if t, ok := ps.pulses[pin]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		ps.mu.Lock()
		if ps.pulses[pin] != timer {
			ps.mu.Unlock()
			return
		}
		delete(ps.pulses, pin)
		ps.mu.Unlock()
		ps.fire(pin, state)
	})
	ps.pulses[pin] = timer
	logging.Debug("Pulse scheduled", "controller", ps.c.name, "pin", pin, "revertTo", state, "delay", delay)
}

func (ps *pulseScheduler) fire(pin int, state bool) {
	value := 0.0
	if state {
		value = 1
	}
	timeout := ps.c.opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	ok, err := ps.c.SetIO(ctx, SetIORequest{Fun: FunSetDigitalOut, Pin: pin, State: value})
	if err != nil || !ok {
		logging.Warn("Pulse revert failed", "controller", ps.c.name, "pin", pin, "success", ok, "error", err)
	}
}

// ClearPulse cancels the pending pulse on pin, if any.
func (ps *pulseScheduler) ClearPulse(pin int) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if t, ok := ps.pulses[pin]; ok {
		t.Stop()
		delete(ps.pulses, pin)
		return true
	}
	return false
}

func (ps *pulseScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for pin, t := range ps.pulses {
		t.Stop()
		delete(ps.pulses, pin)
	}
	logging.Debug("Pulse scheduler stopped", "controller", ps.c.name)
}
