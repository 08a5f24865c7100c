// Package cycle is the fixed-rate control loop: it refreshes the state slots
// from the robot, consumes submitted commands and runs the controller update.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/hwif"
	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/logging"
)

// Hardware is the robot side of the cycle.
type Hardware interface {
	ReadState(ctx context.Context, states []*hwif.Handle) error
	WriteDigitalOutput(ctx context.Context, pin int, on bool) error
	WriteAnalogOutput(ctx context.Context, pin int, value float64) error
	WriteSpeedSlider(ctx context.Context, fraction float64) error
}

// Updater is invoked once per cycle after the state slots were refreshed.
type Updater interface {
	Update(ctx context.Context) error
}

type Runner struct {
	Period time.Duration

	hw       Hardware
	updater  Updater
	commands []*hwif.Handle
	states   []*hwif.Handle

	tickCh   chan ZeroSignal
	cycles   atomic.Uint64
	overruns atomic.Uint64
	readErr  bool
}

func NewRunner(period time.Duration, registry *hwif.Registry, hw Hardware, updater Updater) (*Runner, error) {
	if period <= 0 {
		return nil, fmt.Errorf("cycle period must be > 0, got %v", period)
	}
	commands, states := registry.Commands(), registry.States()
	if err := layout.Check("command", layout.CommandNames(), handleNames(commands)); err != nil {
		return nil, err
	}
	if err := layout.Check("state", layout.StateNames(), handleNames(states)); err != nil {
		return nil, err
	}
	return &Runner{
		Period:   period,
		hw:       hw,
		updater:  updater,
		commands: commands,
		states:   states,
		tickCh:   make(chan ZeroSignal, 1),
	}, nil
}

// Start runs the cycle until ctx is done. It blocks; ticks that arrive
// while a cycle is still running are dropped and counted as overruns.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(r.Period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case r.tickCh <- Zero: // drop if one is queued
				default:
					r.overruns.Add(1)
				}
			}
		}
	}()
	logging.Info("Control cycle started", "periodMs", r.Period.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			logging.Info("Control cycle stopped", "cycles", r.cycles.Load(), "overruns", r.overruns.Load())
			return
		case <-r.tickCh:
			r.Cycle(ctx)
		}
	}
}

// Cycle runs one read, consume, update pass.
func (r *Runner) Cycle(ctx context.Context) {
	r.cycles.Add(1)

	if err := r.hw.ReadState(ctx, r.states); err != nil {
		if !r.readErr {
			logging.Warn("Failed to refresh state from robot", "error", err)
		}
		r.readErr = true
	} else if r.readErr {
		logging.Info("State refresh recovered")
		r.readErr = false
	}

	r.consume(ctx, layout.IOAsyncSuccess, layout.DigitalOutputCmd, layout.IOAsyncSuccess, r.executeIO)
	r.consume(ctx, layout.ScalingAsyncSuccess, layout.SpeedScalingCmd, layout.SpeedScalingCmd+1, r.executeScaling)

	if err := r.updater.Update(ctx); err != nil && !errors.Is(err, gpio.ErrNotActive) {
		logging.Warn("Controller update failed", "error", err)
	}
}

func (r *Runner) Cycles() uint64   { return r.cycles.Load() }
func (r *Runner) Overruns() uint64 { return r.overruns.Load() }

// consume takes every submitted command in [from, to) while the flag is
// pending, executes them and answers on the flag. Slots are emptied as they
// are taken, so a requester that withdraws later finds nothing to withdraw
// and keeps the flag until this answer lands. A pending flag with no
// submitted command is left alone.
func (r *Runner) consume(ctx context.Context, flag, from, to int, exec func(context.Context, int, float64) error) {
	if r.commands[flag].Value() != gpio.PendingFlag {
		return
	}
	var taken []takenCommand
	for slot := from; slot < to; slot++ {
		if v := r.commands[slot].Swap(math.NaN()); !math.IsNaN(v) {
			taken = append(taken, takenCommand{slot: slot, value: v})
		}
	}
	if len(taken) == 0 {
		return
	}
	ok := true
	for _, cmd := range taken {
		if err := exec(ctx, cmd.slot, cmd.value); err != nil {
			logging.Warn("Command failed", "interface", r.commands[cmd.slot].Name(), "value", cmd.value, "error", err)
			ok = false
		}
	}
	if ok {
		r.commands[flag].SetValue(1)
	} else {
		r.commands[flag].SetValue(0)
	}
}

type takenCommand struct {
	slot  int
	value float64
}

func (r *Runner) executeIO(ctx context.Context, slot int, v float64) error {
	if slot < layout.AnalogOutputCmd {
		return r.hw.WriteDigitalOutput(ctx, slot-layout.DigitalOutputCmd, v != 0)
	}
	return r.hw.WriteAnalogOutput(ctx, slot-layout.AnalogOutputCmd, v)
}

func (r *Runner) executeScaling(ctx context.Context, _ int, v float64) error {
	return r.hw.WriteSpeedSlider(ctx, v)
}

func handleNames(handles []*hwif.Handle) []string {
	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = h.Name()
	}
	return names
}
