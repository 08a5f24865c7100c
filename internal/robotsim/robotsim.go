// Package robotsim fakes the robot side of the Modbus register map on top of
// an in-memory Modbus server, for bench testing without a robot.
package robotsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fisaks/uhn-gpio/internal/config"
	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/logging"
	"github.com/fisaks/uhn-gpio/internal/robot"
)

// Registers are the four tables of a Modbus server. The slices alias the
// server's memory.
type Registers struct {
	Coils            []byte
	DiscreteInputs   []byte
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// Sim keeps the state block consistent with what the controller commands:
// analog output setpoints written to the holding registers show up as the
// analog output states.
type Sim struct {
	mu   sync.Mutex
	regs Registers
	rm   config.RegisterMap
}

func New(regs Registers, rm config.RegisterMap) (*Sim, error) {
	if err := rm.Normalize(); err != nil {
		return nil, err
	}
	need := func(name string, have int, r *config.Range) error {
		if int(r.Start)+int(r.Count) > have {
			return fmt.Errorf("%s: server table too small for %d+%d", name, r.Start, r.Count)
		}
		return nil
	}
	for _, err := range []error{
		need("coils", len(regs.Coils), rm.DigitalOutputs),
		need("discrete inputs", len(regs.DiscreteInputs), rm.DigitalInputs),
		need("input registers", len(regs.InputRegisters), rm.StateBlock),
		need("holding registers", len(regs.HoldingRegisters), rm.AnalogOutputCmd),
		need("holding registers", len(regs.HoldingRegisters), rm.SpeedSliderCmd),
	} {
		if err != nil {
			return nil, err
		}
	}
	return &Sim{regs: regs, rm: rm}, nil
}

// Seed puts the robot in a running, normal-safety state with voltage
// analog inputs and a warm tool.
func (s *Sim) Seed() {
	s.SetState(layout.RobotMode, float64(gpio.RobotModeRunning))
	s.SetState(layout.SafetyMode, float64(gpio.SafetyModeNormal))
	s.SetState(layout.AnalogInputDomain(0), 1)
	s.SetState(layout.AnalogInputDomain(1), 1)
	s.SetState(layout.ToolOutputVoltage, 24)
	s.SetState(layout.ToolTemperature, 31.5)
	s.SetSpeedSlider(1)
}

// Run mirrors command registers into the state block until ctx is done.
func (s *Sim) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Mirror()
		}
	}
}

func (s *Sim) Mirror() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pin := 0; pin < layout.AnalogPins; pin++ {
		word := s.regs.HoldingRegisters[int(s.rm.AnalogOutputCmd.Start)+pin]
		value := robot.Decode(word, robot.AnalogOutputScale)
		s.setStateLocked(layout.AnalogOutputs+pin, value)
	}
}

// State returns the value of a state slot as the controller would read it.
func (s *Sim) State(offset int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case offset < 0 || offset >= layout.StateCount:
		return 0, fmt.Errorf("state offset %d out of range", offset)
	case offset < layout.DigitalInputs:
		return float64(s.regs.Coils[int(s.rm.DigitalOutputs.Start)+offset]), nil
	case offset < layout.AnalogOutputs:
		return float64(s.regs.DiscreteInputs[int(s.rm.DigitalInputs.Start)+offset-layout.DigitalInputs]), nil
	default:
		word := s.regs.InputRegisters[int(s.rm.StateBlock.Start)+offset-layout.AnalogOutputs]
		return robot.DecodeState(offset, word), nil
	}
}

// SetState overrides a state slot. Digital outputs are coils the controller
// also writes; the next command wins.
func (s *Sim) SetState(offset int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStateLocked(offset, value)
}

func (s *Sim) setStateLocked(offset int, value float64) error {
	bit := byte(0)
	if value != 0 {
		bit = 1
	}
	switch {
	case offset < 0 || offset >= layout.StateCount:
		return fmt.Errorf("state offset %d out of range", offset)
	case offset < layout.DigitalInputs:
		s.regs.Coils[int(s.rm.DigitalOutputs.Start)+offset] = bit
	case offset < layout.AnalogOutputs:
		s.regs.DiscreteInputs[int(s.rm.DigitalInputs.Start)+offset-layout.DigitalInputs] = bit
	default:
		s.regs.InputRegisters[int(s.rm.StateBlock.Start)+offset-layout.AnalogOutputs] = robot.EncodeState(offset, value)
	}
	return nil
}

func (s *Sim) SpeedSlider() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return robot.Decode(s.regs.HoldingRegisters[s.rm.SpeedSliderCmd.Start], robot.SpeedSliderScale)
}

func (s *Sim) SetSpeedSlider(fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs.HoldingRegisters[s.rm.SpeedSliderCmd.Start] = robot.Encode(fraction, robot.SpeedSliderScale)
}

// Toggle flips a digital input.
func (s *Sim) Toggle(pin int) (bool, error) {
	if pin < 0 || pin >= layout.DigitalPins {
		return false, fmt.Errorf("digital input %d out of range", pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(s.rm.DigitalInputs.Start) + pin
	s.regs.DiscreteInputs[idx] ^= 1
	on := s.regs.DiscreteInputs[idx] == 1
	logging.Debug("Toggled digital input", "pin", pin, "on", on)
	return on, nil
}
