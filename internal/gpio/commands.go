package gpio

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/logging"
)

const (
	MinSpeedFraction = 0.01
	MaxSpeedFraction = 1.0
)

// SetIO drives a standard digital or analog output through the io handshake.
// Invalid requests fail with ErrInvalidRequest before any slot is touched.
func (c *Controller) SetIO(ctx context.Context, req SetIORequest) (bool, error) {
	if !c.IsActive() {
		return false, ErrNotActive
	}
	slot, value, err := resolveSetIO(req)
	if err != nil {
		logging.Debug("Rejected set_io request", "controller", c.name, "id", req.ID, "error", err)
		return false, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if req.Fun == FunSetDigitalOut {
		c.pulses.ClearPulse(req.Pin)
	}
	ok, err := c.ioHandshake.run(ctx, req.ID, slot, value)
	if err != nil {
		return false, err
	}
	if ok && req.Fun == FunSetDigitalOut && req.Pulse > 0 {
		c.pulses.SchedulePulse(req.Pin, value == 0, req.Pulse)
	}
	logging.Info("set_io handled", "controller", c.name, "id", req.ID,
		"fun", req.Fun, "pin", req.Pin, "state", req.State, "success", ok)
	return ok, nil
}

// SetSpeedSlider writes a speed scaling fraction through the scaling
// handshake.
func (c *Controller) SetSpeedSlider(ctx context.Context, req SpeedSliderRequest) (bool, error) {
	if !c.IsActive() {
		return false, ErrNotActive
	}
	if err := validateFraction(req.Fraction); err != nil {
		logging.Debug("Rejected set_speed_slider request", "controller", c.name, "id", req.ID, "error", err)
		return false, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	ok, err := c.scalingHandshake.run(ctx, req.ID, layout.SpeedScalingCmd, req.Fraction)
	if err != nil {
		return false, err
	}
	logging.Info("set_speed_slider handled", "controller", c.name, "id", req.ID,
		"fraction", req.Fraction, "success", ok)
	return ok, nil
}

func resolveSetIO(req SetIORequest) (slot int, value float64, err error) {
	if math.IsNaN(req.State) || math.IsInf(req.State, 0) {
		return 0, 0, fmt.Errorf("%w: state %v is not a finite number", ErrInvalidRequest, req.State)
	}
	switch req.Fun {
	case FunSetDigitalOut:
		if req.Pin < 0 || req.Pin >= layout.DigitalPins {
			return 0, 0, fmt.Errorf("%w: digital pin %d out of range [0,%d]", ErrInvalidRequest, req.Pin, layout.DigitalPins-1)
		}
		value = 0
		if req.State != 0 {
			value = 1
		}
		return layout.DigitalOutputCmd + req.Pin, value, nil
	case FunSetAnalogOut:
		if req.Pin < 0 || req.Pin >= layout.AnalogPins {
			return 0, 0, fmt.Errorf("%w: analog pin %d out of range [0,%d]", ErrInvalidRequest, req.Pin, layout.AnalogPins-1)
		}
		return layout.AnalogOutputCmd + req.Pin, req.State, nil
	default:
		return 0, 0, fmt.Errorf("%w: unsupported function %d (%s)", ErrInvalidRequest, req.Fun, req.Fun)
	}
}

func validateFraction(f float64) error {
	if math.IsNaN(f) || f < MinSpeedFraction || f > MaxSpeedFraction {
		return fmt.Errorf("%w: speed fraction %v out of range [%v,%v]", ErrInvalidRequest, f, MinSpeedFraction, MaxSpeedFraction)
	}
	return nil
}
