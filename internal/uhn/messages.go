// Package uhn holds the MQTT wire messages shared by the controller and the
// command line tools.
package uhn

import (
	"context"
	"fmt"
	"time"

	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/util"
)

// Service names. Requests arrive on <prefix>/<service>/req and the answer
// goes to <prefix>/<service>/res.
const (
	ServiceSetIO          = "set_io"
	ServiceSetSpeedSlider = "set_speed_slider"

	TopicIOStates   = "io_states"
	TopicToolData   = "tool_data"
	TopicRobotMode  = "robot_mode"
	TopicSafetyMode = "safety_mode"
	TopicCatalog    = "catalog"
)

func RequestTopic(service string) string  { return service + "/req" }
func ResponseTopic(service string) string { return service + "/res" }

type IncomingSetIO struct {
	ID      string `json:"id,omitempty"`
	Fun     any    `json:"fun"`   // accept number or string
	Pin     any    `json:"pin"`   // accept number or string
	State   any    `json:"state"` // 0/1 for digital, value for analog
	PulseMs any    `json:"pulseMs,omitempty"`
}

// Request converts the loosely typed payload into a controller request. Range
// checks on pin and state are left to the controller.
func (in IncomingSetIO) Request() (gpio.SetIORequest, error) {
	fun, err := util.ToInt(in.Fun)
	if err != nil {
		return gpio.SetIORequest{}, fmt.Errorf("fun: %w", err)
	}
	if fun < 0 || fun > 255 {
		return gpio.SetIORequest{}, fmt.Errorf("fun: %d out of range", fun)
	}
	pin, err := util.ToInt(in.Pin)
	if err != nil {
		return gpio.SetIORequest{}, fmt.Errorf("pin: %w", err)
	}
	state, err := util.ToFloat(in.State)
	if err != nil {
		return gpio.SetIORequest{}, fmt.Errorf("state: %w", err)
	}
	pulseMs, err := util.ToInt(in.PulseMs)
	if err != nil || pulseMs < 0 {
		return gpio.SetIORequest{}, fmt.Errorf("pulseMs: invalid value %v", in.PulseMs)
	}
	return gpio.SetIORequest{
		ID:    in.ID,
		Fun:   gpio.Function(fun),
		Pin:   pin,
		State: state,
		Pulse: time.Duration(pulseMs) * time.Millisecond,
	}, nil
}

type IncomingSpeedSlider struct {
	ID       string `json:"id,omitempty"`
	Fraction any    `json:"fraction"`
}

func (in IncomingSpeedSlider) Request() (gpio.SpeedSliderRequest, error) {
	f, err := util.ToFloat(in.Fraction)
	if err != nil {
		return gpio.SpeedSliderRequest{}, fmt.Errorf("fraction: %w", err)
	}
	return gpio.SpeedSliderRequest{ID: in.ID, Fraction: f}, nil
}

type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RequestSubscriber receives decoded requests from the broker.
type RequestSubscriber interface {
	OnSetIO(ctx context.Context, req IncomingSetIO) Response
	OnSetSpeedSlider(ctx context.Context, req IncomingSpeedSlider) Response
}
