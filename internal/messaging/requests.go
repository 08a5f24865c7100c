package messaging

import (
	"context"
	"errors"

	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/logging"
	"github.com/fisaks/uhn-gpio/internal/uhn"
)

// Commander is the request side of the controller.
type Commander interface {
	SetIO(ctx context.Context, req gpio.SetIORequest) (bool, error)
	SetSpeedSlider(ctx context.Context, req gpio.SpeedSliderRequest) (bool, error)
}

type requestAdapter struct {
	commander Commander
}

// NewRequestSubscriber turns wire requests into controller calls.
func NewRequestSubscriber(commander Commander) uhn.RequestSubscriber {
	return &requestAdapter{commander: commander}
}

func (a *requestAdapter) OnSetIO(ctx context.Context, in uhn.IncomingSetIO) uhn.Response {
	req, err := in.Request()
	if err != nil {
		return uhn.Response{ID: in.ID, Message: err.Error()}
	}
	logging.Debug("Received set_io", "id", in.ID, "fun", req.Fun, "pin", req.Pin, "state", req.State, "pulse", req.Pulse)
	ok, err := a.commander.SetIO(ctx, req)
	return response(in.ID, ok, err)
}

func (a *requestAdapter) OnSetSpeedSlider(ctx context.Context, in uhn.IncomingSpeedSlider) uhn.Response {
	req, err := in.Request()
	if err != nil {
		return uhn.Response{ID: in.ID, Message: err.Error()}
	}
	logging.Debug("Received set_speed_slider", "id", in.ID, "fraction", req.Fraction)
	ok, err := a.commander.SetSpeedSlider(ctx, req)
	return response(in.ID, ok, err)
}

func response(id string, ok bool, err error) uhn.Response {
	resp := uhn.Response{ID: id, Success: ok && err == nil}
	switch {
	case err != nil:
		resp.Message = err.Error()
	case !ok:
		resp.Message = "rejected by robot"
	}
	if errors.Is(err, gpio.ErrHandshakeTimeout) {
		logging.Warn("Request timed out waiting for the control cycle", "id", id)
	}
	return resp
}
