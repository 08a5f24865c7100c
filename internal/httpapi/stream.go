package httpapi

import (
	"context"

	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/uhn"
)

// Stream is a gpio.Publisher that relays snapshots to websocket clients. It
// is created before the controller so it can be handed over as a publisher.
type Stream struct {
	hub *Hub
}

func NewStream() *Stream {
	return &Stream{hub: NewHub("io")}
}

type wsFrame struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

func (s *Stream) PublishIOStates(_ context.Context, msg gpio.IOStates) error {
	return s.hub.BroadcastJSON(wsFrame{Topic: uhn.TopicIOStates, Data: msg})
}

func (s *Stream) PublishToolData(_ context.Context, msg gpio.ToolData) error {
	return s.hub.BroadcastJSON(wsFrame{Topic: uhn.TopicToolData, Data: msg})
}

func (s *Stream) PublishRobotMode(_ context.Context, msg gpio.RobotMode) error {
	return s.hub.BroadcastJSON(wsFrame{Topic: uhn.TopicRobotMode, Data: msg})
}

func (s *Stream) PublishSafetyMode(_ context.Context, msg gpio.SafetyMode) error {
	return s.hub.BroadcastJSON(wsFrame{Topic: uhn.TopicSafetyMode, Data: msg})
}
