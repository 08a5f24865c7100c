package catalog

import (
	"testing"

	"github.com/fisaks/uhn-gpio/internal/config"
	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/messaging"
)

func TestOnConnectPublish(t *testing.T) {
	cfg := &config.Config{
		Controller: config.ControllerConfig{Name: "gpio_controller"},
		Robot:      config.RobotConfig{Type: "tcp", UnitId: 3},
	}
	req, err := NewGPIOCatalog(cfg).OnConnectPublish()
	if err != nil {
		t.Fatalf("OnConnectPublish() err=%v", err)
	}
	if req.Topic != "catalog" || !req.Retain || req.Qos != messaging.AtLeastOnce {
		t.Fatalf("unexpected request %+v", req)
	}
	msg, ok := req.Payload.(*GPIOCatalogMessage)
	if !ok {
		t.Fatalf("payload type %T", req.Payload)
	}
	if msg.Controller != "gpio_controller" || msg.UnitId != 3 {
		t.Errorf("unexpected header %+v", msg)
	}
	if len(msg.Commands) != layout.CommandCount || len(msg.States) != layout.StateCount {
		t.Errorf("got %d commands / %d states", len(msg.Commands), len(msg.States))
	}
	if msg.Registers.StateBlock == nil || msg.Registers.StateBlock.Count != config.StateBlockCount {
		t.Errorf("state block not defaulted: %+v", msg.Registers.StateBlock)
	}
	if cfg.Robot.Registers.StateBlock != nil {
		t.Errorf("catalog must not mutate the configuration")
	}
}

func TestOnConnectPublish_BadRegisters(t *testing.T) {
	cfg := &config.Config{Robot: config.RobotConfig{Registers: config.RegisterMap{
		StateBlock: &config.Range{Start: 0, Count: 2},
	}}}
	if _, err := NewGPIOCatalog(cfg).OnConnectPublish(); err == nil {
		t.Fatalf("expected register error")
	}
}
