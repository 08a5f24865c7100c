package catalog

import (
	"github.com/fisaks/uhn-gpio/internal/config"
	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/messaging"
	"github.com/fisaks/uhn-gpio/internal/uhn"
)

// GPIOCatalogMessage describes the controller to subscribers: its slot
// layout and where each group lives on the robot.
type GPIOCatalogMessage struct {
	Controller string          `json:"controller"`
	Transport  string          `json:"transport"`
	UnitId     uint8           `json:"unitId"`
	Commands   []string        `json:"commands"`
	States     []string        `json:"states"`
	Services   []string        `json:"services"`
	Registers  RegisterSummary `json:"registers"`
}

type RegisterSummary struct {
	DigitalOutputs  *config.Range `json:"digitalOutputs,omitempty"`
	DigitalInputs   *config.Range `json:"digitalInputs,omitempty"`
	StateBlock      *config.Range `json:"stateBlock,omitempty"`
	AnalogOutputCmd *config.Range `json:"analogOutputCmd,omitempty"`
	SpeedSliderCmd  *config.Range `json:"speedSliderCmd,omitempty"`
}

type Catalog struct {
	cfg *config.Config
}

func NewGPIOCatalog(cfg *config.Config) *Catalog {
	return &Catalog{cfg: cfg}
}

func (catalog *Catalog) buildGPIOCatalog() (*GPIOCatalogMessage, error) {
	regs := catalog.cfg.Robot.Registers
	if err := regs.Normalize(); err != nil {
		return nil, err
	}
	return &GPIOCatalogMessage{
		Controller: catalog.cfg.Controller.Name,
		Transport:  catalog.cfg.Robot.Type,
		UnitId:     catalog.cfg.Robot.UnitId,
		Commands:   layout.CommandNames(),
		States:     layout.StateNames(),
		Services:   []string{uhn.ServiceSetIO, uhn.ServiceSetSpeedSlider},
		Registers: RegisterSummary{
			DigitalOutputs:  regs.DigitalOutputs,
			DigitalInputs:   regs.DigitalInputs,
			StateBlock:      regs.StateBlock,
			AnalogOutputCmd: regs.AnalogOutputCmd,
			SpeedSliderCmd:  regs.SpeedSliderCmd,
		},
	}, nil
}

// OnConnectPublish is registered with the broker and re-sent on every
// (re)connect.
func (catalog *Catalog) OnConnectPublish() (messaging.PublishRequest, error) {
	msg, err := catalog.buildGPIOCatalog()
	if err != nil {
		return messaging.PublishRequest{}, err
	}
	return messaging.PublishRequest{
		Topic:   uhn.TopicCatalog,
		Qos:     messaging.AtLeastOnce,
		Retain:  true,
		Payload: msg,
	}, nil
}
