// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

const jsonConfig = `{
  // controller timing
  "controller": { "name": "ur5e", "cyclePeriodMs": 8 },
  /* robot reached over Modbus TCP */
  "robot": {
    "type": "tcp",
    "tcpAddr": "192.168.1.10:502",
    "registers": { "speedSliderCmd": { "start": 128 } }
  },
  "mqtt": { "brokerUrl": "tcp://broker:1883" }
}`

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(jsonConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Controller.Name != "ur5e" || cfg.Controller.CyclePeriodMs != 8 {
		t.Fatalf("controller not decoded: %+v", cfg.Controller)
	}
	if cfg.Controller.PollIntervalMs != 50 || cfg.Controller.HandshakeTimeoutMs != 2000 {
		t.Fatalf("controller defaults missing: %+v", cfg.Controller)
	}
	if cfg.MQTT.BrokerURL != "tcp://broker:1883" {
		t.Fatalf("broker url mangled by comment stripping: %q", cfg.MQTT.BrokerURL)
	}
	if cfg.MQTT.ClientName != "ur5e" || cfg.MQTT.TopicPrefix != "uhn/ur5e" {
		t.Fatalf("mqtt defaults: %+v", cfg.MQTT)
	}
	regs := cfg.Robot.Registers
	if regs.StateBlock.Count != StateBlockCount || StateBlockCount != 33 {
		t.Fatalf("state block count = %d", regs.StateBlock.Count)
	}
	if regs.SpeedSliderCmd.Start != 128 || regs.SpeedSliderCmd.Count != 1 {
		t.Fatalf("speed slider register: %+v", regs.SpeedSliderCmd)
	}
	if cfg.Robot.UnitId != 1 || cfg.Robot.TimeoutMs != 150 {
		t.Fatalf("robot defaults: %+v", cfg.Robot)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`{"robot": {"type": "tcp", "tcpAddr": "x:502", "bogus": 1}}`))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio.yaml")
	data := `
controller:
  name: cell-3
robot:
  type: rtu
  port: /dev/ttyUSB0
  baud: 115200
  parity: E
http:
  listenAddr: ":8080"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Robot.DataBits != 8 || cfg.Robot.StopBits != 1 || cfg.Robot.Parity != "E" {
		t.Fatalf("rtu defaults: %+v", cfg.Robot)
	}
	if cfg.HTTP.ListenAddr != ":8080" {
		t.Fatalf("http listen addr: %q", cfg.HTTP.ListenAddr)
	}
}

func TestLoad_YAMLUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio.yml")
	if err := os.WriteFile(path, []byte("robot:\n  type: tcp\n  nope: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Controller: ControllerConfig{CyclePeriodMs: 5000},
		Robot: RobotConfig{
			Type:   "rtu",
			Parity: "X",
			Registers: RegisterMap{
				DigitalInputs:   &Range{Start: 0, Count: 4},
				AnalogOutputCmd: &Range{Start: 10},
				SpeedSliderCmd:  &Range{Start: 11},
			},
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	// cycle, port, baud, parity, digitalInputs count, overlap
	if n := len(multierr.Errors(err)); n != 6 {
		t.Fatalf("expected 6 errors, got %d: %v", n, err)
	}
}

func TestValidate_BadType(t *testing.T) {
	cfg := &Config{Robot: RobotConfig{Type: "can"}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "type must be") {
		t.Fatalf("expected type error, got %v", err)
	}
}
