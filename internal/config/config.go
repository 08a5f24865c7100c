// internal/config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/logging"
)

/* =========================
   Types
   ========================= */

type Config struct {
	Controller ControllerConfig `json:"controller" yaml:"controller"`
	Robot      RobotConfig      `json:"robot" yaml:"robot"`
	MQTT       MQTTConfig       `json:"mqtt" yaml:"mqtt"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
}

type ControllerConfig struct {
	Name               string `json:"name" yaml:"name"`
	CyclePeriodMs      int    `json:"cyclePeriodMs" yaml:"cyclePeriodMs"`
	PollIntervalMs     int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	HandshakeTimeoutMs int    `json:"handshakeTimeoutMs" yaml:"handshakeTimeoutMs"` // < 0 waits forever
}

type RobotConfig struct {
	Type                  string      `json:"type" yaml:"type"` // "tcp" | "rtu"
	TCPAddr               string      `json:"tcpAddr" yaml:"tcpAddr"`
	Port                  string      `json:"port" yaml:"port"`
	Baud                  int         `json:"baud" yaml:"baud"`
	DataBits              int         `json:"dataBits" yaml:"dataBits"`
	StopBits              int         `json:"stopBits" yaml:"stopBits"`
	Parity                string      `json:"parity" yaml:"parity"`
	UnitId                uint8       `json:"unitId" yaml:"unitId"`
	TimeoutMs             int         `json:"timeoutMs" yaml:"timeoutMs"`
	SettleBeforeRequestMs int         `json:"settleBeforeRequestMs" yaml:"settleBeforeRequestMs"`
	SettleAfterWriteMs    int         `json:"settleAfterWriteMs" yaml:"settleAfterWriteMs"`
	Debug                 bool        `json:"debug" yaml:"debug"`
	Registers             RegisterMap `json:"registers" yaml:"registers"`
}

// RegisterMap places the robot's register groups. Counts are fixed by the
// slot layout; only start addresses are configurable.
type RegisterMap struct {
	DigitalOutputs  *Range `json:"digitalOutputs" yaml:"digitalOutputs"`   // coils
	DigitalInputs   *Range `json:"digitalInputs" yaml:"digitalInputs"`     // discrete inputs
	StateBlock      *Range `json:"stateBlock" yaml:"stateBlock"`           // input registers
	AnalogOutputCmd *Range `json:"analogOutputCmd" yaml:"analogOutputCmd"` // holding registers
	SpeedSliderCmd  *Range `json:"speedSliderCmd" yaml:"speedSliderCmd"`   // holding register
}

type Range struct {
	Start uint16 `json:"start" yaml:"start"`
	Count uint16 `json:"count" yaml:"count"`
}

type MQTTConfig struct {
	BrokerURL          string `json:"brokerUrl" yaml:"brokerUrl"`
	ClientName         string `json:"clientName" yaml:"clientName"`
	TopicPrefix        string `json:"topicPrefix" yaml:"topicPrefix"`
	ConnectTimeoutMs   int    `json:"connectTimeoutMs" yaml:"connectTimeoutMs"`
	PublishTimeoutMs   int    `json:"publishTimeoutMs" yaml:"publishTimeoutMs"`
	SubscribeTimeoutMs int    `json:"subscribeTimeoutMs" yaml:"subscribeTimeoutMs"`
}

// HTTPConfig enables the REST and websocket façade when ListenAddr is set.
type HTTPConfig struct {
	ListenAddr string `json:"listenAddr" yaml:"listenAddr"`
}

// StateBlockCount is the number of input registers holding state slots from
// the analog outputs up to the last safety status bit.
const StateBlockCount = layout.StateCount - layout.AnalogOutputs

/* =========================
   Helpers
   ========================= */

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c ControllerConfig) CyclePeriod() time.Duration  { return ms(c.CyclePeriodMs) }
func (c ControllerConfig) PollInterval() time.Duration { return ms(c.PollIntervalMs) }
func (c ControllerConfig) HandshakeTimeout() time.Duration {
	return ms(c.HandshakeTimeoutMs)
}

func (r RobotConfig) Timeout() time.Duration             { return ms(r.TimeoutMs) }
func (r RobotConfig) SettleBeforeRequest() time.Duration { return ms(r.SettleBeforeRequestMs) }
func (r RobotConfig) SettleAfterWrite() time.Duration    { return ms(r.SettleAfterWriteMs) }

func (m MQTTConfig) ConnectTimeout() time.Duration   { return ms(m.ConnectTimeoutMs) }
func (m MQTTConfig) PublishTimeout() time.Duration   { return ms(m.PublishTimeoutMs) }
func (m MQTTConfig) SubscribeTimeout() time.Duration { return ms(m.SubscribeTimeoutMs) }

/* =========================
   Strict load + validate
   ========================= */

// Load reads a controller config. Files ending in .yaml or .yml are decoded
// as YAML, everything else as JSON with comments.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decode(raw, decodeYAML)
	default:
		return decode(raw, decodeJSON)
	}
}

// LoadFromReader decodes JSON (with comments) from r.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decode(raw, decodeJSON)
}

func decode(raw []byte, fn func([]byte, *Config) error) (*Config, error) {
	var cfg Config
	if err := fn(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func decodeJSON(raw []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(stripJSONComments(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return nil
}

// Validate fills defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs error
	addf := func(f string, a ...any) { errs = multierr.Append(errs, fmt.Errorf(f, a...)) }

	/* Controller */
	ctl := &c.Controller
	if strings.TrimSpace(ctl.Name) == "" {
		ctl.Name = "gpio_controller"
	}
	if ctl.CyclePeriodMs == 0 {
		ctl.CyclePeriodMs = 2
	}
	if ctl.CyclePeriodMs < 1 || ctl.CyclePeriodMs > 1000 {
		addf("controller.cyclePeriodMs must be 1..1000")
	}
	if ctl.PollIntervalMs == 0 {
		ctl.PollIntervalMs = 50
	}
	if ctl.PollIntervalMs < 0 {
		addf("controller.pollIntervalMs cannot be negative")
	}
	if ctl.HandshakeTimeoutMs == 0 {
		ctl.HandshakeTimeoutMs = 2000
	}
	if ctl.HandshakeTimeoutMs < 0 {
		logging.Warn("controller.handshakeTimeoutMs < 0, requests wait for the control cycle without bound")
	} else if ctl.HandshakeTimeoutMs < ctl.PollIntervalMs {
		addf("controller.handshakeTimeoutMs must be >= pollIntervalMs")
	}

	/* Robot */
	r := &c.Robot
	switch strings.ToLower(r.Type) {
	case "tcp":
		if strings.TrimSpace(r.TCPAddr) == "" {
			addf("robot: tcpAddr is required for type=tcp")
		}
	case "rtu":
		if strings.TrimSpace(r.Port) == "" {
			addf("robot: port is required for type=rtu")
		}
		if r.Baud <= 0 {
			addf("robot: baud must be > 0 for type=rtu")
		}
		if r.DataBits == 0 {
			r.DataBits = 8
		}
		if r.StopBits == 0 {
			r.StopBits = 1
		}
		if r.Parity == "" {
			r.Parity = "N"
		}
		if !slices.Contains([]string{"N", "E", "O"}, strings.ToUpper(r.Parity)) {
			addf("robot: parity must be one of N,E,O")
		}
	default:
		addf("robot: type must be 'rtu' or 'tcp'")
	}
	if r.UnitId == 0 {
		r.UnitId = 1
	}
	if r.UnitId > 247 {
		addf("robot: unitId must be 1..247")
	}
	if r.TimeoutMs <= 0 {
		r.TimeoutMs = 150
	}
	if r.SettleBeforeRequestMs < 0 || r.SettleAfterWriteMs < 0 {
		addf("robot: settle timings cannot be negative")
	}
	errs = multierr.Append(errs, r.Registers.Normalize())

	/* MQTT */
	m := &c.MQTT
	if strings.TrimSpace(m.BrokerURL) == "" {
		m.BrokerURL = "tcp://localhost:1883"
	}
	if strings.TrimSpace(m.ClientName) == "" {
		m.ClientName = ctl.Name
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		m.TopicPrefix = "uhn/" + m.ClientName
	}
	m.TopicPrefix = strings.TrimSuffix(m.TopicPrefix, "/")
	if strings.ContainsAny(m.TopicPrefix, "+#") {
		addf("mqtt.topicPrefix cannot contain wildcards")
	}
	if m.ConnectTimeoutMs <= 0 {
		m.ConnectTimeoutMs = 10000
	}
	if m.PublishTimeoutMs <= 0 {
		m.PublishTimeoutMs = 5000
	}
	if m.SubscribeTimeoutMs <= 0 {
		m.SubscribeTimeoutMs = 5000
	}

	return errs
}

// Normalize defaults missing groups and checks counts and overlaps.
func (rm *RegisterMap) Normalize() error {
	var errs error
	group := func(name string, r **Range, start, count uint16) {
		if *r == nil {
			*r = &Range{Start: start, Count: count}
			return
		}
		if (*r).Count == 0 {
			(*r).Count = count
		}
		if (*r).Count != count {
			errs = multierr.Append(errs, fmt.Errorf("robot.registers.%s.count must be %d", name, count))
		}
		if int((*r).Start)+int((*r).Count) > 0x10000 {
			errs = multierr.Append(errs, fmt.Errorf("robot.registers.%s exceeds the address space", name))
		}
	}
	group("digitalOutputs", &rm.DigitalOutputs, 0, layout.DigitalPins)
	group("digitalInputs", &rm.DigitalInputs, 0, layout.DigitalPins)
	group("stateBlock", &rm.StateBlock, 0, StateBlockCount)
	group("analogOutputCmd", &rm.AnalogOutputCmd, 0, layout.AnalogPins)
	group("speedSliderCmd", &rm.SpeedSliderCmd, layout.AnalogPins, 1)

	// both command groups are holding registers
	a, s := rm.AnalogOutputCmd, rm.SpeedSliderCmd
	if a.Start < s.Start+s.Count && s.Start < a.Start+a.Count {
		errs = multierr.Append(errs, fmt.Errorf("robot.registers.analogOutputCmd overlaps speedSliderCmd"))
	}
	return errs
}

/* =========================
   Comment stripping
   ========================= */

var (
	// only whole-line comments, so URLs like tcp://host survive
	lineComments  = regexp.MustCompile(`(?m)^[ \t]*//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripJSONComments(in []byte) []byte {
	out := blockComments.ReplaceAll(in, nil)
	return lineComments.ReplaceAll(out, nil)
}
