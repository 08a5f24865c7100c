// Package robot talks to the robot controller's Modbus server. It refreshes
// the state slots and executes the commands the control cycle consumes.
package robot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goburrow/modbus"

	"github.com/fisaks/uhn-gpio/internal/config"
	"github.com/fisaks/uhn-gpio/internal/hwif"
	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/logging"
)

const (
	READ  = uint8(1)
	WRITE = uint8(2)
)

// ErrReconnectPending is returned while a failed connect is backing off.
var ErrReconnectPending = errors.New("robot reconnect pending")

type ModbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// ModbusRobot is driven from the control cycle goroutine only and is not
// safe for concurrent use.
type ModbusRobot struct {
	handler ModbusHandler
	client  modbus.Client
	cfg     config.RobotConfig
	regs    config.RegisterMap

	connOK      bool
	backoff     time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
	retryAt     time.Time
	lastConnErr error
}

func newModbusRobot(handler ModbusHandler, cfg config.RobotConfig) *ModbusRobot {
	r := &ModbusRobot{
		handler:    handler,
		client:     modbus.NewClient(handler),
		cfg:        cfg,
		regs:       cfg.Registers,
		connOK:     false,
		backoff:    0, // ready to try now
		backoffMin: 200 * time.Millisecond,
		backoffMax: 5 * time.Second,
	}
	r.setSlave(cfg.UnitId)
	return r
}

func NewRTURobot(cfg config.RobotConfig) *ModbusRobot {
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.Baud
	handler.DataBits = cfg.DataBits
	handler.Parity = strings.ToUpper(cfg.Parity)
	handler.StopBits = cfg.StopBits
	handler.Timeout = cfg.Timeout()
	if cfg.Debug {
		handler.Logger = logging.WrapSlog("robot", cfg.Port)
	}
	return newModbusRobot(handler, cfg)
}

func NewTCPRobot(cfg config.RobotConfig) *ModbusRobot {
	handler := modbus.NewTCPClientHandler(cfg.TCPAddr)
	handler.Timeout = cfg.Timeout()
	if cfg.Debug {
		handler.Logger = logging.WrapSlog("robot", cfg.TCPAddr)
	}
	return newModbusRobot(handler, cfg)
}

// New picks the transport from cfg.Type. Missing register groups get their
// default placement.
func New(cfg config.RobotConfig) (*ModbusRobot, error) {
	if err := cfg.Registers.Normalize(); err != nil {
		return nil, fmt.Errorf("robot registers: %w", err)
	}
	switch strings.ToLower(cfg.Type) {
	case "tcp":
		return NewTCPRobot(cfg), nil
	case "rtu":
		return NewRTURobot(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported robot transport %q", cfg.Type)
	}
}

// EnsureConnected dials when the last attempt's backoff has run out. It
// never sleeps: while backing off it fails with ErrReconnectPending so the
// cycle keeps its period.
func (m *ModbusRobot) EnsureConnected(ctx context.Context) error {
	if m.connOK {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if wait := time.Until(m.retryAt); wait > 0 {
		return fmt.Errorf("%w in %v: %v", ErrReconnectPending, wait.Round(time.Millisecond), m.lastConnErr)
	}

	m.handler.Close()
	if err := m.handler.Connect(); err != nil {
		m.bumpBackoff(err)
		return err
	}
	m.client = modbus.NewClient(m.handler)
	m.connOK = true
	m.backoff = 0
	m.retryAt = time.Time{}
	m.lastConnErr = nil
	logging.Info("Robot connected", "transport", m.cfg.Type, "unitId", m.cfg.UnitId)
	return nil
}

func (m *ModbusRobot) Close() error {
	m.connOK = false
	return m.handler.Close()
}

func (m *ModbusRobot) bumpBackoff(err error) {
	m.connOK = false
	m.lastConnErr = err
	if m.backoff == 0 {
		m.backoff = m.backoffMin
	} else {
		m.backoff *= 2
		if m.backoff > m.backoffMax {
			m.backoff = m.backoffMax
		}
	}
	m.retryAt = time.Now().Add(m.backoff)
}

func (m *ModbusRobot) setSlave(id byte) {
	switch h := m.handler.(type) {
	case *modbus.RTUClientHandler:
		h.SlaveId = id
	case *modbus.TCPClientHandler:
		h.SlaveId = id
	default:
		logging.Error("Unknown Modbus handler type", "type", fmt.Sprintf("%T", h))
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "reset") ||
		strings.Contains(s, "closed") ||
		strings.Contains(s, "eof") ||
		strings.Contains(s, "i/o") ||
		strings.Contains(s, "timeout") {
		return true
	}
	logging.Warn("Robot returned an error that may not be transient", "error", err)
	return false
}

// withClient runs fn on a connected client and retries once after a
// reconnect when the failure looks transient.
func (m *ModbusRobot) withClient(ctx context.Context, access uint8, fn func() ([]byte, error)) ([]byte, error) {
	if err := m.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	v, err := m.callWithSettle(ctx, access, fn)
	if err == nil {
		return v, nil
	}
	if isTransient(err) {
		logging.Warn("Robot request failed, reconnecting", "error", err)
		// redial right away; backoff only starts once a dial fails
		m.connOK = false
		m.lastConnErr = err
		if err2 := m.EnsureConnected(ctx); err2 == nil {
			return m.callWithSettle(ctx, access, fn)
		}
	}
	return nil, err
}

func (m *ModbusRobot) callWithSettle(ctx context.Context, access uint8, fn func() ([]byte, error)) ([]byte, error) {
	if err := sleepCtx(ctx, m.cfg.SettleBeforeRequest()); err != nil {
		return nil, err
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	if access == WRITE {
		if err := sleepCtx(ctx, m.cfg.SettleAfterWrite()); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ReadState refreshes every state slot: coils into the digital outputs,
// discrete inputs into the digital inputs and the input register block into
// the rest. states must be the full layout in slot order.
func (m *ModbusRobot) ReadState(ctx context.Context, states []*hwif.Handle) error {
	if len(states) != layout.StateCount {
		return fmt.Errorf("%w: state interfaces: want %d, got %d", layout.ErrLayoutMismatch, layout.StateCount, len(states))
	}

	// ===== FC1: Coils (Digital Outputs) =====
	do := m.regs.DigitalOutputs
	coils, err := m.withClient(ctx, READ, func() ([]byte, error) {
		return m.client.ReadCoils(do.Start, do.Count)
	})
	if err != nil {
		return fmt.Errorf("read digital outputs: %w", err)
	}
	if err := unpackBits(coils, states[layout.DigitalOutputs:layout.DigitalOutputs+layout.DigitalPins]); err != nil {
		return fmt.Errorf("read digital outputs: %w", err)
	}

	// ===== FC2: Discrete Inputs (Digital Inputs) =====
	di := m.regs.DigitalInputs
	inputs, err := m.withClient(ctx, READ, func() ([]byte, error) {
		return m.client.ReadDiscreteInputs(di.Start, di.Count)
	})
	if err != nil {
		return fmt.Errorf("read digital inputs: %w", err)
	}
	if err := unpackBits(inputs, states[layout.DigitalInputs:layout.DigitalInputs+layout.DigitalPins]); err != nil {
		return fmt.Errorf("read digital inputs: %w", err)
	}

	// ===== FC4: Input Registers (state block) =====
	sb := m.regs.StateBlock
	words, err := m.withClient(ctx, READ, func() ([]byte, error) {
		return m.client.ReadInputRegisters(sb.Start, sb.Count)
	})
	if err != nil {
		return fmt.Errorf("read state block: %w", err)
	}
	if len(words) < int(sb.Count)*2 {
		return fmt.Errorf("read state block: short response (%d bytes)", len(words))
	}
	for i := 0; i < int(sb.Count); i++ {
		offset := layout.AnalogOutputs + i
		word := binary.BigEndian.Uint16(words[i*2:])
		states[offset].SetValue(DecodeState(offset, word))
	}
	return nil
}

// ===== FC5: single coil =====
func (m *ModbusRobot) WriteDigitalOutput(ctx context.Context, pin int, on bool) error {
	if pin < 0 || pin >= layout.DigitalPins {
		return fmt.Errorf("digital output %d out of range", pin)
	}
	addr := m.regs.DigitalOutputs.Start + uint16(pin)
	_, err := m.withClient(ctx, WRITE, func() ([]byte, error) {
		val := uint16(0)
		if on {
			val = 0xFF00
		}
		return m.client.WriteSingleCoil(addr, val)
	})
	return err
}

// ===== FC6: single holding register =====
func (m *ModbusRobot) WriteAnalogOutput(ctx context.Context, pin int, value float64) error {
	if pin < 0 || pin >= layout.AnalogPins {
		return fmt.Errorf("analog output %d out of range", pin)
	}
	addr := m.regs.AnalogOutputCmd.Start + uint16(pin)
	_, err := m.withClient(ctx, WRITE, func() ([]byte, error) {
		return m.client.WriteSingleRegister(addr, Encode(value, AnalogOutputScale))
	})
	return err
}

func (m *ModbusRobot) WriteSpeedSlider(ctx context.Context, fraction float64) error {
	addr := m.regs.SpeedSliderCmd.Start
	_, err := m.withClient(ctx, WRITE, func() ([]byte, error) {
		return m.client.WriteSingleRegister(addr, Encode(fraction, SpeedSliderScale))
	})
	return err
}

// unpackBits spreads an LSB-first packed bit response over the handles.
func unpackBits(data []byte, dst []*hwif.Handle) error {
	if len(data)*8 < len(dst) {
		return fmt.Errorf("short bit response: %d bytes for %d bits", len(data), len(dst))
	}
	for i, h := range dst {
		if data[i/8]&(1<<(i%8)) != 0 {
			h.SetValue(1)
		} else {
			h.SetValue(0)
		}
	}
	return nil
}
