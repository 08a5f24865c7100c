package gpio

import (
	"context"
	"errors"
	"time"

	"github.com/fisaks/uhn-gpio/internal/layout"
)

var (
	ErrNotConfigured    = errors.New("gpio controller not configured")
	ErrNotActive        = errors.New("gpio controller not active")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrHandshakeTimeout = errors.New("handshake not acknowledged by control cycle")
)

// Function selects what a SetIO request drives. Values follow the robot's
// SetIO service definition.
type Function uint8

const (
	FunSetDigitalOut  Function = 1
	FunSetFlag        Function = 2
	FunSetAnalogOut   Function = 3
	FunSetToolVoltage Function = 4
)

func (f Function) String() string {
	switch f {
	case FunSetDigitalOut:
		return "digital_out"
	case FunSetFlag:
		return "flag"
	case FunSetAnalogOut:
		return "analog_out"
	case FunSetToolVoltage:
		return "tool_voltage"
	default:
		return "unknown"
	}
}

type SetIORequest struct {
	ID    string // correlation id, generated when empty
	Fun   Function
	Pin   int
	State float64
	// Pulse, when > 0 on a digital output, writes the inverse state back
	// after the given duration.
	Pulse time.Duration
}

type SpeedSliderRequest struct {
	ID       string // correlation id, generated when empty
	Fraction float64
}

type Digital struct {
	Pin   uint8 `json:"pin"`
	State bool  `json:"state"`
}

type Analog struct {
	Pin    uint8   `json:"pin"`
	Domain uint8   `json:"domain"` // 0 = current, 1 = voltage
	State  float32 `json:"state"`
}

// IOStates is rebuilt and emitted every cycle.
type IOStates struct {
	Timestamp        time.Time                   `json:"timestamp"`
	DigitalOutStates [layout.DigitalPins]Digital `json:"digitalOutStates"`
	DigitalInStates  [layout.DigitalPins]Digital `json:"digitalInStates"`
	AnalogInStates   [layout.AnalogPins]Analog   `json:"analogInStates"`
	AnalogOutStates  [layout.AnalogPins]Analog   `json:"analogOutStates"`
}

// ToolData is rebuilt and emitted every cycle.
type ToolData struct {
	Timestamp         time.Time `json:"timestamp"`
	ToolMode          uint8     `json:"toolMode"`
	AnalogInputRange2 uint8     `json:"analogInputRange2"`
	AnalogInputRange3 uint8     `json:"analogInputRange3"`
	AnalogInput2      float32   `json:"analogInput2"`
	AnalogInput3      float32   `json:"analogInput3"`
	ToolOutputVoltage uint8     `json:"toolOutputVoltage"`
	ToolCurrent       float32   `json:"toolCurrent"`
	ToolTemperature   float32   `json:"toolTemperature"`
}

type RobotMode struct {
	Mode int8 `json:"mode"`
}

type SafetyMode struct {
	Mode uint8 `json:"mode"`
}

// StatusBits are the raw robot and safety status bits, read on demand.
type StatusBits struct {
	Robot  [layout.RobotStatus]bool  `json:"robot"`
	Safety [layout.SafetyStatus]bool `json:"safety"`
}

// Publisher receives snapshots from the control cycle. Implementations must
// not block: they run inside the cycle.
type Publisher interface {
	PublishIOStates(ctx context.Context, msg IOStates) error
	PublishToolData(ctx context.Context, msg ToolData) error
	PublishRobotMode(ctx context.Context, msg RobotMode) error
	PublishSafetyMode(ctx context.Context, msg SafetyMode) error
}

const (
	RobotModeNoController     int8 = -1
	RobotModeDisconnected     int8 = 0
	RobotModeConfirmSafety    int8 = 1
	RobotModeBooting          int8 = 2
	RobotModePowerOff         int8 = 3
	RobotModePowerOn          int8 = 4
	RobotModeIdle             int8 = 5
	RobotModeBackdrive        int8 = 6
	RobotModeRunning          int8 = 7
	RobotModeUpdatingFirmware int8 = 8
)

var robotModeNames = map[int8]string{
	RobotModeNoController:     "NO_CONTROLLER",
	RobotModeDisconnected:     "DISCONNECTED",
	RobotModeConfirmSafety:    "CONFIRM_SAFETY",
	RobotModeBooting:          "BOOTING",
	RobotModePowerOff:         "POWER_OFF",
	RobotModePowerOn:          "POWER_ON",
	RobotModeIdle:             "IDLE",
	RobotModeBackdrive:        "BACKDRIVE",
	RobotModeRunning:          "RUNNING",
	RobotModeUpdatingFirmware: "UPDATING_FIRMWARE",
}

func (m RobotMode) String() string {
	if s, ok := robotModeNames[m.Mode]; ok {
		return s
	}
	return "UNKNOWN"
}

const (
	SafetyModeNormal                    uint8 = 1
	SafetyModeReduced                   uint8 = 2
	SafetyModeProtectiveStop            uint8 = 3
	SafetyModeRecovery                  uint8 = 4
	SafetyModeSafeguardStop             uint8 = 5
	SafetyModeSystemEmergencyStop       uint8 = 6
	SafetyModeRobotEmergencyStop        uint8 = 7
	SafetyModeViolation                 uint8 = 8
	SafetyModeFault                     uint8 = 9
	SafetyModeValidateJointID           uint8 = 10
	SafetyModeUndefined                 uint8 = 11
	SafetyModeAutomaticSafeguardStop    uint8 = 12
	SafetyModeThreePositionEnablingStop uint8 = 13
)

var safetyModeNames = map[uint8]string{
	SafetyModeNormal:                    "NORMAL",
	SafetyModeReduced:                   "REDUCED",
	SafetyModeProtectiveStop:            "PROTECTIVE_STOP",
	SafetyModeRecovery:                  "RECOVERY",
	SafetyModeSafeguardStop:             "SAFEGUARD_STOP",
	SafetyModeSystemEmergencyStop:       "SYSTEM_EMERGENCY_STOP",
	SafetyModeRobotEmergencyStop:        "ROBOT_EMERGENCY_STOP",
	SafetyModeViolation:                 "VIOLATION",
	SafetyModeFault:                     "FAULT",
	SafetyModeValidateJointID:           "VALIDATE_JOINT_ID",
	SafetyModeUndefined:                 "UNDEFINED_SAFETY_MODE",
	SafetyModeAutomaticSafeguardStop:    "AUTOMATIC_MODE_SAFEGUARD_STOP",
	SafetyModeThreePositionEnablingStop: "SYSTEM_THREE_POSITION_ENABLING_STOP",
}

func (m SafetyMode) String() string {
	if s, ok := safetyModeNames[m.Mode]; ok {
		return s
	}
	return "UNKNOWN"
}
