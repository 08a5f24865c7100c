// Package layout is the fixed slot geometry shared by the controller and the
// interface registry. Offsets are protocol-locked and MUST NOT be configurable.
package layout

import (
	"errors"
	"fmt"
	"strconv"
)

const Prefix = "gpio/"

// ---- GROUP SIZES ----

const (
	DigitalPins    = 18
	AnalogPins     = 2
	AnalogIOTypes  = 4
	ToolAnalogPins = 2
	RobotStatus    = 4
	SafetyStatus   = 11
)

// ---- COMMAND SLOTS ----

const (
	DigitalOutputCmd    = 0
	AnalogOutputCmd     = DigitalOutputCmd + DigitalPins // 18
	IOAsyncSuccess      = AnalogOutputCmd + AnalogPins   // 20
	SpeedScalingCmd     = IOAsyncSuccess + 1             // 21
	ScalingAsyncSuccess = SpeedScalingCmd + 1            // 22

	CommandCount = ScalingAsyncSuccess + 1
)

// ---- STATE SLOTS ----

const (
	DigitalOutputs    = 0
	DigitalInputs     = DigitalOutputs + DigitalPins
	AnalogOutputs     = DigitalInputs + DigitalPins
	AnalogInputs      = AnalogOutputs + AnalogPins
	AnalogIOTypesBase = AnalogInputs + AnalogPins // inputs first, then outputs
	ToolMode          = AnalogIOTypesBase + AnalogIOTypes
	ToolOutputVoltage = ToolMode + 1
	ToolOutputCurrent = ToolOutputVoltage + 1
	ToolTemperature   = ToolOutputCurrent + 1
	ToolAnalogInputs  = ToolTemperature + 1
	ToolAnalogIOTypes = ToolAnalogInputs + ToolAnalogPins
	RobotMode         = ToolAnalogIOTypes + ToolAnalogPins
	RobotStatusBits   = RobotMode + 1
	SafetyMode        = RobotStatusBits + RobotStatus
	SafetyStatusBits  = SafetyMode + 1

	StateCount = SafetyStatusBits + SafetyStatus
)

// AnalogInputDomain and AnalogOutputDomain give the analog_io_type slot that
// carries the domain of the given analog pin.
func AnalogInputDomain(pin int) int  { return AnalogIOTypesBase + pin }
func AnalogOutputDomain(pin int) int { return AnalogIOTypesBase + AnalogPins + pin }

// ErrLayoutMismatch is returned when the interfaces handed over by the host
// do not match the declared geometry.
var ErrLayoutMismatch = errors.New("interface layout mismatch")

// CommandNames returns the command interface names in slot order.
func CommandNames() []string {
	names := make([]string, 0, CommandCount)
	names = appendIndexed(names, "standard_digital_output_cmd_", DigitalPins)
	names = appendIndexed(names, "standard_analog_output_cmd_", AnalogPins)
	names = append(names,
		Prefix+"io_async_success",
		Prefix+"speed_scaling_factor_cmd",
		Prefix+"scaling_async_success",
	)
	return names
}

// StateNames returns the state interface names in slot order.
func StateNames() []string {
	names := make([]string, 0, StateCount)
	names = appendIndexed(names, "digital_output_", DigitalPins)
	names = appendIndexed(names, "digital_input_", DigitalPins)
	names = appendIndexed(names, "standard_analog_output_", AnalogPins)
	names = appendIndexed(names, "standard_analog_input_", AnalogPins)
	names = appendIndexed(names, "analog_io_type_", AnalogIOTypes)
	names = append(names,
		Prefix+"tool_mode",
		Prefix+"tool_output_voltage",
		Prefix+"tool_output_current",
		Prefix+"tool_temperature",
	)
	names = appendIndexed(names, "tool_analog_input_", ToolAnalogPins)
	names = appendIndexed(names, "tool_analog_input_type_", ToolAnalogPins)
	names = append(names, Prefix+"robot_mode")
	names = appendIndexed(names, "robot_status_bit_", RobotStatus)
	names = append(names, Prefix+"safety_mode")
	names = appendIndexed(names, "safety_status_bit_", SafetyStatus)
	return names
}

// Check verifies that got lists exactly the expected names in the expected order.
func Check(kind string, expected, got []string) error {
	if len(got) != len(expected) {
		return fmt.Errorf("%w: %s interfaces: want %d, got %d", ErrLayoutMismatch, kind, len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			return fmt.Errorf("%w: %s interface %d: want %q, got %q", ErrLayoutMismatch, kind, i, expected[i], got[i])
		}
	}
	return nil
}

func appendIndexed(names []string, stem string, count int) []string {
	for i := 0; i < count; i++ {
		names = append(names, Prefix+stem+strconv.Itoa(i))
	}
	return names
}
