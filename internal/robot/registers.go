package robot

import (
	"math"

	"github.com/fisaks/uhn-gpio/internal/layout"
)

// Register scales for the input register state block. A register holds the
// slot value multiplied by its scale, as a signed 16-bit integer.
const (
	ScaleMilli = 1000
	ScaleDeci  = 10
	ScaleUnit  = 1
)

// SpeedSliderScale and AnalogOutputScale apply to the holding registers the
// robot consumes commands from.
const (
	SpeedSliderScale  = ScaleMilli
	AnalogOutputScale = ScaleMilli
)

// StateScale returns the register scale of a state slot inside the state
// block (offsets layout.AnalogOutputs and up).
func StateScale(offset int) float64 {
	switch {
	case offset >= layout.AnalogOutputs && offset < layout.AnalogIOTypesBase:
		return ScaleMilli
	case offset == layout.ToolOutputCurrent:
		return ScaleMilli
	case offset == layout.ToolTemperature:
		return ScaleDeci
	case offset >= layout.ToolAnalogInputs && offset < layout.ToolAnalogIOTypes:
		return ScaleMilli
	default:
		return ScaleUnit
	}
}

// Encode turns a slot value into its register word, saturating at the
// int16 range.
func Encode(value, scale float64) uint16 {
	v := math.Round(value * scale)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return uint16(int16(v))
}

// Decode is the inverse of Encode.
func Decode(word uint16, scale float64) float64 {
	return float64(int16(word)) / scale
}

// EncodeState encodes the value of a state slot at offset.
func EncodeState(offset int, value float64) uint16 {
	return Encode(value, StateScale(offset))
}

// DecodeState decodes the word of a state slot at offset.
func DecodeState(offset int, word uint16) float64 {
	return Decode(word, StateScale(offset))
}
