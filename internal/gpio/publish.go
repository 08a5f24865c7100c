package gpio

import (
	"context"
	"time"

	"github.com/fisaks/uhn-gpio/internal/layout"
)

const (
	robotModeKey  = "robot_mode"
	safetyModeKey = "safety_mode"
)

// PublishIO emits the digital and analog snapshot. Runs every cycle.
func (c *Controller) PublishIO(ctx context.Context) error {
	msg := &c.ioMsg
	msg.Timestamp = time.Now()
	for i := 0; i < layout.DigitalPins; i++ {
		msg.DigitalOutStates[i].State = c.states.Value(layout.DigitalOutputs+i) != 0
		msg.DigitalInStates[i].State = c.states.Value(layout.DigitalInputs+i) != 0
	}
	for i := 0; i < layout.AnalogPins; i++ {
		msg.AnalogInStates[i].State = float32(c.states.Value(layout.AnalogInputs + i))
		msg.AnalogInStates[i].Domain = uint8(c.states.Value(layout.AnalogInputDomain(i)))
		msg.AnalogOutStates[i].State = float32(c.states.Value(layout.AnalogOutputs + i))
		msg.AnalogOutStates[i].Domain = uint8(c.states.Value(layout.AnalogOutputDomain(i)))
	}

	c.latestMu.Lock()
	c.latestIO = *msg
	c.latestMu.Unlock()

	return c.publisher.PublishIOStates(ctx, *msg)
}

// PublishToolData emits the tool flange snapshot. Runs every cycle.
func (c *Controller) PublishToolData(ctx context.Context) error {
	msg := &c.toolMsg
	msg.Timestamp = time.Now()
	msg.ToolMode = uint8(c.states.Value(layout.ToolMode))
	msg.AnalogInputRange2 = uint8(c.states.Value(layout.ToolAnalogIOTypes))
	msg.AnalogInputRange3 = uint8(c.states.Value(layout.ToolAnalogIOTypes + 1))
	msg.AnalogInput2 = float32(c.states.Value(layout.ToolAnalogInputs))
	msg.AnalogInput3 = float32(c.states.Value(layout.ToolAnalogInputs + 1))
	msg.ToolOutputVoltage = uint8(c.states.Value(layout.ToolOutputVoltage))
	msg.ToolCurrent = float32(c.states.Value(layout.ToolOutputCurrent))
	msg.ToolTemperature = float32(c.states.Value(layout.ToolTemperature))

	c.latestMu.Lock()
	c.latestTool = *msg
	c.latestMu.Unlock()

	return c.publisher.PublishToolData(ctx, *msg)
}

// PublishRobotMode emits only when the mode differs from the last emitted
// value and reports whether it did.
func (c *Controller) PublishRobotMode(ctx context.Context) (bool, error) {
	mode := int8(c.states.Value(layout.RobotMode))
	if !c.modes.HasChanged(robotModeKey, int(mode)) {
		return false, nil
	}
	msg := RobotMode{Mode: mode}
	if err := c.publisher.PublishRobotMode(ctx, msg); err != nil {
		return false, err
	}
	c.modes.Update(robotModeKey, int(mode))
	return true, nil
}

// PublishSafetyMode emits only when the mode differs from the last emitted
// value and reports whether it did.
func (c *Controller) PublishSafetyMode(ctx context.Context) (bool, error) {
	mode := uint8(c.states.Value(layout.SafetyMode))
	if !c.modes.HasChanged(safetyModeKey, int(mode)) {
		return false, nil
	}
	msg := SafetyMode{Mode: mode}
	if err := c.publisher.PublishSafetyMode(ctx, msg); err != nil {
		return false, err
	}
	c.modes.Update(safetyModeKey, int(mode))
	return true, nil
}

// LatestIO returns the snapshot built by the most recent cycle.
func (c *Controller) LatestIO() IOStates {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	return c.latestIO
}

// LatestToolData returns the snapshot built by the most recent cycle.
func (c *Controller) LatestToolData() ToolData {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	return c.latestTool
}

// Modes returns the last emitted robot and safety mode.
func (c *Controller) Modes() (robot RobotMode, safety SafetyMode, ok bool) {
	r, _, okR := c.modes.GetLast(robotModeKey)
	s, _, okS := c.modes.GetLast(safetyModeKey)
	return RobotMode{Mode: int8(r)}, SafetyMode{Mode: uint8(s)}, okR && okS
}

// Status reads the robot and safety status bits directly from the state
// interfaces.
func (c *Controller) Status() (StatusBits, error) {
	var bits StatusBits
	if lifecycle(c.phase.Load()) == unconfigured {
		return bits, ErrNotConfigured
	}
	for i := range bits.Robot {
		bits.Robot[i] = c.states.Value(layout.RobotStatusBits+i) != 0
	}
	for i := range bits.Safety {
		bits.Safety[i] = c.states.Value(layout.SafetyStatusBits+i) != 0
	}
	return bits, nil
}
