package gpio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fisaks/uhn-gpio/internal/hwif"
	"github.com/fisaks/uhn-gpio/internal/layout"
)

type recordingPublisher struct {
	mu       sync.Mutex
	io       []IOStates
	tool     []ToolData
	robot    []RobotMode
	safety   []SafetyMode
	robotErr error
}

func (p *recordingPublisher) PublishIOStates(_ context.Context, msg IOStates) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.io = append(p.io, msg)
	return nil
}

func (p *recordingPublisher) PublishToolData(_ context.Context, msg ToolData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tool = append(p.tool, msg)
	return nil
}

func (p *recordingPublisher) PublishRobotMode(_ context.Context, msg RobotMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.robotErr != nil {
		return p.robotErr
	}
	p.robot = append(p.robot, msg)
	return nil
}

func (p *recordingPublisher) PublishSafetyMode(_ context.Context, msg SafetyMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.safety = append(p.safety, msg)
	return nil
}

func (p *recordingPublisher) robotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.robot)
}

// helper: configured and active controller over a fresh registry
func newTestController(t *testing.T, opts Options) (*Controller, *hwif.Registry, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	if opts.Publisher == nil {
		opts.Publisher = pub
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Millisecond
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = time.Second
	}
	reg, err := hwif.NewRegistry(layout.CommandNames(), layout.StateNames())
	if err != nil {
		t.Fatalf("NewRegistry() err=%v", err)
	}
	c := NewController(opts)
	if err := c.Configure(reg); err != nil {
		t.Fatalf("Configure() err=%v", err)
	}
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate() err=%v", err)
	}
	t.Cleanup(c.Cleanup)
	return c, reg, pub
}

func setState(t *testing.T, reg *hwif.Registry, offset int, v float64) {
	t.Helper()
	reg.States()[offset].SetValue(v)
}

func command(reg *hwif.Registry, offset int) float64 {
	return reg.Commands()[offset].Value()
}

func TestConfigure_UnknownInterface(t *testing.T) {
	names := layout.StateNames()
	reg, err := hwif.NewRegistry(layout.CommandNames(), names[:len(names)-1])
	if err != nil {
		t.Fatalf("NewRegistry() err=%v", err)
	}
	c := NewController(Options{Publisher: &recordingPublisher{}})
	err = c.Configure(reg)
	if !errors.Is(err, ErrNotConfigured) || !errors.Is(err, hwif.ErrUnknownInterface) {
		t.Fatalf("expected not configured / unknown interface, got %v", err)
	}
	if err := c.Activate(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Activate() on unconfigured controller: %v", err)
	}
	// the failed claim must not hold the command interfaces
	if _, err := reg.ClaimCommandInterfaces(layout.CommandNames()); err != nil {
		t.Fatalf("command interfaces still claimed: %v", err)
	}
}

func TestConfigure_NoPublisher(t *testing.T) {
	reg, _ := hwif.NewRegistry(layout.CommandNames(), layout.StateNames())
	c := NewController(Options{})
	if err := c.Configure(reg); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestConfigure_SecondControllerRejected(t *testing.T) {
	_, reg, _ := newTestController(t, Options{})
	other := NewController(Options{Publisher: &recordingPublisher{}})
	if err := other.Configure(reg); !errors.Is(err, hwif.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestUpdate_NotActive(t *testing.T) {
	c, _, pub := newTestController(t, Options{})
	c.Deactivate()
	if err := c.Update(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if len(pub.io) != 0 {
		t.Fatalf("inactive controller published %d snapshots", len(pub.io))
	}
}

func TestPublishIO_RoundTrip(t *testing.T) {
	c, reg, pub := newTestController(t, Options{})

	for i := 0; i < layout.DigitalPins; i++ {
		setState(t, reg, layout.DigitalOutputs+i, float64(i%2))
		setState(t, reg, layout.DigitalInputs+i, float64((i/3)%2))
	}
	analogIn := []float64{3.3, 0.012}
	analogOut := []float64{0.004, 7.5}
	for i := 0; i < layout.AnalogPins; i++ {
		setState(t, reg, layout.AnalogInputs+i, analogIn[i])
		setState(t, reg, layout.AnalogOutputs+i, analogOut[i])
		setState(t, reg, layout.AnalogInputDomain(i), float64(1-i))
		setState(t, reg, layout.AnalogOutputDomain(i), float64(i))
	}

	if err := c.Update(context.Background()); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if len(pub.io) != 1 {
		t.Fatalf("expected 1 io snapshot, got %d", len(pub.io))
	}
	msg := pub.io[0]
	for i := 0; i < layout.DigitalPins; i++ {
		if msg.DigitalOutStates[i].Pin != uint8(i) || msg.DigitalOutStates[i].State != (i%2 == 1) {
			t.Errorf("digital out %d: got %+v", i, msg.DigitalOutStates[i])
		}
		if msg.DigitalInStates[i].Pin != uint8(i) || msg.DigitalInStates[i].State != ((i/3)%2 == 1) {
			t.Errorf("digital in %d: got %+v", i, msg.DigitalInStates[i])
		}
	}
	for i := 0; i < layout.AnalogPins; i++ {
		in := msg.AnalogInStates[i]
		if in.State != float32(analogIn[i]) || in.Domain != uint8(1-i) {
			t.Errorf("analog in %d: got %+v", i, in)
		}
		out := msg.AnalogOutStates[i]
		if out.State != float32(analogOut[i]) || out.Domain != uint8(i) {
			t.Errorf("analog out %d: got %+v", i, out)
		}
	}
	if got := c.LatestIO(); got != msg {
		t.Errorf("LatestIO() does not match the published snapshot")
	}
}

func TestPublishIO_FirstInputAndVoltageInput(t *testing.T) {
	c, reg, pub := newTestController(t, Options{})
	setState(t, reg, 18, 1)
	setState(t, reg, 38, 3.3)
	setState(t, reg, 40, 1)

	if err := c.PublishIO(context.Background()); err != nil {
		t.Fatalf("PublishIO() err=%v", err)
	}
	msg := pub.io[0]
	if !msg.DigitalInStates[0].State {
		t.Errorf("expected digital input 0 high")
	}
	if msg.DigitalOutStates[0].State {
		t.Errorf("digital output 0 must stay low")
	}
	want := Analog{Pin: 0, Domain: 1, State: 3.3}
	if msg.AnalogInStates[0] != want {
		t.Errorf("analog in 0: want %+v, got %+v", want, msg.AnalogInStates[0])
	}
}

func TestPublishIO_EveryCycle(t *testing.T) {
	c, _, pub := newTestController(t, Options{})
	for i := 0; i < 3; i++ {
		if err := c.Update(context.Background()); err != nil {
			t.Fatalf("Update() err=%v", err)
		}
	}
	if len(pub.io) != 3 || len(pub.tool) != 3 {
		t.Fatalf("expected 3 io and 3 tool snapshots, got %d and %d", len(pub.io), len(pub.tool))
	}
}

func TestPublishToolData(t *testing.T) {
	c, reg, pub := newTestController(t, Options{})
	setState(t, reg, layout.ToolMode, 2)
	setState(t, reg, layout.ToolOutputVoltage, 24)
	setState(t, reg, layout.ToolOutputCurrent, 0.25)
	setState(t, reg, layout.ToolTemperature, 31.5)
	setState(t, reg, layout.ToolAnalogInputs, 0.5)
	setState(t, reg, layout.ToolAnalogInputs+1, 9.75)
	setState(t, reg, layout.ToolAnalogIOTypes, 0)
	setState(t, reg, layout.ToolAnalogIOTypes+1, 1)

	if err := c.PublishToolData(context.Background()); err != nil {
		t.Fatalf("PublishToolData() err=%v", err)
	}
	got := pub.tool[0]
	got.Timestamp = time.Time{}
	want := ToolData{
		ToolMode:          2,
		AnalogInputRange2: 0,
		AnalogInputRange3: 1,
		AnalogInput2:      0.5,
		AnalogInput3:      9.75,
		ToolOutputVoltage: 24,
		ToolCurrent:       0.25,
		ToolTemperature:   31.5,
	}
	if got != want {
		t.Fatalf("tool data:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestPublishRobotMode_OnlyOnChange(t *testing.T) {
	c, reg, pub := newTestController(t, Options{})
	ctx := context.Background()

	// first observed value is emitted once
	for i := 0; i < 5; i++ {
		changed, err := c.PublishRobotMode(ctx)
		if err != nil {
			t.Fatalf("PublishRobotMode() err=%v", err)
		}
		if changed != (i == 0) {
			t.Fatalf("cycle %d: changed=%v", i, changed)
		}
	}
	if pub.robotCount() != 1 {
		t.Fatalf("expected exactly 1 robot mode message, got %d", pub.robotCount())
	}

	setState(t, reg, layout.RobotMode, float64(RobotModeIdle))
	changed, _ := c.PublishRobotMode(ctx)
	if !changed {
		t.Fatalf("transition 0 -> 5 not emitted")
	}
	changed, _ = c.PublishRobotMode(ctx)
	if changed {
		t.Fatalf("steady mode emitted twice")
	}
	if pub.robot[1].Mode != RobotModeIdle {
		t.Fatalf("expected mode 5, got %d", pub.robot[1].Mode)
	}
}

func TestPublishRobotMode_TransitionAcrossCycles(t *testing.T) {
	c, reg, pub := newTestController(t, Options{})
	ctx := context.Background()

	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	before := pub.robotCount()
	setState(t, reg, layout.RobotMode, 5)
	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if pub.robotCount()-before != 1 {
		t.Fatalf("expected exactly one message for the transition, got %d", pub.robotCount()-before)
	}
	if last := pub.robot[len(pub.robot)-1]; last.Mode != 5 {
		t.Fatalf("expected mode 5, got %d", last.Mode)
	}
	robot, _, ok := c.Modes()
	if !ok || robot.Mode != 5 || robot.String() != "IDLE" {
		t.Fatalf("Modes() = %v, %v", robot, ok)
	}
}

func TestPublishRobotMode_RetryAfterFailedPublish(t *testing.T) {
	c, reg, pub := newTestController(t, Options{})
	ctx := context.Background()
	setState(t, reg, layout.RobotMode, 7)

	pub.robotErr = errors.New("broker down")
	if changed, err := c.PublishRobotMode(ctx); err == nil || changed {
		t.Fatalf("expected failure, got changed=%v err=%v", changed, err)
	}
	pub.robotErr = nil
	changed, err := c.PublishRobotMode(ctx)
	if err != nil || !changed {
		t.Fatalf("expected retry to emit, got changed=%v err=%v", changed, err)
	}
}

func TestPublishSafetyMode_OnlyOnChange(t *testing.T) {
	c, reg, pub := newTestController(t, Options{})
	ctx := context.Background()
	setState(t, reg, layout.SafetyMode, float64(SafetyModeNormal))

	for i := 0; i < 3; i++ {
		if err := c.Update(ctx); err != nil {
			t.Fatalf("Update() err=%v", err)
		}
	}
	setState(t, reg, layout.SafetyMode, float64(SafetyModeProtectiveStop))
	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if len(pub.safety) != 2 {
		t.Fatalf("expected 2 safety messages, got %d", len(pub.safety))
	}
	if pub.safety[1].String() != "PROTECTIVE_STOP" {
		t.Fatalf("unexpected safety mode %v", pub.safety[1])
	}
}

func TestActivate_ResetsRetainedModes(t *testing.T) {
	c, _, pub := newTestController(t, Options{})
	ctx := context.Background()
	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	c.Deactivate()
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate() err=%v", err)
	}
	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if pub.robotCount() != 2 {
		t.Fatalf("expected mode re-emitted after activation, got %d messages", pub.robotCount())
	}
}

func TestStatus(t *testing.T) {
	c, reg, _ := newTestController(t, Options{})
	setState(t, reg, layout.RobotStatusBits+1, 1)
	setState(t, reg, layout.SafetyStatusBits+10, 1)
	bits, err := c.Status()
	if err != nil {
		t.Fatalf("Status() err=%v", err)
	}
	if !bits.Robot[1] || bits.Robot[0] || !bits.Safety[10] || bits.Safety[0] {
		t.Fatalf("unexpected status bits %+v", bits)
	}

	un := NewController(Options{})
	if _, err := un.Status(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPublishers_FanOut(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{robotErr: errors.New("b failed")}
	d := &recordingPublisher{}
	ps := NewPublishers(a, b, d)

	err := ps.PublishRobotMode(context.Background(), RobotMode{Mode: 3})
	if err == nil {
		t.Fatalf("expected combined error")
	}
	if len(a.robot) != 1 || len(d.robot) != 1 {
		t.Fatalf("healthy publishers must still receive the message")
	}
	if err := ps.PublishIOStates(context.Background(), IOStates{}); err != nil {
		t.Fatalf("PublishIOStates() err=%v", err)
	}
}

func TestPublishers_ModesRetainedPerMember(t *testing.T) {
	offline := &recordingPublisher{robotErr: errors.New("not connected")}
	ws := &recordingPublisher{}
	c, reg, _ := newTestController(t, Options{Publisher: NewPublishers(offline, ws)})
	reg.States()[layout.RobotMode].SetValue(7)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := c.Update(ctx); err != nil {
			t.Fatalf("Update() err=%v", err)
		}
	}
	if n := ws.robotCount(); n != 1 {
		t.Fatalf("healthy member received %d robot_mode messages for an unchanged mode, want 1", n)
	}

	offline.mu.Lock()
	offline.robotErr = nil
	offline.mu.Unlock()
	c.Update(ctx)
	c.Update(ctx)
	if n := offline.robotCount(); n != 1 {
		t.Fatalf("recovered member received %d robot_mode messages, want 1", n)
	}
	if n := ws.robotCount(); n != 1 {
		t.Fatalf("healthy member re-sent the mode after another member recovered: %d", n)
	}
	if robot, _, ok := c.Modes(); !ok || robot.Mode != 7 {
		t.Fatalf("Modes() = %+v, %v", robot, ok)
	}

	c.Deactivate()
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate() err=%v", err)
	}
	c.Update(ctx)
	if offline.robotCount() != 2 || ws.robotCount() != 2 {
		t.Fatalf("activation must re-send the mode to every member: %d/%d", offline.robotCount(), ws.robotCount())
	}
}

func TestCommandSlotsStartEmpty(t *testing.T) {
	_, reg, _ := newTestController(t, Options{})
	for i := 0; i < layout.CommandCount; i++ {
		if !math.IsNaN(command(reg, i)) {
			t.Fatalf("command slot %d = %v, want NaN", i, command(reg, i))
		}
	}
}
