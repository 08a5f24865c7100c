package gpio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fisaks/uhn-gpio/internal/hwif"
	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/logging"
	"github.com/fisaks/uhn-gpio/internal/state"
)

const (
	DefaultPollInterval     = 50 * time.Millisecond
	DefaultHandshakeTimeout = 2 * time.Second
)

type lifecycle int32

const (
	unconfigured lifecycle = iota
	inactive
	active
)

type Options struct {
	Name string
	// PollInterval is how often a pending request re-reads its flag.
	PollInterval time.Duration
	// HandshakeTimeout bounds the wait for the control cycle. Zero or
	// negative disables the bound; the caller's context still applies.
	HandshakeTimeout time.Duration
	Publisher        Publisher
}

// Controller publishes I/O snapshots from the state interfaces every cycle
// and turns SetIO / SetSpeedSlider requests into flag handshakes on the
// command interfaces.
type Controller struct {
	name      string
	opts      Options
	publisher Publisher

	registry *hwif.Registry
	commands hwif.CommandInterfaces
	states   hwif.StateInterfaces
	phase    atomic.Int32

	// cycle-owned buffers, reused every Update
	ioMsg   IOStates
	toolMsg ToolData
	modes   state.ModeStore

	latestMu   sync.RWMutex
	latestIO   IOStates
	latestTool ToolData

	ioHandshake      *handshake
	scalingHandshake *handshake
	pulses           *pulseScheduler
}

func NewController(opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Name == "" {
		opts.Name = "gpio_controller"
	}
	c := &Controller{
		name:      opts.Name,
		opts:      opts,
		publisher: opts.Publisher,
		modes:     state.NewModeStore(),
	}
	c.pulses = newPulseScheduler(c)
	c.initMsgs()
	return c
}

func (c *Controller) Name() string { return c.name }

// Configure claims every interface the layout declares. Any mismatch is a
// configuration error and the controller stays unconfigured.
func (c *Controller) Configure(registry *hwif.Registry) error {
	if c.publisher == nil {
		return fmt.Errorf("%w: no publisher", ErrNotConfigured)
	}
	commands, err := registry.ClaimCommandInterfaces(layout.CommandNames())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	if err := layout.Check("command", layout.CommandNames(), commands.Names()); err != nil {
		registry.ReleaseCommandInterfaces(commands)
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	states, err := registry.ClaimStateInterfaces(layout.StateNames())
	if err != nil {
		registry.ReleaseCommandInterfaces(commands)
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	if err := layout.Check("state", layout.StateNames(), states.Names()); err != nil {
		registry.ReleaseCommandInterfaces(commands)
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}

	c.registry = registry
	c.commands = commands
	c.states = states
	c.ioHandshake = newHandshake("io", commands, layout.IOAsyncSuccess, c.opts.PollInterval, c.opts.HandshakeTimeout)
	c.scalingHandshake = newHandshake("scaling", commands, layout.ScalingAsyncSuccess, c.opts.PollInterval, c.opts.HandshakeTimeout)
	c.phase.Store(int32(inactive))

	logging.Info("Controller configured", "controller", c.name,
		"commandInterfaces", commands.Len(), "stateInterfaces", states.Len())
	return nil
}

func (c *Controller) Activate() error {
	if lifecycle(c.phase.Load()) == unconfigured {
		return ErrNotConfigured
	}
	c.modes.Clear()
	if r, ok := c.publisher.(interface{ ResetModes() }); ok {
		r.ResetModes()
	}
	c.phase.Store(int32(active))
	logging.Info("Controller activated", "controller", c.name)
	return nil
}

func (c *Controller) Deactivate() {
	if !c.phase.CompareAndSwap(int32(active), int32(inactive)) {
		return
	}
	c.pulses.Stop()
	logging.Info("Controller deactivated", "controller", c.name)
}

// Cleanup gives the command interfaces back to the registry.
func (c *Controller) Cleanup() {
	c.Deactivate()
	if c.registry != nil {
		c.registry.ReleaseCommandInterfaces(c.commands)
		c.registry = nil
	}
	c.phase.Store(int32(unconfigured))
}

func (c *Controller) IsActive() bool {
	return lifecycle(c.phase.Load()) == active
}

// Update runs once per control cycle. Publish failures are logged and do
// not abort the cycle.
func (c *Controller) Update(ctx context.Context) error {
	if !c.IsActive() {
		return ErrNotActive
	}
	if err := c.PublishIO(ctx); err != nil {
		logging.Warn("Failed to publish io states", "controller", c.name, "error", err)
	}
	if err := c.PublishToolData(ctx); err != nil {
		logging.Warn("Failed to publish tool data", "controller", c.name, "error", err)
	}
	if _, err := c.PublishRobotMode(ctx); err != nil {
		logging.Warn("Failed to publish robot mode", "controller", c.name, "error", err)
	}
	if _, err := c.PublishSafetyMode(ctx); err != nil {
		logging.Warn("Failed to publish safety mode", "controller", c.name, "error", err)
	}
	return nil
}

func (c *Controller) initMsgs() {
	for i := 0; i < layout.DigitalPins; i++ {
		c.ioMsg.DigitalOutStates[i].Pin = uint8(i)
		c.ioMsg.DigitalInStates[i].Pin = uint8(i)
	}
	for i := 0; i < layout.AnalogPins; i++ {
		c.ioMsg.AnalogInStates[i].Pin = uint8(i)
		c.ioMsg.AnalogOutStates[i].Pin = uint8(i)
	}
}
