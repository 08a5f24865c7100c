// Package hwif holds the named numeric slots shared between the control cycle
// and the controller. The registry owns the storage; consumers only get
// index-addressable views over handles they claimed by name.
package hwif

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

var (
	ErrUnknownInterface   = errors.New("unknown interface")
	ErrDuplicateInterface = errors.New("duplicate interface name")
	ErrAlreadyClaimed     = errors.New("command interface already claimed")
)

// Handle is one numeric cell. Reads and writes are atomic per cell.
type Handle struct {
	name string
	bits atomic.Uint64
}

func newHandle(name string, initial float64) *Handle {
	h := &Handle{name: name}
	h.SetValue(initial)
	return h
}

func (h *Handle) Name() string       { return h.name }
func (h *Handle) Value() float64     { return math.Float64frombits(h.bits.Load()) }
func (h *Handle) SetValue(v float64) { h.bits.Store(math.Float64bits(v)) }

// Swap stores v and returns the previous value.
func (h *Handle) Swap(v float64) float64 {
	return math.Float64frombits(h.bits.Swap(math.Float64bits(v)))
}

// CompareAndSwap compares bit patterns, so NaN matches NaN.
func (h *Handle) CompareAndSwap(old, v float64) bool {
	return h.bits.CompareAndSwap(math.Float64bits(old), math.Float64bits(v))
}

// Registry is the host-owned store of command and state interfaces.
// Command cells start as NaN ("no command"), state cells as 0.
type Registry struct {
	commands     []*Handle
	states       []*Handle
	commandIndex map[string]*Handle
	stateIndex   map[string]*Handle

	mu      sync.Mutex
	claimed map[*Handle]struct{}
}

func NewRegistry(commandNames, stateNames []string) (*Registry, error) {
	r := &Registry{
		commandIndex: make(map[string]*Handle, len(commandNames)),
		stateIndex:   make(map[string]*Handle, len(stateNames)),
		claimed:      make(map[*Handle]struct{}),
	}
	for _, name := range commandNames {
		if _, dup := r.commandIndex[name]; dup {
			return nil, fmt.Errorf("%w: command %q", ErrDuplicateInterface, name)
		}
		h := newHandle(name, math.NaN())
		r.commands = append(r.commands, h)
		r.commandIndex[name] = h
	}
	for _, name := range stateNames {
		if _, dup := r.stateIndex[name]; dup {
			return nil, fmt.Errorf("%w: state %q", ErrDuplicateInterface, name)
		}
		h := newHandle(name, 0)
		r.states = append(r.states, h)
		r.stateIndex[name] = h
	}
	return r, nil
}

// Commands returns every command handle in registration order. Used by the
// hardware side of the cycle, which consumes commands and writes flags back.
func (r *Registry) Commands() []*Handle { return r.commands }

// States returns every state handle in registration order. Used by the
// hardware side of the cycle to refresh values.
func (r *Registry) States() []*Handle { return r.states }

// Command looks up a single command handle by name.
func (r *Registry) Command(name string) (*Handle, bool) {
	h, ok := r.commandIndex[name]
	return h, ok
}

// State looks up a single state handle by name.
func (r *Registry) State(name string) (*Handle, bool) {
	h, ok := r.stateIndex[name]
	return h, ok
}

// ClaimCommandInterfaces hands out exclusive write access to the named
// command interfaces, in the requested order.
func (r *Registry) ClaimCommandInterfaces(names []string) (CommandInterfaces, error) {
	handles := make([]*Handle, 0, len(names))
	for _, name := range names {
		h, ok := r.commandIndex[name]
		if !ok {
			return CommandInterfaces{}, fmt.Errorf("%w: command %q", ErrUnknownInterface, name)
		}
		handles = append(handles, h)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		if _, taken := r.claimed[h]; taken {
			return CommandInterfaces{}, fmt.Errorf("%w: %q", ErrAlreadyClaimed, h.name)
		}
	}
	for _, h := range handles {
		r.claimed[h] = struct{}{}
	}
	return CommandInterfaces{handles: handles}, nil
}

// ReleaseCommandInterfaces gives claimed command interfaces back.
func (r *Registry) ReleaseCommandInterfaces(c CommandInterfaces) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range c.handles {
		delete(r.claimed, h)
	}
}

// ClaimStateInterfaces returns a read-only view over the named state
// interfaces. State interfaces can be shared by any number of readers.
func (r *Registry) ClaimStateInterfaces(names []string) (StateInterfaces, error) {
	handles := make([]*Handle, 0, len(names))
	for _, name := range names {
		h, ok := r.stateIndex[name]
		if !ok {
			return StateInterfaces{}, fmt.Errorf("%w: state %q", ErrUnknownInterface, name)
		}
		handles = append(handles, h)
	}
	return StateInterfaces{handles: handles}, nil
}
