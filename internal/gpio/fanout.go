package gpio

import (
	"context"

	"go.uber.org/multierr"

	"github.com/fisaks/uhn-gpio/internal/state"
)

// Publishers forwards every snapshot to each member. All members are called
// even when one fails; the failures are combined.
//
// Robot and safety mode are retained per member: a member only receives a
// mode that differs from the last one it accepted, so a member that keeps
// failing is retried without repeating the mode to the healthy ones.
type Publishers struct {
	members []fanoutMember
}

type fanoutMember struct {
	pub   Publisher
	modes state.ModeStore
}

func NewPublishers(ps ...Publisher) *Publishers {
	f := &Publishers{}
	for _, p := range ps {
		f.Add(p)
	}
	return f
}

// Add registers another member. Call before the control cycle starts.
func (f *Publishers) Add(p Publisher) {
	f.members = append(f.members, fanoutMember{pub: p, modes: state.NewModeStore()})
}

func (f *Publishers) Len() int { return len(f.members) }

// ResetModes forgets what every member accepted, so the next mode is sent to
// all of them.
func (f *Publishers) ResetModes() {
	for _, m := range f.members {
		m.modes.Clear()
	}
}

func (f *Publishers) PublishIOStates(ctx context.Context, msg IOStates) error {
	var err error
	for _, m := range f.members {
		err = multierr.Append(err, m.pub.PublishIOStates(ctx, msg))
	}
	return err
}

func (f *Publishers) PublishToolData(ctx context.Context, msg ToolData) error {
	var err error
	for _, m := range f.members {
		err = multierr.Append(err, m.pub.PublishToolData(ctx, msg))
	}
	return err
}

func (f *Publishers) PublishRobotMode(ctx context.Context, msg RobotMode) error {
	return f.publishMode(robotModeKey, int(msg.Mode), func(p Publisher) error {
		return p.PublishRobotMode(ctx, msg)
	})
}

func (f *Publishers) PublishSafetyMode(ctx context.Context, msg SafetyMode) error {
	return f.publishMode(safetyModeKey, int(msg.Mode), func(p Publisher) error {
		return p.PublishSafetyMode(ctx, msg)
	})
}

func (f *Publishers) publishMode(key string, mode int, emit func(Publisher) error) error {
	var err error
	for _, m := range f.members {
		if !m.modes.HasChanged(key, mode) {
			continue
		}
		if e := emit(m.pub); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		m.modes.Update(key, mode)
	}
	return err
}
