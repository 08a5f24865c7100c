package hwif

import "fmt"

// StateInterfaces is an ordered read-only view. Index i is the i-th claimed
// name. An index outside the view is a programming error and panics.
type StateInterfaces struct {
	handles []*Handle
}

func (s StateInterfaces) Len() int { return len(s.handles) }

func (s StateInterfaces) Value(i int) float64 {
	return s.at(i).Value()
}

func (s StateInterfaces) Names() []string { return names(s.handles) }

func (s StateInterfaces) at(i int) *Handle {
	if i < 0 || i >= len(s.handles) {
		panic(fmt.Sprintf("hwif: state interface %d out of range [0,%d)", i, len(s.handles)))
	}
	return s.handles[i]
}

// CommandInterfaces is an ordered read/write view over claimed command
// interfaces.
type CommandInterfaces struct {
	handles []*Handle
}

func (c CommandInterfaces) Len() int { return len(c.handles) }

func (c CommandInterfaces) Value(i int) float64 {
	return c.at(i).Value()
}

func (c CommandInterfaces) SetValue(i int, v float64) {
	c.at(i).SetValue(v)
}

func (c CommandInterfaces) CompareAndSwap(i int, old, v float64) bool {
	return c.at(i).CompareAndSwap(old, v)
}

func (c CommandInterfaces) Names() []string { return names(c.handles) }

func (c CommandInterfaces) at(i int) *Handle {
	if i < 0 || i >= len(c.handles) {
		panic(fmt.Sprintf("hwif: command interface %d out of range [0,%d)", i, len(c.handles)))
	}
	return c.handles[i]
}

func names(handles []*Handle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = h.name
	}
	return out
}
