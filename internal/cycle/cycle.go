// Package cycle defines status fields that step through a fixed ring of values on
// each click.
package cycle

import (
	"github.com/capitalize-ai/leadrelay/internal/optimistic"
)

// Machine is a fixed cycle of named states.
type Machine struct {
	name   string
	states []string
	index  map[string]int
}

// NewMachine creates a cycle over states in order. It panics on an empty or
// duplicated state list.
func NewMachine(name string, states ...string) *Machine {
	if len(states) == 0 {
		panic("cycle: machine " + name + " has no states")
	}
	index := make(map[string]int, len(states))
	for i, s := range states {
		if _, dup := index[s]; dup {
			panic("cycle: machine " + name + " repeats state " + s)
		}
		index[s] = i
	}
	return &Machine{name: name, states: states, index: index}
}

// Message status and sales priority cycles.
var (
	MessageStatus = NewMachine("message_status", "None", "Options", "Visit")
	SalesPriority = NewMachine("sales_priority", "None", "Low", "High", "NR")
)

// Name returns the machine name.
func (m *Machine) Name() string {
	return m.name
}

// Initial returns the first state.
func (m *Machine) Initial() string {
	return m.states[0]
}

// States returns a copy of the states in cycle order.
func (m *Machine) States() []string {
	return append([]string(nil), m.states...)
}

// Valid reports whether s is one of the machine's states.
func (m *Machine) Valid(s string) bool {
	_, ok := m.index[s]
	return ok
}

// Advance returns the state after current, wrapping at the end. An unknown or empty
// current value is treated as the initial state.
func (m *Machine) Advance(current string) string {
	i, ok := m.index[current]
	if !ok {
		i = 0
	}
	return m.states[(i+1)%len(m.states)]
}

// Field binds a machine to an optimistic controller.
type Field struct {
	machine *Machine
	ctrl    *optimistic.Controller[string]
}

// NewField creates a field that advances ctrl through m.
func NewField(m *Machine, ctrl *optimistic.Controller[string]) *Field {
	return &Field{machine: m, ctrl: ctrl}
}

// Click advances the field to its next state and returns it.
func (f *Field) Click() (string, error) {
	next := f.machine.Advance(f.ctrl.Value())
	if err := f.ctrl.Mutate(next); err != nil {
		return "", err
	}
	return next, nil
}

// Value returns the displayed state.
func (f *Field) Value() string {
	return f.ctrl.Value()
}
