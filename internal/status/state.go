package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chatroom-im/chatroom/internal/bus"
)

// State represents a realtime connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	// Closed is the terminal state after an explicit teardown; unlike a
	// transient Disconnected it suppresses any further reconnect.
	Closed State = "CLOSED"
)

// validTransitions defines allowed connection state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Disconnected, Closed},
	Connected:    {Disconnected, Closed},
	Closed:       {},
}

// Machine tracks and enforces connection state transitions, publishing
// each change on the bus as a background concern, never a user-facing
// error.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindConnStatus, StatusChange{From: from, To: to}))
	}
	return nil
}

// StatusChange is the payload for connection status change events.
type StatusChange struct {
	From State
	To   State
}
