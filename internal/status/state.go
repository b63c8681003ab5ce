package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"wabridge/internal/bus"
)

// State represents the WhatsApp connection lifecycle state. The sequence is
// forwarded to viewers as-is: disconnected → awaiting-scan (QR issued) →
// authenticated → ready, and back to disconnected on external disconnect or
// auth failure. There is no automatic reconnect; recovery is a process
// restart.
type State string

const (
	Disconnected  State = "DISCONNECTED"
	AwaitingScan  State = "AWAITING_SCAN"
	Authenticated State = "AUTHENTICATED"
	Ready         State = "READY"
)

// validTransitions defines allowed state transitions. Disconnected may jump
// straight to Authenticated when stored credentials skip the QR scan.
var validTransitions = map[State][]State{
	Disconnected:  {AwaitingScan, Authenticated},
	AwaitingScan:  {Authenticated, Disconnected},
	Authenticated: {Ready, Disconnected},
	Ready:         {Disconnected},
}

// Machine tracks and enforces connection lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
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
// transition is invalid; the state is left unchanged in that case.
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
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSessionStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
