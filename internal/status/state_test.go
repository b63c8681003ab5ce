package status

import (
	"testing"

	"wabridge/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, AwaitingScan},
		{Disconnected, Authenticated},
		{AwaitingScan, Authenticated},
		{AwaitingScan, Disconnected},
		{Authenticated, Ready},
		{Authenticated, Disconnected},
		{Ready, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(DISCONNECTED -> READY) should fail")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED (unchanged)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AwaitingScan); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindSessionStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSessionStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != AwaitingScan {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> AWAITING_SCAN", change.From, change.To)
	}
}

// TestFirstRunLifecycle simulates the QR-scan first run:
// DISCONNECTED → AWAITING_SCAN → AUTHENTICATED → READY.
func TestFirstRunLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{AwaitingScan, Authenticated, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

// TestReturningUserLifecycle simulates a run with stored credentials:
// DISCONNECTED → AUTHENTICATED → READY, no QR involved.
func TestReturningUserLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Authenticated, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

// TestReadyRequiresAuthenticated verifies that READY is only reachable
// through AUTHENTICATED, never straight from the scan state.
func TestReadyRequiresAuthenticated(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, AwaitingScan)

	if err := m.Transition(Ready); err == nil {
		t.Fatal("Transition(AWAITING_SCAN -> READY) should fail")
	}
	if err := m.Transition(Authenticated); err != nil {
		t.Fatalf("AWAITING_SCAN -> AUTHENTICATED: %v", err)
	}
	if err := m.Transition(Ready); err != nil {
		t.Fatalf("AUTHENTICATED -> READY: %v", err)
	}
}

// TestDisconnectIsTerminalUntilRestart verifies READY → DISCONNECTED and
// that a fresh auth cycle is the only way back up.
func TestDisconnectIsTerminalUntilRestart(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	if err := m.Transition(Disconnected); err != nil {
		t.Fatalf("READY -> DISCONNECTED: %v", err)
	}
	if err := m.Transition(Ready); err == nil {
		t.Error("DISCONNECTED -> READY should fail; requires re-auth")
	}
	if err := m.Transition(AwaitingScan); err != nil {
		t.Fatalf("DISCONNECTED -> AWAITING_SCAN: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:  {},
		AwaitingScan:  {AwaitingScan},
		Authenticated: {AwaitingScan, Authenticated},
		Ready:         {AwaitingScan, Authenticated, Ready},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
