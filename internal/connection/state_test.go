package connection

import (
	"testing"

	"github.com/openbuds/budslink/internal/testutil/testlog"
)

func TestStateLifecycle(t *testing.T) {
	testlog.Start(t)
	m := NewStateManager()

	if m.State() != StateDisconnected {
		t.Fatalf("initial state = %s", m.State())
	}
	if !m.SetConnecting() {
		t.Fatal("SetConnecting from disconnected rejected")
	}
	if !m.SetConnected() {
		t.Fatal("SetConnected from connecting rejected")
	}
	if !m.SetDisconnecting() {
		t.Fatal("SetDisconnecting from connected rejected")
	}
	if !m.SetDisconnected() {
		t.Fatal("SetDisconnected from disconnecting rejected")
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	testlog.Start(t)
	m := NewStateManager()

	if m.SetDisconnecting() {
		t.Error("SetDisconnecting from disconnected applied")
	}
	if m.State() != StateDisconnected {
		t.Errorf("rejected transition changed state to %s", m.State())
	}
	if m.SetReconnecting() {
		t.Error("SetReconnecting from disconnected applied")
	}

	m.SetConnecting()
	m.SetConnected()
	m.SetDisconnecting()
	if m.SetConnected() {
		t.Error("SetConnected from disconnecting applied")
	}
	if m.State() != StateDisconnecting {
		t.Errorf("state = %s, want disconnecting", m.State())
	}
}

func TestDisconnectedIsIdempotent(t *testing.T) {
	testlog.Start(t)
	m := NewStateManager()
	m.SetConnecting()
	m.SetConnected()
	m.SetDisconnecting()
	if !m.SetDisconnected() {
		t.Fatal("SetDisconnected from disconnecting rejected")
	}
	// The transport hook and the deliberate Disconnect both report the drop.
	if !m.SetDisconnected() {
		t.Fatal("repeat SetDisconnected rejected")
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", m.State())
	}
}

func TestDirectConnectFromDisconnected(t *testing.T) {
	testlog.Start(t)
	m := NewStateManager()
	if !m.SetConnected() {
		t.Error("SetConnected from disconnected rejected")
	}
}

func TestErrorAllowedFromAnyState(t *testing.T) {
	testlog.Start(t)
	for _, prep := range []func(m *StateManager){
		func(m *StateManager) {},
		func(m *StateManager) { m.SetConnecting() },
		func(m *StateManager) { m.SetConnecting(); m.SetConnected() },
		func(m *StateManager) { m.SetConnecting(); m.SetConnected(); m.SetDisconnecting() },
	} {
		m := NewStateManager()
		prep(m)
		if !m.SetError("boom") {
			t.Fatalf("SetError rejected from %s", m.State())
		}
		if m.State() != StateError || m.LastError() != "boom" {
			t.Fatalf("state=%s lastError=%q", m.State(), m.LastError())
		}
		if !m.SetConnecting() {
			t.Error("SetConnecting from error rejected")
		}
	}
}

func TestReconnectCounterCap(t *testing.T) {
	testlog.Start(t)
	m := NewStateManager()

	for i := 0; i < MaxReconnectAttempts; i++ {
		m.SetError("link lost")
		if !m.SetReconnecting() {
			t.Fatalf("SetReconnecting attempt %d rejected", i+1)
		}
	}
	if m.ReconnectAttempts() != MaxReconnectAttempts {
		t.Fatalf("attempts = %d, want %d", m.ReconnectAttempts(), MaxReconnectAttempts)
	}

	m.SetError("link lost")
	if m.SetReconnecting() {
		t.Error("SetReconnecting past the cap applied")
	}
	if m.State() != StateError {
		t.Errorf("state = %s, want error after exhausted reconnects", m.State())
	}

	// A successful connect clears the counter.
	m.SetConnecting()
	m.SetConnected()
	if m.ReconnectAttempts() != 0 {
		t.Errorf("attempts = %d after connect, want 0", m.ReconnectAttempts())
	}
}

func TestDerivedQueries(t *testing.T) {
	testlog.Start(t)
	m := NewStateManager()

	if !m.IsStable() || m.IsTransitional() || m.IsOperationInProgress() {
		t.Error("disconnected should be stable and idle")
	}
	m.SetConnecting()
	if m.IsStable() || !m.IsTransitional() || !m.IsOperationInProgress() {
		t.Error("connecting should be transitional with an operation in progress")
	}
	m.SetConnected()
	if !m.IsStable() || m.IsOperationInProgress() {
		t.Error("connected should be stable and idle")
	}
	m.SetDisconnecting()
	if m.IsStable() || !m.IsTransitional() || m.IsOperationInProgress() {
		t.Error("disconnecting should be transitional without an operation")
	}
}
