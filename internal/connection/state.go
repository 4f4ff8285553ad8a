package connection

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the transport connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
	StateReconnecting
)

var stateNames = map[State]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
	StateError:         "error",
	StateReconnecting:  "reconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// MaxReconnectAttempts caps the reconnect counter; one more attempt past the
// cap forces the Error state.
const MaxReconnectAttempts = 5

// StateManager is the single owner of the connection state. Every mutation
// goes through a set_X method that validates the transition against the legal
// predecessor set; invalid transitions are logged and rejected, never applied.
// No I/O happens here.
type StateManager struct {
	mu                sync.Mutex
	state             State
	lastError         string
	lastTransition    time.Time
	reconnectAttempts int
}

func NewStateManager() *StateManager {
	return &StateManager{state: StateDisconnected, lastTransition: time.Now()}
}

func (m *StateManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *StateManager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

func (m *StateManager) LastTransition() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTransition
}

func (m *StateManager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// IsStable reports a settled state: fully connected or fully disconnected.
func (m *StateManager) IsStable() bool {
	s := m.State()
	return s == StateConnected || s == StateDisconnected
}

func (m *StateManager) IsTransitional() bool {
	s := m.State()
	return s == StateConnecting || s == StateDisconnecting || s == StateReconnecting
}

// IsOperationInProgress reports whether a connect-type operation is running.
func (m *StateManager) IsOperationInProgress() bool {
	s := m.State()
	return s == StateConnecting || s == StateReconnecting
}

func (m *StateManager) SetConnected() bool {
	return m.transition(StateConnected, func(from State) bool {
		return from == StateConnecting || from == StateReconnecting || from == StateDisconnected
	}, func() {
		m.reconnectAttempts = 0
	})
}

func (m *StateManager) SetConnecting() bool {
	return m.transition(StateConnecting, func(from State) bool {
		return from == StateDisconnected || from == StateError
	}, nil)
}

// SetDisconnected is legal from every state. A deliberate Disconnect reaches
// it twice, once through the transport's disconnect hook and once from the
// caller, so Disconnected to Disconnected is an idempotent no-op rather than
// an illegal transition.
func (m *StateManager) SetDisconnected() bool {
	return m.transition(StateDisconnected, func(State) bool {
		return true
	}, func() {
		m.reconnectAttempts = 0
	})
}

func (m *StateManager) SetDisconnecting() bool {
	return m.transition(StateDisconnecting, func(from State) bool {
		return from == StateConnected || from == StateReconnecting
	}, nil)
}

// SetError is allowed from any state and records the message.
func (m *StateManager) SetError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateError
	m.lastError = msg
	m.lastTransition = time.Now()
	return true
}

// SetReconnecting increments the reconnect counter. Past the cap it forces
// the Error state instead and reports failure.
func (m *StateManager) SetReconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected && m.state != StateError {
		log.Warn().Stringer("from", m.state).Stringer("to", StateReconnecting).
			Msg("connection: illegal state transition rejected")
		return false
	}
	if m.reconnectAttempts >= MaxReconnectAttempts {
		m.state = StateError
		m.lastError = "reconnect attempts exhausted"
		m.lastTransition = time.Now()
		return false
	}
	m.reconnectAttempts++
	m.state = StateReconnecting
	m.lastTransition = time.Now()
	return true
}

func (m *StateManager) transition(to State, legal func(from State) bool, onApply func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !legal(m.state) {
		log.Warn().Stringer("from", m.state).Stringer("to", to).
			Msg("connection: illegal state transition rejected")
		return false
	}
	m.state = to
	m.lastTransition = time.Now()
	if onApply != nil {
		onApply()
	}
	return true
}
