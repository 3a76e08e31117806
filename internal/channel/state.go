package channel

import (
	"log"
	"sync"
	"time"
)

// State is the connection state of the messaging channel
type State int

const (
	StateDisconnected State = iota
	StateAwaitingPairing
	StateConnected
)

// String returns the state name used in API responses
func (s State) String() string {
	switch s {
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is a point-in-time snapshot of the channel
type Status struct {
	State   string    `json:"state"`
	Ready   bool      `json:"ready"`
	QR      string    `json:"qr,omitempty"`
	Device  string    `json:"device,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Changed time.Time `json:"changed_at"`
}

// Machine tracks channel readiness. It is driven by the gateway callbacks and
// read by anything that must not deliver while disconnected.
type Machine struct {
	mu      sync.RWMutex
	state   State
	qr      string
	device  string
	reason  string
	changed time.Time
}

// NewMachine returns a machine in the Disconnected state
func NewMachine() *Machine {
	return &Machine{state: StateDisconnected, changed: time.Now()}
}

// OnQR records a new pairing payload. Ignored while connected.
func (m *Machine) OnQR(payload string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected {
		return false
	}
	m.state = StateAwaitingPairing
	m.qr = payload
	m.reason = ""
	m.changed = time.Now()
	log.Printf("[Channel] Awaiting pairing")
	return true
}

// OnReady marks the channel connected through the given device
func (m *Machine) OnReady(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateConnected
	m.device = device
	m.qr = ""
	m.reason = ""
	m.changed = time.Now()
	log.Printf("[Channel] Connected via %s", device)
}

// OnDisconnected marks the channel unusable
func (m *Machine) OnDisconnected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateDisconnected
	m.device = ""
	m.qr = ""
	m.reason = reason
	m.changed = time.Now()
	log.Printf("[Channel] Disconnected: %s", reason)
}

// Ready reports whether messages can be delivered
func (m *Machine) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a snapshot of the channel
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:   m.state.String(),
		Ready:   m.state == StateConnected,
		QR:      m.qr,
		Device:  m.device,
		Reason:  m.reason,
		Changed: m.changed,
	}
}
