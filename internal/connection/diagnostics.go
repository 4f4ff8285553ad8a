package connection

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies one diagnostics log entry.
type EventKind string

const (
	EventConnectAttempt  EventKind = "connect_attempt"
	EventConnectSuccess  EventKind = "connect_success"
	EventConnectFailure  EventKind = "connect_failure"
	EventDisconnected    EventKind = "disconnected"
	EventTransportError  EventKind = "transport_error"
	EventHeartbeatMissed EventKind = "heartbeat_missed"
	EventSendFailure     EventKind = "send_failure"
	EventInvalidMessage  EventKind = "invalid_message"
)

// Event is one timestamped diagnostics entry.
type Event struct {
	ID     uuid.UUID
	Kind   EventKind
	Detail string
	At     time.Time
}

// Counters are the running link statistics.
type Counters struct {
	ConnectAttempts  uint64
	ConnectSuccesses uint64
	ConnectFailures  uint64
	Disconnections   uint64
	MessagesSent     uint64
	MessagesReceived uint64
	InvalidMessages  uint64
}

// Quality score penalties. The score starts at 100 on a successful connect
// and never goes below zero.
const (
	maxQuality              = 100
	penaltyTransportError   = 20
	penaltyHeartbeatMissed  = 15
	penaltySendFailure      = 10
	penaltyInvalidMessage   = 5
	maxEvents               = 100
	deadAfterMissed         = 3
	deadAfterSilence        = 60 * time.Second
)

// Diagnostics keeps a bounded event log, link counters and a 0-100 quality
// score. Safe for concurrent use.
type Diagnostics struct {
	mu       sync.Mutex
	events   []Event
	counters Counters
	quality  int

	missedHeartbeats  int
	lastHeartbeatOK   time.Time
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{quality: maxQuality, lastHeartbeatOK: time.Now()}
}

func (d *Diagnostics) Quality() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quality
}

func (d *Diagnostics) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

// Events returns a copy of the log, oldest first.
func (d *Diagnostics) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

func (d *Diagnostics) ConnectAttempt(detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.ConnectAttempts++
	d.append(EventConnectAttempt, detail)
}

func (d *Diagnostics) ConnectSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.ConnectSuccesses++
	d.quality = maxQuality
	d.missedHeartbeats = 0
	d.lastHeartbeatOK = time.Now()
	d.append(EventConnectSuccess, "")
}

func (d *Diagnostics) ConnectFailure(detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.ConnectFailures++
	d.append(EventConnectFailure, detail)
}

func (d *Diagnostics) Disconnected(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.Disconnections++
	d.append(EventDisconnected, reason)
}

func (d *Diagnostics) TransportError(detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.penalize(penaltyTransportError)
	d.append(EventTransportError, detail)
}

func (d *Diagnostics) SendFailure(detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.penalize(penaltySendFailure)
	d.append(EventSendFailure, detail)
}

func (d *Diagnostics) InvalidMessage(detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.InvalidMessages++
	d.penalize(penaltyInvalidMessage)
	d.append(EventInvalidMessage, detail)
}

func (d *Diagnostics) MessageSent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.MessagesSent++
}

func (d *Diagnostics) MessageReceived() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.MessagesReceived++
}

// HeartbeatSuccess records link liveness.
func (d *Diagnostics) HeartbeatSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missedHeartbeats = 0
	d.lastHeartbeatOK = time.Now()
}

// HeartbeatMiss records a missed probe. It reports true when the link must be
// considered dead: three consecutive misses or prolonged silence. That signal
// zeroes the quality score but intentionally does not disconnect; the
// transport layer owns that decision.
func (d *Diagnostics) HeartbeatMiss() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missedHeartbeats++
	d.penalize(penaltyHeartbeatMissed)
	d.append(EventHeartbeatMissed, "")
	if d.missedHeartbeats >= deadAfterMissed || time.Since(d.lastHeartbeatOK) > deadAfterSilence {
		d.quality = 0
		return true
	}
	return false
}

func (d *Diagnostics) penalize(points int) {
	d.quality -= points
	if d.quality < 0 {
		d.quality = 0
	}
}

// append assumes d.mu is held.
func (d *Diagnostics) append(kind EventKind, detail string) {
	d.events = append(d.events, Event{ID: uuid.New(), Kind: kind, Detail: detail, At: time.Now()})
	if len(d.events) > maxEvents {
		d.events = d.events[len(d.events)-maxEvents:]
	}
}
