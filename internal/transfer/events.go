package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies transfer bus events.
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventProgress      EventType = "progress"
	EventBlockProgress EventType = "block_progress"
	EventFinished      EventType = "finished"
	EventError         EventType = "error"
)

// BlockProgress describes one served download window.
type BlockProgress struct {
	SegmentID   byte
	WindowStart uint32
	WindowEnd   uint32
	Packets     int
	SegmentSize uint32
	SegmentCRC  uint32
}

// Event is one transfer notification.
type Event struct {
	Type       EventType
	TransferID uuid.UUID
	State      State
	Percent    int
	BytesDone  int64
	TotalBytes int64
	Block      BlockProgress
	Err        *Error
	At         time.Time
}

type busSub struct{ ch chan Event }

// Bus fans transfer events out to subscribers. Slow consumers are skipped so
// the state machine never blocks on a listener.
type Bus struct {
	mu   sync.RWMutex
	subs map[*busSub]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*busSub]struct{})}
}

// Subscribe returns a receive channel and an unsubscribe func that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &busSub{ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s.ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}
