package transfer

import (
	"sync"
	"time"
)

// timeoutKind names the four independent transfer timers.
type timeoutKind int

const (
	timeoutSession timeoutKind = iota
	timeoutControl
	timeoutTransfer
	timeoutHealth
)

func (k timeoutKind) String() string {
	switch k {
	case timeoutSession:
		return "session"
	case timeoutControl:
		return "control"
	case timeoutTransfer:
		return "transfer"
	case timeoutHealth:
		return "health"
	}
	return "invalid"
}

// timerSet owns the timers of one transfer. A firing timer removes itself
// before delivering, so it can never fire twice, and delivery goes through a
// buffered channel consumed by the state machine loop, on the same path as
// every other transfer event. Each transfer gets its own set: a fire that
// races teardown lands in a channel no later transfer ever reads.
type timerSet struct {
	mu     sync.Mutex
	timers map[timeoutKind]*time.Timer
	fired  chan timeoutKind
}

func newTimerSet() *timerSet {
	return &timerSet{
		timers: make(map[timeoutKind]*time.Timer),
		fired:  make(chan timeoutKind, 8),
	}
}

func (ts *timerSet) start(kind timeoutKind, d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[kind]; ok {
		t.Stop()
	}
	ts.timers[kind] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		_, armed := ts.timers[kind]
		delete(ts.timers, kind)
		ts.mu.Unlock()
		if !armed {
			return
		}
		select {
		case ts.fired <- kind:
		default:
		}
	})
}

func (ts *timerSet) stop(kind timeoutKind) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[kind]; ok {
		t.Stop()
		delete(ts.timers, kind)
	}
}

func (ts *timerSet) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for kind, t := range ts.timers {
		t.Stop()
		delete(ts.timers, kind)
	}
}
