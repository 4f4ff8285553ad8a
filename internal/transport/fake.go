package transport

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Transport used by tests and the mock device. Writes
// land in Sent; InjectData/InjectError/DropLink drive the hooks the way a
// real adapter would.
type Fake struct {
	mu        sync.Mutex
	hooks     Hooks
	connected bool

	// Sent collects every payload passed to Send, in order.
	Sent [][]byte

	// ConnectErr, when set, fails the next Connect call.
	ConnectErr error
	// SendErr, when set, fails every Send call.
	SendErr error
	// SendHook, when set, observes each successful Send.
	SendHook func(data []byte)
	// SendDelay, when set, makes every Send block that long first.
	SendDelay time.Duration
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) SetHooks(hooks Hooks) {
	f.mu.Lock()
	f.hooks = hooks
	f.mu.Unlock()
}

func (f *Fake) Connect(ctx context.Context, address, uuid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.ConnectErr != nil {
		err := f.ConnectErr
		f.mu.Unlock()
		return err
	}
	f.connected = true
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnConnected != nil {
		hooks.OnConnected()
	}
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	wasConnected := f.connected
	f.connected = false
	hooks := f.hooks
	f.mu.Unlock()
	if wasConnected && hooks.OnDisconnected != nil {
		hooks.OnDisconnected("local disconnect")
	}
	return nil
}

func (f *Fake) Send(data []byte) error {
	f.mu.Lock()
	delay := f.SendDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return ErrNotConnected
	}
	if f.SendErr != nil {
		err := f.SendErr
		f.mu.Unlock()
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.Sent = append(f.Sent, buf)
	hook := f.SendHook
	f.mu.Unlock()
	if hook != nil {
		hook(buf)
	}
	return nil
}

func (f *Fake) IsStreamConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// InjectData delivers device-to-host bytes through the OnData hook.
func (f *Fake) InjectData(data []byte) {
	f.mu.Lock()
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnData != nil {
		hooks.OnData(data)
	}
}

// InjectError delivers a transport error through the OnError hook.
func (f *Fake) InjectError(err error) {
	f.mu.Lock()
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnError != nil {
		hooks.OnError(err)
	}
}

// DropLink simulates the radio link going away.
func (f *Fake) DropLink(reason string) {
	f.mu.Lock()
	f.connected = false
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnDisconnected != nil {
		hooks.OnDisconnected(reason)
	}
}

// SentCount returns how many payloads have been sent so far.
func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// SentCopy returns a snapshot of every payload sent so far.
func (f *Fake) SentCopy() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.Sent))
	copy(out, f.Sent)
	return out
}

// LastSent returns the most recent payload, or nil.
func (f *Fake) LastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return nil
	}
	return f.Sent[len(f.Sent)-1]
}
