// Package transport defines the contract the platform Bluetooth layer must
// satisfy. The core never talks to a Bluetooth stack directly; it drives one
// SPP stream through this interface and reacts to its callbacks.
package transport

import (
	"context"
	"errors"
)

var (
	ErrAdapterUnavailable = errors.New("transport: bluetooth adapter unavailable")
	ErrDeviceNotFound     = errors.New("transport: device not found")
	ErrPermissionDenied   = errors.New("transport: permission denied")
	ErrNotConnected       = errors.New("transport: stream not connected")
	ErrSendFailed         = errors.New("transport: send failed")
)

// Hooks are the event callbacks a transport delivers. All callbacks may be
// invoked from the transport's own goroutines; registrants must not block.
type Hooks struct {
	OnConnected    func()
	OnDisconnected func(reason string)
	OnData         func(data []byte)
	OnError        func(err error)
}

// Transport is one logical SPP link to a device.
type Transport interface {
	// Connect opens the RFCOMM stream to address on the given service UUID.
	Connect(ctx context.Context, address, uuid string) error
	Disconnect() error
	// Send writes raw bytes to the stream. Blocking; callers serialize and
	// apply their own deadline.
	Send(data []byte) error
	IsStreamConnected() bool
	// SetHooks registers the event callbacks. Must be called before Connect.
	SetHooks(hooks Hooks)
}
