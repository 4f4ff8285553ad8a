// Package connection owns the lifecycle of one device link: validated
// connection state, diagnostics, the receive pump that turns transport bytes
// into frames, and the serialized send path.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openbuds/budslink/internal/protocol"
	"github.com/openbuds/budslink/internal/protocol/frame"
	"github.com/openbuds/budslink/internal/protocol/stream"
	"github.com/openbuds/budslink/internal/transport"
)

var (
	ErrSendTimeout       = errors.New("connection: send timed out")
	ErrInvalidTransition = errors.New("connection: operation not allowed in current state")
)

// LinkEventKind classifies link events published to subscribers.
type LinkEventKind int

const (
	LinkConnected LinkEventKind = iota
	LinkDisconnected
	LinkError
	LinkDead
)

// LinkEvent is one link lifecycle notification.
type LinkEvent struct {
	Kind   LinkEventKind
	Reason string
	Err    error
}

// Config tunes one Manager.
type Config struct {
	Address string
	Model   protocol.Model
	Profile protocol.Profile

	SendTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatDisabled bool
	RxQueueSize       int
	MaxBufferedBytes  int
	Backoff           BackoffConfig
}

func DefaultConfig(model protocol.Model, address string) Config {
	return Config{
		Address:           address,
		Model:             model,
		Profile:           protocol.ProfileStandard,
		SendTimeout:       5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		RxQueueSize:       64,
		MaxBufferedBytes:  10 * 1024,
		Backoff:           DefaultBackoffConfig(),
	}
}

type frameSub struct{ ch chan frame.Frame }
type eventSub struct{ ch chan LinkEvent }

// Manager drives one transport link. The receive pump goroutine is the only
// writer of the reassembly buffer; everything downstream sees complete frames.
type Manager struct {
	cfg    Config
	spec   protocol.DeviceSpec
	tr     transport.Transport
	states *StateManager
	diag   *Diagnostics
	reasm  *stream.Reassembler

	sendMu sync.Mutex

	mu        sync.Mutex
	frameSubs map[*frameSub]struct{}
	eventSubs map[*eventSub]struct{}
	status    DeviceStatus
	hasStatus bool
	lastRx    time.Time

	rxCh chan []byte
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewManager(tr transport.Transport, cfg Config) (*Manager, error) {
	spec, err := protocol.SpecFor(cfg.Model, cfg.Profile)
	if err != nil {
		return nil, err
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.RxQueueSize <= 0 {
		cfg.RxQueueSize = 64
	}
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = 10 * 1024
	}
	m := &Manager{
		cfg:       cfg,
		spec:      spec,
		tr:        tr,
		states:    NewStateManager(),
		diag:      NewDiagnostics(),
		reasm:     stream.New(spec),
		frameSubs: make(map[*frameSub]struct{}),
		eventSubs: make(map[*eventSub]struct{}),
		rxCh:      make(chan []byte, cfg.RxQueueSize),
		stop:      make(chan struct{}),
	}
	tr.SetHooks(transport.Hooks{
		OnConnected:    m.onConnected,
		OnDisconnected: m.onDisconnected,
		OnData:         m.onData,
		OnError:        m.onError,
	})

	m.wg.Add(1)
	go m.pump()
	if !cfg.HeartbeatDisabled {
		m.wg.Add(1)
		go m.heartbeat()
	}
	return m, nil
}

// Close stops the pump and heartbeat goroutines. The transport is left alone;
// callers disconnect explicitly.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Manager) Spec() protocol.DeviceSpec { return m.spec }
func (m *Manager) Model() protocol.Model     { return m.cfg.Model }
func (m *Manager) States() *StateManager     { return m.states }
func (m *Manager) Diagnostics() *Diagnostics { return m.diag }

func (m *Manager) IsStreamConnected() bool {
	return m.tr.IsStreamConnected()
}

// Status returns the last device-reported status, if any was received.
func (m *Manager) Status() (DeviceStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.hasStatus
}

// Connect opens the link and advances the connection state machine.
func (m *Manager) Connect(ctx context.Context) error {
	if m.states.State() == StateConnected {
		return nil
	}
	if !m.states.SetConnecting() {
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, m.states.State())
	}
	m.diag.ConnectAttempt(m.cfg.Address)
	if err := m.tr.Connect(ctx, m.cfg.Address, m.spec.ServiceUUID); err != nil {
		m.states.SetError(err.Error())
		m.diag.ConnectFailure(err.Error())
		return fmt.Errorf("connect %s: %w", m.cfg.Address, err)
	}
	m.states.SetConnected()
	m.diag.ConnectSuccess()
	m.mu.Lock()
	m.lastRx = time.Now()
	m.mu.Unlock()
	return nil
}

// ConnectWithBackoff retries Connect up to attempts times with capped
// exponential delays between tries.
func (m *Manager) ConnectWithBackoff(ctx context.Context, attempts int) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = m.Connect(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		delay := NextBackoffDelay(m.cfg.Backoff, i, nil)
		log.Debug().Err(err).Int("attempt", i).Dur("delay", delay).Msg("connection: retrying connect")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Reconnect runs one reconnect cycle after an unexpected link loss. The
// reconnect counter is enforced by the state manager.
func (m *Manager) Reconnect(ctx context.Context) error {
	if !m.states.SetReconnecting() {
		return fmt.Errorf("%w: reconnect from %s", ErrInvalidTransition, m.states.State())
	}
	m.diag.ConnectAttempt(m.cfg.Address)
	if err := m.tr.Connect(ctx, m.cfg.Address, m.spec.ServiceUUID); err != nil {
		m.states.SetError(err.Error())
		m.diag.ConnectFailure(err.Error())
		return fmt.Errorf("reconnect %s: %w", m.cfg.Address, err)
	}
	m.states.SetConnected()
	m.diag.ConnectSuccess()
	return nil
}

// Disconnect tears the link down deliberately.
func (m *Manager) Disconnect() error {
	m.states.SetDisconnecting()
	err := m.tr.Disconnect()
	m.states.SetDisconnected()
	return err
}

// Send encodes and writes one frame. Sends are serialized; a stuck transport
// write surfaces as ErrSendTimeout instead of hanging the caller.
func (m *Manager) Send(f frame.Frame) error {
	raw, err := frame.Encode(f, m.spec)
	if err != nil {
		return err
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	done := make(chan error, 1)
	go func() { done <- m.tr.Send(raw) }()

	select {
	case err := <-done:
		if err != nil {
			m.diag.SendFailure(err.Error())
			return fmt.Errorf("send %s: %w", f.ID, err)
		}
		m.diag.MessageSent()
		return nil
	case <-time.After(m.cfg.SendTimeout):
		// The write goroutine finishes whenever the transport unblocks; the
		// buffered channel keeps it from leaking past that.
		m.diag.SendFailure("timeout")
		return fmt.Errorf("send %s: %w", f.ID, ErrSendTimeout)
	}
}

// SubscribeFrames registers a decoded-frame listener. Slow subscribers drop
// frames rather than stalling the pump. The returned func unsubscribes and
// closes the channel.
func (m *Manager) SubscribeFrames() (<-chan frame.Frame, func()) {
	s := &frameSub{ch: make(chan frame.Frame, 64)}
	m.mu.Lock()
	m.frameSubs[s] = struct{}{}
	m.mu.Unlock()
	return s.ch, func() {
		m.mu.Lock()
		if _, ok := m.frameSubs[s]; ok {
			delete(m.frameSubs, s)
			close(s.ch)
		}
		m.mu.Unlock()
	}
}

// SubscribeEvents registers a link-event listener.
func (m *Manager) SubscribeEvents() (<-chan LinkEvent, func()) {
	s := &eventSub{ch: make(chan LinkEvent, 16)}
	m.mu.Lock()
	m.eventSubs[s] = struct{}{}
	m.mu.Unlock()
	return s.ch, func() {
		m.mu.Lock()
		if _, ok := m.eventSubs[s]; ok {
			delete(m.eventSubs, s)
			close(s.ch)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) publishFrame(f frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.frameSubs {
		select {
		case s.ch <- f:
		default:
		}
	}
}

func (m *Manager) publishEvent(e LinkEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.eventSubs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (m *Manager) onConnected() {
	m.publishEvent(LinkEvent{Kind: LinkConnected})
}

func (m *Manager) onDisconnected(reason string) {
	m.states.SetDisconnected()
	m.diag.Disconnected(reason)
	m.publishEvent(LinkEvent{Kind: LinkDisconnected, Reason: reason})
}

func (m *Manager) onError(err error) {
	m.diag.TransportError(err.Error())
	m.states.SetError(err.Error())
	m.publishEvent(LinkEvent{Kind: LinkError, Err: err})
}

func (m *Manager) onData(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case m.rxCh <- buf:
	default:
		log.Warn().Int("len", len(data)).Msg("connection: rx queue full, chunk dropped")
		m.diag.InvalidMessage("rx queue overflow")
	}
}

// pump is the single consumer of inbound bytes and the only writer of the
// reassembly buffer.
func (m *Manager) pump() {
	defer m.wg.Done()
	var buf []byte
	for {
		select {
		case <-m.stop:
			return
		case chunk := <-m.rxCh:
			buf = append(buf, chunk...)
			if len(buf) > m.cfg.MaxBufferedBytes {
				// Safety valve: drop the oldest bytes rather than grow forever
				// on a malformed stream.
				drop := len(buf) - m.cfg.MaxBufferedBytes
				buf = buf[drop:]
				m.diag.InvalidMessage("reassembly buffer truncated")
				log.Warn().Int("dropped", drop).Msg("connection: reassembly buffer truncated")
			}

			before := len(buf)
			frames := m.reasm.DecodeChunk(&buf)
			used := 0
			for _, f := range frames {
				used += f.TotalPacketSize()
			}
			if dropped := before - len(buf) - used; dropped > 0 {
				m.diag.InvalidMessage(fmt.Sprintf("%d bytes discarded", dropped))
			}

			for _, f := range frames {
				m.diag.MessageReceived()
				m.noteFrame(f)
				m.publishFrame(f)
			}
		}
	}
}

func (m *Manager) noteFrame(f frame.Frame) {
	m.mu.Lock()
	m.lastRx = time.Now()
	m.mu.Unlock()

	if f.ID == protocol.MsgIDStatusUpdated || f.ID == protocol.MsgIDExtendedStatusUpdated {
		st, err := DecodeStatus(f)
		if err != nil {
			log.Debug().Err(err).Msg("connection: unparseable status payload")
			return
		}
		m.mu.Lock()
		if f.ID == protocol.MsgIDStatusUpdated && m.hasStatus {
			// The short form carries no version; keep the known one.
			st.FirmwareVersion = m.status.FirmwareVersion
		}
		m.status = st
		m.hasStatus = true
		m.mu.Unlock()
	}
}

// heartbeat probes liveness while connected. A dead verdict only zeroes the
// quality score and raises LinkDead; disconnecting stays the transport's call.
func (m *Manager) heartbeat() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if m.states.State() != StateConnected {
				continue
			}
			m.mu.Lock()
			silent := time.Since(m.lastRx) > m.cfg.HeartbeatInterval
			m.mu.Unlock()
			if silent {
				if dead := m.diag.HeartbeatMiss(); dead {
					log.Warn().Msg("connection: heartbeat declared link dead")
					m.publishEvent(LinkEvent{Kind: LinkDead})
				}
			} else {
				m.diag.HeartbeatSuccess()
			}
			if err := m.Send(frame.Request(protocol.MsgIDStatusRequest, nil)); err != nil {
				log.Debug().Err(err).Msg("connection: heartbeat probe failed")
			}
		}
	}
}
