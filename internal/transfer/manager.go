// Package transfer drives a firmware update session over an established
// device link. One Manager owns the transfer state machine; at most one
// transfer runs at a time. The device paces the upload: it requests packet
// windows, and the host answers from the parsed firmware image.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openbuds/budslink/internal/connection"
	"github.com/openbuds/budslink/internal/firmware"
	"github.com/openbuds/budslink/internal/protocol"
	"github.com/openbuds/budslink/internal/protocol/frame"
)

const healthPollInterval = 100 * time.Millisecond

// RecoveryStore persists enough about a firmware image before a transfer
// starts that an interrupted update can be resumed later.
type RecoveryStore interface {
	Save(bin *firmware.Binary) error
}

// activeTransfer tracks the teardown bookkeeping for one in-flight transfer.
// teardown is a sync.Once so concurrent Cancel calls, timer fires and device
// verdicts collapse to exactly one cleanup.
type activeTransfer struct {
	id       uuid.UUID
	teardown sync.Once
	done     chan struct{}
	timers   *timerSet

	unsubFrames func()
	unsubEvents func()
}

// Manager runs firmware updates over one connection.Manager.
type Manager struct {
	cfg   Config
	link  *connection.Manager
	store RecoveryStore
	bus   *Bus

	mu         sync.Mutex
	state      State
	active     *activeTransfer
	binary     *firmware.Binary
	mtu        int
	currentSeg byte

	wg sync.WaitGroup
}

// NewManager wires a transfer Manager over an existing link. store may be nil
// to skip recovery bookkeeping.
func NewManager(link *connection.Manager, store RecoveryStore, opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		cfg:   cfg,
		link:  link,
		store: store,
		bus:   NewBus(),
	}
}

// Events exposes the transfer event bus.
func (m *Manager) Events() *Bus { return m.bus }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnterRecoveryMode marks the manager as running a post-interruption recovery
// flow. Refused while a transfer is active.
func (m *Manager) EnterRecoveryMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.active != nil {
		return false
	}
	m.state = StateRecoveryMode
	return true
}

// ExitRecoveryMode returns to Ready so a recovery install can begin.
func (m *Manager) ExitRecoveryMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRecoveryMode {
		m.state = StateReady
	}
}

// Install validates preconditions, opens a firmware session and hands the
// rest of the transfer to the reactive loop. It returns once the session-open
// request is on the wire; progress and the final verdict arrive as events.
// Every precondition failure is a typed *Error and leaves the state Ready.
func (m *Manager) Install(ctx context.Context, bin *firmware.Binary) error {
	m.mu.Lock()
	if m.state != StateReady || m.active != nil {
		m.mu.Unlock()
		return newError(KindAlreadyRunning)
	}
	m.mu.Unlock()

	if m.link.States().State() != connection.StateConnected || !m.link.IsStreamConnected() {
		return newError(KindDisconnected)
	}
	if bin == nil || len(bin.Data) == 0 {
		return newError(KindInvalidBinary)
	}
	if len(bin.Data) > firmware.MaxBinarySize || len(bin.Segments) == 0 {
		return newError(KindInvalidBinary)
	}

	status, herr := m.queryDeviceStatus(ctx)
	if herr != nil {
		return herr
	}
	if !firmware.Verify(bin, firmware.DeviceInfo{
		Model:           m.link.Model(),
		FirmwareVersion: status.FirmwareVersion,
	}) {
		return newError(KindIntegrityCheckFail)
	}
	for _, pct := range status.ReportedBatteries() {
		if pct < m.cfg.MinBatteryPercent {
			return newErrorCode(KindBatteryTooLow, pct)
		}
	}
	if status.Busy() {
		return newError(KindDeviceInUse)
	}
	if m.store != nil {
		if err := m.store.Save(bin); err != nil {
			return wrapError(KindRecoveryFailed, err)
		}
	}

	m.mu.Lock()
	if m.state != StateReady || m.active != nil {
		m.mu.Unlock()
		return newError(KindAlreadyRunning)
	}
	at := &activeTransfer{id: uuid.New(), done: make(chan struct{}), timers: newTimerSet()}
	frames, unsubFrames := m.link.SubscribeFrames()
	events, unsubEvents := m.link.SubscribeEvents()
	at.unsubFrames = unsubFrames
	at.unsubEvents = unsubEvents
	m.active = at
	m.binary = bin
	m.mtu = m.cfg.DefaultMTU
	m.currentSeg = bin.Segments[0].ID
	m.mu.Unlock()

	// The preparation phases already ran above; replay them on the bus so
	// observers see the full walk before the session opens.
	for _, s := range []State{
		StatePreparingUpdate,
		StateVerifyingFirmware,
		StateCheckingDeviceHealth,
		StateBackingUpFirmware,
		StateInitializingSession,
	} {
		m.setState(at, s)
	}

	m.wg.Add(1)
	go m.loop(at, frames, events)

	at.timers.start(timeoutSession, m.cfg.SessionTimeout)
	at.timers.start(timeoutTransfer, m.cfg.TransferTimeout)

	open := frame.Request(protocol.MsgIDFotaOpen, EncodeOpenPayload(bin))
	if err := m.link.Send(open); err != nil {
		e := wrapError(KindUnknown, err)
		m.fail(at, e)
		return e
	}
	log.Info().
		Str("transfer_id", at.id.String()).
		Str("build", bin.BuildName).
		Str("version", bin.Version).
		Int("segments", len(bin.Segments)).
		Msg("transfer: session open sent")
	return nil
}

// Cancel aborts the active transfer, if any. Safe to call concurrently and
// repeatedly.
func (m *Manager) Cancel() {
	m.mu.Lock()
	at := m.active
	m.mu.Unlock()
	if at != nil {
		m.teardownTransfer(at)
	}
}

// Close cancels any active transfer and waits for the loop goroutine.
func (m *Manager) Close() {
	m.Cancel()
	m.wg.Wait()
}

// queryDeviceStatus polls the cached device status, probing with status
// requests, until the health-check budget runs out.
func (m *Manager) queryDeviceStatus(ctx context.Context) (connection.DeviceStatus, *Error) {
	deadline := time.Now().Add(m.cfg.HealthCheckTimeout)
	for {
		if st, ok := m.link.Status(); ok {
			return st, nil
		}
		if err := m.link.Send(frame.Request(protocol.MsgIDStatusRequest, nil)); err != nil {
			log.Debug().Err(err).Msg("transfer: health probe failed")
		}
		if time.Now().After(deadline) {
			return connection.DeviceStatus{}, newError(KindDeviceBusy)
		}
		select {
		case <-ctx.Done():
			return connection.DeviceStatus{}, wrapError(KindUnknown, ctx.Err())
		case <-time.After(healthPollInterval):
		}
	}
}

func (m *Manager) setState(at *activeTransfer, s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.bus.Publish(Event{Type: EventStateChanged, TransferID: at.id, State: s})
}

// loop is the single consumer of device frames, link events and timer fires
// for one transfer. Everything that can end the transfer funnels through
// teardownTransfer.
func (m *Manager) loop(at *activeTransfer, frames <-chan frame.Frame, events <-chan connection.LinkEvent) {
	defer m.wg.Done()
	for {
		select {
		case <-at.done:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			m.handleFrame(at, f)
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleLinkEvent(at, ev)
		case kind := <-at.timers.fired:
			m.handleTimeout(at, kind)
		}
	}
}

func (m *Manager) handleLinkEvent(at *activeTransfer, ev connection.LinkEvent) {
	switch ev.Kind {
	case connection.LinkDisconnected:
		m.fail(at, newError(KindDisconnected))
	case connection.LinkError:
		m.fail(at, wrapError(KindDisconnected, ev.Err))
	}
}

func (m *Manager) handleTimeout(at *activeTransfer, kind timeoutKind) {
	var e *Error
	switch kind {
	case timeoutSession:
		e = newError(KindSessionTimeout)
	case timeoutControl:
		e = newError(KindControlTimeout)
	case timeoutTransfer:
		e = newError(KindTransferTimeout)
	case timeoutHealth:
		e = newError(KindDeviceBusy)
	default:
		e = newError(KindUnknown)
	}
	log.Warn().Str("timer", kind.String()).Msg("transfer: timer expired")
	m.fail(at, e)
}

func (m *Manager) handleFrame(at *activeTransfer, f frame.Frame) {
	switch f.ID {
	case protocol.MsgIDFotaOpen:
		m.handleSessionResult(at, f)
	case protocol.MsgIDFotaControl:
		m.handleControl(at, f)
	case protocol.MsgIDFotaDownloadData:
		m.handleDownloadRequest(at, f)
	case protocol.MsgIDFotaUpdate:
		m.handleUpdate(at, f)
	case protocol.MsgIDFotaResult:
		m.handleResult(at, f)
	}
}

func (m *Manager) handleSessionResult(at *activeTransfer, f frame.Frame) {
	code, err := ParseSessionResult(f.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("transfer: bad session result")
		return
	}
	at.timers.stop(timeoutSession)
	if code != 0 {
		m.fail(at, newErrorCode(KindSessionFail, int(code)))
		return
	}
	at.timers.start(timeoutControl, m.cfg.ControlTimeout)
	m.setState(at, StateUploading)
	log.Info().Str("transfer_id", at.id.String()).Msg("transfer: session accepted")
}

func (m *Manager) handleControl(at *activeTransfer, f frame.Frame) {
	c, err := ParseControl(f.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("transfer: bad control block")
		return
	}
	at.timers.stop(timeoutControl)
	switch c.Kind {
	case ControlMTU:
		if c.MTU > 0 {
			m.mu.Lock()
			m.mtu = int(c.MTU)
			m.mu.Unlock()
		}
		log.Debug().Uint16("mtu", c.MTU).Msg("transfer: mtu negotiated")
	case ControlReady:
		m.mu.Lock()
		m.currentSeg = c.SegmentID
		m.mu.Unlock()
		log.Debug().Uint8("segment", c.SegmentID).Msg("transfer: segment ready")
	}
	// Controls are echoed back as the acknowledgement.
	if err := m.link.Send(frame.Response(protocol.MsgIDFotaControl, f.Payload)); err != nil {
		m.fail(at, wrapError(KindUnknown, err))
	}
}

func (m *Manager) handleDownloadRequest(at *activeTransfer, f frame.Frame) {
	req, err := ParseDownloadRequest(f.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("transfer: bad download request")
		return
	}
	m.mu.Lock()
	bin := m.binary
	mtu := m.mtu
	segID := m.currentSeg
	m.mu.Unlock()
	if bin == nil {
		return
	}
	seg, ok := bin.SegmentByID(segID)
	if !ok {
		m.fail(at, newError(KindUnknown))
		return
	}
	data, derr := bin.SegmentData(seg)
	if derr != nil {
		m.fail(at, wrapError(KindInvalidBinary, derr))
		return
	}

	served := 0
	end := req.Offset
	for i := 0; i < req.Packets; i++ {
		off := req.Offset + uint32(i*mtu)
		if off >= seg.Size {
			break
		}
		n := uint32(mtu)
		if off+n > seg.Size {
			n = seg.Size - off
		}
		last := off+n == seg.Size
		payload := EncodeDownloadData(off, last, data[off:off+n])
		if err := m.link.Send(frame.Request(protocol.MsgIDFotaDownloadData, payload)); err != nil {
			m.fail(at, wrapError(KindUnknown, err))
			return
		}
		served++
		end = off + n
		if last {
			break
		}
	}
	m.bus.Publish(Event{
		Type:       EventBlockProgress,
		TransferID: at.id,
		State:      StateUploading,
		Block: BlockProgress{
			SegmentID:   seg.ID,
			WindowStart: req.Offset,
			WindowEnd:   end,
			Packets:     served,
			SegmentSize: seg.Size,
			SegmentCRC:  seg.CRC32,
		},
	})
}

func (m *Manager) handleUpdate(at *activeTransfer, f frame.Frame) {
	u, err := ParseUpdate(f.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("transfer: bad update block")
		return
	}
	if err := m.link.Send(frame.Response(protocol.MsgIDFotaUpdate, EncodeUpdateAck(u.Kind))); err != nil {
		m.fail(at, wrapError(KindUnknown, err))
		return
	}
	switch u.Kind {
	case UpdatePercent:
		m.mu.Lock()
		total := int64(0)
		if m.binary != nil {
			total = int64(m.binary.TotalSize)
		}
		m.mu.Unlock()
		pct := int(u.Value)
		if pct > 100 {
			pct = 100
		}
		m.bus.Publish(Event{
			Type:       EventProgress,
			TransferID: at.id,
			State:      StateUploading,
			Percent:    pct,
			BytesDone:  (total*int64(pct) + 50) / 100,
			TotalBytes: total,
		})
		if pct == 100 {
			m.setState(at, StateVerifyingUpdate)
		}
	case UpdateStateChange:
		// A zero state-change means the device took the whole image and will
		// flash itself; there is nothing left to upload.
		if u.Value == 0 {
			m.finish(at)
		} else {
			m.fail(at, newErrorCode(KindCopyFail, int(u.Value)))
		}
	}
}

func (m *Manager) handleResult(at *activeTransfer, f frame.Frame) {
	r, err := ParseResult(f.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("transfer: bad result")
		return
	}
	if err := m.link.Send(frame.Response(protocol.MsgIDFotaResult, []byte{0x00})); err != nil {
		log.Debug().Err(err).Msg("transfer: result ack failed")
	}
	if r.Code != 0 {
		m.fail(at, newErrorCode(KindVerifyFail, int(r.ErrorCode)))
		return
	}
	m.finish(at)
}

func (m *Manager) finish(at *activeTransfer) {
	m.setState(at, StateFinalizing)
	m.bus.Publish(Event{Type: EventFinished, TransferID: at.id, State: StateFinalizing, Percent: 100})
	log.Info().Str("transfer_id", at.id.String()).Msg("transfer: finished")
	m.teardownTransfer(at)
}

func (m *Manager) fail(at *activeTransfer, e *Error) {
	m.bus.Publish(Event{Type: EventError, TransferID: at.id, State: m.State(), Err: e})
	log.Error().Err(e).Str("transfer_id", at.id.String()).Msg("transfer: failed")
	m.teardownTransfer(at)
}

// teardownTransfer is the one way out of an active transfer. Timers stop,
// subscriptions detach, state returns to Ready, and the device gets a
// best-effort abort followed by a disconnect/reconnect cycle so the next
// transfer starts on a fresh link.
func (m *Manager) teardownTransfer(at *activeTransfer) {
	at.teardown.Do(func() {
		at.timers.stopAll()
		at.unsubFrames()
		at.unsubEvents()
		close(at.done)

		m.mu.Lock()
		m.binary = nil
		m.mtu = 0
		m.currentSeg = 0
		m.active = nil
		m.state = StateReady
		m.mu.Unlock()
		m.bus.Publish(Event{Type: EventStateChanged, TransferID: at.id, State: StateReady})

		if m.link.IsStreamConnected() {
			if err := m.link.Send(frame.Request(protocol.MsgIDFotaAbort, nil)); err != nil {
				log.Debug().Err(err).Msg("transfer: abort notify failed")
			}
		}
		m.resetLink()
	})
}

// resetLink cycles the connection after a transfer ends. Earbuds firmware is
// known to leave the RFCOMM stream wedged after a session, aborted or not.
func (m *Manager) resetLink() {
	if err := m.link.Disconnect(); err != nil {
		log.Debug().Err(err).Msg("transfer: post-transfer disconnect failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReconnectTimeout)
	err := m.link.Connect(ctx)
	cancel()
	if err == nil {
		return
	}
	log.Warn().Err(err).Msg("transfer: post-transfer reconnect failed, retrying")
	time.Sleep(connection.NextBackoffDelay(connection.DefaultBackoffConfig(), 1, nil))
	ctx, cancel = context.WithTimeout(context.Background(), 2*m.cfg.ReconnectTimeout)
	err = m.link.Connect(ctx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("transfer: link did not come back after transfer")
	}
}
