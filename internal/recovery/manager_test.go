package recovery

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/openbuds/budslink/internal/connection"
	"github.com/openbuds/budslink/internal/firmware"
	"github.com/openbuds/budslink/internal/protocol"
	"github.com/openbuds/budslink/internal/protocol/frame"
	"github.com/openbuds/budslink/internal/testutil/fwimage"
	"github.com/openbuds/budslink/internal/testutil/testlog"
	"github.com/openbuds/budslink/internal/transfer"
	"github.com/openbuds/budslink/internal/transport"
)

type rig struct {
	dir  string
	fake *transport.Fake
	link *connection.Manager
	tm   *transfer.Manager
	rm   *Manager
	spec protocol.DeviceSpec
}

func newRig(t *testing.T) *rig {
	t.Helper()
	testlog.Start(t)

	fake := transport.NewFake()
	cfg := connection.DefaultConfig(protocol.ModelBudsPlus, "00:11:22:33:44:55")
	cfg.HeartbeatDisabled = true
	link, err := connection.NewManager(fake, cfg)
	if err != nil {
		t.Fatalf("NewManager(link): %v", err)
	}
	t.Cleanup(link.Close)
	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tm := transfer.NewManager(link, nil)
	t.Cleanup(tm.Close)

	dir := t.TempDir()
	rm := NewManager(dir, link, tm, WithCompletionTimeout(5*time.Second))
	return &rig{dir: dir, fake: fake, link: link, tm: tm, rm: rm, spec: link.Spec()}
}

func (r *rig) inject(t *testing.T, f frame.Frame) {
	t.Helper()
	raw, err := frame.Encode(f, r.spec)
	if err != nil {
		t.Fatalf("Encode(%s): %v", f.ID, err)
	}
	r.fake.InjectData(raw)
}

func (r *rig) giveStatus(t *testing.T, st connection.DeviceStatus) {
	t.Helper()
	r.inject(t, frame.Response(protocol.MsgIDExtendedStatusUpdated, connection.EncodeStatusPayload(st, true)))
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := r.link.Status(); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("device status never reached the link cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitSentID polls until the host has written a frame with the given id.
func (r *rig) waitSentID(t *testing.T, id protocol.MsgID) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		for _, raw := range r.fake.SentCopy() {
			f, err := frame.Decode(raw, r.spec)
			if err != nil {
				t.Fatalf("host wrote an undecodable packet: %v", err)
			}
			if f.ID == id {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("host never sent %s", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testBinary(t *testing.T) *firmware.Binary {
	t.Helper()
	data := make([]byte, 1500)
	for i := range data {
		data[i] = byte(i)
	}
	raw := fwimage.Build(firmware.MagicRetail, []byte("R175XX"), 4096,
		fwimage.Spec{ID: 1, Data: data},
	)
	bin, err := firmware.Parse(raw, "R175XXU0AEB3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return bin
}

func TestSaveWritesRecordAndBinary(t *testing.T) {
	r := newRig(t)
	bin := testBinary(t)

	if err := r.rm.Save(bin); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := r.rm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec == nil {
		t.Fatal("no record after Save")
	}
	if rec.BuildName != "R175XXU0AEB3" || rec.Version != bin.Version || rec.Checksum != bin.Checksum {
		t.Errorf("record = %+v", rec)
	}
	if rec.Model != protocol.ModelBudsPlus.String() {
		t.Errorf("record model = %q", rec.Model)
	}
	persisted, err := os.ReadFile(rec.BinaryPath)
	if err != nil {
		t.Fatalf("read persisted binary: %v", err)
	}
	if !bytes.Equal(persisted, bin.Data) {
		t.Error("persisted binary differs from the image")
	}
}

func TestDetectInterrupted(t *testing.T) {
	r := newRig(t)

	if r.rm.DetectInterrupted() {
		t.Error("interruption detected with nothing on disk and no status")
	}

	if err := r.rm.Save(testBinary(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !r.rm.DetectInterrupted() {
		t.Error("pending record not detected")
	}
	if err := r.rm.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if r.rm.DetectInterrupted() {
		t.Error("interruption still detected after Clear")
	}

	r.giveStatus(t, connection.DeviceStatus{BatteryLeft: 80, InFotaSession: true, FirmwareVersion: "R175XXU0AEA1"})
	if !r.rm.DetectInterrupted() {
		t.Error("device-reported update session not detected")
	}
}

func TestDetectInterruptedVersionMarker(t *testing.T) {
	r := newRig(t)
	r.giveStatus(t, connection.DeviceStatus{BatteryLeft: 80, FirmwareVersion: "R175_FOTA_RECOVERY"})
	if !r.rm.DetectInterrupted() {
		t.Error("recovery marker in version string not detected")
	}
}

func TestClearRemovesArtifacts(t *testing.T) {
	r := newRig(t)
	if err := r.rm.Save(testBinary(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.rm.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("%d files left after Clear", len(entries))
	}
}

func TestStartRecoveryWithoutRecord(t *testing.T) {
	r := newRig(t)
	if err := r.rm.StartRecovery(context.Background()); !errors.Is(err, ErrNoRecovery) {
		t.Fatalf("err = %v, want ErrNoRecovery", err)
	}
}

func TestStartRecoveryRejectsTamperedBinary(t *testing.T) {
	r := newRig(t)
	if err := r.rm.Save(testBinary(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err := r.rm.Load()
	if err != nil || rec == nil {
		t.Fatalf("Load: rec=%v err=%v", rec, err)
	}
	raw, err := os.ReadFile(rec.BinaryPath)
	if err != nil {
		t.Fatalf("read binary: %v", err)
	}
	raw[headerFlipOffset(raw)] ^= 0xFF
	if err := os.WriteFile(rec.BinaryPath, raw, 0o644); err != nil {
		t.Fatalf("tamper binary: %v", err)
	}

	if err := r.rm.StartRecovery(context.Background()); !errors.Is(err, ErrBinaryCorrupt) {
		t.Fatalf("err = %v, want ErrBinaryCorrupt", err)
	}
}

// headerFlipOffset picks a byte past the parsed header so the tampered image
// still parses but no longer matches the recorded checksum.
func headerFlipOffset(raw []byte) int {
	return len(raw) / 2
}

func TestStartRecoveryResumesAndClears(t *testing.T) {
	r := newRig(t)
	r.giveStatus(t, connection.DeviceStatus{
		BatteryLeft:     85,
		BatteryRight:    82,
		FirmwareVersion: "R175XXU0AEA1",
	})
	if err := r.rm.Save(testBinary(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.rm.StartRecovery(context.Background()) }()

	// Device side: accept the session, then report completion through a
	// zero state-change.
	r.waitSentID(t, protocol.MsgIDFotaOpen)
	r.inject(t, frame.Response(protocol.MsgIDFotaOpen, []byte{0x00}))
	r.inject(t, frame.Response(protocol.MsgIDFotaUpdate, []byte{transfer.UpdateStateChange, 0x00}))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StartRecovery: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StartRecovery never returned")
	}

	rec, err := r.rm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Error("record still present after successful recovery")
	}
}
