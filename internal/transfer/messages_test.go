package transfer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/openbuds/budslink/internal/firmware"
)

func TestEncodeOpenPayloadLayout(t *testing.T) {
	bin := &firmware.Binary{
		ImageCRC32: 0xDEADBEEF,
		Segments: []firmware.Segment{
			{ID: 1, Size: 0x1000, CRC32: 0x11223344},
			{ID: 2, Size: 0x20, CRC32: 0xAABBCCDD},
		},
	}
	p := EncodeOpenPayload(bin)

	if len(p) != 5+2*9 {
		t.Fatalf("payload length = %d, want %d", len(p), 5+2*9)
	}
	if got := binary.LittleEndian.Uint32(p[0:4]); got != 0xDEADBEEF {
		t.Errorf("image crc = %08X, want DEADBEEF", got)
	}
	if p[4] != 2 {
		t.Errorf("segment count = %d, want 2", p[4])
	}
	if p[5] != 1 {
		t.Errorf("first segment id = %d, want 1", p[5])
	}
	if got := binary.LittleEndian.Uint32(p[6:10]); got != 0x1000 {
		t.Errorf("first segment size = %#x, want 0x1000", got)
	}
	if got := binary.LittleEndian.Uint32(p[10:14]); got != 0x11223344 {
		t.Errorf("first segment crc = %08X, want 11223344", got)
	}
	if p[14] != 2 {
		t.Errorf("second segment id = %d, want 2", p[14])
	}
}

func TestParseControl(t *testing.T) {
	c, err := ParseControl([]byte{ControlMTU, 0x8A, 0x02})
	if err != nil {
		t.Fatalf("ParseControl(mtu): %v", err)
	}
	if c.Kind != ControlMTU || c.MTU != 650 {
		t.Errorf("mtu block = %+v, want kind=0 mtu=650", c)
	}

	c, err = ParseControl([]byte{ControlReady, 0x03})
	if err != nil {
		t.Fatalf("ParseControl(ready): %v", err)
	}
	if c.Kind != ControlReady || c.SegmentID != 3 {
		t.Errorf("ready block = %+v, want kind=1 segment=3", c)
	}

	if _, err := ParseControl(nil); !errors.Is(err, ErrShortPayload) {
		t.Errorf("empty control: err = %v, want ErrShortPayload", err)
	}
	if _, err := ParseControl([]byte{ControlMTU, 0x8A}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("truncated mtu: err = %v, want ErrShortPayload", err)
	}
	if _, err := ParseControl([]byte{0x7F, 0x00}); err == nil {
		t.Error("unknown control kind accepted")
	}
}

func TestDownloadDataRoundTrip(t *testing.T) {
	chunk := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	p := EncodeDownloadData(0x1234, false, chunk)
	off, last, data, err := DecodeDownloadData(p)
	if err != nil {
		t.Fatalf("DecodeDownloadData: %v", err)
	}
	if off != 0x1234 || last || !bytes.Equal(data, chunk) {
		t.Errorf("decoded off=%#x last=%v data=%x", off, last, data)
	}

	p = EncodeDownloadData(0x5678, true, chunk)
	off, last, _, err = DecodeDownloadData(p)
	if err != nil {
		t.Fatalf("DecodeDownloadData(last): %v", err)
	}
	if off != 0x5678 || !last {
		t.Errorf("decoded off=%#x last=%v, want last final packet", off, last)
	}

	if _, _, _, err := DecodeDownloadData([]byte{0x01}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short download data: err = %v, want ErrShortPayload", err)
	}
}

func TestParseDownloadRequest(t *testing.T) {
	p := binary.LittleEndian.AppendUint32(nil, 0x2000)
	p = append(p, 12)
	req, err := ParseDownloadRequest(p)
	if err != nil {
		t.Fatalf("ParseDownloadRequest: %v", err)
	}
	if req.Offset != 0x2000 || req.Packets != 12 {
		t.Errorf("request = %+v, want offset=0x2000 packets=12", req)
	}

	if _, err := ParseDownloadRequest([]byte{1, 2, 3}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short request: err = %v, want ErrShortPayload", err)
	}
}

func TestParseUpdateAndResult(t *testing.T) {
	u, err := ParseUpdate([]byte{UpdatePercent, 42})
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if u.Kind != UpdatePercent || u.Value != 42 {
		t.Errorf("update = %+v", u)
	}
	if got := EncodeUpdateAck(UpdateStateChange); !bytes.Equal(got, []byte{UpdateStateChange, 0x00}) {
		t.Errorf("ack = %x", got)
	}

	r, err := ParseResult([]byte{0x01, 0x07})
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if r.Code != 1 || r.ErrorCode != 7 {
		t.Errorf("result = %+v", r)
	}

	if _, err := ParseUpdate([]byte{UpdatePercent}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short update: err = %v", err)
	}
	if _, err := ParseResult([]byte{0x00}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short result: err = %v", err)
	}
	if _, err := ParseSessionResult(nil); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short session result: err = %v", err)
	}
}
