package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openbuds/budslink/internal/firmware"
)

// FOTA payload codecs. Everything little-endian.

var ErrShortPayload = errors.New("transfer: payload too short")

// EncodeOpenPayload serializes the segment table announced at session open:
// [IMAGE_CRC32:4][COUNT:1] then per segment [ID:1][SIZE:4][CRC32:4].
func EncodeOpenPayload(bin *firmware.Binary) []byte {
	p := make([]byte, 0, 5+9*len(bin.Segments))
	p = binary.LittleEndian.AppendUint32(p, bin.ImageCRC32)
	p = append(p, byte(len(bin.Segments)))
	for _, seg := range bin.Segments {
		p = append(p, seg.ID)
		p = binary.LittleEndian.AppendUint32(p, seg.Size)
		p = binary.LittleEndian.AppendUint32(p, seg.CRC32)
	}
	return p
}

// ParseSessionResult reads the device's session-open verdict: [RESULT:1].
func ParseSessionResult(payload []byte) (byte, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: session result", ErrShortPayload)
	}
	return payload[0], nil
}

// Control block identifiers inside FOTA_CONTROL.
const (
	ControlMTU   byte = 0x00
	ControlReady byte = 0x01
)

// Control is one decoded FOTA_CONTROL block.
type Control struct {
	Kind      byte
	MTU       uint16 // ControlMTU
	SegmentID byte   // ControlReady
}

// ParseControl decodes [KIND:1] followed by [MTU:2] or [SEGMENT_ID:1].
func ParseControl(payload []byte) (Control, error) {
	if len(payload) < 1 {
		return Control{}, fmt.Errorf("%w: control block", ErrShortPayload)
	}
	c := Control{Kind: payload[0]}
	switch c.Kind {
	case ControlMTU:
		if len(payload) < 3 {
			return Control{}, fmt.Errorf("%w: mtu block", ErrShortPayload)
		}
		c.MTU = binary.LittleEndian.Uint16(payload[1:3])
	case ControlReady:
		if len(payload) < 2 {
			return Control{}, fmt.Errorf("%w: ready block", ErrShortPayload)
		}
		c.SegmentID = payload[1]
	default:
		return Control{}, fmt.Errorf("transfer: unknown control kind 0x%02X", c.Kind)
	}
	return c, nil
}

// DownloadRequest is the device asking for a window of segment packets:
// [OFFSET:4][PACKETS:1].
type DownloadRequest struct {
	Offset  uint32
	Packets int
}

func ParseDownloadRequest(payload []byte) (DownloadRequest, error) {
	if len(payload) < 5 {
		return DownloadRequest{}, fmt.Errorf("%w: download request", ErrShortPayload)
	}
	return DownloadRequest{
		Offset:  binary.LittleEndian.Uint32(payload[0:4]),
		Packets: int(payload[4]),
	}, nil
}

// downloadLastFlag marks the packet whose slice reaches the segment end.
const downloadLastFlag = uint32(1) << 31

// EncodeDownloadData frames one served packet: [FLAGS+OFFSET:4][DATA...],
// bit 31 of the first word set on the final packet of a segment.
func EncodeDownloadData(offset uint32, last bool, chunk []byte) []byte {
	word := offset
	if last {
		word |= downloadLastFlag
	}
	p := make([]byte, 0, 4+len(chunk))
	p = binary.LittleEndian.AppendUint32(p, word)
	return append(p, chunk...)
}

// DecodeDownloadData is the device-side view of EncodeDownloadData; tests and
// the mock device use it.
func DecodeDownloadData(payload []byte) (offset uint32, last bool, chunk []byte, err error) {
	if len(payload) < 4 {
		return 0, false, nil, fmt.Errorf("%w: download data", ErrShortPayload)
	}
	word := binary.LittleEndian.Uint32(payload[0:4])
	return word &^ downloadLastFlag, word&downloadLastFlag != 0, payload[4:], nil
}

// Update block identifiers inside FOTA_UPDATE.
const (
	UpdatePercent     byte = 0x00
	UpdateStateChange byte = 0x01
)

// Update is one decoded FOTA_UPDATE block: [KIND:1][VALUE:1].
type Update struct {
	Kind  byte
	Value byte
}

func ParseUpdate(payload []byte) (Update, error) {
	if len(payload) < 2 {
		return Update{}, fmt.Errorf("%w: update block", ErrShortPayload)
	}
	return Update{Kind: payload[0], Value: payload[1]}, nil
}

// EncodeUpdateAck acknowledges an update block.
func EncodeUpdateAck(kind byte) []byte {
	return []byte{kind, 0x00}
}

// Result is the device's final verdict: [RESULT:1][ERROR_CODE:1].
type Result struct {
	Code      byte
	ErrorCode byte
}

func ParseResult(payload []byte) (Result, error) {
	if len(payload) < 2 {
		return Result{}, fmt.Errorf("%w: result", ErrShortPayload)
	}
	return Result{Code: payload[0], ErrorCode: payload[1]}, nil
}
