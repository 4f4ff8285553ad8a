package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openbuds/budslink/internal/protocol"
)

// Type distinguishes requests from responses.
type Type byte

const (
	TypeRequest  Type = 0
	TypeResponse Type = 1
)

func (t Type) String() string {
	if t == TypeResponse {
		return "response"
	}
	return "request"
}

// Wire layout: [SOM:1][HEADER:2][ID:1][PAYLOAD:0..N][CRC16:2][EOM:1].
//
// Legacy header is [TYPE:1][SIZE:1]. Modern header is a little-endian uint16
// with bits 0-9 carrying the size, bit 12 the response flag and bit 13 the
// fragment flag. Size always counts id + payload + crc.
const (
	headerLen     = 2
	overheadLen   = 4 // SOM + header + EOM
	crcLen        = 2
	MinSize       = 3 // id + crc
	MinPacketSize = 6

	modernSizeMask     = 0x03FF
	modernResponseFlag = 0x1000
	modernFragmentFlag = 0x2000

	MaxModernSize = modernSizeMask
	MaxLegacySize = 0xFF
)

var (
	ErrTooSmall           = errors.New("frame: packet too small")
	ErrInvalidStartMarker = errors.New("frame: invalid start marker")
	ErrInvalidEndMarker   = errors.New("frame: invalid end marker")
	ErrSizeMismatch       = errors.New("frame: declared size mismatch")
	ErrChecksumInvalid    = errors.New("frame: checksum invalid")
	ErrIncomplete         = errors.New("frame: packet truncated")
	ErrOverflow           = errors.New("frame: size field overflow")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
)

// Frame is one decoded protocol message. Immutable once decoded; built
// field-by-field before encoding.
type Frame struct {
	Type       Type
	ID         protocol.MsgID
	Payload    []byte
	IsFragment bool
}

// Size is the id + payload + crc byte count, as carried in the header.
func (f Frame) Size() int {
	return 1 + len(f.Payload) + crcLen
}

// TotalPacketSize is Size plus markers and header.
func (f Frame) TotalPacketSize() int {
	return f.Size() + overheadLen
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %s len=%d", f.Type, f.ID, len(f.Payload))
}

// Request builds a request frame for id with the given payload.
func Request(id protocol.MsgID, payload []byte) Frame {
	return Frame{Type: TypeRequest, ID: id, Payload: payload}
}

// Response builds a response frame for id with the given payload.
func Response(id protocol.MsgID, payload []byte) Frame {
	return Frame{Type: TypeResponse, ID: id, Payload: payload}
}

// Encode serializes the frame using the marker bytes and header format of
// the device spec.
func Encode(f Frame, spec protocol.DeviceSpec) ([]byte, error) {
	size := f.Size()
	if spec.LegacyHeader {
		if size > MaxLegacySize {
			return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, MaxLegacySize)
		}
	} else if size > MaxModernSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, MaxModernSize)
	}

	buf := make([]byte, 0, f.TotalPacketSize())
	buf = append(buf, spec.StartOfMessage)

	if spec.LegacyHeader {
		buf = append(buf, byte(f.Type), byte(size))
	} else {
		hdr := uint16(size) & modernSizeMask
		if f.Type == TypeResponse {
			hdr |= modernResponseFlag
		}
		if f.IsFragment {
			hdr |= modernFragmentFlag
		}
		buf = binary.LittleEndian.AppendUint16(buf, hdr)
	}

	buf = append(buf, byte(f.ID))
	buf = append(buf, f.Payload...)

	crc := protocol.CRC16Message(f.ID, f.Payload)
	buf = append(buf, byte(crc>>8), byte(crc))
	buf = append(buf, spec.EndOfMessage)
	return buf, nil
}

// Decode parses one frame from the front of buf. buf may extend past the
// frame; the consumed length is the frame's TotalPacketSize.
//
// ErrIncomplete means buf holds a valid prefix of a frame and more bytes are
// needed; every other error means the leading bytes are not a usable frame.
func Decode(buf []byte, spec protocol.DeviceSpec) (Frame, error) {
	if len(buf) < MinPacketSize {
		return Frame{}, ErrTooSmall
	}
	if buf[0] != spec.StartOfMessage {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrInvalidStartMarker, buf[0])
	}

	var f Frame
	var size int
	if spec.LegacyHeader {
		typ := buf[1]
		if typ != byte(TypeRequest) && typ != byte(TypeResponse) {
			return Frame{}, fmt.Errorf("%w: type 0x%02X", ErrOverflow, typ)
		}
		f.Type = Type(typ)
		size = int(buf[2])
	} else {
		hdr := binary.LittleEndian.Uint16(buf[1:3])
		size = int(hdr & modernSizeMask)
		if hdr&modernResponseFlag != 0 {
			f.Type = TypeResponse
		}
		f.IsFragment = hdr&modernFragmentFlag != 0
	}

	if size < MinSize {
		return Frame{}, fmt.Errorf("%w: declared %d", ErrSizeMismatch, size)
	}
	total := size + overheadLen
	if len(buf) < total {
		return Frame{}, ErrIncomplete
	}
	if buf[total-1] != spec.EndOfMessage {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrInvalidEndMarker, buf[total-1])
	}

	// id + payload + crc; the appended CRC reduces the whole span to zero.
	body := buf[1+headerLen : total-1]
	if len(body) != size {
		return Frame{}, fmt.Errorf("%w: declared %d, present %d", ErrSizeMismatch, size, len(body))
	}
	if protocol.CRC16(body) != 0 {
		return Frame{}, ErrChecksumInvalid
	}

	f.ID = protocol.MsgID(body[0])
	payload := make([]byte, size-MinSize)
	copy(payload, body[1:1+len(payload)])
	f.Payload = payload
	return f, nil
}
