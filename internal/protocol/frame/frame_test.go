package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/openbuds/budslink/internal/protocol"
)

func modernSpec(t *testing.T) protocol.DeviceSpec {
	t.Helper()
	spec, err := protocol.SpecFor(protocol.ModelBudsPlus, protocol.ProfileStandard)
	if err != nil {
		t.Fatalf("spec lookup: %v", err)
	}
	return spec
}

func legacySpec(t *testing.T) protocol.DeviceSpec {
	t.Helper()
	spec, err := protocol.SpecFor(protocol.ModelBuds, protocol.ProfileStandard)
	if err != nil {
		t.Fatalf("spec lookup: %v", err)
	}
	return spec
}

func TestEncodeDecodeRoundTripModern(t *testing.T) {
	spec := modernSpec(t)
	payloads := [][]byte{nil, {0x01}, {0xDE, 0xAD, 0xBE, 0xEF}, bytes.Repeat([]byte{0x5A}, 1020)}
	for _, payload := range payloads {
		in := Frame{Type: TypeResponse, ID: protocol.MsgIDFotaControl, Payload: payload}
		raw, err := Encode(in, spec)
		if err != nil {
			t.Fatalf("encode len=%d: %v", len(payload), err)
		}
		out, err := Decode(raw, spec)
		if err != nil {
			t.Fatalf("decode len=%d: %v", len(payload), err)
		}
		if out.Type != in.Type || out.ID != in.ID || !bytes.Equal(out.Payload, payload) {
			t.Fatalf("round trip mismatch: got=%+v want=%+v", out, in)
		}
		if out.TotalPacketSize() != len(raw) {
			t.Fatalf("total packet size %d, raw %d", out.TotalPacketSize(), len(raw))
		}
	}
}

func TestEncodeDecodeRoundTripLegacy(t *testing.T) {
	spec := legacySpec(t)
	in := Frame{Type: TypeRequest, ID: protocol.MsgIDStatusRequest, Payload: []byte{0x11, 0x22}}
	raw, err := Encode(in, spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw[1] != byte(TypeRequest) || int(raw[2]) != in.Size() {
		t.Fatalf("legacy header mismatch: % X", raw[:3])
	}
	out, err := Decode(raw, spec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Type != in.Type || out.ID != in.ID || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", out, in)
	}
}

func TestModernHeaderFlags(t *testing.T) {
	spec := modernSpec(t)
	in := Frame{Type: TypeResponse, ID: protocol.MsgIDFotaUpdate, Payload: []byte{0x01}, IsFragment: true}
	raw, err := Encode(in, spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hdr := uint16(raw[1]) | uint16(raw[2])<<8
	if hdr&modernResponseFlag == 0 {
		t.Fatal("response flag not set")
	}
	if hdr&modernFragmentFlag == 0 {
		t.Fatal("fragment flag not set")
	}
	out, err := Decode(raw, spec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.IsFragment || out.Type != TypeResponse {
		t.Fatalf("flags lost on decode: %+v", out)
	}
}

func TestDecodeTooSmall(t *testing.T) {
	if _, err := Decode([]byte{0xFE, 0x00, 0x03}, modernSpec(t)); !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

func TestDecodeInvalidStartMarker(t *testing.T) {
	spec := modernSpec(t)
	raw, err := Encode(Request(protocol.MsgIDStatusRequest, nil), spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw[0] = 0x00
	if _, err := Decode(raw, spec); !errors.Is(err, ErrInvalidStartMarker) {
		t.Fatalf("expected ErrInvalidStartMarker, got %v", err)
	}
}

func TestDecodeInvalidEndMarker(t *testing.T) {
	spec := modernSpec(t)
	raw, err := Encode(Request(protocol.MsgIDStatusRequest, nil), spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw[len(raw)-1] = 0x00
	if _, err := Decode(raw, spec); !errors.Is(err, ErrInvalidEndMarker) {
		t.Fatalf("expected ErrInvalidEndMarker, got %v", err)
	}
}

func TestDecodeChecksumInvalidOnAnyPayloadFlip(t *testing.T) {
	spec := modernSpec(t)
	payload := []byte{0x10, 0x20, 0x30, 0x40, 0x50}
	raw, err := Encode(Request(protocol.MsgIDFotaDownloadData, payload), spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := 0; i < len(payload); i++ {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[4+i] ^= 0xFF
		if _, err := Decode(mutated, spec); !errors.Is(err, ErrChecksumInvalid) {
			t.Fatalf("payload byte %d flip: expected ErrChecksumInvalid, got %v", i, err)
		}
	}
}

func TestDecodeIncompletePrefix(t *testing.T) {
	spec := modernSpec(t)
	raw, err := Encode(Request(protocol.MsgIDFotaOpen, []byte{1, 2, 3, 4, 5, 6}), spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(raw[:len(raw)-3], spec); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestDecodeLegacyBadTypeIsOverflow(t *testing.T) {
	spec := legacySpec(t)
	raw, err := Encode(Request(protocol.MsgIDStatusRequest, nil), spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw[1] = 0x7F
	if _, err := Decode(raw, spec); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	spec := modernSpec(t)
	_, err := Encode(Request(protocol.MsgIDFotaDownloadData, make([]byte, MaxModernSize)), spec)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}

	_, err = Encode(Request(protocol.MsgIDFotaDownloadData, make([]byte, 300)), legacySpec(t))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("legacy: expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestAlternativeProfileMarkers(t *testing.T) {
	spec, err := protocol.SpecFor(protocol.ModelBudsPro, protocol.ProfileAlternative)
	if err != nil {
		t.Fatalf("spec lookup: %v", err)
	}
	raw, err := Encode(Request(protocol.MsgIDStatusRequest, nil), spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw[0] != protocol.SOMAlternative || raw[len(raw)-1] != protocol.EOMAlternative {
		t.Fatalf("alternative markers not applied: % X", raw)
	}

	std, _ := protocol.SpecFor(protocol.ModelBudsPro, protocol.ProfileStandard)
	if _, err := Decode(raw, std); !errors.Is(err, ErrInvalidStartMarker) {
		t.Fatalf("standard spec should reject alternative frame, got %v", err)
	}
}
