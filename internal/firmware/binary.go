// Package firmware models FOTA firmware images: structural parsing,
// integrity verification and device compatibility checks.
package firmware

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openbuds/budslink/internal/protocol"
)

// Image file layout, all little-endian:
// [MAGIC:4][TOTAL_SIZE:4][SEGMENT_COUNT:4] then per segment
// [ID:4][CRC32:4][OFFSET:4][SIZE:4], segment data, and a trailing whole-image
// CRC32 in the last 4 bytes of the file.
const (
	MagicRetail uint32 = 0xCAFECAFE
	// MagicDebug marks internal development builds. They must never be
	// flashed onto retail hardware, so parsing rejects them outright.
	MagicDebug uint32 = 0xCAFEBABE

	headerLen        = 12
	segmentRecordLen = 16
	trailerLen       = 4
	maxSegments      = 64
)

var (
	ErrInvalidMagic    = errors.New("firmware: invalid magic number")
	ErrDebugBuild      = errors.New("firmware: internal debug build rejected")
	ErrSizeZero        = errors.New("firmware: total size is zero")
	ErrNoSegments      = errors.New("firmware: no segments found")
	ErrTooManySegments = errors.New("firmware: segment table too large")
	ErrTruncated       = errors.New("firmware: image truncated")
)

// Segment is one flashable region of the image.
type Segment struct {
	ID     byte
	Offset uint32
	Size   uint32
	CRC32  uint32
}

// Binary is one parsed firmware image. Immutable after Parse except for the
// AllowDowngrade policy flag.
type Binary struct {
	Magic      uint32
	TotalSize  uint32
	Segments   []Segment
	ImageCRC32 uint32

	Data      []byte
	BuildName string
	Version   string
	BuildDate string
	Model     protocol.Model
	Checksum  string // hex SHA-256 of the raw bytes

	AllowDowngrade bool
}

// SegmentData returns the byte range backing seg, or an error when the range
// escapes the image.
func (b *Binary) SegmentData(seg Segment) ([]byte, error) {
	end := uint64(seg.Offset) + uint64(seg.Size)
	if end > uint64(len(b.Data)) {
		return nil, fmt.Errorf("%w: segment %d range [%d,%d) beyond %d bytes",
			ErrTruncated, seg.ID, seg.Offset, end, len(b.Data))
	}
	return b.Data[seg.Offset:end], nil
}

// SegmentByID finds a segment by its id.
func (b *Binary) SegmentByID(id byte) (Segment, bool) {
	for _, seg := range b.Segments {
		if seg.ID == id {
			return seg, true
		}
	}
	return Segment{}, false
}

// Parse constructs a Binary from raw image bytes. buildName is the firmware
// build identifier the image was published under (it is not stored inside the
// image itself) and feeds the version heuristics.
func Parse(raw []byte, buildName string) (*Binary, error) {
	if len(raw) < headerLen+segmentRecordLen+trailerLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(raw))
	}

	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic == MagicDebug {
		return nil, ErrDebugBuild
	}
	if magic != MagicRetail {
		return nil, fmt.Errorf("%w: 0x%08X", ErrInvalidMagic, magic)
	}

	totalSize := binary.LittleEndian.Uint32(raw[4:8])
	if totalSize == 0 {
		return nil, ErrSizeZero
	}
	segmentCount := binary.LittleEndian.Uint32(raw[8:12])
	if segmentCount == 0 {
		return nil, ErrNoSegments
	}
	if segmentCount > maxSegments {
		return nil, fmt.Errorf("%w: %d segments, limit %d", ErrTooManySegments, segmentCount, maxSegments)
	}

	tableEnd := headerLen + int(segmentCount)*segmentRecordLen
	if len(raw) < tableEnd+trailerLen {
		return nil, fmt.Errorf("%w: segment table needs %d bytes, have %d", ErrTruncated, tableEnd, len(raw))
	}

	segments := make([]Segment, 0, segmentCount)
	for i := 0; i < int(segmentCount); i++ {
		rec := raw[headerLen+i*segmentRecordLen:]
		segments = append(segments, Segment{
			ID:     byte(binary.LittleEndian.Uint32(rec[0:4])),
			CRC32:  binary.LittleEndian.Uint32(rec[4:8]),
			Offset: binary.LittleEndian.Uint32(rec[8:12]),
			Size:   binary.LittleEndian.Uint32(rec[12:16]),
		})
	}

	data := make([]byte, len(raw))
	copy(data, raw)

	bin := &Binary{
		Magic:      magic,
		TotalSize:  totalSize,
		Segments:   segments,
		ImageCRC32: binary.LittleEndian.Uint32(raw[len(raw)-trailerLen:]),
		Data:       data,
		BuildName:  buildName,
		Model:      detectModel(raw),
		Checksum:   hex.EncodeToString(sum256(raw)),
	}
	bin.Version, bin.BuildDate = ExtractVersion(buildName)
	return bin, nil
}

// detectModel searches the image for known per-model firmware signatures.
// First match wins, in model enumeration order.
func detectModel(raw []byte) protocol.Model {
	for _, model := range protocol.AllModels() {
		spec, err := protocol.SpecFor(model, protocol.ProfileStandard)
		if err != nil {
			continue
		}
		for _, sig := range spec.FirmwareSignatures {
			if bytes.Contains(raw, sig) {
				return model
			}
		}
	}
	log.Debug().Msg("firmware: no model signature matched")
	return protocol.ModelUnknown
}

func sum256(raw []byte) []byte {
	sum := sha256.Sum256(raw)
	return sum[:]
}
