// Package fwimage builds well-formed firmware images for tests and the mock
// device.
package fwimage

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	headerLen        = 12
	segmentRecordLen = 16
)

// Spec describes one segment to place in a generated image.
type Spec struct {
	ID   byte
	Data []byte
}

// Build assembles an image: header, segment table, segment data laid out
// back-to-back, an embedded signature so model detection has something to
// find, zero padding up to totalSize, and the trailing whole-image CRC32.
func Build(magic uint32, signature []byte, totalSize int, segs ...Spec) []byte {
	dataStart := headerLen + len(segs)*segmentRecordLen

	img := make([]byte, 0, totalSize)
	img = binary.LittleEndian.AppendUint32(img, magic)
	img = binary.LittleEndian.AppendUint32(img, uint32(totalSize))
	img = binary.LittleEndian.AppendUint32(img, uint32(len(segs)))

	offset := uint32(dataStart)
	for _, s := range segs {
		img = binary.LittleEndian.AppendUint32(img, uint32(s.ID))
		img = binary.LittleEndian.AppendUint32(img, crc32.ChecksumIEEE(s.Data))
		img = binary.LittleEndian.AppendUint32(img, offset)
		img = binary.LittleEndian.AppendUint32(img, uint32(len(s.Data)))
		offset += uint32(len(s.Data))
	}
	for _, s := range segs {
		img = append(img, s.Data...)
	}
	img = append(img, signature...)

	for len(img) < totalSize-4 {
		img = append(img, 0x00)
	}
	img = binary.LittleEndian.AppendUint32(img, crc32.ChecksumIEEE(img))
	return img
}
