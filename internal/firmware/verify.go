package firmware

import (
	"hash/crc32"

	"github.com/rs/zerolog/log"

	"github.com/openbuds/budslink/internal/protocol"
)

// Size bounds on an installable image.
const (
	MinBinarySize = 1 * 1024
	MaxBinarySize = 2 * 1024 * 1024
)

// DeviceInfo is what the verifier needs to know about the connected device.
type DeviceInfo struct {
	Model           protocol.Model
	FirmwareVersion string
}

// VerifyHeaderStructure checks the structural invariants of a parsed image:
// size bounds, segment ranges and per-segment CRC32s. Pure; no device
// knowledge required.
func VerifyHeaderStructure(bin *Binary) bool {
	if bin == nil || len(bin.Data) == 0 {
		return false
	}
	if len(bin.Data) < MinBinarySize || len(bin.Data) > MaxBinarySize {
		log.Warn().Int("size", len(bin.Data)).Msg("firmware: image size out of bounds")
		return false
	}
	for _, seg := range bin.Segments {
		data, err := bin.SegmentData(seg)
		if err != nil {
			log.Warn().Err(err).Uint8("segment", seg.ID).Msg("firmware: segment range invalid")
			return false
		}
		if got := crc32.ChecksumIEEE(data); got != seg.CRC32 {
			log.Warn().Uint8("segment", seg.ID).
				Uint32("want", seg.CRC32).Uint32("got", got).
				Msg("firmware: segment checksum mismatch")
			return false
		}
	}
	return true
}

// Verify runs the full pre-transfer gate: structure, checksums, model match
// and the downgrade policy. Any failure short-circuits.
func Verify(bin *Binary, dev DeviceInfo) bool {
	if !VerifyHeaderStructure(bin) {
		return false
	}
	if bin.Model != dev.Model {
		log.Warn().Stringer("image", bin.Model).Stringer("device", dev.Model).
			Msg("firmware: image targets a different model")
		return false
	}
	deviceVersion, _ := ExtractVersion(dev.FirmwareVersion)
	if CompareVersions(bin.Version, deviceVersion) < 0 && !bin.AllowDowngrade {
		log.Warn().Str("image", bin.Version).Str("device", deviceVersion).
			Msg("firmware: downgrade rejected")
		return false
	}
	return true
}
