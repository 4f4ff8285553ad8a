// Package protocol owns the wire contract shared with the earbuds firmware.
//
// Ownership boundary:
// - per-model device specs (markers, header format, service UUID)
// - message id registry
// - CRC16 checksum primitive
//
// The frame codec and stream reassembly live in the frame and stream
// subpackages.
package protocol
