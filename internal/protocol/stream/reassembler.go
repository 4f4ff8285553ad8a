// Package stream turns an unaligned, possibly corrupted byte stream into
// discrete frames. It is the only layer allowed to drop bytes; everything
// above it sees complete, checksummed messages.
package stream

import (
	"bytes"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/openbuds/budslink/internal/protocol"
	"github.com/openbuds/budslink/internal/protocol/frame"
)

// Bounds guaranteeing termination per chunk regardless of input.
const (
	minScanLen             = 5
	maxIterations          = 100
	maxConsecutiveFailures = 5
)

// Reassembler incrementally decodes frames from a caller-owned buffer.
// It keeps no state between calls other than what stays in the buffer, so a
// reconnect only needs a fresh buffer.
type Reassembler struct {
	spec protocol.DeviceSpec
}

func New(spec protocol.DeviceSpec) *Reassembler {
	return &Reassembler{spec: spec}
}

// DecodeChunk consumes as many complete frames as possible from the front of
// *buf. Consumed and discarded bytes are removed; a partial trailing frame is
// left for the next call. On unrecoverable garbage the whole buffer is
// discarded so one bad chunk can never wedge the stream.
func (r *Reassembler) DecodeChunk(buf *[]byte) []frame.Frame {
	var frames []frame.Frame
	failures := 0

	for iter := 0; len(*buf) >= minScanLen; iter++ {
		if iter >= maxIterations {
			log.Warn().Int("dropped", len(*buf)).Msg("reassembler: iteration bound hit, flushing buffer")
			*buf = (*buf)[:0]
			break
		}

		f, err := frame.Decode(*buf, r.spec)
		if err == nil {
			*buf = (*buf)[f.TotalPacketSize():]
			failures = 0
			frames = append(frames, f)
			continue
		}

		if errors.Is(err, frame.ErrIncomplete) {
			// Valid prefix, wait for the rest.
			break
		}

		failures++
		log.Debug().Err(err).Int("buffered", len(*buf)).Msg("reassembler: frame rejected, resyncing")

		if failures > maxConsecutiveFailures || allZero(*buf) {
			log.Warn().Int("dropped", len(*buf)).Int("failures", failures).
				Msg("reassembler: unrecoverable garbage, flushing buffer")
			*buf = (*buf)[:0]
			break
		}

		// Skip to the next start marker, or give up one byte.
		if idx := bytes.IndexByte((*buf)[1:], r.spec.StartOfMessage); idx >= 0 {
			*buf = (*buf)[idx+1:]
		} else {
			*buf = (*buf)[1:]
		}
	}

	return frames
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
