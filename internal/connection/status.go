package connection

import (
	"errors"

	"github.com/openbuds/budslink/internal/protocol"
	"github.com/openbuds/budslink/internal/protocol/frame"
)

// DeviceStatus is the latest device-reported state, decoded from
// STATUS_UPDATED / EXTENDED_STATUS_UPDATED messages. Battery values are
// percent; a channel reporting zero is treated as absent (a bud that is not
// paired or is fully drained does not report).
type DeviceStatus struct {
	BatteryLeft  int
	BatteryRight int
	BatteryCase  int

	WearingLeft   bool
	WearingRight  bool
	InCall        bool
	PlayingAudio  bool
	InFotaSession bool

	FirmwareVersion string
}

// Status flag bits in byte 3 of the status payload.
const (
	statusFlagWearingLeft  = 1 << 0
	statusFlagWearingRight = 1 << 1
	statusFlagInCall       = 1 << 2
	statusFlagPlaying      = 1 << 3
	statusFlagFotaSession  = 1 << 4
)

var ErrShortStatus = errors.New("connection: status payload too short")

// ReportedBatteries returns the battery channels the device actually reported.
func (s DeviceStatus) ReportedBatteries() []int {
	var out []int
	for _, v := range []int{s.BatteryLeft, s.BatteryRight, s.BatteryCase} {
		if v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// Busy reports whether the device is in a call or actively playing audio.
func (s DeviceStatus) Busy() bool {
	return s.InCall || s.PlayingAudio
}

// DecodeStatus parses a STATUS_UPDATED or EXTENDED_STATUS_UPDATED payload.
//
// Layout: [BATT_L:1][BATT_R:1][BATT_CASE:1][FLAGS:1] with the extended form
// appending the firmware version as ASCII.
func DecodeStatus(f frame.Frame) (DeviceStatus, error) {
	if f.ID != protocol.MsgIDStatusUpdated && f.ID != protocol.MsgIDExtendedStatusUpdated {
		return DeviceStatus{}, ErrShortStatus
	}
	p := f.Payload
	if len(p) < 4 {
		return DeviceStatus{}, ErrShortStatus
	}
	st := DeviceStatus{
		BatteryLeft:   int(p[0]),
		BatteryRight:  int(p[1]),
		BatteryCase:   int(p[2]),
		WearingLeft:   p[3]&statusFlagWearingLeft != 0,
		WearingRight:  p[3]&statusFlagWearingRight != 0,
		InCall:        p[3]&statusFlagInCall != 0,
		PlayingAudio:  p[3]&statusFlagPlaying != 0,
		InFotaSession: p[3]&statusFlagFotaSession != 0,
	}
	if f.ID == protocol.MsgIDExtendedStatusUpdated && len(p) > 4 {
		st.FirmwareVersion = string(p[4:])
	}
	return st, nil
}

// EncodeStatusPayload builds a status payload; the device side of tests and
// the mock device use it.
func EncodeStatusPayload(st DeviceStatus, extended bool) []byte {
	var flags byte
	if st.WearingLeft {
		flags |= statusFlagWearingLeft
	}
	if st.WearingRight {
		flags |= statusFlagWearingRight
	}
	if st.InCall {
		flags |= statusFlagInCall
	}
	if st.PlayingAudio {
		flags |= statusFlagPlaying
	}
	if st.InFotaSession {
		flags |= statusFlagFotaSession
	}
	p := []byte{byte(st.BatteryLeft), byte(st.BatteryRight), byte(st.BatteryCase), flags}
	if extended {
		p = append(p, []byte(st.FirmwareVersion)...)
	}
	return p
}
