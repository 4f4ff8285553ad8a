package protocol

import "fmt"

// MsgID is the one-byte message identifier on the wire.
type MsgID byte

const (
	MsgIDStatusUpdated         MsgID = 0x60
	MsgIDExtendedStatusUpdated MsgID = 0x61
	MsgIDStatusRequest         MsgID = 0x62

	MsgIDFotaOpen         MsgID = 0x98
	MsgIDFotaControl      MsgID = 0x99
	MsgIDFotaDownloadData MsgID = 0x9A
	MsgIDFotaUpdate       MsgID = 0x9B
	MsgIDFotaResult       MsgID = 0x9C
	MsgIDFotaAbort        MsgID = 0x9D
)

var msgNames = map[MsgID]string{
	MsgIDStatusUpdated:         "STATUS_UPDATED",
	MsgIDExtendedStatusUpdated: "EXTENDED_STATUS_UPDATED",
	MsgIDStatusRequest:         "STATUS_REQUEST",
	MsgIDFotaOpen:              "FOTA_OPEN",
	MsgIDFotaControl:           "FOTA_CONTROL",
	MsgIDFotaDownloadData:      "FOTA_DOWNLOAD_DATA",
	MsgIDFotaUpdate:            "FOTA_UPDATE",
	MsgIDFotaResult:            "FOTA_RESULT",
	MsgIDFotaAbort:             "FOTA_ABORT",
}

func (id MsgID) String() string {
	if name, ok := msgNames[id]; ok {
		return name
	}
	return fmt.Sprintf("MSG_0x%02X", byte(id))
}
