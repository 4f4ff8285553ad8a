package transfer

// State is the transfer lifecycle state, owned exclusively by the Manager.
type State int

const (
	StateReady State = iota
	StatePreparingUpdate
	StateVerifyingFirmware
	StateCheckingDeviceHealth
	StateBackingUpFirmware
	StateInitializingSession
	StateUploading
	StateVerifyingUpdate
	StateFinalizing
	StateRecoveryMode
)

var transferStateNames = map[State]string{
	StateReady:                "ready",
	StatePreparingUpdate:      "preparing_update",
	StateVerifyingFirmware:    "verifying_firmware",
	StateCheckingDeviceHealth: "checking_device_health",
	StateBackingUpFirmware:    "backing_up_firmware",
	StateInitializingSession:  "initializing_session",
	StateUploading:            "uploading",
	StateVerifyingUpdate:      "verifying_update",
	StateFinalizing:           "finalizing",
	StateRecoveryMode:         "recovery_mode",
}

func (s State) String() string {
	if name, ok := transferStateNames[s]; ok {
		return name
	}
	return "invalid"
}
