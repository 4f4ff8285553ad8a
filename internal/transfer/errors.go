package transfer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every way a transfer can fail. Each terminal failure
// maps to exactly one kind so the UI layer can render one message per kind.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindSessionTimeout
	KindControlTimeout
	KindTransferTimeout
	KindSessionFail
	KindCopyFail
	KindVerifyFail
	KindIntegrityCheckFail
	KindBatteryTooLow
	KindDeviceInUse
	KindInvalidBinary
	KindDisconnected
	KindDeviceBusy
	KindRecoveryFailed
	KindAlreadyRunning
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown failure",
	KindSessionTimeout:     "session open timed out",
	KindControlTimeout:     "control negotiation timed out",
	KindTransferTimeout:    "transfer timed out",
	KindSessionFail:        "device rejected the session",
	KindCopyFail:           "device failed to copy firmware",
	KindVerifyFail:         "device failed to verify firmware",
	KindIntegrityCheckFail: "firmware integrity check failed",
	KindBatteryTooLow:      "device battery too low",
	KindDeviceInUse:        "device is in use",
	KindInvalidBinary:      "firmware binary invalid",
	KindDisconnected:       "device not connected",
	KindDeviceBusy:         "device did not answer the health check",
	KindRecoveryFailed:     "recovery bookkeeping failed",
	KindAlreadyRunning:     "another transfer is in progress",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error is a typed transfer failure. ResultCode carries the device-reported
// code where one exists.
type Error struct {
	Kind       ErrorKind
	ResultCode int
	Wrapped    error
}

func (e *Error) Error() string {
	msg := "transfer: " + e.Kind.String()
	if e.ResultCode != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.ResultCode)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Wrapped }

func newError(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

func newErrorCode(kind ErrorKind, code int) *Error {
	return &Error{Kind: kind, ResultCode: code}
}

func wrapError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Wrapped: err}
}

// KindOf extracts the ErrorKind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
