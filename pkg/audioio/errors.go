package audioio

import (
	"errors"
	"fmt"
)

// ErrDeviceUnavailable indicates the input or output device could not be
// acquired: permission denied, no device present, or the backend tool is
// not installed.
var ErrDeviceUnavailable = errors.New("audioio: device unavailable")

// errStreamEnded is the cause reported when a source stops delivering
// audio without saying why.
var errStreamEnded = errors.New("capture stream ended")

// DeviceError describes a device that could not be acquired or was lost
// while in use.
type DeviceError struct {
	// Backend is the backend that failed.
	Backend string

	// Device is the requested device ("" for the default device).
	Device string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	dev := e.Device
	if dev == "" {
		dev = "default"
	}
	if e.Cause != nil {
		return fmt.Sprintf("audioio: device unavailable (%s %s): %v", e.Backend, dev, e.Cause)
	}
	return fmt.Sprintf("audioio: device unavailable (%s %s)", e.Backend, dev)
}

// Is reports ErrDeviceUnavailable as a match.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceUnavailable
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error {
	return e.Cause
}

