package apollo

import "errors"

// Errors returned by the engine. Returned values usually wrap one of these
// sentinels with operation context; match them with errors.Is.
var (
	// ErrTimeout indicates the device did not reach the expected status
	// within the deadline. The condition is recoverable and the caller may
	// retry or abort.
	ErrTimeout = errors.New("device timeout")

	// ErrDeviceError indicates the status register reported the error bit.
	// The device is left stopped and the bit is not cleared automatically.
	ErrDeviceError = errors.New("device error")

	// ErrInvalidParameter indicates a requested rate, format, channel count
	// or state transition is unsupported. The request is rejected before any
	// hardware access.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrResourceGone indicates the register or DMA mapping is no longer
	// valid. This is fatal: the device must be torn down and no further
	// calls are safe.
	ErrResourceGone = errors.New("device resource gone")
)
