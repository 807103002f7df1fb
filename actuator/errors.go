package actuator

import "errors"

// Results of protocol calls. Callers match them with errors.Is.
var (
	ErrDeviceNotFound  = errors.New("actuator not found")
	ErrOutOfRange      = errors.New("value out of range")
	ErrBusBusy         = errors.New("bus busy")
	ErrTransmitFailure = errors.New("transmit failed")
	ErrAckTimeout      = errors.New("no acknowledgement")
	ErrAckFailure      = errors.New("acknowledgement failed")
	// ErrRequestInFlight means another request to the same actuator has not
	// resolved yet.
	ErrRequestInFlight = errors.New("request already in flight")
)
