package adaptive

import "errors"

var (
	// ErrInvalidConfiguration is returned when a configuration assembled in
	// code falls outside the documented ranges
	ErrInvalidConfiguration = errors.New("invalid configuration parameters")
)
