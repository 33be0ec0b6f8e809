package governor

import "errors"

var (
	// ErrGovernorStopped is returned for work submitted after Stop
	ErrGovernorStopped = errors.New("governor stopped")
	// ErrNilRequest is returned when RunScoped is given no request
	ErrNilRequest = errors.New("nil request")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("governor already started")
)
