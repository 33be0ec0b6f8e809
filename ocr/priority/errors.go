package priority

import "errors"

var (
	// ErrInvalidTier is returned when a tier outside Express..Background is used
	ErrInvalidTier = errors.New("invalid priority tier")

	// ErrQueueFull is returned when a tier's waiting queue is at its configured limit
	ErrQueueFull = errors.New("tier queue is full")

	// ErrHandleReleased is returned when a handle is released more than once
	ErrHandleReleased = errors.New("handle already released")

	// ErrForeignHandle is returned when a handle was not issued by this gate
	ErrForeignHandle = errors.New("handle not issued by this gate")
)
