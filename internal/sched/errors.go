package sched

import "errors"

// Kind identifies a command validation failure in a form clients can
// branch on. The strings are part of the API contract.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInvalidDuration       Kind = "invalid_duration"
	KindAlreadyReserved       Kind = "already_reserved"
	KindAlreadyCompletedToday Kind = "already_completed_today"
	KindQueueBlocksStart      Kind = "queue_blocks_start"
	KindMachineBusy           Kind = "machine_busy"
	KindNotQueued             Kind = "not_queued"
)

// Error is a validation failure returned by an engine command. The
// engine never mutates state before returning one.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

var (
	ErrNotFound              = &Error{KindNotFound, "unknown machine"}
	ErrInvalidDuration       = &Error{KindInvalidDuration, "duration must be a positive number of minutes"}
	ErrAlreadyReserved       = &Error{KindAlreadyReserved, "user already occupies or is queued on a machine"}
	ErrAlreadyCompletedToday = &Error{KindAlreadyCompletedToday, "user has already completed a wash today"}
	ErrQueueBlocksStart      = &Error{KindQueueBlocksStart, "another user is ahead in the queue"}
	ErrMachineBusy           = &Error{KindMachineBusy, "machine is in use by another user"}
	ErrNotQueued             = &Error{KindNotQueued, "user is not queued on this machine"}
)

// KindOf extracts the failure kind from err, or "" when err did not
// originate from the engine.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
