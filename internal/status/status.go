package status

import "errors"

var (
	// Validation — rejected before touching any state.
	ErrInvalidDate     = errors.New("validation: invalid or past date")
	ErrInvalidSlot     = errors.New("validation: slot time does not match the clinic schedule")
	ErrInvalidPriority = errors.New("validation: priority must be normal or emergency")

	// Conflict — surfaced to the caller, never silently retried.
	ErrSlotTaken = errors.New("conflict: slot already booked")

	// Not found.
	ErrNotFound   = errors.New("not found: unknown appointment, doctor or clinic")
	ErrNotInQueue = errors.New("not found: appointment is not in a queue")

	// State — illegal status transition.
	ErrIllegalTransition = errors.New("state: illegal appointment transition")
	ErrNotToday          = errors.New("state: check-in is only allowed on the appointment day")
	ErrClinicClosed      = errors.New("state: clinic is closed on this date")

	// Queue signals — normal outcomes, not failures.
	ErrQueueEmpty    = errors.New("queue: nobody waiting")
	ErrNoActiveQueue = errors.New("queue: no active queue for this doctor today")
)
