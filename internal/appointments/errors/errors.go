package errors

import "errors"

var (
	ErrNotFound = errors.New("appointment not found")

	ErrInvalidID = errors.New("invalid appointment ID format")

	// ErrSlotTaken is returned when the provider's instant is already held by another appointment.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrStateChanged is returned when a guarded write finds the appointment no longer in the expected state.
	ErrStateChanged = errors.New("appointment state changed")

	// ErrCancelled is returned when a payment confirmation reaches an appointment that was already cancelled.
	ErrCancelled = errors.New("appointment cancelled")

	ErrRoomAlreadyAttached = errors.New("room already attached")

	// ErrIllegalTransition is returned when the status table forbids the move. Replaying it never helps.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrUnpaid is returned when a session transition reaches an appointment whose payment is not settled.
	ErrUnpaid = errors.New("payment not settled")

	ErrLockHeld = errors.New("booking lock held")
)
