package domain

import "errors"

var (
	ErrTripNotFound           = errors.New("trip not found")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrTripNotBookable        = errors.New("trip is not open for booking")
	ErrInsufficientCapacity   = errors.New("not enough seats available")
	ErrConcurrentModification = errors.New("trip was modified concurrently, retry the operation")
	ErrBookingNotCancellable  = errors.New("booking cannot be cancelled in its current status")
	ErrTripNotTransitionable  = errors.New("trip cannot transition to the requested status")
	ErrInvalidSeatCount       = errors.New("seat count must be positive")
)
