package domain

import "errors"

var (
	// Registry outcomes.
	ErrOfferAlreadyOutstanding = errors.New("trip already has an outstanding offer")
	ErrOfferExpiredOrNotYours  = errors.New("offer expired or belongs to another driver")

	// Acceptance transaction outcomes.
	ErrTripNotAvailable = errors.New("trip is not available for assignment")
	ErrAlreadyAssigned  = errors.New("trip already has a driver assigned")
	ErrNoCapacity       = errors.New("trip has no seats left to drive for")
	ErrTripInPast       = errors.New("trip departure time has already passed")

	ErrNoCandidates = errors.New("no available drivers to offer the trip to")
)
