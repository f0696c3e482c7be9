package domain

import (
	"time"
)

// BookingStatus represents the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

func (s BookingStatus) String() string {
	return string(s)
}

func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// IsActive reports whether the booking currently holds seats against
// the trip's capacity.
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed
}

// CanCancel reports whether cancelling from this status is allowed.
func (s BookingStatus) CanCancel() bool {
	return s.IsActive()
}

// Booking records a passenger's claim on seats of a trip.
type Booking struct {
	ID          string        `json:"id"`
	TripID      string        `json:"trip_id"`
	UserID      string        `json:"user_id"`
	SeatsBooked int           `json:"seats_booked"`
	Status      BookingStatus `json:"status"`
	Note        string        `json:"note,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
