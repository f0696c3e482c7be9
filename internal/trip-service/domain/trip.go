package domain

import (
	"time"
)

// TripStatus represents the lifecycle state of a trip.
type TripStatus string

const (
	StatusDraft      TripStatus = "DRAFT"
	StatusPublished  TripStatus = "PUBLISHED"
	StatusOffered    TripStatus = "OFFERED"
	StatusFull       TripStatus = "FULL"
	StatusInProgress TripStatus = "IN_PROGRESS"
	StatusCompleted  TripStatus = "COMPLETED"
	StatusCancelled  TripStatus = "CANCELLED"
)

func (s TripStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known lifecycle state.
func (s TripStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusOffered, StatusFull,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the trip can no longer change.
func (s TripStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsBookable reports whether new bookings may be taken in this status.
// FULL is excluded: a full trip only becomes bookable again through a
// cancellation, which un-fills it via DeriveStatus.
func (s TripStatus) IsBookable() bool {
	switch s {
	case StatusPublished, StatusOffered, StatusInProgress:
		return true
	}
	return false
}

// Trip is the shared mutable resource of the seat inventory ledger. Its
// capacity, status and driver assignment are only ever mutated inside a
// lock+versioned-update transaction.
type Trip struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	DriverID       *string    `json:"driver_id,omitempty"`
	Status         TripStatus `json:"status"`
	TotalSeats     int        `json:"total_seats"`
	AvailableSeats int        `json:"available_seats"`
	Version        int64      `json:"version"`
	Origin         string     `json:"origin"`
	Destination    string     `json:"destination"`
	DepartsAt      time.Time  `json:"departs_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasDriver reports whether a driver has been assigned.
func (t *Trip) HasDriver() bool {
	return t.DriverID != nil
}

// DeriveStatus computes the trip status implied by the post-mutation seat
// count. It must always be called with the seat count as it will be after
// the mutation commits, never the pre-mutation value.
func DeriveStatus(current TripStatus, availableSeats, totalSeats int) TripStatus {
	if availableSeats == 0 && current.IsBookable() {
		return StatusFull
	}
	if availableSeats > 0 && current == StatusFull {
		return StatusPublished
	}
	return current
}
