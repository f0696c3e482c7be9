package domain

import "time"

// Event is implemented by everything the trip service publishes to the
// message broker after a transaction commits.
type Event interface {
	EventType() string
	RoutingKey() string
}

// BookingCreatedEvent is published after seats were successfully booked.
type BookingCreatedEvent struct {
	BookingID      string        `json:"booking_id"`
	TripID         string        `json:"trip_id"`
	UserID         string        `json:"user_id"`
	SeatsBooked    int           `json:"seats_booked"`
	BookingStatus  BookingStatus `json:"booking_status"`
	TripStatus     TripStatus    `json:"trip_status"`
	AvailableSeats int           `json:"available_seats"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

func (e BookingCreatedEvent) EventType() string  { return "booking.created" }
func (e BookingCreatedEvent) RoutingKey() string { return "trip.booking.created" }

// BookingCancelledEvent is published after a booking was cancelled and
// its seats returned to the trip.
type BookingCancelledEvent struct {
	BookingID      string     `json:"booking_id"`
	TripID         string     `json:"trip_id"`
	UserID         string     `json:"user_id"`
	SeatsReleased  int        `json:"seats_released"`
	TripStatus     TripStatus `json:"trip_status"`
	AvailableSeats int        `json:"available_seats"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

func (e BookingCancelledEvent) EventType() string  { return "booking.cancelled" }
func (e BookingCancelledEvent) RoutingKey() string { return "trip.booking.cancelled" }

// TripStatusChangedEvent is published whenever a committed transaction
// moved the trip to a different status, including the derived FULL and
// back-to-PUBLISHED transitions.
type TripStatusChangedEvent struct {
	TripID     string     `json:"trip_id"`
	OldStatus  TripStatus `json:"old_status"`
	NewStatus  TripStatus `json:"new_status"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func (e TripStatusChangedEvent) EventType() string  { return "trip.status_changed" }
func (e TripStatusChangedEvent) RoutingKey() string { return "trip.status." + string(e.NewStatus) }

// TripAssignedEvent is published after a driver successfully claimed and
// was durably assigned to a trip.
type TripAssignedEvent struct {
	TripID     string    `json:"trip_id"`
	DriverID   string    `json:"driver_id"`
	OwnerID    string    `json:"owner_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e TripAssignedEvent) EventType() string  { return "trip.assigned" }
func (e TripAssignedEvent) RoutingKey() string { return "trip.assigned" }
