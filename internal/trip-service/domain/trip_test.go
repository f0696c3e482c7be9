package domain

import "testing"

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name           string
		current        TripStatus
		availableSeats int
		totalSeats     int
		want           TripStatus
	}{
		{"published trip fills up", StatusPublished, 0, 4, StatusFull},
		{"offered trip fills up", StatusOffered, 0, 4, StatusFull},
		{"in progress trip fills up", StatusInProgress, 0, 4, StatusFull},
		{"full trip regains a seat", StatusFull, 1, 4, StatusPublished},
		{"full trip regains all seats", StatusFull, 4, 4, StatusPublished},
		{"published trip keeps seats", StatusPublished, 2, 4, StatusPublished},
		{"completed trip stays completed at zero", StatusCompleted, 0, 4, StatusCompleted},
		{"cancelled trip stays cancelled", StatusCancelled, 3, 4, StatusCancelled},
		{"draft trip never becomes full", StatusDraft, 0, 4, StatusDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.current, tt.availableSeats, tt.totalSeats)
			if got != tt.want {
				t.Errorf("DeriveStatus(%s, %d, %d) = %s, want %s",
					tt.current, tt.availableSeats, tt.totalSeats, got, tt.want)
			}
		})
	}
}

func TestTripStatusIsBookable(t *testing.T) {
	bookable := []TripStatus{StatusPublished, StatusOffered, StatusInProgress}
	for _, s := range bookable {
		if !s.IsBookable() {
			t.Errorf("expected %s to be bookable", s)
		}
	}
	notBookable := []TripStatus{StatusDraft, StatusFull, StatusCompleted, StatusCancelled}
	for _, s := range notBookable {
		if s.IsBookable() {
			t.Errorf("expected %s to not be bookable", s)
		}
	}
}

func TestTripStatusIsTerminal(t *testing.T) {
	if !StatusCompleted.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Error("COMPLETED and CANCELLED must be terminal")
	}
	if StatusFull.IsTerminal() {
		t.Error("FULL must not be terminal, cancellations can reopen the trip")
	}
}

func TestBookingStatusCanCancel(t *testing.T) {
	if !BookingPending.CanCancel() || !BookingConfirmed.CanCancel() {
		t.Error("active bookings must be cancellable")
	}
	if BookingCancelled.CanCancel() || BookingCompleted.CanCancel() {
		t.Error("resolved bookings must not be cancellable")
	}
}
