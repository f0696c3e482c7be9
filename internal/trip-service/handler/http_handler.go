package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ridepool/internal/trip-service/domain"
	"ridepool/internal/trip-service/service"
	"ridepool/pkg/auth"
	"ridepool/pkg/logger"
	"ridepool/pkg/ratelimit"
)

// HTTPHandler exposes the trip and booking endpoints.
type HTTPHandler struct {
	createTrip    *service.CreateTripUseCase
	bookSeats     *service.BookSeatsUseCase
	cancelBooking *service.CancelBookingUseCase
	finishTrip    *service.FinishTripUseCase
	ledger        domain.Ledger
	limiter       ratelimit.Limiter
	log           logger.Logger
}

func NewHTTPHandler(
	createTrip *service.CreateTripUseCase,
	bookSeats *service.BookSeatsUseCase,
	cancelBooking *service.CancelBookingUseCase,
	finishTrip *service.FinishTripUseCase,
	ledger domain.Ledger,
	limiter ratelimit.Limiter,
	log logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		createTrip:    createTrip,
		bookSeats:     bookSeats,
		cancelBooking: cancelBooking,
		finishTrip:    finishTrip,
		ledger:        ledger,
		limiter:       limiter,
		log:           log,
	}
}

type createTripRequest struct {
	TotalSeats  int       `json:"total_seats"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartsAt   time.Time `json:"departs_at"`
	Draft       bool      `json:"draft"`
}

func (h *HTTPHandler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trip, err := h.createTrip.Execute(r.Context(), service.CreateTripCommand{
		OwnerID:     claims.UserID,
		TotalSeats:  req.TotalSeats,
		Origin:      req.Origin,
		Destination: req.Destination,
		DepartsAt:   req.DepartsAt,
		Draft:       req.Draft,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (h *HTTPHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.ledger.GetTrip(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *HTTPHandler) ListTripBookings(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tripID := r.PathValue("id")
	trip, err := h.ledger.GetTrip(r.Context(), tripID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if trip.OwnerID != claims.UserID && claims.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "only the trip owner can list bookings")
		return
	}

	bookings, err := h.ledger.ListBookingsByTrip(r.Context(), tripID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

type bookSeatsRequest struct {
	Seats   int    `json:"seats"`
	Pending bool   `json:"pending"`
	Note    string `json:"note"`
}

func (h *HTTPHandler) BookSeats(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !h.limiter.Allow(claims.UserID) {
		writeError(w, http.StatusTooManyRequests, "too many booking attempts, slow down")
		return
	}

	var req bookSeatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.bookSeats.Execute(r.Context(), service.BookSeatsCommand{
		TripID:  r.PathValue("id"),
		UserID:  claims.UserID,
		Seats:   req.Seats,
		Pending: req.Pending,
		Note:    req.Note,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"booking": result.Booking,
		"trip":    result.Trip,
	})
}

func (h *HTTPHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	userID := claims.UserID
	if claims.Role == auth.RoleAdmin {
		userID = ""
	}

	result, err := h.cancelBooking.Execute(r.Context(), service.CancelBookingCommand{
		BookingID: r.PathValue("id"),
		UserID:    userID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking": result.Booking,
		"trip":    result.Trip,
	})
}

// ConfirmPendingBookings moves a trip's PENDING bookings to CONFIRMED
// in one statement, e.g. after the owner collected payment. Seat counts
// are untouched: pending bookings already hold their seats.
func (h *HTTPHandler) ConfirmPendingBookings(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tripID := r.PathValue("id")
	trip, err := h.ledger.GetTrip(r.Context(), tripID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if trip.OwnerID != claims.UserID && claims.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "only the trip owner can confirm bookings")
		return
	}

	count, err := h.ledger.BulkTransitionBookings(r.Context(), tripID,
		[]domain.BookingStatus{domain.BookingPending}, domain.BookingConfirmed)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": count})
}

func (h *HTTPHandler) CompleteTrip(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, domain.StatusCompleted)
}

func (h *HTTPHandler) CancelTrip(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, domain.StatusCancelled)
}

func (h *HTTPHandler) finish(w http.ResponseWriter, r *http.Request, to domain.TripStatus) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	result, err := h.finishTrip.Execute(r.Context(), service.FinishTripCommand{
		TripID:     r.PathValue("id"),
		OwnerID:    claims.UserID,
		ToStatus:   to,
		ForceAdmin: claims.Role == auth.RoleAdmin,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Trip)
}

func (h *HTTPHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTripNotFound), errors.Is(err, domain.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTripNotBookable),
		errors.Is(err, domain.ErrBookingNotCancellable),
		errors.Is(err, domain.ErrTripNotTransitionable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInsufficientCapacity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidSeatCount),
		errors.Is(err, service.ErrInvalidTotalSeats),
		errors.Is(err, service.ErrInvalidRoute),
		errors.Is(err, service.ErrDepartureInPast):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("http_internal_error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
