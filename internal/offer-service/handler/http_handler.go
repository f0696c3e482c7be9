package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ridepool/internal/offer-service/domain"
	"ridepool/internal/offer-service/registry"
	"ridepool/internal/offer-service/service"
	tripdomain "ridepool/internal/trip-service/domain"
	"ridepool/pkg/auth"
	"ridepool/pkg/logger"
)

// HTTPHandler exposes the offer endpoints. Offer/dispatch are admin
// operations; accept, decline and the active-offer query belong to the
// authenticated driver.
type HTTPHandler struct {
	offerTrip *service.OfferTripUseCase
	accept    *service.AcceptOfferUseCase
	decline   *service.DeclineOfferUseCase
	registry  *registry.Registry
	presence  domain.PresenceStore
	log       logger.Logger
}

func NewHTTPHandler(
	offerTrip *service.OfferTripUseCase,
	accept *service.AcceptOfferUseCase,
	decline *service.DeclineOfferUseCase,
	reg *registry.Registry,
	presence domain.PresenceStore,
	log logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		offerTrip: offerTrip,
		accept:    accept,
		decline:   decline,
		registry:  reg,
		presence:  presence,
		log:       log,
	}
}

type offerRequest struct {
	DriverID       string `json:"driver_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (h *HTTPHandler) OfferTrip(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}

	offer, err := h.offerTrip.Execute(r.Context(), service.OfferTripCommand{
		TripID:   r.PathValue("id"),
		DriverID: req.DriverID,
		Window:   time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (h *HTTPHandler) DispatchTrip(w http.ResponseWriter, r *http.Request) {
	offer, err := h.offerTrip.Dispatch(r.Context(), service.DispatchCommand{
		TripID: r.PathValue("id"),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (h *HTTPHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	trip, err := h.accept.Execute(r.Context(), service.AcceptOfferCommand{
		TripID:   r.PathValue("id"),
		DriverID: claims.UserID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *HTTPHandler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	err := h.decline.Execute(r.Context(), service.DeclineOfferCommand{
		TripID:   r.PathValue("id"),
		DriverID: claims.UserID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (h *HTTPHandler) ActiveOffer(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	offer, ok := h.registry.ActiveOffer(claims.UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "no active offer")
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (h *HTTPHandler) GoOnline(w http.ResponseWriter, r *http.Request) {
	h.setPresence(w, r, true)
}

func (h *HTTPHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	h.setPresence(w, r, false)
}

func (h *HTTPHandler) setPresence(w http.ResponseWriter, r *http.Request, available bool) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var err error
	status := "offline"
	if available {
		err = h.presence.SetAvailable(r.Context(), claims.UserID)
		status = "available"
	} else {
		err = h.presence.SetUnavailable(r.Context(), claims.UserID)
	}
	if err != nil {
		h.log.Error("presence_update", err)
		writeError(w, http.StatusInternalServerError, "failed to update presence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *HTTPHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOfferExpiredOrNotYours):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrOfferAlreadyOutstanding):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAlreadyAssigned),
		errors.Is(err, tripdomain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoCapacity),
		errors.Is(err, domain.ErrTripInPast),
		errors.Is(err, domain.ErrTripNotAvailable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tripdomain.ErrTripNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoCandidates):
		writeError(w, http.StatusServiceUnavailable, err.Error())
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
