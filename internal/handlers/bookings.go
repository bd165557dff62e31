package handlers

import (
	"net/http"

	"github.com/PortNumber53/agency-portal/backend/internal/bookings"
)

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	var form bookings.Form
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, bookings.CodeValidation, "invalid JSON body")
		return
	}
	b, err := h.bookings.CreateBooking(r.Context(), userID, form)
	if err != nil {
		writeDomainError(w, "Bookings][Create", err)
		return
	}
	h.emitEvent(userID, realtimeEvent{Type: "booking.created", BookingID: b.ID, Status: b.Status})
	writeData(w, http.StatusCreated, b)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	out, err := h.bookings.ListBookingsForUser(r.Context(), pathVar(r, "userId"))
	if err != nil {
		writeDomainError(w, "Bookings][List", err)
		return
	}
	if out == nil {
		out = []bookings.Booking{}
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.GetBooking(r.Context(), pathVar(r, "userId"), pathVar(r, "bookingId"))
	if err != nil {
		writeDomainError(w, "Bookings][Get", err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	b, err := h.bookings.CancelBooking(r.Context(), userID, pathVar(r, "bookingId"))
	if err != nil {
		writeDomainError(w, "Bookings][Cancel", err)
		return
	}
	h.emitEvent(userID, realtimeEvent{Type: "booking.cancelled", BookingID: b.ID, Status: b.Status})
	writeData(w, http.StatusOK, b)
}
