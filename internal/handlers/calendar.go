package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/PortNumber53/agency-portal/backend/internal/calendar"
)

func (h *Handler) calendarConfigured(w http.ResponseWriter) bool {
	if h.calendar == nil {
		writeError(w, http.StatusServiceUnavailable, "CALENDAR_DISABLED", "calendar integration is not configured")
		return false
	}
	return true
}

// AuthorizeCalendar returns the provider consent URL. The state parameter binds the callback to userId.
func (h *Handler) AuthorizeCalendar(w http.ResponseWriter, r *http.Request) {
	if !h.calendarConfigured(w) {
		return
	}
	userID := pathVar(r, "userId")
	state, err := calendar.SignState(h.stateSecret, userID, h.now())
	if err != nil {
		log.Printf("[Calendar][Authorize] sign state failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "UNKNOWN_ERROR", "could not start authorization")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"url": h.calendar.AuthCodeURL(state)})
}

// CalendarCallback completes the OAuth code exchange. It is reached by the provider redirect, so
// the user is identified by the signed state rather than a bearer token.
func (h *Handler) CalendarCallback(w http.ResponseWriter, r *http.Request) {
	if !h.calendarConfigured(w) {
		return
	}
	q := r.URL.Query()
	if e := strings.TrimSpace(q.Get("error")); e != "" {
		log.Printf("[Calendar][Callback] provider denied err=%s", truncate(e, 120))
		writeError(w, http.StatusBadRequest, "AUTHORIZATION_DENIED", "calendar authorization was denied")
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "code is required")
		return
	}
	userID, err := calendar.VerifyState(h.stateSecret, q.Get("state"), h.now())
	if err != nil {
		log.Printf("[Calendar][Callback] invalid state err=%v", err)
		writeError(w, http.StatusBadRequest, "INVALID_STATE", "invalid or expired state")
		return
	}
	tok, err := h.calendar.Exchange(r.Context(), userID, code)
	if err != nil {
		writeDomainError(w, "Calendar][Callback", err)
		return
	}
	if err := h.calendar.Init(r.Context(), userID); err != nil {
		log.Printf("[Calendar][Callback] init after exchange failed userId=%s err=%v", userID, err)
	}
	h.emitEvent(userID, realtimeEvent{Type: "calendar.connected"})
	writeData(w, http.StatusOK, map[string]any{
		"userId":          userID,
		"connected":       true,
		"hasRefreshToken": tok.RefreshToken != "",
	})
}

func (h *Handler) CalendarStatus(w http.ResponseWriter, r *http.Request) {
	if !h.calendarConfigured(w) {
		return
	}
	userID := pathVar(r, "userId")
	// Init first so a token close to expiry is refreshed and the reported expiry is current.
	initErr := h.calendar.Init(r.Context(), userID)
	st, err := h.calendar.Status(r.Context(), userID)
	if err != nil {
		writeDomainError(w, "Calendar][Status", err)
		return
	}
	if st.Connected {
		st.Ready = initErr == nil
		if initErr != nil {
			st.ReadyError = calendar.CodeOf(initErr)
			if st.ReadyError == "" {
				st.ReadyError = "UNKNOWN_ERROR"
			}
			log.Printf("[Calendar][Status] init failed userId=%s err=%v", userID, initErr)
		}
	}
	writeData(w, http.StatusOK, st)
}

func (h *Handler) DisconnectCalendar(w http.ResponseWriter, r *http.Request) {
	if !h.calendarConfigured(w) {
		return
	}
	userID := pathVar(r, "userId")
	if err := h.calendar.Disconnect(r.Context(), userID); err != nil {
		writeDomainError(w, "Calendar][Disconnect", err)
		return
	}
	log.Printf("[Calendar][Disconnect] userId=%s", userID)
	h.emitEvent(userID, realtimeEvent{Type: "calendar.disconnected"})
	writeData(w, http.StatusOK, map[string]bool{"connected": false})
}
