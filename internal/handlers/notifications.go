package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/PortNumber53/agency-portal/backend/internal/models"
	"github.com/PortNumber53/agency-portal/backend/internal/notifications"
)

func (h *Handler) ListNotificationsForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID := pathVar(r, "userId")
	limit := parseLimit(r, 50, 1, 200)
	if limit <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid limit")
		return
	}
	onlyUnread := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("unread"))) == "true"

	out, err := h.notifications.ListForUser(r.Context(), userID, limit, onlyUnread)
	if err != nil {
		log.Printf("[Notifications][List] query error userId=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load notifications")
		return
	}
	if out == nil {
		out = []models.Notification{}
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) MarkNotificationReadForUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID := pathVar(r, "userId")
	id := pathVar(r, "id")
	err := h.notifications.MarkRead(r.Context(), userID, id)
	if errors.Is(err, notifications.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "notification not found")
		return
	}
	if err != nil {
		log.Printf("[Notifications][Read] exec error userId=%s id=%s err=%v", userID, truncate(id, 80), err)
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to update notification")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "read": true})
}

// PushNotification forwards a stored notification to the user's open websockets. It is installed
// as the notification store's OnCreate hook.
func (h *Handler) PushNotification(n models.Notification) {
	h.emitEvent(n.UserID, realtimeEvent{Type: "notification", Notification: &n})
}
