package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/PortNumber53/agency-portal/backend/internal/middleware"
)

// RegisterRoutes registers the HTTP surface on r. Routes scoped by /user/{userId} are checked
// against the caller by the auth middleware; /api/admin and the tone batch route need the admin role.
func RegisterRoutes(h *Handler, r *mux.Router, auth *middleware.Authenticator) {
	admin := func(fn http.HandlerFunc) http.Handler { return auth.RequireAdmin(fn) }
	h.authRequired = auth.Enabled()

	r.HandleFunc("/health", h.Health).Methods("GET")

	// Tone
	r.HandleFunc("/api/tone/profile/user/{userId}", h.GetToneProfile).Methods("GET")
	r.Handle("/api/tone/profiles/batch", admin(h.GetBatchToneProfiles)).Methods("POST")
	r.HandleFunc("/api/tone/summary/user/{userId}", h.GetToneSummary).Methods("GET")
	r.HandleFunc("/api/tone/training-prompt/user/{userId}", h.GetToneTrainingPrompt).Methods("GET")

	// Recurring meetings
	r.HandleFunc("/api/meetings/tier/user/{userId}", h.GetMeetingTier).Methods("GET")
	r.HandleFunc("/api/meetings/recurring/user/{userId}", h.CreateRecurringMeeting).Methods("POST")
	r.HandleFunc("/api/meetings/recurring/user/{userId}", h.GetMyRecurringMeetings).Methods("GET")
	r.HandleFunc("/api/meetings/recurring/{meetingId}/user/{userId}", h.UpdateRecurringMeeting).Methods("PUT")
	r.HandleFunc("/api/meetings/recurring/{meetingId}/cancel/user/{userId}", h.CancelRecurringMeeting).Methods("POST")
	r.HandleFunc("/api/meetings/instances/user/{userId}", h.GetMeetingInstances).Methods("GET")
	r.HandleFunc("/api/meetings/instances/{instanceId}/reschedule/user/{userId}", h.RescheduleInstance).Methods("POST")
	r.HandleFunc("/api/meetings/instances/{instanceId}/user/{userId}", h.UpdateMeetingInstance).Methods("PUT")

	adm := r.PathPrefix("/api/admin").Subrouter()
	adm.Use(auth.RequireAdmin)
	adm.HandleFunc("/meetings/recurring", h.GetAllRecurringMeetings).Methods("GET")
	adm.HandleFunc("/meetings/upcoming", h.GetAllUpcomingMeetings).Methods("GET")
	adm.HandleFunc("/meetings/generate", h.BulkGenerateInstances).Methods("POST")
	adm.HandleFunc("/meetings/instances/{instanceId}/complete", h.MarkMeetingCompleted).Methods("POST")
	adm.HandleFunc("/meetings/instances/{instanceId}/no-show", h.MarkNoShow).Methods("POST")
	adm.HandleFunc("/meetings/reminders", h.GetMeetingsNeedingReminders).Methods("GET")
	adm.HandleFunc("/meetings/instances/{instanceId}/reminders/{type}", h.MarkReminderSent).Methods("POST")

	// Bookings
	r.HandleFunc("/api/bookings/user/{userId}", h.CreateBooking).Methods("POST")
	r.HandleFunc("/api/bookings/user/{userId}", h.ListBookings).Methods("GET")
	r.HandleFunc("/api/bookings/{bookingId}/user/{userId}", h.GetBooking).Methods("GET")
	r.HandleFunc("/api/bookings/{bookingId}/cancel/user/{userId}", h.CancelBooking).Methods("POST")

	// Calendar connection
	r.HandleFunc("/api/calendar/authorize/user/{userId}", h.AuthorizeCalendar).Methods("GET")
	r.HandleFunc("/api/calendar/callback", h.CalendarCallback).Methods("GET")
	r.HandleFunc("/api/calendar/status/user/{userId}", h.CalendarStatus).Methods("GET")
	r.HandleFunc("/api/calendar/user/{userId}", h.DisconnectCalendar).Methods("DELETE")

	// Notifications and settings
	r.HandleFunc("/api/notifications/user/{userId}", h.ListNotificationsForUser).Methods("GET")
	r.HandleFunc("/api/notifications/{id}/read/user/{userId}", h.MarkNotificationReadForUser).Methods("POST")
	r.HandleFunc("/api/user-settings/user/{userId}", h.GetUserSettings).Methods("GET")
	r.HandleFunc("/api/user-settings/{key}/user/{userId}", h.GetUserSetting).Methods("GET")
	r.HandleFunc("/api/user-settings/{key}/user/{userId}", h.UpsertUserSetting).Methods("PUT")

	// Realtime
	r.HandleFunc("/api/events/ws", h.EventsWebSocket).Methods("GET")
}
