package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
	"github.com/PortNumber53/agency-portal/backend/internal/middleware"
	"github.com/PortNumber53/agency-portal/backend/internal/notifications"
)

type recurringMeetingResponse struct {
	Meeting   *meetings.RecurringMeeting `json:"meeting"`
	Instances []meetings.MeetingInstance `json:"instances"`
}

func withSchedule(rule *meetings.RecurringMeeting) *meetings.RecurringMeeting {
	if rule != nil && rule.Schedule == "" {
		rule.Schedule = meetings.FormatMeetingSchedule(*rule)
	}
	return rule
}

func instancesOrEmpty(in []meetings.MeetingInstance) []meetings.MeetingInstance {
	if in == nil {
		return []meetings.MeetingInstance{}
	}
	return in
}

// GetMeetingTier reports the caller's tier and the frequencies it may schedule.
func (h *Handler) GetMeetingTier(w http.ResponseWriter, r *http.Request) {
	tier := middleware.TierFrom(r.Context())
	freqs, _ := h.meetings.TierPolicy(r.Context()).Allowed(tier)
	if freqs == nil {
		freqs = []meetings.Frequency{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"tier":               tier,
		"allowedFrequencies": freqs,
		"lookaheadMonths":    h.meetings.LookaheadMonths(),
	})
}

func (h *Handler) CreateRecurringMeeting(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	var form meetings.MeetingForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid JSON body")
		return
	}
	tier := middleware.TierFrom(r.Context())
	rule, instances, err := h.meetings.CreateRecurringMeeting(r.Context(), userID, tier, form)
	if err != nil {
		log.Printf("[Meetings][Create] rejected userId=%s tier=%s code=%s", userID, tier, meetings.CodeOf(err))
		writeDomainError(w, "Meetings][Create", err)
		return
	}
	log.Printf("[Meetings][Create] userId=%s meetingId=%s instances=%d", userID, rule.ID, len(instances))
	h.emitEvent(userID, realtimeEvent{Type: "meeting.created", MeetingID: rule.ID, Count: len(instances)})
	writeData(w, http.StatusCreated, recurringMeetingResponse{Meeting: withSchedule(rule), Instances: instancesOrEmpty(instances)})
}

func (h *Handler) GetMyRecurringMeetings(w http.ResponseWriter, r *http.Request) {
	rules, err := h.meetings.GetMyRecurringMeetings(r.Context(), pathVar(r, "userId"))
	if err != nil {
		writeDomainError(w, "Meetings][List", err)
		return
	}
	for i := range rules {
		withSchedule(&rules[i])
	}
	if rules == nil {
		rules = []meetings.RecurringMeeting{}
	}
	writeData(w, http.StatusOK, rules)
}

func (h *Handler) UpdateRecurringMeeting(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	meetingID := pathVar(r, "meetingId")
	var u meetings.MeetingUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid JSON body")
		return
	}
	rule, err := h.meetings.UpdateRecurringMeeting(r.Context(), userID, middleware.TierFrom(r.Context()), meetingID, u)
	if err != nil {
		writeDomainError(w, "Meetings][Update", err)
		return
	}
	h.emitEvent(userID, realtimeEvent{Type: "meeting.updated", MeetingID: rule.ID})
	writeData(w, http.StatusOK, withSchedule(rule))
}

func (h *Handler) CancelRecurringMeeting(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	meetingID := pathVar(r, "meetingId")
	rule, cancelled, err := h.meetings.CancelRecurringMeeting(r.Context(), userID, meetingID)
	if err != nil {
		writeDomainError(w, "Meetings][Cancel", err)
		return
	}
	ids := make([]string, 0, len(cancelled))
	for _, inst := range cancelled {
		ids = append(ids, inst.ID)
	}
	h.emitEvent(userID, realtimeEvent{Type: "meeting.cancelled", MeetingID: rule.ID, IDs: ids})
	body := fmt.Sprintf("Your recurring meeting %q was cancelled. %d upcoming session(s) were removed.", rule.Title, len(cancelled))
	h.notify(r.Context(), userID, notifications.TypeMeetingCancelled, "Recurring meeting cancelled", body, "/meetings")
	writeData(w, http.StatusOK, recurringMeetingResponse{Meeting: withSchedule(rule), Instances: instancesOrEmpty(cancelled)})
}

// GetMeetingInstances lists the caller's instances. Query: ?meetingId=&from=&to=&status=a,b&limit=
func (h *Handler) GetMeetingInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := meetings.InstanceFilter{RecurringMeetingID: strings.TrimSpace(q.Get("meetingId"))}
	var err error
	if f.From, err = parseDateParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "from must be YYYY-MM-DD")
		return
	}
	if f.To, err = parseDateParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "to must be YYYY-MM-DD")
		return
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "to must not be before from")
		return
	}
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, meetings.Status(s))
		}
	}
	if f.Limit = parseLimit(r, 100, 1, 500); f.Limit < 0 {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid limit")
		return
	}

	out, err := h.meetings.GetMeetingInstances(r.Context(), pathVar(r, "userId"), f)
	if err != nil {
		writeDomainError(w, "Meetings][Instances", err)
		return
	}
	writeData(w, http.StatusOK, instancesOrEmpty(out))
}

func parseDateParam(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(meetings.DateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type rescheduleRequest struct {
	NewDate string `json:"newDate"`
	NewTime string `json:"newTime"`
	Reason  string `json:"reason"`
}

func (h *Handler) RescheduleInstance(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	instanceID := pathVar(r, "instanceId")
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid JSON body")
		return
	}
	inst, err := h.meetings.RescheduleInstance(r.Context(), userID, instanceID, strings.TrimSpace(req.NewDate), strings.TrimSpace(req.NewTime), strings.TrimSpace(req.Reason))
	if err != nil {
		writeDomainError(w, "Meetings][Reschedule", err)
		return
	}
	h.emitInstance(inst, "meeting.rescheduled")
	body := fmt.Sprintf("Your meeting is now on %s at %s.", inst.ScheduledDate, meetings.TimeLabel(inst.ScheduledTime))
	h.notify(r.Context(), inst.UserID, notifications.TypeMeetingRescheduled, "Meeting rescheduled", body, "/meetings/instances/"+inst.ID)
	writeData(w, http.StatusOK, inst)
}

func (h *Handler) UpdateMeetingInstance(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	var u meetings.InstanceUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid JSON body")
		return
	}
	inst, err := h.meetings.UpdateMeetingInstance(r.Context(), userID, pathVar(r, "instanceId"), u)
	if err != nil {
		writeDomainError(w, "Meetings][UpdateInstance", err)
		return
	}
	h.emitInstance(inst, "meeting.instance_updated")
	writeData(w, http.StatusOK, inst)
}

// GetAllRecurringMeetings lists every rule. ?active=false includes inactive ones.
func (h *Handler) GetAllRecurringMeetings(w http.ResponseWriter, r *http.Request) {
	activeOnly := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("active"))) != "false"
	rules, err := h.meetings.GetAllRecurringMeetings(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, "Admin][Meetings", err)
		return
	}
	for i := range rules {
		withSchedule(&rules[i])
	}
	if rules == nil {
		rules = []meetings.RecurringMeeting{}
	}
	writeData(w, http.StatusOK, rules)
}

func (h *Handler) GetAllUpcomingMeetings(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 1, 1000)
	if limit < 0 {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid limit")
		return
	}
	out, err := h.meetings.GetAllUpcomingMeetings(r.Context(), limit)
	if err != nil {
		writeDomainError(w, "Admin][Upcoming", err)
		return
	}
	if out == nil {
		out = []meetings.UpcomingMeeting{}
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) BulkGenerateInstances(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MonthsAhead int `json:"monthsAhead"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid JSON body")
			return
		}
	}
	if req.MonthsAhead == 0 {
		req.MonthsAhead = h.meetings.LookaheadMonths()
	}
	if req.MonthsAhead < 1 || req.MonthsAhead > 24 {
		writeError(w, http.StatusBadRequest, meetings.CodeValidation, "monthsAhead must be between 1 and 24")
		return
	}
	res, err := h.meetings.BulkGenerateInstances(r.Context(), req.MonthsAhead)
	if err != nil {
		writeDomainError(w, "Admin][Generate", err)
		return
	}
	writeData(w, http.StatusOK, res)
}

type instanceNotesRequest struct {
	Notes *string `json:"notes"`
}

func (h *Handler) MarkMeetingCompleted(w http.ResponseWriter, r *http.Request) {
	h.closeInstance(w, r, "meeting.completed", h.meetings.MarkMeetingCompleted)
}

func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.closeInstance(w, r, "meeting.no_show", h.meetings.MarkNoShow)
}

func (h *Handler) closeInstance(w http.ResponseWriter, r *http.Request, event string, mark func(context.Context, string, *string) (*meetings.MeetingInstance, error)) {
	var req instanceNotesRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, meetings.CodeValidation, "invalid JSON body")
			return
		}
	}
	inst, err := mark(r.Context(), pathVar(r, "instanceId"), req.Notes)
	if err != nil {
		writeDomainError(w, "Admin][CloseInstance", err)
		return
	}
	h.emitInstance(inst, event)
	writeData(w, http.StatusOK, inst)
}

func (h *Handler) GetMeetingsNeedingReminders(w http.ResponseWriter, r *http.Request) {
	due, err := h.meetings.GetMeetingsNeedingReminders(r.Context())
	if err != nil {
		writeDomainError(w, "Admin][Reminders", err)
		return
	}
	due.Due24h = instancesOrEmpty(due.Due24h)
	due.Due1h = instancesOrEmpty(due.Due1h)
	writeData(w, http.StatusOK, due)
}

func (h *Handler) MarkReminderSent(w http.ResponseWriter, r *http.Request) {
	instanceID := pathVar(r, "instanceId")
	kind := meetings.ReminderType(pathVar(r, "type"))
	if err := h.meetings.MarkReminderSent(r.Context(), instanceID, kind); err != nil {
		writeDomainError(w, "Admin][ReminderSent", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"instanceId": instanceID, "type": string(kind)})
}

func (h *Handler) emitInstance(inst *meetings.MeetingInstance, typ string) {
	if inst == nil {
		return
	}
	h.emitEvent(inst.UserID, realtimeEvent{
		Type:          typ,
		MeetingID:     inst.RecurringMeetingID,
		InstanceID:    inst.ID,
		Status:        string(inst.Status),
		ScheduledDate: inst.ScheduledDate,
		ScheduledTime: inst.ScheduledTime,
	})
}

// notify stores an in-app notification. Failures are logged and never fail the request.
func (h *Handler) notify(ctx context.Context, userID, typ, title, body, url string) {
	if h.notifications == nil {
		return
	}
	if _, err := h.notifications.Create(ctx, userID, typ, title, &body, &url); err != nil {
		log.Printf("[Notifications] create failed userId=%s type=%s err=%v", userID, typ, err)
	}
}
