package calendar

import (
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/PortNumber53/agency-portal/backend/internal/bookings"
	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
)

// Private extended property keys linking provider events back to our rows.
const (
	propInstanceID = "agencyInstanceId"
	propMeetingID  = "agencyMeetingId"
	propBookingID  = "agencyBookingId"
)

func eventTime(at time.Time, tz string) *gcal.EventDateTime {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc, tz = time.UTC, "UTC"
	}
	return &gcal.EventDateTime{DateTime: at.In(loc).Format(time.RFC3339), TimeZone: tz}
}

func attendees(email, name string) []*gcal.EventAttendee {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	return []*gcal.EventAttendee{{Email: email, DisplayName: name}}
}

func defaultReminders() *gcal.EventReminders {
	return &gcal.EventReminders{
		UseDefault: false,
		Overrides: []*gcal.EventReminder{
			{Method: "email", Minutes: 24 * 60},
			{Method: "popup", Minutes: 60},
		},
		ForceSendFields: []string{"UseDefault"},
	}
}

// MeetingEvent renders one instance of a recurring meeting as a provider event. Each instance is
// its own event so reschedules and cancellations touch a single occurrence.
func MeetingEvent(rule *meetings.RecurringMeeting, inst *meetings.MeetingInstance) *gcal.Event {
	var desc strings.Builder
	if rule.Description != "" {
		desc.WriteString(rule.Description)
		desc.WriteString("\n\n")
	}
	fmt.Fprintf(&desc, "Schedule: %s", meetings.FormatMeetingSchedule(*rule))
	if inst.Status == meetings.StatusRescheduled && inst.OriginalDate != nil {
		fmt.Fprintf(&desc, "\nRescheduled from %s", *inst.OriginalDate)
		if inst.RescheduleReason != "" {
			fmt.Fprintf(&desc, " (%s)", inst.RescheduleReason)
		}
	}
	if rule.MeetingURL != "" {
		fmt.Fprintf(&desc, "\nJoin: %s", rule.MeetingURL)
	}
	if inst.Notes != "" {
		fmt.Fprintf(&desc, "\nNotes: %s", inst.Notes)
	}

	duration := inst.DurationMinutes
	if duration <= 0 {
		duration = rule.DurationMinutes
	}
	end := inst.ScheduledAt.Add(time.Duration(duration) * time.Minute)
	return &gcal.Event{
		Summary:     rule.Title,
		Description: desc.String(),
		Location:    rule.MeetingURL,
		Start:       eventTime(inst.ScheduledAt, rule.Timezone),
		End:         eventTime(end, rule.Timezone),
		Attendees:   attendees(rule.AttendeeEmail, ""),
		Reminders:   defaultReminders(),
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{propInstanceID: inst.ID, propMeetingID: rule.ID},
		},
	}
}

// BookingEvent renders a one-off booking.
func BookingEvent(b *bookings.Booking) *gcal.Event {
	var desc strings.Builder
	desc.WriteString(b.Description)
	if b.AttendeeName != "" {
		if desc.Len() > 0 {
			desc.WriteString("\n\n")
		}
		fmt.Fprintf(&desc, "Booked by: %s", b.AttendeeName)
	}
	if b.MeetingURL != "" {
		fmt.Fprintf(&desc, "\nJoin: %s", b.MeetingURL)
	}
	end := b.StartsAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
	return &gcal.Event{
		Summary:     b.Title,
		Description: strings.TrimSpace(desc.String()),
		Location:    b.MeetingURL,
		Start:       eventTime(b.StartsAt, b.Timezone),
		End:         eventTime(end, b.Timezone),
		Attendees:   attendees(b.AttendeeEmail, b.AttendeeName),
		Reminders:   defaultReminders(),
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{propBookingID: b.ID},
		},
	}
}
