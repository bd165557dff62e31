package meetings

import (
	"fmt"
	"time"
)

// timeLabels is the fixed set of bookable slots shown in the scheduling UI.
var timeLabels = map[string]string{
	"08:00": "8:00 AM", "08:30": "8:30 AM",
	"09:00": "9:00 AM", "09:30": "9:30 AM",
	"10:00": "10:00 AM", "10:30": "10:30 AM",
	"11:00": "11:00 AM", "11:30": "11:30 AM",
	"12:00": "12:00 PM", "12:30": "12:30 PM",
	"13:00": "1:00 PM", "13:30": "1:30 PM",
	"14:00": "2:00 PM", "14:30": "2:30 PM",
	"15:00": "3:00 PM", "15:30": "3:30 PM",
	"16:00": "4:00 PM", "16:30": "4:30 PM",
	"17:00": "5:00 PM", "17:30": "5:30 PM",
	"18:00": "6:00 PM",
}

var ordinalWeeks = map[int]string{
	1: "first", 2: "second", 3: "third", 4: "fourth", 5: "fifth", LastWeekOfMonth: "last",
}

// TimeLabel renders "15:00" as "3:00 PM".
func TimeLabel(hhmm string) string {
	if l, ok := timeLabels[hhmm]; ok {
		return l
	}
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("3:04 PM")
}

// FormatMeetingSchedule describes a rule in words, e.g. "Every Tuesday at 3:00 PM".
func FormatMeetingSchedule(rule RecurringMeeting) string {
	at := TimeLabel(rule.PreferredTime)
	switch rule.Frequency {
	case FrequencyWeekly:
		if rule.DayOfWeek != nil {
			return fmt.Sprintf("Every %s at %s", time.Weekday(*rule.DayOfWeek), at)
		}
	case FrequencyBiWeekly:
		if rule.DayOfWeek != nil {
			return fmt.Sprintf("Every other %s at %s", time.Weekday(*rule.DayOfWeek), at)
		}
	case FrequencyMonthly:
		if rule.DayOfMonth != nil {
			return fmt.Sprintf("Monthly on the %s at %s", ordinal(*rule.DayOfMonth), at)
		}
		if rule.WeekOfMonth != nil && rule.DayOfWeek != nil {
			return fmt.Sprintf("Monthly on the %s %s at %s", ordinalWeeks[*rule.WeekOfMonth], time.Weekday(*rule.DayOfWeek), at)
		}
	}
	return fmt.Sprintf("%s at %s", rule.Frequency, at)
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
