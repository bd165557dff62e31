package meetings

import (
	"time"
)

// Occurrence is one expanded slot of a rule, in the rule's timezone.
type Occurrence struct {
	Date string
	Time string
	At   time.Time
}

// ExpandRule lists every occurrence of rule between the day of from and monthsAhead months later,
// clipped to the rule's start/end dates. Monthly rules on a day the month does not have are
// skipped for that month, as is a fifth weekday that does not exist.
func ExpandRule(rule RecurringMeeting, from time.Time, monthsAhead int) ([]Occurrence, error) {
	if err := validateAnchors(rule); err != nil {
		return nil, err
	}
	loc, err := loadLocation(rule.Timezone)
	if err != nil {
		return nil, err
	}
	clock, err := time.Parse(TimeLayout, rule.PreferredTime)
	if err != nil {
		return nil, newError(CodeValidation, "preferred_time must be HH:MM")
	}
	start, err := time.ParseInLocation(DateLayout, rule.StartDate, loc)
	if err != nil {
		return nil, newError(CodeValidation, "start_date must be YYYY-MM-DD")
	}
	if monthsAhead <= 0 {
		return nil, nil
	}

	fy, fm, fd := from.In(loc).Date()
	lower := time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
	upper := lower.AddDate(0, monthsAhead, 0)
	if lower.Before(start) {
		lower = start
	}
	if rule.EndDate != nil && *rule.EndDate != "" {
		end, err := time.ParseInLocation(DateLayout, *rule.EndDate, loc)
		if err != nil {
			return nil, newError(CodeValidation, "end_date must be YYYY-MM-DD")
		}
		if end.Before(upper) {
			upper = end
		}
	}
	if upper.Before(lower) {
		return nil, nil
	}

	var days []time.Time
	switch rule.Frequency {
	case FrequencyWeekly, FrequencyBiWeekly:
		step := 7
		if rule.Frequency == FrequencyBiWeekly {
			step = 14
		}
		// The cadence is anchored to the first matching weekday on or after start_date so a later
		// window never shifts which weeks are "on".
		anchor := start
		for anchor.Weekday() != time.Weekday(*rule.DayOfWeek) {
			anchor = anchor.AddDate(0, 0, 1)
		}
		d := anchor
		if d.Before(lower) {
			gap := daysBetween(d, lower)
			d = d.AddDate(0, 0, (gap/step)*step)
			if d.Before(lower) {
				d = d.AddDate(0, 0, step)
			}
		}
		for ; !d.After(upper); d = d.AddDate(0, 0, step) {
			days = append(days, d)
		}
	case FrequencyMonthly:
		for m := time.Date(lower.Year(), lower.Month(), 1, 0, 0, 0, 0, loc); !m.After(upper); m = m.AddDate(0, 1, 0) {
			var d time.Time
			var ok bool
			if rule.DayOfMonth != nil {
				d, ok = dayOfMonth(m, *rule.DayOfMonth)
			} else {
				d, ok = nthWeekday(m, *rule.WeekOfMonth, time.Weekday(*rule.DayOfWeek))
			}
			if ok && !d.Before(lower) && !d.After(upper) {
				days = append(days, d)
			}
		}
	}

	out := make([]Occurrence, 0, len(days))
	for _, d := range days {
		at := time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
		out = append(out, Occurrence{Date: d.Format(DateLayout), Time: clock.Format(TimeLayout), At: at})
	}
	return out, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, newError(CodeValidation, "unknown timezone "+tz)
	}
	return loc, nil
}

// daysBetween counts calendar days from a to b, both at midnight in the same location.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func dayOfMonth(month time.Time, day int) (time.Time, bool) {
	d := time.Date(month.Year(), month.Month(), day, 0, 0, 0, 0, month.Location())
	if d.Month() != month.Month() {
		return time.Time{}, false
	}
	return d, true
}

func nthWeekday(month time.Time, n int, wd time.Weekday) (time.Time, bool) {
	loc := month.Location()
	if n == LastWeekOfMonth {
		last := time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, loc)
		for last.Weekday() != wd {
			last = last.AddDate(0, 0, -1)
		}
		return last, true
	}
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, loc)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	d := first.AddDate(0, 0, offset+7*(n-1))
	if d.Month() != month.Month() {
		return time.Time{}, false
	}
	return d, true
}

// validateAnchors checks that the rule carries the selectors its frequency needs.
func validateAnchors(rule RecurringMeeting) error {
	if !rule.Frequency.Valid() {
		return newError(CodeValidation, "recurrence_frequency must be weekly, bi-weekly or monthly")
	}
	validDOW := rule.DayOfWeek != nil && *rule.DayOfWeek >= 0 && *rule.DayOfWeek <= 6
	switch rule.Frequency {
	case FrequencyWeekly, FrequencyBiWeekly:
		if !validDOW {
			return newError(CodeValidation, "day_of_week (0-6) is required for weekly schedules")
		}
	case FrequencyMonthly:
		switch {
		case rule.DayOfMonth != nil && rule.WeekOfMonth != nil:
			return newError(CodeValidation, "use either day_of_month or week_of_month, not both")
		case rule.DayOfMonth != nil:
			if *rule.DayOfMonth < 1 || *rule.DayOfMonth > 31 {
				return newError(CodeValidation, "day_of_month must be 1-31")
			}
		case rule.WeekOfMonth != nil:
			w := *rule.WeekOfMonth
			if w != LastWeekOfMonth && (w < 1 || w > 5) {
				return newError(CodeValidation, "week_of_month must be 1-5 or -1 for last")
			}
			if !validDOW {
				return newError(CodeValidation, "day_of_week (0-6) is required with week_of_month")
			}
		default:
			return newError(CodeValidation, "monthly schedules need day_of_month or week_of_month")
		}
	}
	return nil
}
