package core

import "time"

// DayGroup is a run of messages sent on the same calendar day.
type DayGroup struct {
	Day      time.Time
	Label    string
	Messages []Message
}

// GroupByDay splits time-ordered messages by calendar day in loc.
func GroupByDay(msgs []Message, now time.Time, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DayGroup
	for _, msg := range msgs {
		day := startOfDay(msg.CreatedAt, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, msg)
			continue
		}
		groups = append(groups, DayGroup{
			Day:      day,
			Label:    DayLabel(day, now, loc),
			Messages: []Message{msg},
		})
	}
	return groups
}

// DayLabel names a day relative to now: "Today", "Yesterday" or the full date.
func DayLabel(day, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	day = startOfDay(day, loc)
	today := startOfDay(now, loc)
	y, m, d := today.Date()

	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(time.Date(y, m, d-1, 0, 0, 0, 0, loc)):
		return "Yesterday"
	default:
		return day.Format("January 2, 2006")
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
