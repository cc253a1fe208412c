package slots

import (
	"fmt"
	"time"
)

// LabelLayout is the 24-hour HH:MM layout used for slot labels.
const LabelLayout = "15:04"

// DateLayout is the calendar-day layout used for slot dates.
const DateLayout = "2006-01-02"

// Grid describes the fixed business-hours grid a day is cut into.
type Grid struct {
	StartHour   int
	EndHour     int
	SlotMinutes int
}

// Labels returns every slot label of a day in ascending order.
func (g Grid) Labels() []string {
	if g.SlotMinutes <= 0 || g.EndHour <= g.StartHour {
		return nil
	}
	labels := make([]string, 0, (g.EndHour-g.StartHour)*60/g.SlotMinutes)
	for m := g.StartHour * 60; m+g.SlotMinutes <= g.EndHour*60; m += g.SlotMinutes {
		labels = append(labels, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}
	return labels
}

// Contains reports whether label is a well-formed slot start on the grid.
func (g Grid) Contains(label string) bool {
	t, err := time.Parse(LabelLayout, label)
	if err != nil || t.Format(LabelLayout) != label {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	if minutes < g.StartHour*60 || minutes+g.SlotMinutes > g.EndHour*60 {
		return false
	}
	return g.SlotMinutes > 0 && (minutes-g.StartHour*60)%g.SlotMinutes == 0
}

// ParseDate validates a YYYY-MM-DD calendar day.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return d, nil
}

// WeekDates returns the seven consecutive dates starting at weekStart.
func WeekDates(weekStart string) ([]string, error) {
	start, err := ParseDate(weekStart)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 7)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i).Format(DateLayout)
	}
	return dates, nil
}
