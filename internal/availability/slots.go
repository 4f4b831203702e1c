package availability

import (
	"time"

	"github.com/teemow/callslot/internal/domain"
)

// PossibleHours returns every hour h whose slot [h:00, h+1:00) lies fully
// inside the rule's window. Disabled rules have none.
func PossibleHours(rule domain.WeekdayRule) []int {
	hours := []int{}
	if !rule.Enabled {
		return hours
	}
	for h := 0; h < 24; h++ {
		if rule.StartMinute <= h*60 && (h+1)*60 <= rule.EndMinute {
			hours = append(hours, h)
		}
	}
	return hours
}

// FreeHours filters possible down to the hours of day that start after now
// and do not intersect any busy range.
func FreeHours(day time.Time, possible []int, busy []domain.TimeRange, now time.Time) []int {
	free := []int{}
	for _, h := range possible {
		slot := domain.TimeRange{Start: hourOf(day, h)}
		slot.End = slot.Start.Add(time.Hour)
		if !slot.Start.After(now) {
			continue
		}
		if overlapsAny(slot, busy) {
			continue
		}
		free = append(free, h)
	}
	return free
}

func overlapsAny(slot domain.TimeRange, busy []domain.TimeRange) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

// hourOf returns the instant of hour h on day's calendar date in day's
// location.
func hourOf(day time.Time, h int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, h, 0, 0, 0, day.Location())
}
