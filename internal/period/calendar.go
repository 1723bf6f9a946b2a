package period

import (
	"time"

	"github.com/qualitystack/quality-core/internal/models"
)

// Calendar derives the canonical tracking windows from a reference date.
// All other components agree on week boundaries only through this type, so
// it never consults the wall clock; callers pass the reference date in.
type Calendar struct {
	anchor time.Weekday
}

// NewCalendar builds a calendar whose weekly periods start on anchor.
func NewCalendar(anchor time.Weekday) Calendar {
	return Calendar{anchor: anchor}
}

// Anchor returns the configured period start weekday.
func (c Calendar) Anchor() time.Weekday { return c.anchor }

// PeriodFor returns the weekly bounds containing the reference date. The
// period starts on the most recent anchor weekday at or before the
// reference date and spans exactly seven days.
func (c Calendar) PeriodFor(ref time.Time) models.PeriodBounds {
	day := dateOf(ref)
	back := (int(day.Weekday()) - int(c.anchor) + 7) % 7
	start := day.AddDate(0, 0, -back)
	return models.PeriodBounds{Start: start, End: start.AddDate(0, 0, 6)}
}

// PreviousPeriod returns the weekly bounds immediately before b. Its end is
// exactly one day before b starts.
func (c Calendar) PreviousPeriod(b models.PeriodBounds) models.PeriodBounds {
	start := b.Start.AddDate(0, 0, -7)
	return models.PeriodBounds{Start: start, End: start.AddDate(0, 0, 6)}
}

// MonthToDate returns the window from the first day of the month containing
// the period end, through the period end.
func (c Calendar) MonthToDate(b models.PeriodBounds) models.PeriodBounds {
	end := dateOf(b.End)
	first := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	return models.PeriodBounds{Start: first, End: end}
}

// ParsePeriodKey parses a YYYY-MM-DD period key into the bounds starting on
// that date. The key must fall on the anchor weekday.
func (c Calendar) ParsePeriodKey(key string) (models.PeriodBounds, bool) {
	start, err := time.ParseInLocation("2006-01-02", key, time.UTC)
	if err != nil {
		return models.PeriodBounds{}, false
	}
	if start.Weekday() != c.anchor {
		return models.PeriodBounds{}, false
	}
	return models.PeriodBounds{Start: start, End: start.AddDate(0, 0, 6)}, true
}

func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
