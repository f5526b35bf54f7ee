package domain

import (
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

// TruncateDay normalises t to midnight UTC of its calendar day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a calendar date by n days.
func AddDays(t time.Time, n int) time.Time {
	return TruncateDay(t).AddDate(0, 0, n)
}

// ParseDate accepts YYYY-MM-DD or RFC3339 input and returns the UTC day.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return TruncateDay(t), true
	}
	return time.Time{}, false
}

// DaysInclusive counts calendar days of the inclusive interval [start, end].
// Inverted intervals yield zero.
func DaysInclusive(start, end time.Time) int {
	s, e := TruncateDay(start), TruncateDay(end)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// IntervalsOverlap reports whether two inclusive date intervals share a day.
func IntervalsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	as, ae := TruncateDay(aStart), TruncateDay(aEnd)
	bs, be := TruncateDay(bStart), TruncateDay(bEnd)
	return !as.After(be) && !bs.After(ae)
}

// WeekdaysBetween returns the signed number of Monday–Friday days elapsed from
// start to end, counting the half-open range (start, end]. When end precedes
// start the count is negated so callers can flag the anomaly. The boolean is
// false when either date is missing or unparseable.
func WeekdaysBetween(start, end string) (int, bool) {
	s, ok := ParseDate(start)
	if !ok {
		return 0, false
	}
	e, ok := ParseDate(end)
	if !ok {
		return 0, false
	}
	return WeekdaysBetweenDates(s, e), true
}

// WeekdaysBetweenDates is the typed form of WeekdaysBetween.
func WeekdaysBetweenDates(start, end time.Time) int {
	s, e := TruncateDay(start), TruncateDay(end)
	if e.Before(s) {
		return -countWeekdays(e, s)
	}
	return countWeekdays(s, e)
}

// countWeekdays counts weekdays in (from, to]; from must not be after to.
func countWeekdays(from, to time.Time) int {
	days := int(to.Sub(from).Hours() / 24)
	full := days / 7
	count := full * 5
	cursor := from.AddDate(0, 0, full*7)
	for cursor.Before(to) {
		cursor = cursor.AddDate(0, 0, 1)
		if wd := cursor.Weekday(); wd != time.Saturday && wd != time.Sunday {
			count++
		}
	}
	return count
}

// Band is the colour classification applied to weekday spans.
type Band string

// Weekday span bands.
const (
	BandRed    Band = "red"
	BandYellow Band = "yellow"
	BandGreen  Band = "green"
)

// WeekdayBand classifies a weekday span: under 3 is red, under 5 yellow,
// otherwise green. Negative spans are red.
func WeekdayBand(weekdays int) Band {
	switch {
	case weekdays < 3:
		return BandRed
	case weekdays < 5:
		return BandYellow
	default:
		return BandGreen
	}
}
