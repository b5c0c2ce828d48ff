package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time returns midnight UTC of the day, the representation used for DATE columns.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At returns the instant the wall clock in loc shows tod on this day.
// 24:00 resolves to midnight of the next day.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	h, m, s, ns := tod.parts()
	return time.Date(d.Year, d.Month, d.Day, h, m, s, ns, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

func (d Date) After(o Date) bool { return d.Time().After(o.Time()) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &ValidationError{Field: "date", Reason: "must be a string"}
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is an exact offset from midnight in the range [00:00, 24:00].
type TimeOfDay time.Duration

// EndOfDay is the 24:00 boundary.
const EndOfDay = TimeOfDay(24 * time.Hour)

// Clock builds a TimeOfDay from hours and minutes.
func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM", s)}
	}
	limits := []int{24, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, p := range parts {
		if len(p) != 2 {
			return 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM", s)}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM", s)}
		}
		total += time.Duration(n) * units[i]
	}
	tod := TimeOfDay(total)
	if tod > EndOfDay {
		return 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is past 24:00", s)}
	}
	return tod, nil
}

// TimeOfDayOf returns the wall-clock offset of t from its local midnight.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return Clock(t.Hour(), t.Minute()) + TimeOfDay(time.Duration(t.Second())*time.Second+time.Duration(t.Nanosecond()))
}

func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) }

func (t TimeOfDay) Add(d time.Duration) TimeOfDay { return t + TimeOfDay(d) }

func (t TimeOfDay) parts() (h, m, s, ns int) {
	d := time.Duration(t)
	h = int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m = int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s = int(d / time.Second)
	d -= time.Duration(s) * time.Second
	return h, m, s, int(d)
}

func (t TimeOfDay) String() string {
	h, m, s, _ := t.parts()
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &ValidationError{Field: "time", Reason: "must be a string"}
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals share any instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Dates lists every calendar day in loc the interval touches.
func (i Interval) Dates(loc *time.Location) []Date {
	if loc == nil {
		loc = time.UTC
	}
	first := DateOf(i.Start.In(loc))
	last := first
	if i.End.After(i.Start) {
		last = DateOf(i.End.Add(-time.Nanosecond).In(loc))
	}
	dates := []Date{first}
	for d := first.AddDays(1); !d.After(last); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}
