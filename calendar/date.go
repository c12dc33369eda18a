package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Layout is the textual form of a Date, also used for archive file names.
const Layout = "2006-01-02"

// Date is a day without time of day. Two dates are equal iff their
// year, month and day match, so Date can be compared with == and used as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Of returns the date of t in t's location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the date of now, dropping the time of day.
func Today(now time.Time) Date {
	return Of(now)
}

// New returns a normalized date, so New(2023, 1, 32) is 2023-02-01.
func New(year int, month time.Month, day int) Date {
	return Of(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Parse parses a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return Of(t), nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time returns midnight at the start of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Of(d.Time(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool {
	return o.Before(d)
}

// IsZero reports whether d is the zero Date. yaml's omitempty honors it.
func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Range returns every date in [from, to) in ascending order.
// It returns nil when from is not before to.
func Range(from, to Date) []Date {
	var days []Date
	for d := from; d.Before(to); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// ParseStart parses a start date given either as a date (YYYY-MM-DD, YYYY-MM
// or YYYY, meaning the first day of that period) or as a duration back from
// today ("30d", "2w", "6m", "1y"). No combinations are allowed.
func ParseStart(s string, today Date) (Date, error) {
	if back, err := parseDuration(s, today); err == nil {
		return back, nil
	}

	if t, err := time.Parse(Layout, s); err == nil {
		return Of(t), nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return Of(t), nil
	}
	if t, err := time.Parse("2006", s); err == nil {
		return Of(t), nil
	}
	return Date{}, fmt.Errorf("invalid start date %q. Use YYYY-MM-DD, YYYY-MM, YYYY or a duration like '30d', '2w', '6m', '1y'", s)
}

var durationPattern = regexp.MustCompile(`^([0-9]+)([ywdm])$`)

// parseDuration subtracts a simplified prometheus-style duration from today.
func parseDuration(s string, today Date) (Date, error) {
	matches := durationPattern.FindStringSubmatch(s)
	if len(matches) != 3 {
		return Date{}, fmt.Errorf("invalid duration format %q", s)
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return Date{}, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	t := today.Time(time.UTC)
	switch matches[2] {
	case "y":
		t = t.AddDate(-value, 0, 0)
	case "m":
		t = t.AddDate(0, -value, 0)
	case "w":
		t = t.AddDate(0, 0, -7*value)
	case "d":
		t = t.AddDate(0, 0, -value)
	}
	return Of(t), nil
}
