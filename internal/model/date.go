package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Granularity records how precise a registry-supplied date is.
type Granularity int

const (
	// GranularityYear means only the year is known ("2019").
	GranularityYear Granularity = iota + 1
	// GranularityMonth means year and month are known ("2019-03").
	GranularityMonth
	// GranularityDay means the full calendar date is known ("2019-03-14").
	GranularityDay
)

// String returns the granularity name.
func (g Granularity) String() string {
	switch g {
	case GranularityYear:
		return "year"
	case GranularityMonth:
		return "month"
	case GranularityDay:
		return "day"
	default:
		return "unknown"
	}
}

// Date is a calendar date truncated to the precision the source provided.
// Fields finer than Granularity are always zero; a year-only date never
// carries a month or day.
type Date struct {
	Year        int
	Month       time.Month
	Day         int
	Granularity Granularity
}

// YearOnly returns a year-granularity date.
func YearOnly(year int) Date {
	return Date{Year: year, Granularity: GranularityYear}
}

// YearMonth returns a month-granularity date.
func YearMonth(year int, month time.Month) Date {
	return Date{Year: year, Month: month, Granularity: GranularityMonth}
}

// FullDate returns a day-granularity date.
func FullDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day, Granularity: GranularityDay}
}

// DateFromTime truncates t to the given granularity.
func DateFromTime(t time.Time, g Granularity) Date {
	switch g {
	case GranularityYear:
		return YearOnly(t.Year())
	case GranularityMonth:
		return YearMonth(t.Year(), t.Month())
	default:
		return FullDate(t.Year(), t.Month(), t.Day())
	}
}

// String formats the date as ISO-8601 truncated to its granularity.
func (d Date) String() string {
	switch d.Granularity {
	case GranularityYear:
		return fmt.Sprintf("%04d", d.Year)
	case GranularityMonth:
		return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
	case GranularityDay:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
	default:
		return ""
	}
}

// Equal reports whether both dates carry the same value at the same granularity.
func (d Date) Equal(o Date) bool {
	return d == o
}

// Compare orders two dates at the coarser of their two granularities:
// 2019-03-14 compared with 2019 is equal, not after. It returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	g := min(d.Granularity, o.Granularity)
	if c := cmpInt(d.Year, o.Year); c != 0 || g == GranularityYear {
		return c
	}
	if c := cmpInt(int(d.Month), int(o.Month)); c != 0 || g == GranularityMonth {
		return c
	}
	return cmpInt(d.Day, o.Day)
}

// After reports whether d is strictly after o at their common precision.
func (d Date) After(o Date) bool {
	return d.Compare(o) > 0
}

// ParseISODate parses "YYYY", "YYYY-MM" or "YYYY-MM-DD", keeping the
// granularity of the input.
func ParseISODate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) == 0 || len(parts) > 3 || len(parts[0]) != 4 {
		return Date{}, eris.Errorf("date: invalid ISO date %q", s)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		if i > 0 && len(p) != 2 {
			return Date{}, eris.Errorf("date: invalid ISO date %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, eris.Wrapf(err, "date: invalid ISO date %q", s)
		}
		nums[i] = n
	}

	switch len(nums) {
	case 1:
		return YearOnly(nums[0]), nil
	case 2:
		if nums[1] < 1 || nums[1] > 12 {
			return Date{}, eris.Errorf("date: month out of range in %q", s)
		}
		return YearMonth(nums[0], time.Month(nums[1])), nil
	default:
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return Date{}, eris.Wrapf(err, "date: invalid ISO date %q", s)
		}
		return DateFromTime(t, GranularityDay), nil
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	if d.Granularity == 0 {
		return nil, eris.New("date: missing granularity")
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseISODate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
