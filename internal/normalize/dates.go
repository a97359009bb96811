package normalize

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/model"
)

// Layout is a time layout tagged with the granularity a match yields.
type Layout struct {
	Format      string
	Granularity model.Granularity
}

// Layout sets adapters combine when calling ParseDate. Two-digit years
// follow time.Parse: 69-99 are 19xx, 00-68 are 20xx.
var (
	ISO = []Layout{
		{"2006-01-02T15:04:05Z07:00", model.GranularityDay},
		{"2006-01-02T15:04:05", model.GranularityDay},
		{"2006-1-2", model.GranularityDay},
		{"2006-01", model.GranularityMonth},
		{"20060102", model.GranularityDay},
	}
	// DayFirst covers European numeric dates: 14/03/2019, 14-03-2019, 14.03.2019.
	DayFirst = []Layout{
		{"2/1/2006", model.GranularityDay},
		{"2-1-2006", model.GranularityDay},
		{"2.1.2006", model.GranularityDay},
	}
	// MonthFirst covers US numeric dates: 03/14/2019.
	MonthFirst = []Layout{
		{"1/2/2006", model.GranularityDay},
		{"1-2-2006", model.GranularityDay},
	}
	// German covers dd.mm.yyyy with optional spaces after the dots.
	German = []Layout{
		{"2.1.2006", model.GranularityDay},
		{"2. 1. 2006", model.GranularityDay},
		{"1.2006", model.GranularityMonth},
	}
	// TwoDigitYear covers day-first dates with a two-digit year: 14/03/19.
	TwoDigitYear = []Layout{
		{"2/1/06", model.GranularityDay},
		{"2.1.06", model.GranularityDay},
		{"2-1-06", model.GranularityDay},
	}
	LongMonth = []Layout{
		{"January 2, 2006", model.GranularityDay},
		{"Jan 2, 2006", model.GranularityDay},
		{"2 January 2006", model.GranularityDay},
		{"2 Jan 2006", model.GranularityDay},
		{"2-Jan-2006", model.GranularityDay},
	}
	MonthYear = []Layout{
		{"January 2006", model.GranularityMonth},
		{"Jan 2006", model.GranularityMonth},
		{"01/2006", model.GranularityMonth},
		{"1/2006", model.GranularityMonth},
	}
	Year = []Layout{
		{"2006", model.GranularityYear},
	}
)

// Layouts concatenates layout sets in priority order.
func Layouts(sets ...[]Layout) []Layout {
	return slices.Concat(sets...)
}

// ongoing marks values registries print for an open-ended relationship.
var ongoing = map[string]bool{
	"-": true, "–": true, "n/a": true, "present": true, "current": true, "ongoing": true,
	"laufend": true, "en cours": true, "in corso": true,
}

// ParseDate parses s with the first layout that matches, keeping that
// layout's granularity. Empty and open-ended values yield nil without error.
// Without layouts, ISO then Year are tried.
func ParseDate(s string, layouts ...Layout) (*model.Date, error) {
	s = CollapseSpace(s)
	if s == "" || ongoing[strings.ToLower(s)] {
		return nil, nil
	}
	if len(layouts) == 0 {
		layouts = Layouts(ISO, Year)
	}
	for _, l := range layouts {
		t, err := time.Parse(l.Format, s)
		if err != nil {
			continue
		}
		d := model.DateFromTime(t, l.Granularity)
		return &d, nil
	}
	return nil, eris.Errorf("normalize: unrecognised date %q", s)
}

// TryDate is ParseDate for optional fields: an unparseable value is logged
// and dropped rather than guessed at.
func TryDate(sourceID, s string, layouts ...Layout) *model.Date {
	d, err := ParseDate(s, layouts...)
	if err != nil {
		zap.L().Debug("dropping unparseable date",
			zap.String("source", sourceID),
			zap.String("value", s),
		)
		return nil
	}
	return d
}
