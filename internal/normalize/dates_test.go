package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lobbyharvest/internal/model"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		layouts []Layout
		want    model.Date
	}{
		{"iso day", "2019-03-14", nil, model.FullDate(2019, time.March, 14)},
		{"iso month", "2019-03", nil, model.YearMonth(2019, time.March)},
		{"iso timestamp", "2019-03-14T10:00:00Z", nil, model.FullDate(2019, time.March, 14)},
		{"bare year", " 2019 ", nil, model.YearOnly(2019)},
		{"compact", "20190314", nil, model.FullDate(2019, time.March, 14)},
		{"day first slash", "14/03/2019", DayFirst, model.FullDate(2019, time.March, 14)},
		{"day first single digits", "4/3/2019", DayFirst, model.FullDate(2019, time.March, 4)},
		{"month first", "03/14/2019", MonthFirst, model.FullDate(2019, time.March, 14)},
		{"german", "14.03.2019", German, model.FullDate(2019, time.March, 14)},
		{"german spaced", "14. 3. 2019", German, model.FullDate(2019, time.March, 14)},
		{"german month", "03.2019", German, model.YearMonth(2019, time.March)},
		{"two digit year", "14/03/19", TwoDigitYear, model.FullDate(2019, time.March, 14)},
		{"two digit year old", "01/07/98", TwoDigitYear, model.FullDate(1998, time.July, 1)},
		{"long month", "March 14, 2019", LongMonth, model.FullDate(2019, time.March, 14)},
		{"british long", "14 March 2019", LongMonth, model.FullDate(2019, time.March, 14)},
		{"abbrev", "14-Mar-2019", LongMonth, model.FullDate(2019, time.March, 14)},
		{"month year", "March 2019", MonthYear, model.YearMonth(2019, time.March)},
		{"numeric month year", "03/2019", MonthYear, model.YearMonth(2019, time.March)},
		{"year fallback", "2019", Layouts(DayFirst, Year), model.YearOnly(2019)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.in, tt.layouts...)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseDate_OrderDecidesAmbiguity(t *testing.T) {
	d, err := ParseDate("03/04/2019", Layouts(DayFirst, MonthFirst)...)
	require.NoError(t, err)
	assert.Equal(t, model.FullDate(2019, time.April, 3), *d)

	d, err = ParseDate("03/04/2019", Layouts(MonthFirst, DayFirst)...)
	require.NoError(t, err)
	assert.Equal(t, model.FullDate(2019, time.March, 4), *d)
}

func TestParseDate_EmptyAndOngoing(t *testing.T) {
	for _, in := range []string{"", "   ", "-", "Present", "ongoing", "laufend", "en cours"} {
		d, err := ParseDate(in, DayFirst...)
		assert.NoError(t, err, in)
		assert.Nil(t, d, in)
	}
}

func TestParseDate_Unrecognised(t *testing.T) {
	_, err := ParseDate("sometime in spring", DayFirst...)
	assert.ErrorContains(t, err, "unrecognised date")

	_, err = ParseDate("31/02/2019", DayFirst...)
	assert.Error(t, err)
}

func TestParseDate_NeverUpcastsYear(t *testing.T) {
	d, err := ParseDate("2019", Year...)
	require.NoError(t, err)
	assert.Equal(t, model.GranularityYear, d.Granularity)
	assert.Zero(t, d.Month)
	assert.Zero(t, d.Day)
	assert.Equal(t, "2019", d.String())
}

func TestTryDate(t *testing.T) {
	assert.Nil(t, TryDate("fara", "not a date", MonthFirst...))
	d := TryDate("fara", "03/14/2019", MonthFirst...)
	require.NotNil(t, d)
	assert.Equal(t, "2019-03-14", d.String())
}
