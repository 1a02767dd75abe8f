package calendar

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paris = mustLoad("Europe/Paris")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func TestNewRangeBounds(t *testing.T) {
	r, err := NewRange("2024-05-06", "2024-05-12", time.UTC)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2024, 5, 12, 23, 59, 59, 0, time.UTC), r.End)
	assert.Equal(t, "2024-05-06..2024-05-12", r.String())
}

func TestNewRangeSingleDay(t *testing.T) {
	r, err := NewRange("2024-05-06", "2024-05-06", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+59*time.Minute+59*time.Second, r.End.Sub(r.Start))
}

func TestNewRangeErrors(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		contains   string
	}{
		{"malformed start", "06/05/2024", "2024-05-12", "start_date"},
		{"malformed end", "2024-05-06", "2024-5-12", "end_date"},
		{"impossible day", "2024-02-30", "2024-03-01", "start_date"},
		{"inverted", "2024-05-12", "2024-05-06", "is before"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRange(tt.start, tt.end, time.UTC)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDate)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestParseDateDefaultsToLocal(t *testing.T) {
	d, err := ParseDate("2024-05-06", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Local, d.Location())
}

func TestRangeContains(t *testing.T) {
	r, err := NewRange("2024-05-06", "2024-05-07", paris)
	require.NoError(t, err)

	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{"inside", Event{Start: "2024-05-06T09:00:00+02:00", End: "2024-05-06T10:00:00+02:00"}, true},
		{"ends on the last second", Event{Start: "2024-05-07T23:00:00+02:00", End: "2024-05-07T23:59:59+02:00"}, true},
		{"ends at midnight after range", Event{Start: "2024-05-07T23:00:00+02:00", End: "2024-05-08T00:00:00+02:00"}, false},
		{"all-day on the last day", Event{Start: "2024-05-07"}, true},
		{"starts before range", Event{Start: "2024-05-05T23:30:00+02:00", End: "2024-05-06T00:30:00+02:00"}, false},
		{"ends after range", Event{Start: "2024-05-07T23:30:00+02:00", End: "2024-05-08T00:30:00+02:00"}, false},
		{"other zone inside", Event{Start: "2024-05-06T07:00:00Z", End: "2024-05-06T08:00:00Z"}, true},
		{"other zone before", Event{Start: "2024-05-05T21:00:00Z", End: "2024-05-05T21:30:00Z"}, false},
		{"all-day inside", Event{Start: "2024-05-07", End: "2024-05-07"}, true},
		{"all-day spanning out", Event{Start: "2024-05-07", End: "2024-05-08"}, false},
		{"all-day without end", Event{Start: "2024-05-06"}, true},
		{"unparseable", Event{Start: "tomorrow"}, false},
		{"end before start", Event{Start: "2024-05-06T10:00:00+02:00", End: "2024-05-06T09:00:00+02:00"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Contains(tt.event))
		})
	}
}

func TestWithinFiltersAndSorts(t *testing.T) {
	r, err := NewRange("2024-05-06", "2024-05-06", time.UTC)
	require.NoError(t, err)

	got := Within(r, []Event{
		{ID: "late", Start: "2024-05-06T15:00:00Z", End: "2024-05-06T16:00:00Z"},
		{ID: "outside", Start: "2024-05-07T09:00:00Z", End: "2024-05-07T10:00:00Z"},
		{ID: "allday", Start: "2024-05-06", End: "2024-05-06"},
		{ID: "early", Start: "2024-05-06T08:00:00Z", End: "2024-05-06T08:30:00Z"},
	})

	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"allday", "early", "late"}, ids)
}

func TestWithinKeepsReturnedTimesInsideRange(t *testing.T) {
	r, err := NewRange("2025-01-01", "2025-01-07", time.UTC)
	require.NoError(t, err)

	got := Within(r, []Event{
		{ID: "last-hour", Start: "2025-01-07T23:00:00Z", End: "2025-01-08T00:00:00Z"},
		{ID: "evening", Start: "2025-01-07T18:00:00Z", End: "2025-01-07T19:00:00Z"},
		{ID: "holiday", Start: "2025-01-07", End: "2025-01-07"},
	})
	require.Len(t, got, 2)
	for _, e := range got {
		if e.AllDay() {
			continue
		}
		end, err := time.Parse(time.RFC3339, e.End)
		require.NoError(t, err)
		assert.False(t, end.After(r.End), "%s ends at %s", e.ID, e.End)
	}
}

func TestWithinEmpty(t *testing.T) {
	r, err := NewRange("2024-05-06", "2024-05-06", time.UTC)
	require.NoError(t, err)

	got := Within(r, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEventAllDay(t *testing.T) {
	assert.True(t, Event{Start: "2024-05-06"}.AllDay())
	assert.False(t, Event{Start: "2024-05-06T09:00:00Z"}.AllDay())
}
