package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/field-advisory/internal/models"
)

// series builds n 3-hourly points; point i has rain i*0.1+0.3, wind i%7+0.5 and no condition.
func series(n int) []models.ForecastPoint {
	origin := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.ForecastPoint, n)
	for i := range out {
		out[i] = models.ForecastPoint{
			Time:   origin.Add(time.Duration(i) * 3 * time.Hour),
			RainMM: float64(i)*0.1 + 0.3,
			WindMS: float64(i%7) + 0.5,
		}
	}
	return out
}

// TestCompact_Next12hSumsFirstFourPointsExactly checks the 12h window against
// a sum computed in the same order, with no rounding.
func TestCompact_Next12hSumsFirstFourPointsExactly(t *testing.T) {
	points := series(12)
	got := Compact(points, "test")

	var wantRain, wantWind float64
	for _, p := range points[:4] {
		wantRain += p.RainMM
		wantWind = max(wantWind, p.WindMS)
	}
	assert.Equal(t, wantRain, got.Next12h.RainMM)
	assert.Equal(t, wantWind, got.Next12h.WindMS)
	assert.Equal(t, models.ConditionClear, got.Next12h.Condition)
	assert.Equal(t, "test", got.Source)
}

func TestCompact_ThreeDailyWindows(t *testing.T) {
	points := series(24)
	got := Compact(points, "test")

	require.Len(t, got.Next3Days, 3)
	for d, day := range got.Next3Days {
		var wantRain, wantWind float64
		for _, p := range points[d*8 : d*8+8] {
			wantRain += p.RainMM
			wantWind = max(wantWind, p.WindMS)
		}
		assert.Equal(t, d+1, day.Day)
		assert.Equal(t, wantRain, day.RainMM, "day %d rain", d+1)
		assert.Equal(t, wantWind, day.WindMS, "day %d wind", d+1)
	}
}

// TestCompact_ShortSeriesLeavesEmptyWindowsAtZero covers 12 points: day 2 is
// partial and day 3 is empty.
func TestCompact_ShortSeriesLeavesEmptyWindowsAtZero(t *testing.T) {
	points := series(12)
	got := Compact(points, "test")

	require.Len(t, got.Next3Days, 3)
	var wantDay2 float64
	for _, p := range points[8:12] {
		wantDay2 += p.RainMM
	}
	assert.Equal(t, wantDay2, got.Next3Days[1].RainMM)
	assert.Equal(t, models.DaySummary{Day: 3}, got.Next3Days[2])
}

func TestCompact_EmptySeries(t *testing.T) {
	got := Compact(nil, "test")

	assert.Equal(t, models.Next12h{Condition: models.ConditionClear}, got.Next12h)
	assert.Equal(t, []models.DaySummary{{Day: 1}, {Day: 2}, {Day: 3}}, got.Next3Days)
}

func TestCompact_ConditionLastMatchWins(t *testing.T) {
	tests := []struct {
		name       string
		conditions []string
		want       models.Condition
	}{
		{"thunderstorm then clouds", []string{"clear", "thunderstorm", "clouds", "clear"}, models.ConditionClouds},
		{"clouds then rain", []string{"clouds", "rain", "", ""}, models.ConditionRain},
		{"drizzle", []string{"", "", "", "drizzle"}, models.ConditionDrizzle},
		{"unknown labels ignored", []string{"rain", "mist", "haze", "snow"}, models.ConditionRain},
		{"nothing matches", []string{"", "clear", "mist", "fog"}, models.ConditionClear},
		{"fifth point ignored", []string{"rain", "", "", "", "thunderstorm"}, models.ConditionRain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := series(len(tt.conditions))
			for i, c := range tt.conditions {
				points[i].Condition = c
			}
			assert.Equal(t, tt.want, Compact(points, "test").Next12h.Condition)
		})
	}
}

// TestCompact_MissingFieldsCountAsZero verifies zero-valued points neither add rain nor raise wind.
func TestCompact_MissingFieldsCountAsZero(t *testing.T) {
	points := []models.ForecastPoint{{RainMM: 3}, {}, {WindMS: 4}, {}}
	got := Compact(points, "test")

	assert.Equal(t, 3.0, got.Next12h.RainMM)
	assert.Equal(t, 4.0, got.Next12h.WindMS)
}
