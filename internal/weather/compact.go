package weather

import "github.com/kjstillabower/field-advisory/internal/models"

const (
	// PointsPer12h is the number of 3-hour steps in the short-range window.
	PointsPer12h = 4
	// PointsPerDay is the number of 3-hour steps in one daily window.
	PointsPerDay = 8
	// Days is the number of daily windows in a summary.
	Days = 3
)

// classified lists the labels that can set the 12h condition. Any other
// label, including the empty string, leaves it unchanged.
var classified = map[models.Condition]bool{
	models.ConditionThunderstorm: true,
	models.ConditionRain:         true,
	models.ConditionDrizzle:      true,
	models.ConditionClouds:       true,
}

// Compact reduces a 3-hourly series to a 12h window plus three daily windows.
//
// The 12h condition is the label of the last matching point in the first
// four, not the most severe one: thunderstorm followed by clouds yields
// clouds. Daily windows are points [0,8), [8,16) and [16,24); an empty
// window reports zero rain and zero wind. Values are not rounded.
func Compact(points []models.ForecastPoint, source string) models.ForecastSummary {
	out := models.ForecastSummary{
		Source:    source,
		Next12h:   models.Next12h{Condition: models.ConditionClear},
		Next3Days: make([]models.DaySummary, 0, Days),
	}

	for _, p := range window(points, 0, PointsPer12h) {
		out.Next12h.RainMM += p.RainMM
		out.Next12h.WindMS = max(out.Next12h.WindMS, p.WindMS)
		if c := models.Condition(p.Condition); classified[c] {
			out.Next12h.Condition = c
		}
	}

	for d := 0; d < Days; d++ {
		day := models.DaySummary{Day: d + 1}
		for _, p := range window(points, d*PointsPerDay, PointsPerDay) {
			day.RainMM += p.RainMM
			day.WindMS = max(day.WindMS, p.WindMS)
		}
		out.Next3Days = append(out.Next3Days, day)
	}
	return out
}

// window returns points[start:start+n] clamped to the slice bounds.
func window(points []models.ForecastPoint, start, n int) []models.ForecastPoint {
	if start >= len(points) {
		return nil
	}
	return points[start:min(start+n, len(points))]
}
