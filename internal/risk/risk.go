// Package risk scores field danger from a sensor snapshot and a forecast summary.
//
// The score is additive: each rule is gated independently and contributes a
// fixed delta. Rules are evaluated in a fixed order so the reasons list is
// stable for identical inputs.
//
//	rule  condition                    delta  reason
//	1     next 12h rain   >= 20 mm     +2     heavy rain expected in next 12h
//	2     next 12h wind   >= 12 m/s    +2     strong winds expected in next 12h
//	3     soil moisture   >= 80 %      +1     soil already wet (flood risk)
//	4     field wind      >= 10 m/s    +1     current high winds in field
//
// The maximum score is 6.
package risk

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/field-advisory/internal/models"
)

const (
	HeavyRainMM        = 20.0
	StrongForecastWind = 12.0
	WetSoilPct         = 80.0
	HighFieldWind      = 10.0

	MaxScore = 6
)

const (
	ReasonHeavyRain   = "heavy rain expected in next 12h"
	ReasonStrongWinds = "strong winds expected in next 12h"
	ReasonWetSoil     = "soil already wet (flood risk)"
	ReasonFieldWinds  = "current high winds in field"
)

// LowLabel is rendered in place of the reasons when no rule matched.
const LowLabel = "low"

type rule struct {
	delta  int
	reason string
	match  func(s models.SensorSnapshot, f models.ForecastSummary) bool
}

var rules = []rule{
	{
		delta:  2,
		reason: ReasonHeavyRain,
		match: func(_ models.SensorSnapshot, f models.ForecastSummary) bool {
			return f.Next12h.RainMM >= HeavyRainMM
		},
	},
	{
		delta:  2,
		reason: ReasonStrongWinds,
		match: func(_ models.SensorSnapshot, f models.ForecastSummary) bool {
			return f.Next12h.WindMS >= StrongForecastWind
		},
	},
	{
		delta:  1,
		reason: ReasonWetSoil,
		match: func(s models.SensorSnapshot, _ models.ForecastSummary) bool {
			return s.SoilMoisturePct >= WetSoilPct
		},
	},
	{
		delta:  1,
		reason: ReasonFieldWinds,
		match: func(s models.SensorSnapshot, _ models.ForecastSummary) bool {
			return s.WindSpeedMS >= HighFieldWind
		},
	},
}

// Evaluate applies the rule table. It is pure and total.
// Reasons is never nil so an empty assessment encodes as [].
func Evaluate(sensor models.SensorSnapshot, forecast models.ForecastSummary) models.RiskAssessment {
	out := models.RiskAssessment{Reasons: make([]string, 0, len(rules))}
	for _, r := range rules {
		if r.match(sensor, forecast) {
			out.Score += r.delta
			out.Reasons = append(out.Reasons, r.reason)
		}
	}
	return out
}

// Describe joins the reasons, or returns LowLabel when there are none.
func Describe(a models.RiskAssessment) string {
	if len(a.Reasons) == 0 {
		return LowLabel
	}
	return strings.Join(a.Reasons, ", ")
}

// Line renders the risk line used in outgoing messages.
func Line(a models.RiskAssessment) string {
	return fmt.Sprintf("Risk Level: %d (%s)\n", a.Score, Describe(a))
}

// AtLeast reports whether the score reached threshold.
func AtLeast(a models.RiskAssessment, threshold int) bool {
	return a.Score >= threshold
}
