package advisory

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/field-advisory/internal/models"
)

var kondapalli = Locale{Language: "te", Village: "Kondapalli", State: "Andhra Pradesh"}

func sampleInputs() (models.SensorSnapshot, models.ForecastSummary, models.RiskAssessment) {
	s := models.SensorSnapshot{TemperatureC: 30, HumidityPct: 60, SoilMoisturePct: 85, WindSpeedMS: 11}
	f := models.ForecastSummary{
		Source:    "openweather",
		Next12h:   models.Next12h{RainMM: 25.04999, WindMS: 13, Condition: models.ConditionRain},
		Next3Days: []models.DaySummary{{Day: 1, RainMM: 40.26, WindMS: 13}, {Day: 2}, {Day: 3}},
	}
	r := models.RiskAssessment{Score: 6, Reasons: []string{"a", "b"}}
	return s, f, r
}

func TestBuild_SystemPromptNamesLocale(t *testing.T) {
	b := NewBuilder(kondapalli, clockwork.NewFakeClock())
	s, f, r := sampleInputs()

	p, err := b.Build("", s, f, r)
	require.NoError(t, err)

	assert.Contains(t, p.System, "Write in ISO language code: te.")
	assert.Contains(t, p.System, "Village: Kondapalli, State: Andhra Pradesh.")
	assert.Contains(t, p.System, "<= 120 words")
}

func TestBuild_LanguageOverride(t *testing.T) {
	b := NewBuilder(kondapalli, clockwork.NewFakeClock())
	s, f, r := sampleInputs()

	p, err := b.Build("hi", s, f, r)
	require.NoError(t, err)
	assert.Contains(t, p.System, "Write in ISO language code: hi.")
}

// TestBuild_UserPayload verifies the JSON context, IST timestamp and 1-decimal rounding.
func TestBuild_UserPayload(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 4, 0, 0, 0, time.UTC))
	b := NewBuilder(kondapalli, clock)
	s, f, r := sampleInputs()

	p, err := b.Build("", s, f, r)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(p.User, "Data (JSON): "))

	var got struct {
		Sensors  models.SensorSnapshot  `json:"sensors"`
		Forecast models.ForecastSummary `json:"forecast"`
		Risk     models.RiskAssessment  `json:"risk"`
		NowIST   string                 `json:"now_ist"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(p.User, "Data (JSON): ")), &got))

	assert.Equal(t, "2025-07-01 09:30", got.NowIST)
	assert.Equal(t, s, got.Sensors)
	assert.Equal(t, 25.0, got.Forecast.Next12h.RainMM)
	assert.Equal(t, 40.3, got.Forecast.Next3Days[0].RainMM)
	assert.Equal(t, models.ConditionRain, got.Forecast.Next12h.Condition)
	assert.Equal(t, 6, got.Risk.Score)
	assert.Contains(t, p.User, `"next_12h"`)
	assert.Contains(t, p.User, `"conditions":"rain"`)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	b := NewBuilder(kondapalli, nil)
	s, f, r := sampleInputs()

	_, err := b.Build("", s, f, r)
	require.NoError(t, err)
	assert.Equal(t, 25.04999, f.Next12h.RainMM)
	assert.Equal(t, 40.26, f.Next3Days[0].RainMM)
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name string
		risk models.RiskAssessment
		want string
	}{
		{
			name: "low risk",
			risk: models.RiskAssessment{Reasons: []string{}},
			want: "🌾 Kondapalli — Weather Advisory\nRisk Level: 0 (low)\n- All clear",
		},
		{
			name: "with reasons",
			risk: models.RiskAssessment{Score: 3, Reasons: []string{"heavy rain expected in next 12h", "current high winds in field"}},
			want: "🌾 Kondapalli — Weather Advisory\nRisk Level: 3 (heavy rain expected in next 12h, current high winds in field)\n- All clear",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compose("Kondapalli", tt.risk, "- All clear"))
		})
	}
}
