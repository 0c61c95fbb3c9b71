package models

import "time"

// Location is a field position in decimal degrees.
type Location struct {
	Latitude  float64 `json:"lat" validate:"latitude"`
	Longitude float64 `json:"lon" validate:"longitude"`
}

// SensorSnapshot is one field reading. Produced once per run.
type SensorSnapshot struct {
	TemperatureC    float64 `json:"temperature_c"`
	HumidityPct     float64 `json:"humidity_pct" validate:"gte=0,lte=100"`
	SoilMoisturePct float64 `json:"soil_moisture_pct" validate:"gte=0,lte=100"`
	WindSpeedMS     float64 `json:"wind_speed_ms" validate:"gte=0"`
}

// Condition is the coarse weather label used in forecast summaries.
type Condition string

const (
	ConditionClear        Condition = "clear"
	ConditionClouds       Condition = "clouds"
	ConditionRain         Condition = "rain"
	ConditionThunderstorm Condition = "thunderstorm"
	ConditionDrizzle      Condition = "drizzle"
)

// ForecastPoint is one 3-hour step of a provider time series.
// Missing provider fields stay at their zero value.
type ForecastPoint struct {
	Time      time.Time `json:"time"`
	RainMM    float64   `json:"rain_mm"`
	WindMS    float64   `json:"wind_ms"`
	Condition string    `json:"condition"`
}

// Next12h summarises the first four forecast points.
type Next12h struct {
	RainMM    float64   `json:"rain_mm" validate:"gte=0"`
	WindMS    float64   `json:"wind_ms" validate:"gte=0"`
	Condition Condition `json:"conditions"`
}

// DaySummary summarises one 24-hour window. Day is 1-indexed.
type DaySummary struct {
	Day    int     `json:"day"`
	RainMM float64 `json:"rain_mm"`
	WindMS float64 `json:"wind_ms"`
}

// ForecastSummary is the compacted forecast handed to risk evaluation and the
// advice prompt. Source records provenance ("openweather", "simulated").
type ForecastSummary struct {
	Source    string       `json:"source"`
	Next12h   Next12h      `json:"next_12h"`
	Next3Days []DaySummary `json:"next_3d"`
}

// RiskAssessment is the additive rule score with the matched reasons in rule order.
type RiskAssessment struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// AdvisoryMessage is the composed farmer-facing text plus an optional audio artifact.
type AdvisoryMessage struct {
	Text      string `json:"text"`
	AudioPath string `json:"audio_path,omitempty"`
}

// PhotoResult reports the outcome of a field photo capture.
type PhotoResult struct {
	Attempted bool   `json:"attempted"`
	OK        bool   `json:"ok"`
	Path      string `json:"path,omitempty"`
}

// RunResult is everything one pipeline run produced.
type RunResult struct {
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Language  string          `json:"language"`
	Sensors   SensorSnapshot  `json:"sensors"`
	Forecast  ForecastSummary `json:"forecast"`
	Risk      RiskAssessment  `json:"risk"`
	Advice    string          `json:"advice"`
	Message   AdvisoryMessage `json:"message"`
	Photo     PhotoResult     `json:"photo"`
}

// AdvisoryRecord is the event emitted after each run for downstream consumers.
type AdvisoryRecord struct {
	ID          string          `json:"id"`
	Village     string          `json:"village"`
	State       string          `json:"state"`
	Language    string          `json:"language"`
	GeneratedAt time.Time       `json:"generated_at"`
	Sensors     SensorSnapshot  `json:"sensors"`
	Forecast    ForecastSummary `json:"forecast"`
	Risk        RiskAssessment  `json:"risk"`
	Advice      string          `json:"advice"`
	AudioPath   string          `json:"audio_path,omitempty"`
	Photo       PhotoResult     `json:"photo"`
}
