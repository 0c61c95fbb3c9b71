package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/field-advisory/internal/client"
	"github.com/kjstillabower/field-advisory/internal/models"
)

// SourceOpenWeather tags summaries compacted from the OpenWeather 5-day/3-hour forecast.
const SourceOpenWeather = "openweather"

// OpenWeather fetches the 3-hourly forecast series for a location.
type OpenWeather struct {
	caller  *client.Caller
	baseURL string
	apiKey  string
}

// NewOpenWeather creates a forecast client. baseURL is the full forecast
// endpoint, e.g. https://api.openweathermap.org/data/2.5/forecast.
func NewOpenWeather(caller *client.Caller, baseURL, apiKey string) *OpenWeather {
	return &OpenWeather{caller: caller, baseURL: baseURL, apiKey: apiKey}
}

func (o *OpenWeather) Name() string { return SourceOpenWeather }

// owForecast mirrors the fields we read from the provider response.
type owForecast struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Rain *struct {
			ThreeHour float64 `json:"3h"`
		} `json:"rain"`
		Wind *struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	} `json:"list"`
}

// Points returns the raw forecast series. Missing rain, wind or weather
// fields are left at their zero values.
func (o *OpenWeather) Points(ctx context.Context, loc models.Location) ([]models.ForecastPoint, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("appid", o.apiKey)
	q.Set("units", "metric")
	endpoint := o.baseURL + "?" + q.Encode()

	body, err := o.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}

	var raw owForecast
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse forecast response: %w", err)
	}

	points := make([]models.ForecastPoint, 0, len(raw.List))
	for _, it := range raw.List {
		p := models.ForecastPoint{Time: time.Unix(it.Dt, 0).UTC()}
		if it.Rain != nil {
			p.RainMM = it.Rain.ThreeHour
		}
		if it.Wind != nil {
			p.WindMS = it.Wind.Speed
		}
		if len(it.Weather) > 0 {
			p.Condition = strings.ToLower(it.Weather[0].Main)
		}
		points = append(points, p)
	}
	return points, nil
}

// Summary fetches and compacts the forecast.
func (o *OpenWeather) Summary(ctx context.Context, loc models.Location) (models.ForecastSummary, error) {
	points, err := o.Points(ctx, loc)
	if err != nil {
		return models.ForecastSummary{}, err
	}
	return Compact(points, SourceOpenWeather), nil
}
