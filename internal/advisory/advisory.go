// Package advisory builds the model prompt and composes the farmer-facing message.
package advisory

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/risk"
)

// IST is India Standard Time. India observes no DST, so a fixed zone is exact.
var IST = time.FixedZone("IST", 5*3600+30*60)

// TimeLayout formats now_ist in the prompt payload.
const TimeLayout = "2006-01-02 15:04"

// Locale identifies the audience of an advisory.
type Locale struct {
	Language string
	Village  string
	State    string
}

// Prompt is the system instructions plus the user content sent to the model.
type Prompt struct {
	System string
	User   string
}

// Builder renders prompts. Its clock supplies now_ist.
type Builder struct {
	locale Locale
	clock  clockwork.Clock
}

func NewBuilder(locale Locale, clock clockwork.Clock) *Builder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Builder{locale: locale, clock: clock}
}

// Locale returns the builder's configured audience.
func (b *Builder) Locale() Locale { return b.locale }

type payload struct {
	Sensors  models.SensorSnapshot  `json:"sensors"`
	Forecast models.ForecastSummary `json:"forecast"`
	Risk     models.RiskAssessment  `json:"risk"`
	NowIST   string                 `json:"now_ist"`
}

// Build renders the prompt for one run. language overrides the configured
// language when non-empty.
func (b *Builder) Build(language string, s models.SensorSnapshot, f models.ForecastSummary, r models.RiskAssessment) (Prompt, error) {
	if language == "" {
		language = b.locale.Language
	}
	data, err := marshalNoEscape(payload{
		Sensors:  s,
		Forecast: roundForecast(f),
		Risk:     r,
		NowIST:   b.clock.Now().In(IST).Format(TimeLayout),
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("encode prompt payload: %w", err)
	}
	return Prompt{
		System: systemPrompt(language, b.locale.Village, b.locale.State),
		User:   "Data (JSON): " + data,
	}, nil
}

func systemPrompt(language, village, state string) string {
	var sb strings.Builder
	sb.WriteString("You are an agriculture extension assistant for Indian farmers.\n")
	fmt.Fprintf(&sb, "Write in ISO language code: %s.\n", language)
	fmt.Fprintf(&sb, "Village: %s, State: %s.\n", village, state)
	sb.WriteString("Be concise (<= 120 words), bullet points. Include:\n")
	sb.WriteString("- Micro forecast (12h) from the data\n")
	sb.WriteString("- Actionable steps if heavy rain or wind expected\n")
	sb.WriteString("- Simple, friendly tone\n")
	return sb.String()
}

// marshalNoEscape keeps non-ASCII village names and symbols readable in the prompt.
func marshalNoEscape(v any) (string, error) {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// roundForecast rounds prompt values to 1 decimal. Risk is evaluated on the
// unrounded summary before this is called.
func roundForecast(f models.ForecastSummary) models.ForecastSummary {
	out := f
	out.Next12h.RainMM = round1(f.Next12h.RainMM)
	out.Next12h.WindMS = round1(f.Next12h.WindMS)
	out.Next3Days = make([]models.DaySummary, len(f.Next3Days))
	for i, d := range f.Next3Days {
		out.Next3Days[i] = models.DaySummary{Day: d.Day, RainMM: round1(d.RainMM), WindMS: round1(d.WindMS)}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Header is the first line of every outgoing message.
func Header(village string) string {
	return fmt.Sprintf("🌾 %s — Weather Advisory\n", village)
}

// Compose joins the header, the risk line and the model's advice.
func Compose(village string, r models.RiskAssessment, advice string) string {
	return Header(village) + risk.Line(r) + advice
}
