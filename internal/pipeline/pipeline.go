// Package pipeline runs one advisory cycle: read sensors, fetch the
// forecast, score risk, generate and voice the advice, dispatch it, and
// photograph the field when risk is high.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/field-advisory/internal/advisory"
	"github.com/kjstillabower/field-advisory/internal/alert"
	"github.com/kjstillabower/field-advisory/internal/camera"
	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
	"github.com/kjstillabower/field-advisory/internal/risk"
	"github.com/kjstillabower/field-advisory/internal/sensor"
)

// ForecastSource returns the compacted forecast for a location.
type ForecastSource interface {
	Forecast(ctx context.Context, loc models.Location) (models.ForecastSummary, error)
}

// Advisor turns a prompt into advice text.
type Advisor interface {
	Advise(ctx context.Context, system, user string) (string, error)
}

// Speaker synthesises text to an audio file at path.
type Speaker interface {
	Speak(ctx context.Context, text, path string) (string, error)
}

// RecordPublisher emits the run record for downstream consumers.
type RecordPublisher interface {
	Publish(ctx context.Context, rec models.AdvisoryRecord) error
}

// Deps are the collaborators of a Pipeline. Speaker, Camera and Publisher may be nil.
type Deps struct {
	Sensors   sensor.Source
	Forecasts ForecastSource
	Advisor   Advisor
	Speaker   Speaker
	Alerts    alert.Dispatcher
	Camera    camera.Capturer
	Publisher RecordPublisher
	Prompts   *advisory.Builder
}

// Settings are the fixed per-process run parameters.
type Settings struct {
	Location       models.Location
	AudioPath      string
	CaptureOnRisk  bool
	PhotoThreshold int
}

// Pipeline is safe for concurrent Run calls when its collaborators are.
type Pipeline struct {
	deps     Deps
	settings Settings
	logger   *zap.Logger
	clock    clockwork.Clock
	newID    func() string
}

func New(deps Deps, settings Settings, logger *zap.Logger, clock clockwork.Clock) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{deps: deps, settings: settings, logger: logger, clock: clock, newID: uuid.NewString}
}

// RunOptions override configured values for a single run.
type RunOptions struct {
	// Language overrides the configured language code when non-empty.
	Language string
}

// Run executes one advisory cycle. Sensor, advice, speech and dispatch
// failures abort the run; forecast provider failures are absorbed by the
// forecast source, camera failures are reported in the result, and
// publish failures are logged. Photo capture runs alongside the advice
// chain, so a run that fails after the risk stage may still have taken a photo.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (models.RunResult, error) {
	locale := p.deps.Prompts.Locale()
	res := models.RunResult{
		RunID:     p.newID(),
		StartedAt: p.clock.Now(),
		Language:  locale.Language,
	}
	if opts.Language != "" {
		res.Language = opts.Language
	}
	log := p.logger.With(zap.String("run_id", res.RunID))
	log.Info("advisory run started", zap.String("language", res.Language))

	err := p.run(ctx, log, &res)
	outcome := "success"
	if err != nil {
		outcome = "error"
		log.Error("advisory run failed", zap.Error(err))
	} else {
		log.Info("advisory run finished",
			zap.Int("risk_score", res.Risk.Score),
			zap.Bool("photo", res.Photo.OK),
			zap.Duration("duration", p.clock.Since(res.StartedAt)),
		)
	}
	observability.PipelineRunsTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, res *models.RunResult) error {
	err := p.stage("sensors", func() (err error) {
		res.Sensors, err = p.deps.Sensors.Read(ctx)
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage("forecast", func() (err error) {
		res.Forecast, err = p.deps.Forecasts.Forecast(ctx, p.settings.Location)
		return err
	})
	if err != nil {
		return err
	}

	res.Risk = risk.Evaluate(res.Sensors, res.Forecast)
	observability.RiskScore.Observe(float64(res.Risk.Score))
	log.Info("risk evaluated",
		zap.Int("score", res.Risk.Score),
		zap.Strings("reasons", res.Risk.Reasons),
		zap.String("forecast_source", res.Forecast.Source),
	)

	// The photo depends only on the score, so it runs alongside the
	// advice chain. Its failure never cancels the group.
	g, gctx := errgroup.WithContext(ctx)
	if p.shouldCapture(res.Risk) {
		g.Go(func() error {
			_ = p.stage("photo", func() error {
				ok, path := p.deps.Camera.Capture(gctx)
				res.Photo = models.PhotoResult{Attempted: true, OK: ok, Path: path}
				if !ok {
					log.Warn("field photo not captured", zap.String("path", path))
				}
				return nil
			})
			return nil
		})
	}
	g.Go(func() error {
		return p.advise(gctx, res)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if p.deps.Publisher != nil {
		if err := p.deps.Publisher.Publish(ctx, p.record(res)); err != nil {
			log.Warn("advisory record not published", zap.Error(err))
		}
	}
	return nil
}

// advise generates, voices and dispatches the advice.
func (p *Pipeline) advise(ctx context.Context, res *models.RunResult) error {
	prompt, err := p.deps.Prompts.Build(res.Language, res.Sensors, res.Forecast, res.Risk)
	if err != nil {
		return fmt.Errorf("stage advice: %w", err)
	}

	err = p.stage("advice", func() (err error) {
		res.Advice, err = p.deps.Advisor.Advise(ctx, prompt.System, prompt.User)
		return err
	})
	if err != nil {
		return err
	}

	res.Message = models.AdvisoryMessage{
		Text: advisory.Compose(p.deps.Prompts.Locale().Village, res.Risk, res.Advice),
	}

	if p.deps.Speaker != nil && p.settings.AudioPath != "" {
		err = p.stage("speech", func() (err error) {
			res.Message.AudioPath, err = p.deps.Speaker.Speak(ctx, res.Advice, p.settings.AudioPath)
			return err
		})
		if err != nil {
			return err
		}
	}

	return p.stage("dispatch", func() error {
		return p.deps.Alerts.Send(ctx, res.Message)
	})
}

func (p *Pipeline) shouldCapture(a models.RiskAssessment) bool {
	return p.settings.CaptureOnRisk && p.deps.Camera != nil && risk.AtLeast(a, p.settings.PhotoThreshold)
}

// stage times fn and wraps its error with the stage name.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := p.clock.Now()
	err := fn()
	observability.PipelineStageDuration.WithLabelValues(name).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) record(res *models.RunResult) models.AdvisoryRecord {
	locale := p.deps.Prompts.Locale()
	return models.AdvisoryRecord{
		ID:          res.RunID,
		Village:     locale.Village,
		State:       locale.State,
		Language:    res.Language,
		GeneratedAt: p.clock.Now(),
		Sensors:     res.Sensors,
		Forecast:    res.Forecast,
		Risk:        res.Risk,
		Advice:      res.Advice,
		AudioPath:   res.Message.AudioPath,
		Photo:       res.Photo,
	}
}
