// Package app builds the advisory pipeline and its collaborators from Config.
// Both binaries share it so a one-shot run and a service-triggered run use
// the same wiring.
package app

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/field-advisory/internal/advisory"
	"github.com/kjstillabower/field-advisory/internal/alert"
	"github.com/kjstillabower/field-advisory/internal/cache"
	"github.com/kjstillabower/field-advisory/internal/camera"
	"github.com/kjstillabower/field-advisory/internal/circuitbreaker"
	"github.com/kjstillabower/field-advisory/internal/client"
	"github.com/kjstillabower/field-advisory/internal/config"
	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
	"github.com/kjstillabower/field-advisory/internal/openai"
	"github.com/kjstillabower/field-advisory/internal/pipeline"
	"github.com/kjstillabower/field-advisory/internal/publish"
	"github.com/kjstillabower/field-advisory/internal/sensor"
	"github.com/kjstillabower/field-advisory/internal/weather"
)

// App holds the wired components. Close releases the cache and publisher.
type App struct {
	Pipeline  *pipeline.Pipeline
	OpenAI    *openai.Client
	Forecasts *weather.Service
	Location  models.Location
	// CachePing is set when the cache backend is remote.
	CachePing func() error

	closers []func() error
}

// New wires every component from cfg. console receives advisories when
// Twilio is not configured.
func New(cfg *config.Config, logger *zap.Logger, console io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Location: models.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude}}

	forecastCache, err := a.newCache(cfg, logger)
	if err != nil {
		return nil, err
	}
	var live weather.Provider
	if cfg.WeatherLive() {
		caller := newCaller(cfg, "openweather", cfg.UpstreamTimeout, cfg.RetryAttempts, logger)
		live = weather.NewOpenWeather(caller, cfg.WeatherAPIURL, cfg.Secrets.OpenWeatherAPIKey.Unmask())
	} else {
		logger.Info("OPENWEATHER_API_KEY not set; using simulated forecast")
	}
	a.Forecasts = weather.NewService(weather.Options{
		Live:   live,
		Cache:  forecastCache,
		TTL:    cfg.CacheTTL,
		Logger: logger,
	})

	var sensors sensor.Source = sensor.NewSimulated(nil)
	if cfg.SensorSource == "mqtt" {
		sensors = sensor.NewMQTTSource(sensor.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
			Wait:     cfg.MQTTWait,
		}, logger)
		logger.Info("sensor source: mqtt", zap.String("broker", cfg.MQTTBroker), zap.String("topic", cfg.MQTTTopic))
	}

	a.OpenAI = openai.New(
		newCaller(cfg, "openai", cfg.ModelTimeout, cfg.RetryAttempts, logger),
		cfg.OpenAIURL,
		cfg.Secrets.OpenAIAPIKey.Unmask(),
		openai.Models{
			Advice:        cfg.AdviceModel,
			Speech:        cfg.SpeechModel,
			Transcription: cfg.TranscriptionModel,
			Voice:         cfg.Voice,
		},
	)

	var dispatcher alert.Dispatcher = alert.NewConsole(console)
	if cfg.MessagingEnabled() {
		// A retried POST can deliver the same message twice, so Twilio gets one attempt.
		dispatcher = alert.NewTwilio(newCaller(cfg, "twilio", cfg.UpstreamTimeout, 1, logger), alert.TwilioConfig{
			BaseURL:      cfg.TwilioAPIURL,
			AccountSID:   cfg.Secrets.TwilioAccountSID,
			AuthToken:    cfg.Secrets.TwilioAuthToken.Unmask(),
			FromWhatsApp: cfg.Secrets.TwilioFromWhatsApp,
			ToWhatsApp:   cfg.Secrets.ToWhatsApp,
			FromSMS:      cfg.Secrets.TwilioFromSMS,
			ToSMS:        cfg.Secrets.ToSMS,
			AudioBaseURL: cfg.AudioBaseURL,
		}, logger)
	} else {
		logger.Info("Twilio not configured; printing advisories to console")
	}

	var capturer camera.Capturer
	if cfg.CapturePhotoOnRisk {
		capturer = camera.NewExec(cfg.CameraCommand, cfg.PhotoPath, cfg.CameraTimeout, logger)
	}

	var publisher publish.Publisher = publish.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = publish.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("publishing advisory records", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	a.closers = append(a.closers, publisher.Close)

	a.Pipeline = pipeline.New(pipeline.Deps{
		Sensors:   sensors,
		Forecasts: a.Forecasts,
		Advisor:   a.OpenAI,
		Speaker:   a.OpenAI,
		Alerts:    dispatcher,
		Camera:    capturer,
		Publisher: publisher,
		Prompts: advisory.NewBuilder(advisory.Locale{
			Language: cfg.Language,
			Village:  cfg.Village,
			State:    cfg.State,
		}, nil),
	}, pipeline.Settings{
		Location:       a.Location,
		AudioPath:      cfg.AudioPath,
		CaptureOnRisk:  cfg.CapturePhotoOnRisk,
		PhotoThreshold: cfg.PhotoRiskThreshold,
	}, logger, nil)

	return a, nil
}

func (a *App) newCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.CachePing = mc.Ping
		a.closers = append(a.closers, mc.Close)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(nil), nil
	}
}

// Close releases resources in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newCaller builds an upstream caller for provider, behind a circuit breaker when enabled.
func newCaller(cfg *config.Config, provider string, timeout time.Duration, attempts int, logger *zap.Logger) *client.Caller {
	caller := client.NewCaller(client.Options{
		Provider:       provider,
		Timeout:        timeout,
		RetryAttempts:  attempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if cfg.CircuitBreakerEnabled {
		caller.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        provider,
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}))
		observability.CircuitBreakerState.WithLabelValues(provider).Set(0)
	}
	return caller
}
