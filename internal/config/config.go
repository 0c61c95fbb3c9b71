package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is built once at process start and passed to every component.
// Nothing mutates it after Load returns.
type Config struct {
	Environment string
	LogLevel    string

	Language  string  `validate:"required,min=2,max=16"`
	Village   string  `validate:"required"`
	State     string  `validate:"required"`
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`

	CapturePhotoOnRisk bool
	PhotoRiskThreshold int    `validate:"gte=0,lte=6"`
	PhotoPath          string `validate:"required"`
	CameraCommand      []string
	CameraTimeout      time.Duration `validate:"gt=0"`

	AudioPath    string `validate:"required"`
	AudioBaseURL string `validate:"omitempty,url"`
	Voice        string `validate:"required"`

	OpenAIURL          string `validate:"required,url"`
	AdviceModel        string `validate:"required"`
	SpeechModel        string `validate:"required"`
	TranscriptionModel string `validate:"required"`
	WeatherAPIURL      string `validate:"required,url"`
	TwilioAPIURL       string `validate:"required,url"`

	UpstreamTimeout time.Duration `validate:"gt=0"`
	ModelTimeout    time.Duration `validate:"gt=0"`
	RetryAttempts   int           `validate:"gte=1"`
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CacheBackend          string `validate:"oneof=in_memory memcached"`
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	SensorSource string `validate:"oneof=simulated mqtt"`
	MQTTBroker   string `validate:"required_if=SensorSource mqtt"`
	MQTTTopic    string `validate:"required_if=SensorSource mqtt"`
	MQTTClientID string
	MQTTWait     time.Duration

	KafkaBrokers []string
	KafkaTopic   string `validate:"required_with=KafkaBrokers"`

	ServerPort      string
	RateLimitRPS    int
	RateLimitBurst  int
	RunTimeout      time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration
	WarmInterval    time.Duration

	// Health thresholds for cmd/service.
	HealthWindow         time.Duration
	DegradedErrorPct     int `validate:"gte=0,lte=100"`
	DegradedMinRuns      int
	OverloadThresholdPct int `validate:"gte=0,lte=100"`

	Secrets Secrets
}

// Secrets holds provider credentials. Values come from the environment
// (optionally via .env), falling back to config/secrets.yaml.
type Secrets struct {
	OpenAIAPIKey       SecretString `envconfig:"OPENAI_API_KEY" validate:"required"`
	OpenWeatherAPIKey  SecretString `envconfig:"OPENWEATHER_API_KEY"`
	TwilioAccountSID   string       `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    SecretString `envconfig:"TWILIO_AUTH_TOKEN" validate:"required_with=TwilioAccountSID"`
	TwilioFromWhatsApp string       `envconfig:"TWILIO_FROM_WHATSAPP"`
	ToWhatsApp         string       `envconfig:"TO_WHATSAPP"`
	TwilioFromSMS      string       `envconfig:"TWILIO_FROM_SMS"`
	ToSMS              string       `envconfig:"TO_SMS"`
}

// WeatherLive reports whether a forecast provider key is configured.
func (c *Config) WeatherLive() bool {
	return c.Secrets.OpenWeatherAPIKey != ""
}

// MessagingEnabled reports whether Twilio delivery is configured.
func (c *Config) MessagingEnabled() bool {
	return c.Secrets.TwilioAccountSID != ""
}

type fileConfig struct {
	LogLevel string `yaml:"log_level"`

	Advisory struct {
		Language  string   `yaml:"language"`
		Village   string   `yaml:"village"`
		State     string   `yaml:"state"`
		Latitude  *float64 `yaml:"latitude"`
		Longitude *float64 `yaml:"longitude"`
		Voice     string   `yaml:"voice"`
		AudioPath string   `yaml:"audio_path"`
		AudioBase string   `yaml:"audio_base_url"`
	} `yaml:"advisory"`

	Photo struct {
		CaptureOnRisk *bool    `yaml:"capture_on_risk"`
		RiskThreshold *int     `yaml:"risk_threshold"`
		Path          string   `yaml:"path"`
		Command       []string `yaml:"command"`
		Timeout       string   `yaml:"timeout"`
	} `yaml:"photo"`

	OpenAI struct {
		URL                string `yaml:"url"`
		AdviceModel        string `yaml:"advice_model"`
		SpeechModel        string `yaml:"speech_model"`
		TranscriptionModel string `yaml:"transcription_model"`
		Timeout            string `yaml:"timeout"`
	} `yaml:"openai"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Twilio struct {
		URL string `yaml:"url"`
	} `yaml:"twilio"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Sensor struct {
		Source string `yaml:"source"`
		MQTT   struct {
			Broker   string `yaml:"broker"`
			Topic    string `yaml:"topic"`
			ClientID string `yaml:"client_id"`
			Wait     string `yaml:"wait"`
		} `yaml:"mqtt"`
	} `yaml:"sensor"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Server struct {
		Port           string `yaml:"port"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
		RunTimeout     string `yaml:"run_timeout"`
		WarmInterval   string `yaml:"warm_interval"`
	} `yaml:"server"`

	Health struct {
		Window               string `yaml:"window"`
		DegradedErrorPct     *int   `yaml:"degraded_error_pct"`
		DegradedMinRuns      int    `yaml:"degraded_min_runs"`
		OverloadThresholdPct *int   `yaml:"overload_threshold_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
	TwilioAuthToken   string `yaml:"twilio_auth_token"`
}

// envOverrides are the non-secret settings the environment may override.
// Unset variables leave the pointer nil.
type envOverrides struct {
	LogLevel           *string  `envconfig:"LOG_LEVEL"`
	Language           *string  `envconfig:"ADVISORY_LANGUAGE"`
	Village            *string  `envconfig:"VILLAGE_NAME"`
	State              *string  `envconfig:"VILLAGE_STATE"`
	Latitude           *float64 `envconfig:"FIELD_LATITUDE"`
	Longitude          *float64 `envconfig:"FIELD_LONGITUDE"`
	CapturePhotoOnRisk *bool    `envconfig:"CAPTURE_PHOTO_ON_RISK"`
	AudioBaseURL       *string  `envconfig:"AUDIO_BASE_URL"`
	CacheBackend       *string  `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs     *string  `envconfig:"MEMCACHED_ADDRS"`
	SensorSource       *string  `envconfig:"SENSOR_SOURCE"`
	MQTTBroker         *string  `envconfig:"MQTT_BROKER"`
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	ServerPort         *string  `envconfig:"SERVER_PORT"`
}

var validate = validator.New()

// Load builds the Config. Order of precedence, highest first: process
// environment, .env file, config/{ENV_NAME}.yaml (default dev), built-in
// defaults. The config directory is CONFIG_DIR or ./config; a missing
// environment file is not an error. OPENAI_API_KEY is required.
func Load() (*Config, error) {
	// Missing .env is fine; existing environment variables are never overridden.
	_ = godotenv.Load()

	env := strings.TrimSpace(os.Getenv("ENV_NAME"))
	if env == "" {
		env = "dev"
	}
	dir := strings.TrimSpace(os.Getenv("CONFIG_DIR"))
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		dir = filepath.Join(cwd, "config")
	}

	var fc fileConfig
	data, err := os.ReadFile(filepath.Join(dir, env+".yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := defaults()
	cfg.Environment = env
	applyFile(cfg, &fc)

	var ov envOverrides
	if err := envconfig.Process("", &ov); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	applyOverrides(cfg, &ov)

	if err := envconfig.Process("", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("process credentials: %w", err)
	}
	if err := applySecretsFile(cfg, filepath.Join(dir, "secrets.yaml")); err != nil {
		return nil, err
	}

	if cfg.Secrets.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required (set in environment, .env, or %s)", filepath.Join(dir, "secrets.yaml"))
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel: "info",

		Language:  "te",
		Village:   "Kondapalli",
		State:     "Andhra Pradesh",
		Latitude:  16.521,
		Longitude: 80.63,

		CapturePhotoOnRisk: true,
		PhotoRiskThreshold: 3,
		PhotoPath:          "field_capture.jpg",
		CameraCommand:      []string{"fswebcam", "-d", "/dev/video0", "--no-banner", "-r", "1280x720", "{path}"},
		CameraTimeout:      15 * time.Second,

		AudioPath: "advice.mp3",
		Voice:     "alloy",

		OpenAIURL:          "https://api.openai.com/v1",
		AdviceModel:        "gpt-4o-mini",
		SpeechModel:        "gpt-4o-mini-tts",
		TranscriptionModel: "whisper-1",
		WeatherAPIURL:      "https://api.openweathermap.org/data/2.5/forecast",
		TwilioAPIURL:       "https://api.twilio.com/2010-04-01",

		UpstreamTimeout: 15 * time.Second,
		ModelTimeout:    60 * time.Second,
		RetryAttempts:   3,
		RetryBaseDelay:  200 * time.Millisecond,
		RetryMaxDelay:   2 * time.Second,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailureThreshold: 5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		CacheBackend:          "in_memory",
		CacheTTL:              30 * time.Minute,
		MemcachedAddrs:        "localhost:11211",
		MemcachedTimeout:      500 * time.Millisecond,
		MemcachedMaxIdleConns: 2,

		SensorSource: "simulated",
		MQTTTopic:    "field/sensors",
		MQTTClientID: "field-advisory",
		MQTTWait:     10 * time.Second,

		KafkaTopic: "field-advisories",

		ServerPort:      "8080",
		RateLimitRPS:    2,
		RateLimitBurst:  5,
		RunTimeout:      3 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		WarmInterval:    15 * time.Minute,

		HealthWindow:         5 * time.Minute,
		DegradedErrorPct:     50,
		DegradedMinRuns:      3,
		OverloadThresholdPct: 80,
	}
}

func applyFile(cfg *Config, fc *fileConfig) {
	setString(&cfg.LogLevel, fc.LogLevel)

	setString(&cfg.Language, fc.Advisory.Language)
	setString(&cfg.Village, fc.Advisory.Village)
	setString(&cfg.State, fc.Advisory.State)
	if fc.Advisory.Latitude != nil {
		cfg.Latitude = *fc.Advisory.Latitude
	}
	if fc.Advisory.Longitude != nil {
		cfg.Longitude = *fc.Advisory.Longitude
	}
	setString(&cfg.Voice, fc.Advisory.Voice)
	setString(&cfg.AudioPath, fc.Advisory.AudioPath)
	setString(&cfg.AudioBaseURL, fc.Advisory.AudioBase)

	if fc.Photo.CaptureOnRisk != nil {
		cfg.CapturePhotoOnRisk = *fc.Photo.CaptureOnRisk
	}
	if fc.Photo.RiskThreshold != nil {
		cfg.PhotoRiskThreshold = *fc.Photo.RiskThreshold
	}
	setString(&cfg.PhotoPath, fc.Photo.Path)
	if len(fc.Photo.Command) > 0 {
		cfg.CameraCommand = fc.Photo.Command
	}
	cfg.CameraTimeout = parseDuration(fc.Photo.Timeout, cfg.CameraTimeout)

	setString(&cfg.OpenAIURL, fc.OpenAI.URL)
	setString(&cfg.AdviceModel, fc.OpenAI.AdviceModel)
	setString(&cfg.SpeechModel, fc.OpenAI.SpeechModel)
	setString(&cfg.TranscriptionModel, fc.OpenAI.TranscriptionModel)
	cfg.ModelTimeout = parseDuration(fc.OpenAI.Timeout, cfg.ModelTimeout)

	setString(&cfg.WeatherAPIURL, fc.WeatherAPI.URL)
	cfg.UpstreamTimeout = parseDuration(fc.WeatherAPI.Timeout, cfg.UpstreamTimeout)
	setString(&cfg.TwilioAPIURL, fc.Twilio.URL)

	if fc.Reliability.RetryMaxAttempts > 0 {
		cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, cfg.RetryMaxDelay)
	cb := fc.Reliability.CircuitBreaker
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	if cb.FailureThreshold > 0 {
		cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	}
	if cb.SuccessThreshold > 0 {
		cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, cfg.CircuitBreakerTimeout)

	setString(&cfg.CacheBackend, strings.ToLower(strings.TrimSpace(fc.Cache.Backend)))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, cfg.CacheTTL)
	setString(&cfg.MemcachedAddrs, fc.Cache.Memcached.Addrs)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, cfg.MemcachedTimeout)
	if fc.Cache.Memcached.MaxIdleConns > 0 {
		cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	}

	setString(&cfg.SensorSource, strings.ToLower(strings.TrimSpace(fc.Sensor.Source)))
	setString(&cfg.MQTTBroker, fc.Sensor.MQTT.Broker)
	setString(&cfg.MQTTTopic, fc.Sensor.MQTT.Topic)
	setString(&cfg.MQTTClientID, fc.Sensor.MQTT.ClientID)
	cfg.MQTTWait = parseDuration(fc.Sensor.MQTT.Wait, cfg.MQTTWait)

	if len(fc.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = fc.Kafka.Brokers
	}
	setString(&cfg.KafkaTopic, fc.Kafka.Topic)

	setString(&cfg.ServerPort, fc.Server.Port)
	if fc.Server.RateLimitRPS > 0 {
		cfg.RateLimitRPS = fc.Server.RateLimitRPS
	}
	if fc.Server.RateLimitBurst > 0 {
		cfg.RateLimitBurst = fc.Server.RateLimitBurst
	}
	cfg.RunTimeout = parseDuration(fc.Server.RunTimeout, cfg.RunTimeout)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, cfg.ShutdownTimeout)
	cfg.WarmInterval = parseDuration(fc.Server.WarmInterval, cfg.WarmInterval)

	cfg.HealthWindow = parseDuration(fc.Health.Window, cfg.HealthWindow)
	if fc.Health.DegradedErrorPct != nil {
		cfg.DegradedErrorPct = *fc.Health.DegradedErrorPct
	}
	if fc.Health.DegradedMinRuns > 0 {
		cfg.DegradedMinRuns = fc.Health.DegradedMinRuns
	}
	if fc.Health.OverloadThresholdPct != nil {
		cfg.OverloadThresholdPct = *fc.Health.OverloadThresholdPct
	}
}

func applyOverrides(cfg *Config, ov *envOverrides) {
	setStringPtr(&cfg.LogLevel, ov.LogLevel)
	setStringPtr(&cfg.Language, ov.Language)
	setStringPtr(&cfg.Village, ov.Village)
	setStringPtr(&cfg.State, ov.State)
	if ov.Latitude != nil {
		cfg.Latitude = *ov.Latitude
	}
	if ov.Longitude != nil {
		cfg.Longitude = *ov.Longitude
	}
	if ov.CapturePhotoOnRisk != nil {
		cfg.CapturePhotoOnRisk = *ov.CapturePhotoOnRisk
	}
	setStringPtr(&cfg.AudioBaseURL, ov.AudioBaseURL)
	if ov.CacheBackend != nil {
		setString(&cfg.CacheBackend, strings.ToLower(*ov.CacheBackend))
	}
	setStringPtr(&cfg.MemcachedAddrs, ov.MemcachedAddrs)
	if ov.SensorSource != nil {
		setString(&cfg.SensorSource, strings.ToLower(*ov.SensorSource))
	}
	setStringPtr(&cfg.MQTTBroker, ov.MQTTBroker)
	if len(ov.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = ov.KafkaBrokers
	}
	setStringPtr(&cfg.ServerPort, ov.ServerPort)
}

// applySecretsFile fills credentials the environment left empty.
func applySecretsFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}
	if cfg.Secrets.OpenAIAPIKey == "" {
		cfg.Secrets.OpenAIAPIKey = SecretString(sec.OpenAIAPIKey)
	}
	if cfg.Secrets.OpenWeatherAPIKey == "" {
		cfg.Secrets.OpenWeatherAPIKey = SecretString(sec.OpenWeatherAPIKey)
	}
	if cfg.Secrets.TwilioAuthToken == "" {
		cfg.Secrets.TwilioAuthToken = SecretString(sec.TwilioAuthToken)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setStringPtr(dst *string, v *string) {
	if v != nil {
		setString(dst, *v)
	}
}

// parseDuration returns defaultVal when s is empty, unparsable, or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
