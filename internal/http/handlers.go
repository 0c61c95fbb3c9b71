package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/field-advisory/internal/lifecycle"
	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/pipeline"
	"github.com/kjstillabower/field-advisory/internal/risk"
	"github.com/kjstillabower/field-advisory/internal/traffic"
	"github.com/kjstillabower/field-advisory/internal/validation"
)

const (
	// defaultMaxUploadBytes caps POST /transcriptions bodies (OpenAI accepts up to 25 MB).
	defaultMaxUploadBytes = 25 << 20
	// maxJSONBodyBytes caps the JSON bodies of POST /advisories and POST /risk.
	maxJSONBodyBytes = 64 << 10
)

// Runner executes one advisory cycle.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (models.RunResult, error)
}

// Transcriber converts uploaded audio to text.
type Transcriber interface {
	TranscribeReader(ctx context.Context, name string, r io.Reader) (string, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	Window               time.Duration
	DegradedErrorPct     int
	DegradedMinRuns      int
	RateLimitRPS         int // 0 when rate limiter disabled
	OverloadThresholdPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	runner           Runner
	transcriber      Transcriber
	state            *lifecycle.State
	traffic          *traffic.Tracker
	healthConfig     *HealthConfig
	runTimeout       time.Duration
	maxUploadBytes   int64
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// Options configures NewHandler. Transcriber and HealthConfig may be nil.
type Options struct {
	Runner       Runner
	Transcriber  Transcriber
	State        *lifecycle.State
	Traffic      *traffic.Tracker
	HealthConfig *HealthConfig
	RunTimeout   time.Duration
	Logger       *zap.Logger

	// MaxUploadBytes caps transcription uploads; zero means 25 MB.
	MaxUploadBytes int64
}

// NewHandler returns a new Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.State == nil {
		opts.State = &lifecycle.State{}
	}
	if opts.Traffic == nil {
		opts.Traffic = traffic.New(nil)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		runner:         opts.Runner,
		transcriber:    opts.Transcriber,
		state:          opts.State,
		traffic:        opts.Traffic,
		healthConfig:   opts.HealthConfig,
		runTimeout:     opts.RunTimeout,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         opts.Logger,
	}
}

type advisoryRequest struct {
	Language string `json:"language"`
}

// PostAdvisory handles POST /advisories. The body is optional; when present
// it may override the advisory language.
func (h *Handler) PostAdvisory(w http.ResponseWriter, r *http.Request) {
	if h.state.IsShuttingDown() {
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down")
		return
	}

	var req advisoryRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeBodyError(w, r, err)
			return
		}
	}
	lang, err := validation.Language(req.Language)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LANGUAGE", err.Error())
		return
	}

	ctx := r.Context()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	res, err := h.runner.Run(ctx, pipeline.RunOptions{Language: lang})
	status := lifecycle.RunStatus{RunID: res.RunID, At: res.StartedAt, OK: err == nil, RiskScore: res.Risk.Score}
	if err != nil {
		status.Error = err.Error()
		h.state.RecordRun(status)
		h.traffic.RecordError()
		writeServiceError(w, r, err)
		return
	}
	h.state.RecordRun(status)
	h.traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, res)
}

type riskRequest struct {
	Sensors  *models.SensorSnapshot `json:"sensors"`
	Forecast *struct {
		Next12h *models.Next12h `json:"next_12h"`
	} `json:"forecast"`
}

type riskResponse struct {
	models.RiskAssessment
	Summary string `json:"summary"`
}

// PostRisk handles POST /risk: scores a posted sensor reading against a
// posted 12-hour forecast without running the pipeline.
func (h *Handler) PostRisk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	if req.Sensors == nil || req.Forecast == nil || req.Forecast.Next12h == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "sensors and forecast.next_12h are required")
		return
	}
	if err := validation.Sensors(*req.Sensors); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_READING", err.Error())
		return
	}
	if err := validation.Next12h(*req.Forecast.Next12h); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_READING", err.Error())
		return
	}

	a := risk.Evaluate(*req.Sensors, models.ForecastSummary{Next12h: *req.Forecast.Next12h})
	writeJSON(w, http.StatusOK, riskResponse{RiskAssessment: a, Summary: risk.Describe(a)})
}

// PostTranscription handles POST /transcriptions with a multipart "file" field.
func (h *Handler) PostTranscription(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		writeError(w, r, http.StatusNotImplemented, "NOT_CONFIGURED", "transcription is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			writeTooLarge(w, r, h.maxUploadBytes)
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_UPLOAD", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	text, err := h.transcriber.TranscribeReader(r.Context(), header.Filename, file)
	if err != nil {
		if isTooLarge(err) {
			writeTooLarge(w, r, h.maxUploadBytes)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"pipeline": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["pipeline"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "field-advisory",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if last, ok := h.state.LastRun(); ok {
		resp["lastRun"] = last
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.state.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	cfg := h.healthConfig
	if cfg == nil || cfg.Window <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadThresholdPct > 0 {
		capacity := float64(cfg.RateLimitRPS) * cfg.Window.Seconds()
		if float64(h.traffic.DenialCount(cfg.Window)) > capacity*float64(cfg.OverloadThresholdPct)/100 {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedErrorPct > 0 && h.traffic.Degraded(cfg.Window, cfg.DegradedMinRuns, float64(cfg.DegradedErrorPct)/100) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r.Context()),
		},
	})
}

// writeServiceError maps a run or upstream failure to 504 on deadline and 503 otherwise.
// The underlying error is logged, never returned to the caller.
func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func writeTooLarge(w http.ResponseWriter, r *http.Request, limit int64) {
	writeError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
		fmt.Sprintf("request body exceeds %d bytes", limit))
}

// writeBodyError maps a JSON decode failure to 413 or 400.
func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeTooLarge(w, r, tooLarge.Limit)
		return
	}
	writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	requestLogger(r.Context()).Warn("request failed", zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Upstream service unavailable")
}
