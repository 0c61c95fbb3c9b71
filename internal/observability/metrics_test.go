package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that label dimensions match how the client,
// pipeline, alert and http packages use them.
func TestMetrics_Usable(t *testing.T) {
	PipelineRunsTotal.WithLabelValues("success").Inc()
	PipelineStageDuration.WithLabelValues("forecast").Observe(0.2)
	RiskScore.Observe(3)
	UpstreamCallsTotal.WithLabelValues("openweather", "success").Inc()
	UpstreamDuration.WithLabelValues("openai", "server_error").Observe(1.5)
	UpstreamRetriesTotal.WithLabelValues("twilio").Inc()
	UpstreamErrorsTotal.WithLabelValues("openai", "timeout").Inc()
	ForecastCacheTotal.WithLabelValues("hit").Inc()
	ForecastSourceTotal.WithLabelValues("simulated").Inc()
	AlertsSentTotal.WithLabelValues("whatsapp", "sent").Inc()
	PhotoCapturesTotal.WithLabelValues("failed").Inc()
	RecordsPublishedTotal.WithLabelValues("error").Inc()
	HTTPRequestsTotal.WithLabelValues("POST", "/advisories", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("POST", "/advisories").Observe(0.5)
	RecordCircuitBreakerTransition("openweather", "closed", "open", 1)
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// the text exposition format including application metrics.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	PipelineRunsTotal.WithLabelValues("success").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pipelineRunsTotal") {
		t.Error("MetricsHandler response should contain pipelineRunsTotal")
	}
}
