package pipeline

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kjstillabower/field-advisory/internal/models"
)

// WriteReport prints the human-readable run summary used by cmd/advisor.
func WriteReport(w io.Writer, res models.RunResult) error {
	sensors, err := json.MarshalIndent(res.Sensors, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sensors: %w", err)
	}
	forecast, err := json.MarshalIndent(res.Forecast, "", "  ")
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}

	_, err = fmt.Fprintf(w, "=== SENSOR DATA ===\n%s\n=== FORECAST ===\n%s\n=== ADVICE (%s) ===\n%s\n",
		sensors, forecast, res.Language, res.Advice)
	if err != nil {
		return err
	}
	if res.Photo.Attempted {
		if res.Photo.OK {
			_, err = fmt.Fprintf(w, "[PHOTO] Captured: %s\n", res.Photo.Path)
		} else {
			_, err = fmt.Fprintln(w, "[PHOTO] Failed to capture. Check webcam.")
		}
	}
	return err
}
