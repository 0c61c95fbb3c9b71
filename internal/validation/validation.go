// Package validation checks request inputs before they reach the pipeline.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/field-advisory/internal/models"
)

// ErrInvalidLanguage is returned for a language that is not a BCP 47 tag (e.g. te, hi, en-IN).
var ErrInvalidLanguage = errors.New("invalid language code")

// ErrInvalidLocation is returned for coordinates outside the valid ranges.
var ErrInvalidLocation = errors.New("invalid location")

// ErrInvalidReading is returned when sensor or forecast values are out of range.
var ErrInvalidReading = errors.New("invalid reading")

var validate = validator.New()

// Language trims and lowercases code and checks it is a language tag of at
// most 16 characters. An empty code is returned as-is so callers can apply
// their default.
func Language(code string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(code))
	if s == "" {
		return "", nil
	}
	if err := validate.Var(s, "max=16,bcp47_language_tag"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, code)
	}
	return s, nil
}

// Location checks latitude in [-90, 90] and longitude in [-180, 180].
func Location(loc models.Location) error {
	if err := validate.Struct(loc); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLocation, describe(err))
	}
	return nil
}

// Sensors checks percentages are within 0..100 and wind is non-negative.
func Sensors(s models.SensorSnapshot) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidReading, describe(err))
	}
	return nil
}

// Next12h checks forecast rain and wind are non-negative.
func Next12h(n models.Next12h) error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidReading, describe(err))
	}
	return nil
}

// describe flattens validator errors into "field tag=param" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		p := fe.Field() + " " + fe.Tag()
		if fe.Param() != "" {
			p += "=" + fe.Param()
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}
