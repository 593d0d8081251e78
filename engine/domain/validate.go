package domain

import (
	"math"
	"strings"
)

// ValidateReview checks a review before it enters the pipeline.
func ValidateReview(r Review) error {
	if strings.TrimSpace(r.Professor) == "" {
		return NewValidationError("professor", r.Professor, ErrMissingField)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return NewValidationError("subject", r.Subject, ErrMissingField)
	}
	if strings.TrimSpace(r.Review) == "" {
		return NewValidationError("review", "", ErrMissingField)
	}
	if math.IsNaN(r.Stars) || math.IsInf(r.Stars, 0) {
		return NewValidationError("stars", "", ErrInvalidValue)
	}
	return nil
}

// ValidateURL checks the url request field of /scrape.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return NewValidationError("url", raw, ErrMissingField)
	}
	return nil
}
