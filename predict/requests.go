package predict

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request fields are pointers so a missing field can be told apart from zero.
// Only presence is validated; semantic ranges are passed through.

type CancellationRequest struct {
	LeadTimeDays *float64 `json:"lead_time_days" validate:"required"`
	DayOfWeek    *int     `json:"day_of_week" validate:"required"`
	HourOfDay    *int     `json:"hour_of_day" validate:"required"`
}

type TimingRequest struct {
	LastProgressScore *int `json:"last_progress_score" validate:"required"`
}

type SentimentRequest struct {
	Text *string `json:"text" validate:"required"`
}

type ChurnRequest struct {
	DaysSinceLastVisit *int     `json:"days_since_last_visit" validate:"required"`
	TotalVisits        *int     `json:"total_visits" validate:"required"`
	CancellationRate   *float64 `json:"cancellation_rate" validate:"required"`
}

type CancellationResult struct {
	CancellationRiskScore float64 `json:"cancellation_risk_score"`
	Unavailable           bool    `json:"-"`
}

type TimingResult struct {
	RecommendedDaysNextSession int  `json:"recommended_days_next_session"`
	Unavailable                bool `json:"-"`
}

type SentimentResult struct {
	Polarity       float64 `json:"polarity"`
	Subjectivity   float64 `json:"subjectivity"`
	SentimentLabel string  `json:"sentiment_label"`
}

type ChurnResult struct {
	IsChurnRisk      bool    `json:"is_churn_risk"`
	ChurnProbability float64 `json:"churn_probability"`
	Unavailable      bool    `json:"-"`
}

// FieldViolation names one rejected request field by its JSON name.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err carries request field violations.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	violations := make([]FieldViolation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, FieldViolation{Field: fe.Field(), Reason: reasonFor(fe)})
	}
	return &ValidationError{Violations: violations}
}

func reasonFor(fe validator.FieldError) string {
	if fe.Tag() == "required" {
		return "field is required"
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}
