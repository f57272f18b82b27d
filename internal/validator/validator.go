package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/exam-service/internal/models"
)

// Validator wraps struct validation plus the exam domain's custom rules.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with all custom rules registered.
func New() *Validator {
	validate := validator.New()

	v := &Validator{validate: validate}
	v.registerCustomRules()

	return v
}

// Validate validates any tagged struct. Returns nil when valid.
func (v *Validator) Validate(s interface{}) ValidationErrors {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// Struct exposes the underlying validate call for callers that want the raw
// error.
func (v *Validator) Struct(s interface{}) error {
	return v.validate.Struct(s)
}

func (v *Validator) registerCustomRules() {
	// passing_marks is a percentage threshold
	v.validate.RegisterValidation("passing_marks", func(fl validator.FieldLevel) bool {
		val := fl.Field().Int()
		return val >= 0 && val <= 100
	})

	v.validate.RegisterValidation("max_attempts", func(fl validator.FieldLevel) bool {
		val := fl.Field().Int()
		return val >= 1 && val <= 10
	})

	v.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return models.QuestionType(fl.Field().String()).IsValid()
	})

	v.validate.RegisterValidation("marks_range", func(fl validator.FieldLevel) bool {
		val := fl.Field().Int()
		return val >= 1 && val <= 100
	})

	v.validate.RegisterValidation("exam_duration", func(fl validator.FieldLevel) bool {
		val := fl.Field().Int()
		return val >= 1 && val <= 480
	})

	v.validate.RegisterValidation("future_date", func(fl validator.FieldLevel) bool {
		date, ok := fl.Field().Interface().(time.Time)
		if !ok {
			return false
		}
		return date.After(time.Now())
	})
}

// ===== VALIDATION ERRORS =====

type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(msgs, "; ")
}

func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// ToValidationErrors converts validator library errors into the API shape.
func ToValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var errors ValidationErrors

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{
			Field:   "unknown",
			Message: err.Error(),
			Rule:    "unknown",
		}}
	}

	for _, fieldErr := range validationErrs {
		errors = append(errors, ValidationError{
			Field:   strings.ToLower(fieldErr.Field()),
			Message: messageForTag(fieldErr),
			Value:   fieldErr.Value(),
			Rule:    fieldErr.Tag(),
		})
	}

	return errors
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "passing_marks":
		return "passing marks must be a percentage between 0 and 100"
	case "max_attempts":
		return "max attempts must be between 1 and 10"
	case "question_type":
		return "question type must be one of: mcq, checkbox, text"
	case "marks_range":
		return "marks must be between 1 and 100"
	case "exam_duration":
		return "duration must be between 1 and 480 minutes"
	case "future_date":
		return "date must be in the future"
	default:
		return fmt.Sprintf("failed validation rule %q", fe.Tag())
	}
}
