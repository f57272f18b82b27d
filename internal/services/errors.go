package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

// ===== SENTINEL ERRORS =====

var (
	// Not found
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrResultNotFound   = errors.New("no completed attempt found")

	// Eligibility
	ErrExamNotEligible = errors.New("user is not eligible to take this exam")

	// Lifecycle
	ErrNoActiveAttempt     = errors.New("no attempt is in progress for this exam")
	ErrAttemptFinalized    = errors.New("attempt has already been finalized")
	ErrExamHasResults      = errors.New("exam has completed attempts and cannot be deleted")
	ErrExamWindowClosed    = errors.New("exam is outside its availability window")
	ErrMaxAttemptsReached  = errors.New("maximum attempts reached for this exam")
	ErrAttemptAlreadyOpen  = errors.New("an attempt is already in progress")
	ErrQuestionNotInExam   = errors.New("question does not belong to this exam")
	ErrTextNotAutoGradable = errors.New("text questions cannot be auto-graded")
)

// ===== TYPED ERRORS =====

// ValidationError carries field-level validation failures to the handlers.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Errors.Error())
}

func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	return &ValidationError{Errors: errs}
}

// PermissionError signals the caller lacks access to the resource.
type PermissionError struct {
	Resource string
	Action   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: cannot %s %s", e.Action, e.Resource)
}

func NewPermissionError(resource, action string) *PermissionError {
	return &PermissionError{Resource: resource, Action: action}
}

// EligibilityError wraps ErrExamNotEligible with the store's reason.
type EligibilityError struct {
	Reason string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrExamNotEligible, e.Reason)
}

func (e *EligibilityError) Unwrap() error {
	return ErrExamNotEligible
}

func NewEligibilityError(reason string) *EligibilityError {
	return &EligibilityError{Reason: reason}
}

// ===== CLASSIFIERS =====

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrResultNotFound) ||
		repositories.IsNotFoundError(err)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

func IsEligibilityError(err error) bool {
	return errors.Is(err, ErrExamNotEligible)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrNoActiveAttempt) ||
		errors.Is(err, ErrAttemptFinalized) ||
		errors.Is(err, ErrAttemptAlreadyOpen) ||
		errors.Is(err, ErrExamHasResults)
}
