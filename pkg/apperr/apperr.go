package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Type classifies an application error.
type Type string

const (
	TypeInvalidServiceLine   Type = "INVALID_SERVICE_LINE"
	TypeUnknownPolicy        Type = "UNKNOWN_POLICY"
	TypeInvalidPaymentAmount Type = "INVALID_PAYMENT_AMOUNT"
	TypeInvalidTransition    Type = "INVALID_TRANSITION"
	TypeMissingReason        Type = "MISSING_REASON"
	TypeAlreadyExonerated    Type = "ALREADY_EXONERATED"
	TypeInvalidCoverageRule  Type = "INVALID_COVERAGE_RULE"

	TypeNotFound   Type = "NOT_FOUND"
	TypeValidation Type = "VALIDATION"
	TypeConflict   Type = "CONFLICT"
	TypeInternal   Type = "INTERNAL"
)

// Sentinels for errors.Is checks. Matching is by Type only.
var (
	ErrInvalidServiceLine   = &AppError{Type: TypeInvalidServiceLine}
	ErrUnknownPolicy        = &AppError{Type: TypeUnknownPolicy}
	ErrInvalidPaymentAmount = &AppError{Type: TypeInvalidPaymentAmount}
	ErrInvalidTransition    = &AppError{Type: TypeInvalidTransition}
	ErrMissingReason        = &AppError{Type: TypeMissingReason}
	ErrAlreadyExonerated    = &AppError{Type: TypeAlreadyExonerated}
	ErrInvalidCoverageRule  = &AppError{Type: TypeInvalidCoverageRule}
	ErrNotFound             = &AppError{Type: TypeNotFound}
	ErrValidation           = &AppError{Type: TypeValidation}
	ErrConflict             = &AppError{Type: TypeConflict}
)

// AppError represents an application error
type AppError struct {
	Type    Type
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError of the same Type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// New creates an error of the given type.
func New(t Type, format string, args ...interface{}) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given type wrapping err.
func Wrap(t Type, message string, err error) *AppError {
	return &AppError{Type: t, Message: message, Err: err}
}

func InvalidServiceLine(format string, args ...interface{}) *AppError {
	return New(TypeInvalidServiceLine, format, args...)
}

func InvalidPaymentAmount(format string, args ...interface{}) *AppError {
	return New(TypeInvalidPaymentAmount, format, args...)
}

func InvalidTransition(from, to string) *AppError {
	return New(TypeInvalidTransition, "cannot change status from %s to %s", from, to)
}

func NotFound(resource string) *AppError {
	return New(TypeNotFound, "%s not found", resource)
}

func Validation(format string, args ...interface{}) *AppError {
	return New(TypeValidation, format, args...)
}

func Internal(message string, err error) *AppError {
	return Wrap(TypeInternal, message, err)
}

// TypeOf returns the Type of the first AppError in err's chain, or TypeInternal.
func TypeOf(err error) Type {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return TypeInternal
}

// Reason returns the message to show a user for err.
func Reason(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}

// HTTPStatus maps an error to the HTTP status a handler should respond with.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case TypeNotFound, TypeUnknownPolicy:
		return http.StatusNotFound
	case TypeValidation, TypeInvalidServiceLine, TypeInvalidCoverageRule, TypeMissingReason:
		return http.StatusBadRequest
	case TypeInvalidPaymentAmount:
		return http.StatusUnprocessableEntity
	case TypeInvalidTransition, TypeAlreadyExonerated, TypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
