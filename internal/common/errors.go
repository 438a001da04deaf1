package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Extraction pipeline errors
var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrNoPagesProduced    = errors.New("no pages produced")
	ErrMalformedPDF       = errors.New("malformed pdf")
	ErrJobNotCompleted    = errors.New("job not completed")
	ErrNoExtractionsFound = errors.New("no extractions found")
	ErrPageOutOfRange     = errors.New("page out of range")
	ErrRenderFailure      = errors.New("page render failed")
	ErrRecognitionFailure = errors.New("text recognition failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode is the stable API code for err ("NOT_FOUND", "FILE_TOO_LARGE", ...).
func ErrorCode(err error) string {
	var app *AppError
	if errors.As(err, &app) && app.Code != "" {
		return app.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrFileTooLarge):
		return "FILE_TOO_LARGE"
	case errors.Is(err, ErrNoPagesProduced):
		return "NO_PAGES_PRODUCED"
	case errors.Is(err, ErrMalformedPDF):
		return "MALFORMED_PDF"
	case errors.Is(err, ErrJobNotCompleted):
		return "JOB_NOT_COMPLETED"
	case errors.Is(err, ErrNoExtractionsFound):
		return "NO_EXTRACTIONS_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	default:
		return "INTERNAL"
	}
}

// ToStatus maps sentinel errors onto gRPC status errors.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoExtractionsFound):
		code = codes.NotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, ErrFileTooLarge):
		code = codes.ResourceExhausted
	case errors.Is(err, ErrJobNotCompleted):
		code = codes.FailedPrecondition
	case errors.Is(err, ErrNoPagesProduced), errors.Is(err, ErrMalformedPDF):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
