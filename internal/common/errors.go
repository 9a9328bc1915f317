package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

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
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDatabase         = errors.New("database error")
	ErrValidation       = errors.New("validation failed")
	ErrSecurityRejected = errors.New("security check failed")
	ErrExtraction       = errors.New("extraction failed")
	ErrOCRTimeout       = errors.New("ocr timed out")
	ErrLowQuality       = errors.New("ocr result below quality threshold")
	ErrQueueJob         = errors.New("queue job rejected")
	ErrRequest          = errors.New("remote request failed")
)

// SecurityRejection carries the scan verdict for a rejected file.
// Violations names each failed check so callers can report them individually.
type SecurityRejection struct {
	Filename   string
	Violations []string
}

func (e *SecurityRejection) Error() string {
	return fmt.Sprintf("security check failed for %q: %s", e.Filename, strings.Join(e.Violations, ", "))
}

func (e *SecurityRejection) Is(target error) bool { return target == ErrSecurityRejected }

// ExtractionError wraps a type-specific extraction failure.
type ExtractionError struct {
	Type  string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %v", e.Type, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// RequestError is a non-2xx response from a remote fetch.
type RequestError struct {
	URL        string
	StatusCode int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

func (e *RequestError) Is(target error) bool { return target == ErrRequest }

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ToStatus maps a domain error onto a gRPC status error.
// Already-status errors pass through unchanged.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var reqErr *RequestError
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrSecurityRejected):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrOCRTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &reqErr):
		if reqErr.StatusCode == 404 {
			return status.Error(codes.NotFound, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrExtraction), errors.Is(err, ErrQueueJob), errors.Is(err, ErrLowQuality):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
