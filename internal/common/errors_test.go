package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", NewValidationError("file", "empty csv"), codes.InvalidArgument},
		{"wrapped validation", fmt.Errorf("upload: %w", ErrValidation), codes.InvalidArgument},
		{"security", &SecurityRejection{Filename: "a.exe", Violations: []string{"dangerous-extension"}}, codes.PermissionDenied},
		{"extraction", &ExtractionError{Type: "PDF", Cause: errors.New("bad xref")}, codes.FailedPrecondition},
		{"ocr timeout", fmt.Errorf("image: %w", ErrOCRTimeout), codes.DeadlineExceeded},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"not found", fmt.Errorf("evidence x: %w", ErrNotFound), codes.NotFound},
		{"remote 404", &RequestError{URL: "http://x", StatusCode: 404}, codes.NotFound},
		{"remote 500", &RequestError{URL: "http://x", StatusCode: 500}, codes.Unavailable},
		{"queue", fmt.Errorf("%w: unknown type", ErrQueueJob), codes.FailedPrecondition},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(ToStatus(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.want, st.Code())
		})
	}

	assert.NoError(t, ToStatus(nil))
	passthrough := status.Error(codes.Aborted, "x")
	assert.Equal(t, passthrough, ToStatus(passthrough))
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("corrupt")
	extErr := &ExtractionError{Type: "EXCEL", Cause: cause}
	assert.ErrorIs(t, extErr, ErrExtraction)
	assert.ErrorIs(t, extErr, cause)

	var rej *SecurityRejection
	wrapped := fmt.Errorf("upload: %w", &SecurityRejection{Filename: "x", Violations: []string{"a", "b"}})
	require.ErrorAs(t, wrapped, &rej)
	assert.Equal(t, []string{"a", "b"}, rej.Violations)
	assert.Contains(t, wrapped.Error(), "a, b")

	appErr := NewAppError("CONFIG_ERROR", "bad", ErrInvalidInput)
	assert.ErrorIs(t, appErr, ErrInvalidInput)
	assert.Equal(t, "CONFIG_ERROR: bad: invalid input", appErr.Error())
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	v.Field("name", "", Required).
		Field("limit", -1, NonNegative).
		Field("workers", 0, Positive).
		Field("backend", "ftp", OneOf("local", "s3")).
		Check(true, "ok", "never recorded")

	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 4)
	err := v.Error()
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, v.ErrorMessage(), "must be one of [local, s3]")

	assert.NoError(t, NewValidator().Field("n", 3, Positive).Error())
}
