package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	t.Parallel()

	plain := New(CategoryValidation, CodeInvalidArgument, "feature_id required")
	assert.Equal(t, "[VALIDATION:INVALID_ARGUMENT] feature_id required", plain.Error())

	wrapped := Persistence(CodeReadFailed, "list events", errors.New("connection refused"))
	assert.Equal(t, "[PERSISTENCE:READ_FAILED] list events: connection refused", wrapped.Error())
}

func TestError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := fmt.Errorf("aggregate day: %w", Persistence(CodeWriteFailed, "upsert", cause))

	require.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, New(CategoryPersistence, CodeWriteFailed, ""))
	assert.NotErrorIs(t, err, New(CategoryPersistence, CodeReadFailed, ""))
	assert.Equal(t, CategoryPersistence, CategoryOf(err))
	assert.Equal(t, CategoryInternal, CategoryOf(cause))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"persistence", Persistence(CodeUnavailable, "ping", nil), true},
		{"validation", Validation("bad date"), false},
		{"transient collaborator", New(CategoryCollaborator, CodeTransient, "429"), true},
		{"permanent collaborator", New(CategoryCollaborator, CodePermanent, "401"), false},
		{"foreign", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
