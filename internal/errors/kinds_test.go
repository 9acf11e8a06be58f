package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedKindConstructors_SetExpectedCode(t *testing.T) {
	tests := []struct {
		name string
		err  *AmanError
		code string
	}{
		{"not found", NotFoundError("doc missing", nil), ErrCodeNotFound},
		{"rejected", RejectedError("quarantined", nil), ErrCodeRejected},
		{"extraction", ExtractionError("parse failed", nil), ErrCodeExtractionFailed},
		{"embedding", EmbeddingError("embed call failed", nil), ErrCodeEmbeddingFailed},
		{"index corruption", IndexCorruptionError("truncated index", nil), ErrCodeIndexCorruption},
		{"bad request", BadRequestError("empty query", nil), ErrCodeBadRequest},
		{"cancelled", CancelledError("shutdown", nil), ErrCodeCancelled},
		{"path escapes root", PathEscapesRootError("../etc/passwd", nil), ErrCodePathEscapesRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestSentinels_MatchConstructedErrors(t *testing.T) {
	// given an error constructed deep inside a lookup operation
	err := NotFoundError("document.md not found", nil)

	// then errors.Is matches the package sentinel by code, not identity
	assert.True(t, stderrors.Is(err, ErrNotFound))
	assert.False(t, stderrors.Is(err, ErrRejected))
}
