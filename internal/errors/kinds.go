package errors

// Typed constructors for the error kinds spec §7 names, each a thin
// wrapper over New/Wrap so callers get consistent codes/categories
// without hand-rolling them at each call site. IoError already exists
// as IOError; no separate alias is added for it.

// NotFoundError creates a not-found error for lookup operations
// (get_document, delete_document, reindex_document).
func NotFoundError(message string, cause error) *AmanError {
	return New(ErrCodeNotFound, message, cause)
}

// RejectedError creates an error for files the validator quarantined
// or marked rejected at ingest.
func RejectedError(message string, cause error) *AmanError {
	return New(ErrCodeRejected, message, cause)
}

// ExtractionError creates an error for a failed extraction attempt.
// The pipeline retries once with the repair path before marking the
// item failed.
func ExtractionError(message string, cause error) *AmanError {
	return New(ErrCodeExtractionFailed, message, cause)
}

// EmbeddingError creates an error for a failed embedding call. The
// whole document fails and its progress is marked failed.
func EmbeddingError(message string, cause error) *AmanError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// IndexCorruptionError creates an error for a corrupted vector index.
// Callers should switch to the rebuild path and serve queries in
// degraded FTS-only mode until the rebuild completes.
func IndexCorruptionError(message string, cause error) *AmanError {
	return New(ErrCodeIndexCorruption, message, cause)
}

// BadRequestError creates an error for invalid control-plane input,
// returned to the caller unchanged.
func BadRequestError(message string, cause error) *AmanError {
	return New(ErrCodeBadRequest, message, cause)
}

// CancelledError creates an error for an operation that was
// interrupted by shutdown. Callers swallow it after ensuring the
// progress row reflects in_progress for the next startup scan.
func CancelledError(message string, cause error) *AmanError {
	return New(ErrCodeCancelled, message, cause)
}

// PathEscapesRootError creates an error for a path that resolves
// outside the project root.
func PathEscapesRootError(message string, cause error) *AmanError {
	return New(ErrCodePathEscapesRoot, message, cause)
}

// Sentinel values for errors.Is(err, errors.ErrNotFound)-style checks.
// AmanError.Is compares by Code, so any *AmanError built with the same
// code matches these regardless of message or cause.
var (
	ErrNotFound   = New(ErrCodeNotFound, "not found", nil)
	ErrRejected   = New(ErrCodeRejected, "rejected", nil)
	ErrBadRequest = New(ErrCodeBadRequest, "bad request", nil)
	ErrCancelled  = New(ErrCodeCancelled, "cancelled", nil)
)
