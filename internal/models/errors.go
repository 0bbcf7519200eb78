package models

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Every failure the core surfaces maps to one of
// these so the caller can render a stable message without inspecting
// internal detail. Wrap with fmt.Errorf("...: %w", err) and test with
// errors.Is.
var (
	// ErrUnreadableDocument: ingestion extracted no text. Fatal for the
	// document; the user must re-upload.
	ErrUnreadableDocument = errors.New("document yielded no extractable text")

	// ErrNoContent: retrieval against a document with zero chunks.
	ErrNoContent = errors.New("document has no retrievable content")

	// ErrDocumentDisabled: the admin toggle gates this document out of
	// generation. A disabled document is a precondition violation of the
	// same kind as an empty one, so this matches ErrNoContent too.
	ErrDocumentDisabled = fmt.Errorf("%w: document is not enabled for generation", ErrNoContent)

	// ErrGenerationParse: the model's question output did not fit the
	// expected structure after one repair attempt. Nothing is persisted.
	ErrGenerationParse = errors.New("generation output could not be parsed")

	// ErrEvaluationParse: same policy for the scoring call.
	ErrEvaluationParse = errors.New("evaluation output could not be parsed")

	// ErrGenerationUnavailable: transport or capability failure on the
	// generation call. Retryable by the caller; the core does not loop.
	ErrGenerationUnavailable = errors.New("generation capability unavailable")

	// ErrEvaluationUnavailable: transport or capability failure on the
	// scoring call.
	ErrEvaluationUnavailable = errors.New("evaluation capability unavailable")

	// ErrNotFound: the referenced document or question does not exist.
	ErrNotFound = errors.New("not found")
)
