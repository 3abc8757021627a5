package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline stage names
const (
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StageSynthesize = "synthesize"
)

var (
	// ErrUnsupportedLanguage is returned for a language missing from the language table
	ErrUnsupportedLanguage = errors.New("pipeline: unsupported language")

	// ErrEmptyText is returned when a capability is asked to work on empty text
	ErrEmptyText = errors.New("pipeline: empty text")

	// ErrFormatMismatch is returned when synthesized audio is not in the expected format
	ErrFormatMismatch = errors.New("pipeline: audio format mismatch")
)

// TranscriptionError wraps a speech recognition failure
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Stage returns the failing pipeline stage
func (e *TranscriptionError) Stage() string { return StageTranscribe }

// TranslationError wraps a translation failure for one segment
type TranslationError struct {
	Segment int
	Err     error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation of segment %d failed: %v", e.Segment, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Stage returns the failing pipeline stage
func (e *TranslationError) Stage() string { return StageTranslate }

// SynthesisError wraps a speech synthesis failure for one segment
type SynthesisError struct {
	Segment int
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis of segment %d failed: %v", e.Segment, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Stage returns the failing pipeline stage
func (e *SynthesisError) Stage() string { return StageSynthesize }

// StageOf returns the pipeline stage that produced err, or "" when err did
// not come from a capability
func StageOf(err error) string {
	var staged interface{ Stage() string }
	if errors.As(err, &staged) {
		return staged.Stage()
	}
	return ""
}

// APIError represents an error response from a capability endpoint
type APIError struct {
	// StatusCode is the HTTP status code
	StatusCode int

	// Message is the response body or error message
	Message string

	// Endpoint identifies the capability that returned the error
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pipeline [%s]: API error %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429)
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true if this is a server-side error (HTTP 5xx)
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// transportError marks failures below HTTP (dial, reset, timeout) as retryable
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }
