package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can pick a remediation message
type Kind string

const (
	KindValidation  Kind = "validation"
	KindGate        Kind = "gate"
	KindToolMissing Kind = "tool_missing"
	KindExternal    Kind = "external"
	KindResource    Kind = "resource"
)

// Error codes surfaced to HTTP clients and stored in failure reasons
const (
	CodeMissingURL          = "MISSING_URL"
	CodeInvalidURL          = "INVALID_URL"
	CodeMissingFile         = "MISSING_FILE"
	CodeInvalidFileType     = "INVALID_FILE_TYPE"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeInvalidAPIKey       = "INVALID_API_KEY"
	CodeRateLimited         = "RATE_LIMITED"
	CodeNoCredits           = "NO_OPENAI_CREDITS"
	CodeVideoTooLong        = "VIDEO_TOO_LONG"
	CodeAudioTooLarge       = "AUDIO_TOO_LARGE"
	CodeYtDlpNotInstalled   = "YT_DLP_NOT_INSTALLED"
	CodeFFmpegNotInstalled  = "FFMPEG_NOT_INSTALLED"
	CodeVideoInfo           = "VIDEO_INFO_ERROR"
	CodeDownloadFailed      = "DOWNLOAD_FAILED"
	CodeExtractionFailed    = "EXTRACTION_FAILED"
	CodeFileNotFound        = "FILE_NOT_FOUND"
	CodeTranscriptionFailed = "TRANSCRIPTION_FAILED"
	CodeSummarizeFailed     = "SUMMARIZATION_FAILED"
)

// Error is a classified failure. Message is user facing; Err keeps the
// underlying cause for logs and errors.Is/As.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error returns the user-facing message
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a classified error
func NewError(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Errorf builds a classified error with a formatted message and no cause
func Errorf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the classified error from err's chain
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// CodeOf returns the code carried by err, or "" when unclassified
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
