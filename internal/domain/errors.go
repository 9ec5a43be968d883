package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStorage indicates the conversation store failed
	ErrStorage = errors.New("storage error")
	// ErrEmptyDocument indicates a PDF with no extractable text
	ErrEmptyDocument = errors.New("no text found in PDF, the PDF might be image-based or empty")
	// ErrExtractionFailed indicates the PDF could not be parsed
	ErrExtractionFailed = errors.New("error processing PDF")
)

// IsValidation reports whether err should be answered with 400
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyDocument) ||
		errors.Is(err, ErrExtractionFailed)
}

// DetailError carries a client-facing message for one of the sentinels above
type DetailError struct {
	Kind   error
	Detail string
}

func (e *DetailError) Error() string { return e.Detail }

func (e *DetailError) Unwrap() error { return e.Kind }

// Detailed wraps kind with a client-facing message
func Detailed(kind error, format string, args ...any) error {
	return &DetailError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
