package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConstruction     = errors.New("index construction failed")
	ErrResource         = errors.New("resource limit exceeded")
	ErrNoUsableQuery    = errors.New("query has no usable representation")
	ErrIndexNotReady    = errors.New("index not ready")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreUnavailable = errors.New("artifact store unavailable")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// BuildError describes a fatal failure while building an index. Kind is
// either ErrConstruction or ErrResource. Word and Document are -1 when they
// do not apply.
type BuildError struct {
	Kind        error
	Stage       string
	Word        int
	Document    int64
	Documents   int
	Descriptors int
	Reason      string
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Stage, e.Reason)
	if e.Word >= 0 {
		msg += fmt.Sprintf(" (word=%d)", e.Word)
	}
	if e.Document >= 0 {
		msg += fmt.Sprintf(" (document=%d)", e.Document)
	}
	if e.Documents > 0 || e.Descriptors > 0 {
		msg += fmt.Sprintf(" (documents=%d descriptors=%d)", e.Documents, e.Descriptors)
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Kind
}

// Construction returns a BuildError of kind ErrConstruction.
func Construction(stage, format string, args ...any) *BuildError {
	return &BuildError{
		Kind:     ErrConstruction,
		Stage:    stage,
		Word:     -1,
		Document: -1,
		Reason:   fmt.Sprintf(format, args...),
	}
}

// Resource returns a BuildError of kind ErrResource carrying the input size.
func Resource(stage string, documents, descriptors int, format string, args ...any) *BuildError {
	return &BuildError{
		Kind:        ErrResource,
		Stage:       stage,
		Word:        -1,
		Document:    -1,
		Documents:   documents,
		Descriptors: descriptors,
		Reason:      fmt.Sprintf(format, args...),
	}
}

func (e *BuildError) WithWord(word int) *BuildError {
	e.Word = word
	return e
}

func (e *BuildError) WithDocument(doc int64) *BuildError {
	e.Document = doc
	return e
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoUsableQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrIndexNotReady), errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrResource):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
