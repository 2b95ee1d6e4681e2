package bundle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/ngbundle/internal/backend"
)

// ErrorCode categorizes orchestrator errors.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates a malformed Request.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeSourceMapFileMissing indicates a referenced source map absent
	// from the file cache.
	ErrCodeSourceMapFileMissing ErrorCode = "SOURCEMAP_FILE_MISSING"

	// ErrCodeBuildFailed indicates the backend could not produce a bundle.
	ErrCodeBuildFailed ErrorCode = "BUILD_FAILED"

	// ErrCodeWriteFailed indicates output files could not be written.
	ErrCodeWriteFailed ErrorCode = "WRITE_FAILED"

	// ErrCodeCachePersistFailed indicates the graph could not be saved
	// after a successful build.
	ErrCodeCachePersistFailed ErrorCode = "CACHE_PERSIST_FAILED"
)

// ErrGraphInUse is returned when a Graph is already owned by a running
// build.
var ErrGraphInUse = errors.New("build graph is in use by another build")

// RequestError reports every problem with a Request.
type RequestError struct {
	Code     ErrorCode
	Problems []string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, strings.Join(e.Problems, "; "))
}

// SourceMapFileMissingError reports a source map referenced by a module
// in the file cache but missing from it.
type SourceMapFileMissingError struct {
	Code ErrorCode
	// Path is the normalized path that was looked up.
	Path string
	// Module references the map.
	Module string
}

func (e *SourceMapFileMissingError) Error() string {
	return fmt.Sprintf("%s: %s: file not found in memory (referenced by %s)", e.Code, e.Path, e.Module)
}

// BuildError wraps a failed backend build.
type BuildError struct {
	Code     ErrorCode
	Messages []backend.Message
	Err      error
}

func (e *BuildError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	lines := make([]string, len(e.Messages))
	for i, m := range e.Messages {
		lines[i] = m.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, strings.Join(lines, "; "))
}

func (e *BuildError) Unwrap() error { return e.Err }

// WriteError reports a failed output write.
type WriteError struct {
	Code ErrorCode
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CachePersistError reports a failed graph save. It is returned together
// with a valid Result; the caller decides whether it is fatal.
type CachePersistError struct {
	Code ErrorCode
	Key  string
	Err  error
}

func (e *CachePersistError) Error() string {
	return fmt.Sprintf("%s: key %s: %v", e.Code, e.Key, e.Err)
}

func (e *CachePersistError) Unwrap() error { return e.Err }

// IsRequestError returns true if err is an invalid request.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// IsSourceMapFileMissing returns true if err reports a missing map.
func IsSourceMapFileMissing(err error) bool {
	var se *SourceMapFileMissingError
	return errors.As(err, &se)
}

// IsBuildError returns true if err is a failed build.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// IsWriteError returns true if err is a failed output write.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// IsCachePersistError returns true if err is a failed graph save.
func IsCachePersistError(err error) bool {
	var ce *CachePersistError
	return errors.As(err, &ce)
}

// Code returns the error code of any orchestrator or backend error, or ""
// when err is not one of them.
func Code(err error) string {
	var (
		re *RequestError
		se *SourceMapFileMissingError
		be *BuildError
		we *WriteError
		ce *CachePersistError
	)
	switch {
	case err == nil:
		return ""
	case backend.IsUnavailable(err):
		return backend.CodeUnavailable
	case errors.As(err, &re):
		return string(re.Code)
	case errors.As(err, &se):
		return string(se.Code)
	case errors.As(err, &be):
		return string(be.Code)
	case errors.As(err, &we):
		return string(we.Code)
	case errors.As(err, &ce):
		return string(ce.Code)
	}
	return ""
}
