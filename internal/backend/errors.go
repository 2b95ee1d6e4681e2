package backend

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable matches every *UnavailableError.
var ErrUnavailable = errors.New("no bundler backend available")

// CodeUnavailable is the error code of UnavailableError.
const CodeUnavailable = "BACKEND_UNAVAILABLE"

// ProbeError records why one variant could not be loaded.
type ProbeError struct {
	Kind Kind
	Err  error
}

// UnavailableError reports that every probe failed.
type UnavailableError struct {
	Code     string
	Attempts []ProbeError
}

func (e *UnavailableError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Kind, a.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, ErrUnavailable, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrUnavailable) hold.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unwrap returns the individual probe failures.
func (e *UnavailableError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// IsUnavailable reports whether err is a backend availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
