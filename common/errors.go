// Package common - Shared error taxonomy, logging and output records.
package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// The error taxonomy shared by every package. Call sites wrap these with
// errors.Wrapf so that callers can match them with errors.Is.
var (
	// ErrInvalidGeometry is returned for a degenerate rectangle (x1 >= x2 or y1 >= y2).
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrInvalidLabel is returned for a flag or class index out of range.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrInvalidParameter is returned for thresholds outside [0, 1], non-positive grid
	// dimensions or a non-positive slot count.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrMissingConfigKey is returned when a required hyperparameter is absent.
	ErrMissingConfigKey = errors.New("missing config key")
	// ErrImageLoadFailure is returned when a source image is unreadable or does not
	// carry color channels.
	ErrImageLoadFailure = errors.New("image load failure")
)

// loadError ties an underlying I/O or decode error to ErrImageLoadFailure so that
// errors.Is matches both.
type loadError struct {
	msg   string
	cause error
}

func (e *loadError) Error() string {
	return e.msg + ": " + ErrImageLoadFailure.Error() + ": " + e.cause.Error()
}

// Is reports whether target is ErrImageLoadFailure.
func (e *loadError) Is(target error) bool { return target == ErrImageLoadFailure }

// Unwrap returns the underlying cause.
func (e *loadError) Unwrap() error { return e.cause }

// LoadFailure wraps cause as an ErrImageLoadFailure. Causes that already match
// ErrImageLoadFailure are only annotated with the message.
//
// Arguments:
//   - cause: The underlying error, for example from os.Open or image.Decode.
//   - format: The message format.
//   - args: The message arguments.
//
// Returns:
//   - error: An error matching both ErrImageLoadFailure and cause under errors.Is.
//
// @example
// return nil, common.LoadFailure(err, "open %s", path)
func LoadFailure(cause error, format string, args ...interface{}) error {
	if errors.Is(cause, ErrImageLoadFailure) {
		return errors.Wrapf(cause, format, args...)
	}
	return &loadError{msg: fmt.Sprintf(format, args...), cause: cause}
}
