package errors

import "errors"

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskTerminal  = errors.New("task already terminal")
	ErrCancelled     = errors.New("task cancelled")
	ErrInvalidSource = errors.New("invalid task source")
)

// IsCancellation reports whether err carries the cooperative-abort signal.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}
