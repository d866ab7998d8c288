package polls

import "errors"

var (
	// ErrValidation is returned for malformed start-poll input.
	ErrValidation = errors.New("validation error")
	// ErrInvalidOption is returned when an answer is not one of the session's options.
	ErrInvalidOption = errors.New("invalid answer option")
	// ErrNoActivePoll is returned by submit/end when no session is active.
	ErrNoActivePoll = errors.New("no active poll")
	// ErrPersistence is returned by EndPoll when the archive write failed. The session is cleared regardless.
	ErrPersistence = errors.New("failed to archive poll")
	// ErrNotFound is returned by the archive for unknown ids.
	ErrNotFound = errors.New("poll not found")
)

// Error kinds sent to participants in error replies.
const (
	KindValidation  = "validation_error"
	KindInvalid     = "invalid_option"
	KindNoActive    = "no_active_poll"
	KindPersistence = "persistence_failure"
	KindInternal    = "internal_error"
)

// ErrorKind classifies err for the wire.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidOption):
		return KindInvalid
	case errors.Is(err, ErrNoActivePoll):
		return KindNoActive
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindInternal
	}
}

// PublicMessage returns the text sent to participants for err. Archive and internal
// errors map to a fixed message; the wrapped detail is only logged.
func PublicMessage(err error) string {
	switch ErrorKind(err) {
	case KindPersistence:
		return "poll ended but could not be archived"
	case KindInternal:
		return "internal error"
	default:
		return err.Error()
	}
}
