package scene

import "errors"

// Failure taxonomy shared by every layer. Callers wrap these with
// fmt.Errorf("...: %w", ErrX) and classify with errors.Is or KindOf.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrIOFailure    = errors.New("io failure")
	ErrDegradedMode = errors.New("degraded mode")
	ErrInternal     = errors.New("internal error")
)

// Kind names used on the protocol boundary.
const (
	KindInvalidInput = "InvalidInput"
	KindNotFound     = "NotFound"
	KindConflict     = "Conflict"
	KindIOFailure    = "IOFailure"
	KindDegradedMode = "DegradedMode"
	KindInternal     = "Internal"
)

// KindOf classifies err into one of the taxonomy kinds. Unclassified
// errors are Internal.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrIOFailure):
		return KindIOFailure
	case errors.Is(err, ErrDegradedMode):
		return KindDegradedMode
	default:
		return KindInternal
	}
}
