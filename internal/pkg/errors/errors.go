package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalid        = errors.New("invalid")
	ErrConflict       = errors.New("conflict")
	ErrTooLarge       = errors.New("too large")
	ErrInternal       = errors.New("internal")
	ErrRenderNotReady = errors.New("render surface not ready")
	ErrNoAssetLoaded  = errors.New("no asset loaded")
	ErrSessionClosed  = errors.New("upload session closed")
)

// DecodeError reports bytes the decode capability could not turn into a scene.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode asset: %s", e.Reason)
}

func NewDecodeError(format string, args ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
