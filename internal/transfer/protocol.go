package transfer

import (
	"errors"
	"fmt"

	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

// Control frames are JSON text messages. Chunk bytes travel as binary
// messages between "ready" and the terminal reply.
const (
	TypeStart        = "start"
	TypeAbort        = "abort"
	TypeReady        = "ready"
	TypeAck          = "ack"
	TypeComplete     = "complete"
	TypeError        = "error"
	TypeAborted      = "aborted"
	TypeAssetUpdated = "asset_updated"
)

const (
	CodeConflict    = "conflict"
	CodeInvalid     = "invalid"
	CodeTooLarge    = "too_large"
	CodeWriteFailed = "write_failed"
	CodeProtocol    = "protocol"
)

type Message struct {
	Type                string `json:"type"`
	SessionID           string `json:"session_id,omitempty"`
	Filename            string `json:"filename,omitempty"`
	Name                string `json:"name,omitempty"`
	Size                int64  `json:"size,omitempty"`
	BytesWritten        int64  `json:"bytes_written,omitempty"`
	TotalSize           int64  `json:"total_size,omitempty"`
	ChunkSize           int    `json:"chunk_size,omitempty"`
	TransmissionDelayMs int    `json:"transmission_delay_ms,omitempty"`
	Code                string `json:"code,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// ErrorCode classifies a session failure for the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, appErr.ErrConflict):
		return CodeConflict
	case errors.Is(err, appErr.ErrTooLarge):
		return CodeTooLarge
	case errors.Is(err, appErr.ErrInvalid), errors.Is(err, appErr.ErrSessionClosed):
		return CodeInvalid
	default:
		return CodeWriteFailed
	}
}

// RemoteError is a failure reported by the server in an "error" frame.
type RemoteError struct {
	Code   string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("upload rejected (%s): %s", e.Code, e.Reason)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeConflict:
		return appErr.ErrConflict
	case CodeTooLarge:
		return appErr.ErrTooLarge
	case CodeInvalid, CodeProtocol:
		return appErr.ErrInvalid
	default:
		return nil
	}
}
