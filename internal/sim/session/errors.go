package session

import (
	"fmt"

	"loreweave.ai/internal/protocol"
)

type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Code() string  { return e.code }

var (
	ErrEmptyInput  = &Error{code: protocol.ErrBadRequest, msg: "empty input"}
	ErrNoSave      = &Error{code: protocol.ErrBadRequest, msg: "no such save"}
	ErrBadSaveID   = &Error{code: protocol.ErrBadRequest, msg: "malformed save id"}
	ErrNoPackages  = &Error{code: protocol.ErrNotAvailable, msg: "no packages are loaded"}
	ErrSessionGone = &Error{code: protocol.ErrInternal, msg: "session closed"}
)

// NarrationError is returned inside an Outcome when both narration attempts
// failed. The turn is still recorded.
type NarrationError struct {
	Cause error
}

func (e *NarrationError) Error() string {
	return fmt.Sprintf("narration unavailable: %v", e.Cause)
}

func (e *NarrationError) Unwrap() error { return e.Cause }
func (e *NarrationError) Code() string  { return protocol.ErrNarrationUnavailable }

// OriginError means the saved location no longer exists in the world.
type OriginError struct {
	Location string
}

func (e *OriginError) Error() string {
	return fmt.Sprintf("current location %q is not in the world", e.Location)
}

func (e *OriginError) Code() string { return protocol.ErrInvalidOrigin }
