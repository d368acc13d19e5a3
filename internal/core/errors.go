package core

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// Error codes for domain errors.
const (
	ErrCodeDuplicateName  = "duplicate_name"
	ErrCodeRoomNotFound   = "room_not_found"
	ErrCodeNotInRoom      = "not_in_room"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeAuthRequired   = "auth_required"
	ErrCodeTransientIO    = "transient_io"
	ErrCodeConnectionLost = "connection_lost"
	ErrCodeInternal       = "internal"
)

var (
	ErrDuplicateName  = errors.New("a room with this name already exists")
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotInRoom      = errors.New("not in room")
	ErrBadRequest     = errors.New("bad request")
	ErrAuthRequired   = errors.New("sign-in required")
	ErrTransientIO    = errors.New("store unavailable, try again")
	ErrConnectionLost = errors.New("connection lost")
	ErrInvalidRecord  = errors.New("invalid record")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ToCoreError classifies any error returned by this package.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrDuplicateName):
		return coreError(ErrCodeDuplicateName, ErrDuplicateName.Error())
	case errors.Is(err, ErrRoomNotFound):
		return coreError(ErrCodeRoomNotFound, ErrRoomNotFound.Error())
	case errors.Is(err, ErrNotInRoom):
		return coreError(ErrCodeNotInRoom, ErrNotInRoom.Error())
	case errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrAuthRequired):
		return coreError(ErrCodeAuthRequired, ErrAuthRequired.Error())
	case errors.Is(err, ErrConnectionLost):
		return coreError(ErrCodeConnectionLost, ErrConnectionLost.Error())
	case errors.Is(err, ErrTransientIO):
		return coreError(ErrCodeTransientIO, ErrTransientIO.Error())
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}

// transient marks a failed store call as retryable.
func transient(op string, err error) error {
	if errors.Is(err, docstore.ErrInvalidPath) {
		return fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientIO, err)
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, msg)
}
