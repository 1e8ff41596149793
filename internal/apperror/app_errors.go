package apperror

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomLocked        = errors.New("room is locked, game already started")
	ErrNotAuthorized     = errors.New("only the host can do that")
	ErrInvalidInput      = errors.New("invalid input")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrRoomCodeExhausted = errors.New("could not allocate a room code")
)

// Wire codes sent in error messages.
const (
	CodeRoomNotFound     = "RoomNotFound"
	CodeRoomLocked       = "RoomLocked"
	CodeNotAuthorized    = "NotAuthorized"
	CodeInvalidInput     = "InvalidInput"
	CodeMalformedMessage = "MalformedMessage"
	CodeInternal         = "Internal"
)

// Code maps an error chain to the code reported to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, ErrRoomLocked):
		return CodeRoomLocked
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrMalformedMessage):
		return CodeMalformedMessage
	default:
		return CodeInternal
	}
}

// Message returns the short human readable text for err's code.
func Message(err error) string {
	switch Code(err) {
	case CodeRoomNotFound:
		return "Room not found"
	case CodeRoomLocked:
		return "Game already started"
	case CodeNotAuthorized:
		return "Only the host can start the game"
	case CodeInvalidInput:
		return err.Error()
	case CodeMalformedMessage:
		return "Malformed message"
	default:
		return "Internal error"
	}
}
