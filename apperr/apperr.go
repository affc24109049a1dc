// Package apperr defines the typed failures reported back to a caller.
package apperr

import (
	"errors"
	"fmt"
)

// Error is a validation failure with a stable wire code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// New creates an Error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns a copy of base with a more specific message. The result still
// matches base under errors.Is.
func Wrap(base *Error, format string, args ...any) error {
	return &wrapped{base: base, msg: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	base *Error
	msg  string
}

func (w *wrapped) Error() string { return w.base.Code + ": " + w.msg }
func (w *wrapped) Unwrap() error { return w.base }

// 错误码
var (
	ErrUnauthenticated   = New("UNAUTHENTICATED", "missing or invalid identity")
	ErrBadRequest        = New("BAD_REQUEST", "malformed request")
	ErrUnknownType       = New("UNKNOWN_TYPE", "unknown message type")
	ErrRoomNotFound      = New("ROOM_NOT_FOUND", "room not found")
	ErrNotInRoom         = New("NOT_IN_ROOM", "you are not a member of this room")
	ErrWrongPassword     = New("WRONG_PASSWORD", "room password does not match")
	ErrRoomFull          = New("ROOM_FULL", "room is full")
	ErrRoomExpired       = New("ROOM_EXPIRED", "room has expired")
	ErrRoomClosed        = New("ROOM_CLOSED", "room has been closed")
	ErrNotCreator        = New("NOT_CREATOR", "only the room creator can start the game")
	ErrNotEnoughPlayers  = New("NOT_ENOUGH_PLAYERS", "at least 2 players are required")
	ErrNotWaiting        = New("GAME_NOT_WAITING", "room is not waiting for a new game")
	ErrNotInProgress     = New("GAME_NOT_IN_PROGRESS", "no game in progress")
	ErrDrawPileEmpty     = New("DRAW_PILE_EMPTY", "draw pile is empty")
	ErrTileNotInHand     = New("TILE_NOT_IN_HAND", "tile is not in your hand")
	ErrTileNotInDiscards = New("TILE_NOT_IN_DISCARDS", "tile is not in the discard pile")
	ErrTileNotRevealed   = New("TILE_NOT_REVEALED", "tile is not among your revealed tiles")
	ErrNoPendingClaim    = New("NO_PENDING_CLAIM", "no win claim is pending")
	ErrNotEligible       = New("NOT_ELIGIBLE", "you are not eligible to vote on this claim")
	ErrCannotLeave       = New("CANNOT_LEAVE", "you cannot leave while a game is in progress")
	ErrNoRoomCodes       = New("NO_ROOM_CODES", "no free room codes")
	ErrInternal          = New("INTERNAL", "internal error")
)

// CodeOf maps any error to a wire code. Errors outside the taxonomy map to INTERNAL.
func CodeOf(err error) string {
	var w *wrapped
	if errors.As(err, &w) {
		return w.base.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}

// MessageOf returns the human readable part of err.
func MessageOf(err error) string {
	var w *wrapped
	if errors.As(err, &w) {
		return w.msg
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}
