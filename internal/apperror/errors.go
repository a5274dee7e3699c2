// Package apperror defines the error taxonomy shared by the websocket and
// HTTP surfaces.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeRoomNotFound            Code = "ROOM_NOT_FOUND"
	CodeParticipantNotFound     Code = "PARTICIPANT_NOT_FOUND"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeInvalidRoomCode         Code = "INVALID_ROOM_CODE"
	CodeInvalidRole             Code = "INVALID_ROLE"
	CodeInvalidTimestamp        Code = "INVALID_TIMESTAMP"
	CodeInvalidYoutubeUrl       Code = "INVALID_YOUTUBE_URL"
	CodeMessageEmpty            Code = "MESSAGE_EMPTY"
	CodeMessageTooLong          Code = "MESSAGE_TOO_LONG"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeRoomInactive            Code = "ROOM_INACTIVE"
	CodeAuthRequired            Code = "AUTH_REQUIRED"
	CodeAuthInvalid             Code = "AUTH_INVALID"
	CodeInternal                Code = "INTERNAL_ERROR"
	CodeCodeGenerationExhausted Code = "CODE_GENERATION_EXHAUSTED"
	CodeServiceUnavailable      Code = "SERVICE_UNAVAILABLE"
)

// Kind groups codes into the coarse categories clients act on.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindInsufficientPermissions
	KindRoomInactive
	KindUnauthorized
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Kind() Kind {
	switch e.Code {
	case CodeRoomNotFound, CodeParticipantNotFound, CodeUserNotFound:
		return KindNotFound
	case CodeInvalidInput, CodeInvalidRoomCode, CodeInvalidRole, CodeInvalidTimestamp,
		CodeInvalidYoutubeUrl, CodeMessageEmpty, CodeMessageTooLong:
		return KindInvalidInput
	case CodeInsufficientPermissions:
		return KindInsufficientPermissions
	case CodeRoomInactive:
		return KindRoomInactive
	case CodeAuthRequired, CodeAuthInvalid:
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// StatusCode maps the error to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind() {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindInsufficientPermissions:
		return http.StatusForbidden
	case KindRoomInactive:
		return http.StatusGone
	case KindUnauthorized:
		return http.StatusUnauthorized
	}
	if e.Code == CodeServiceUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WithErr returns a copy of e wrapping err.
func (e *Error) WithErr(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrRoomNotFound            = newError(CodeRoomNotFound, "Room not found")
	ErrParticipantNotFound     = newError(CodeParticipantNotFound, "Participant not found in room")
	ErrUserNotFound            = newError(CodeUserNotFound, "User not found")
	ErrInvalidInput            = newError(CodeInvalidInput, "Invalid input")
	ErrInvalidRoomCode         = newError(CodeInvalidRoomCode, "Invalid room code format")
	ErrInvalidRole             = newError(CodeInvalidRole, "Invalid role. Must be moderator or participant")
	ErrInvalidTimestamp        = newError(CodeInvalidTimestamp, "Invalid timestamp")
	ErrInvalidYoutubeUrl       = newError(CodeInvalidYoutubeUrl, "Invalid YouTube URL")
	ErrMessageEmpty            = newError(CodeMessageEmpty, "Message cannot be empty")
	ErrMessageTooLong          = newError(CodeMessageTooLong, "Message is too long (max 500 characters)")
	ErrInsufficientPermissions = newError(CodeInsufficientPermissions, "Insufficient permissions")
	ErrRoomInactive            = newError(CodeRoomInactive, "Room is no longer active")
	ErrAuthRequired            = newError(CodeAuthRequired, "Authentication required")
	ErrAuthInvalid             = newError(CodeAuthInvalid, "Invalid authentication token")
	ErrInternal                = newError(CodeInternal, "Internal server error")
	ErrCodeGenerationExhausted = newError(CodeCodeGenerationExhausted, "Unable to generate a unique room code")
	ErrServiceUnavailable      = newError(CodeServiceUnavailable, "Service unavailable")
)

// InvalidInput returns an INVALID_INPUT error with a specific message.
func InvalidInput(msg string) *Error {
	return newError(CodeInvalidInput, msg)
}

// Forbidden returns an INSUFFICIENT_PERMISSIONS error with a specific message.
func Forbidden(msg string) *Error {
	return newError(CodeInsufficientPermissions, msg)
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return ErrInternal.WithErr(err)
}

// From converts err into the taxonomy. Errors that are not already an *Error
// become INTERNAL_ERROR.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
