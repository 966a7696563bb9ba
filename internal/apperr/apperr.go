// Package apperr defines the engine's error taxonomy. Codes are stable and
// part of the API contract: clients branch on them, in particular on
// CodeAdminTransferRequired which drives the promote-then-retry leave flow.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeNotAMember            Code = "NOT_A_MEMBER"
	CodeNotAuthorized         Code = "NOT_AUTHORIZED"
	CodeAlreadyMember         Code = "ALREADY_MEMBER"
	CodeAdminTransferRequired Code = "ADMIN_TRANSFER_REQUIRED"
	CodeNoOnlineParticipants  Code = "NO_ONLINE_PARTICIPANTS"
	CodeBusy                  Code = "BUSY"
	CodePersistence           Code = "PERSISTENCE_FAILURE"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error { return New(CodeInvalidArgument, msg) }

func NotFound(msg string) error { return New(CodeNotFound, msg) }

func NotAMember(msg string) error { return New(CodeNotAMember, msg) }

func NotAuthorized(msg string) error { return New(CodeNotAuthorized, msg) }

func AlreadyMember(msg string) error { return New(CodeAlreadyMember, msg) }

func AdminTransferRequired(msg string) error { return New(CodeAdminTransferRequired, msg) }

func NoOnlineParticipants(msg string) error { return New(CodeNoOnlineParticipants, msg) }

func Busy(msg string) error { return New(CodeBusy, msg) }

func Persistence(msg string, cause error) error { return Wrap(CodePersistence, msg, cause) }

// CodeOf extracts the taxonomy code from err, or CodeUnknown for foreign
// errors. Call sites use this instead of string-matching messages.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }

// Retryable reports whether the caller may simply retry the same call.
func Retryable(err error) bool { return CodeOf(err) == CodeBusy }
