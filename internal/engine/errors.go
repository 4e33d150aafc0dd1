package engine

import (
	"errors"
	"fmt"
)

// Error codes returned by engine operations.
const (
	CodeChecklistNotFinalized   = "CHECKLIST_NOT_FINALIZED"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeTaskAlreadyLocked       = "TASK_ALREADY_LOCKED"
	CodeTaskNotLocked           = "TASK_NOT_LOCKED"
	CodeTaskCompleted           = "TASK_COMPLETED"
	CodeTaskLocked              = "TASK_LOCKED"
	CodeReasonRequired          = "REASON_REQUIRED"
	CodeUnlockRequestPending    = "UNLOCK_REQUEST_PENDING"
	CodeRequestAlreadyReviewed  = "REQUEST_ALREADY_REVIEWED"
	CodeInvalidDecision         = "INVALID_DECISION"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeProjectNotFound         = "PROJECT_NOT_FOUND"
	CodeTaskNotFound            = "TASK_NOT_FOUND"
	CodeRequestNotFound         = "REQUEST_NOT_FOUND"
	CodeChecklistItemNotFound   = "CHECKLIST_ITEM_NOT_FOUND"
	CodeRoleNotFound            = "ROLE_NOT_FOUND"
	CodeAPIKeyNotFound          = "API_KEY_NOT_FOUND"
	CodeValidation              = "VALIDATION_FAILED"
)

// Error is a rejection detected before any write. Two errors match under
// errors.Is when their codes are equal.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code, msg string, details map[string]any) *Error {
	return &Error{Code: code, Message: msg, Details: details}
}

// Sentinels for errors.Is checks.
var (
	ErrChecklistNotFinalized   = &Error{Code: CodeChecklistNotFinalized}
	ErrInvalidStatusTransition = &Error{Code: CodeInvalidStatusTransition}
	ErrTaskAlreadyLocked       = &Error{Code: CodeTaskAlreadyLocked}
	ErrTaskNotLocked           = &Error{Code: CodeTaskNotLocked}
	ErrTaskCompleted           = &Error{Code: CodeTaskCompleted}
	ErrTaskLocked              = &Error{Code: CodeTaskLocked}
	ErrReasonRequired          = &Error{Code: CodeReasonRequired}
	ErrUnlockRequestPending    = &Error{Code: CodeUnlockRequestPending}
	ErrRequestAlreadyReviewed  = &Error{Code: CodeRequestAlreadyReviewed}
	ErrInvalidDecision         = &Error{Code: CodeInvalidDecision}
	ErrInsufficientPermissions = &Error{Code: CodeInsufficientPermissions}
	ErrProjectNotFound         = &Error{Code: CodeProjectNotFound}
	ErrTaskNotFound            = &Error{Code: CodeTaskNotFound}
	ErrRequestNotFound         = &Error{Code: CodeRequestNotFound}
	ErrChecklistItemNotFound   = &Error{Code: CodeChecklistItemNotFound}
	ErrRoleNotFound            = &Error{Code: CodeRoleNotFound}
	ErrAPIKeyNotFound          = &Error{Code: CodeAPIKeyNotFound}
	ErrValidation              = &Error{Code: CodeValidation}
)

// CodeOf returns the code of an engine error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
