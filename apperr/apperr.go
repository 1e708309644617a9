// Package apperr defines the error taxonomy returned by the custody workflows.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuthorization
	KindInsufficientBalance
	KindChainFailure
	// KindPartialCompletion marks a workflow that changed chain state but did not
	// finish; the error carries what an operator needs to resume.
	KindPartialCompletion
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindChainFailure:
		return "chain_failure"
	case KindPartialCompletion:
		return "partial_completion"
	default:
		return "internal"
	}
}

// Error codes shared by the services and the HTTP layer.
const (
	CodeInvalidTxID            = "invalid_tx_id"
	CodeInvalidMoveID          = "invalid_move_id"
	CodeInvalidAmount          = "invalid_amount"
	CodeInvalidAddress         = "invalid_address"
	CodeInvalidTxHash          = "invalid_tx_hash"
	CodeInvalidCredential      = "invalid_credential"
	CodeUserNotFound           = "user_not_found"
	CodeUserFrozen             = "user_frozen"
	CodeUserKeyMismatch        = "user_key_mismatch"
	CodeRequestNotFound        = "request_not_found"
	CodeMoveNotFound           = "move_not_found"
	CodeAlreadyExecuted        = "already_executed"
	CodeTSSApprovalMissing     = "tss_approval_missing"
	CodeManagerApprovalMissing = "manager_approval_missing"
	CodeAlreadyManagerApproved = "already_manager_approved"
	CodeApprovalIncomplete     = "approval_incomplete"
	CodeNotExecutable          = "not_executable"
	CodeDuplicateSettlement    = "duplicate_settlement"
	CodeInsufficientBalance    = "insufficient_balance"
	CodeDailyLimitExceeded     = "daily_limit_exceeded"
	CodeNotWhitelisted         = "not_whitelisted"
	CodePaused                 = "paused"
	CodeNotPrivileged          = "not_privileged"
	CodeDuplicateApprover      = "duplicate_approver"
	CodeChainCall              = "chain_call_failed"
	CodeExecutionPending       = "execution_pending"
	CodeSettlementPending      = "settlement_pending"
	CodeSecondApprovalFailed   = "second_approval_failed"
	CodeMoveIDUnavailable      = "move_id_unavailable"
	CodeTxNotFound             = "tx_not_found"
	CodeTxNotConfirmed         = "tx_not_confirmed"
	CodeTxFailed               = "tx_failed"
	CodeWrongRecipient         = "wrong_recipient"
	CodeInvalidStatus          = "invalid_status"
	CodeGuardUnavailable       = "guard_unavailable"
	CodeInvalidParameter       = "invalid_parameter"
	CodeUnauthenticated        = "unauthenticated"
	CodeForbidden              = "forbidden"
	CodeInternal               = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(code, msg string) *Error { return New(KindValidation, code, msg) }

func NotFound(code, msg string) *Error { return New(KindNotFound, code, msg) }

func Conflict(code, msg string) *Error { return New(KindConflict, code, msg) }

func Authorization(code, msg string) *Error { return New(KindAuthorization, code, msg) }

func Internal(msg string, err error) *Error { return Wrap(KindInternal, CodeInternal, msg, err) }

// KindOf reports the Kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or the empty string.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
