package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Code classifies a failed chain call.
type Code int

const (
	CodeUnknown Code = iota
	CodeRPC
	CodeNotPrivileged
	CodeDuplicateApprover
	CodeAlreadyExecuted
	CodeNotExecutable
	CodeUnknownRequest
	CodePaused
	CodeInsufficientFunds
	CodeTransferFailed
	CodeOmnibusNotSet
	CodeDailyLimitExceeded
	CodeNotWhitelisted
	// CodePending: the transaction was sent but no receipt arrived in time.
	CodePending
	// CodeReverted: mined with status 0 and no decodable reason.
	CodeReverted
)

var codeNames = map[Code]string{
	CodeUnknown:            "unknown",
	CodeRPC:                "rpc",
	CodeNotPrivileged:      "not_privileged",
	CodeDuplicateApprover:  "duplicate_approver",
	CodeAlreadyExecuted:    "already_executed",
	CodeNotExecutable:      "not_executable",
	CodeUnknownRequest:     "unknown_request",
	CodePaused:             "paused",
	CodeInsufficientFunds:  "insufficient_funds",
	CodeTransferFailed:     "transfer_failed",
	CodeOmnibusNotSet:      "omnibus_not_set",
	CodeDailyLimitExceeded: "daily_limit_exceeded",
	CodeNotWhitelisted:     "not_whitelisted",
	CodePending:            "pending",
	CodeReverted:           "reverted",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// revertCodes maps the contracts' custom errors onto Codes. Anything not
// listed stays CodeUnknown.
var revertCodes = map[string]Code{
	"NotOwner":                   CodeNotPrivileged,
	"OwnableUnauthorizedAccount": CodeNotPrivileged,
	"NotManager":                 CodeNotPrivileged,
	"NotTss":                     CodeNotPrivileged,
	"NotManagerOrOwner":          CodeNotPrivileged,
	"OnlyAdmin1OrAdmin2":         CodeNotPrivileged,
	"DuplicateApprover":          CodeDuplicateApprover,
	"AlreadyExecuted":            CodeAlreadyExecuted,
	"NotExecutable":              CodeNotExecutable,
	"UnknownTx":                  CodeUnknownRequest,
	"PausedError":                CodePaused,
	"Insufficient":               CodeInsufficientFunds,
	"TransferFailed":             CodeTransferFailed,
	"OmnibusNotSet":              CodeOmnibusNotSet,
	"DailyLimitExceeded":         CodeDailyLimitExceeded,
	"NotWhitelisted":             CodeNotWhitelisted,
}

var (
	ErrNoSigner        = errors.New("no signer for seat")
	ErrReceiptTimeout  = errors.New("receipt not available before timeout")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrMoveIDNotFound  = errors.New("MoveRequested log not found in receipt")
	ErrNotExecution    = errors.New("transaction is not an omnibus execute call")
	ErrChainIDMismatch = errors.New("rpc chain id does not match configuration")
)

// Error is returned by every contract call and transaction.
type Error struct {
	Op     string
	Code   Code
	Revert string
	TxHash common.Hash
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Code.String()
	if e.Revert != "" {
		msg += " (" + e.Revert + ")"
	}
	if e.TxHash != (common.Hash{}) {
		msg += " tx=" + e.TxHash.Hex()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the Code carried by err, CodeUnknown otherwise.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

func IsCode(err error, code Code) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}

// TxHashOf returns the hash of a sent transaction carried by err.
func TxHashOf(err error) common.Hash {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.TxHash
	}
	return common.Hash{}
}

// classify turns an RPC error into *Error, decoding revert data against the
// given contract ABI when the node attached any.
func classify(op string, parsed *abi.ABI, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	name, code, ok := decodeRevert(parsed, err)
	if !ok {
		return &Error{Op: op, Code: CodeRPC, Err: err}
	}
	return &Error{Op: op, Code: code, Revert: name, Err: err}
}

func decodeRevert(parsed *abi.ABI, err error) (string, Code, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return "", CodeUnknown, false
	}
	data := revertData(de.ErrorData())
	if len(data) < 4 {
		return "", CodeUnknown, true
	}
	return decodeRevertData(parsed, data)
}

func decodeRevertData(parsed *abi.ABI, data []byte) (string, Code, bool) {
	if parsed != nil {
		for name, e := range parsed.Errors {
			if bytes.Equal(e.ID[:4], data[:4]) {
				return name, revertCodes[name], true
			}
		}
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason, CodeUnknown, true
	}
	return "", CodeUnknown, true
}

func revertData(v interface{}) []byte {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil {
			return nil
		}
		return b
	case []byte:
		return d
	case hexutil.Bytes:
		return d
	default:
		return nil
	}
}
