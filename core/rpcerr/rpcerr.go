// Package rpcerr defines the wire-level protocol error codes of spec §6 and
// the recursive execution-error frame used to report contract-call failures.
package rpcerr

import "fmt"

// Code is a numeric on-wire error code, stable across RPC spec versions.
type Code int

// Wire error codes from spec §6.
const (
	CodeBlockNotFound                  Code = 24
	CodeContractNotFound               Code = 20
	CodeTransactionHashNotFound        Code = 29
	CodeInvalidTransactionIndex        Code = 27
	CodeClassHashNotFound              Code = 28
	CodeContractError                  Code = 40
	CodeTransactionExecutionError      Code = 41
	CodeNoBlocks                       Code = 32
	CodePageSizeTooBig                 Code = 31
	CodeInvalidContinuationToken       Code = 33
	CodeTooManyKeysInFilter            Code = 34
	CodeClassAlreadyDeclared           Code = 51
	CodeInvalidContractClass           Code = 50
	CodeInsufficientResourcesValidate  Code = 53
	CodeInvalidTransactionNonce        Code = 52
	CodeInsufficientAccountBalance     Code = 54
	CodeValidationFailure              Code = 55
	CodeCompiledClassHashMismatch      Code = 60
	CodeTooManyBlocksBack              Code = 68
	CodeCallOnPendingForbidden         Code = 69
	CodeInvalidSubscriptionId          Code = 66
	CodeInvalidRequest                 Code = 400
)

// Error is a typed protocol error recovered at the RPC boundary. The core
// returns this enum internally; a JSON-RPC transport maps it onto the wire.
type Error struct {
	Code    Code
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpcerr %d: %s", e.Code, e.Message)
}

// New builds an Error with no additional data payload.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData attaches a data payload (e.g. an ExecutionErrorFrame) and returns
// the same error for chaining at the construction site.
func (e *Error) WithData(data interface{}) *Error {
	e.Data = data
	return e
}

// ExecutionErrorFrame is one level of the recursive stack reported for
// TransactionExecutionError / contractError (spec §6).
type ExecutionErrorFrame struct {
	ContractAddress string      `json:"contract_address"`
	ClassHash       string      `json:"class_hash"`
	Selector        string      `json:"selector"`
	Error           interface{} `json:"error"` // *ExecutionErrorFrame or string
}

// TransactionExecutionErrorData is the payload carried by
// CodeTransactionExecutionError.
type TransactionExecutionErrorData struct {
	TransactionIndex int                  `json:"transaction_index"`
	ExecutionError   ExecutionErrorFrame  `json:"execution_error"`
}

// Is reports whether err is an *Error with the given code, without unwrapping.
func Is(err error, code Code) bool {
	rpcErr, ok := err.(*Error)
	return ok && rpcErr.Code == code
}
