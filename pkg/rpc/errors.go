package rpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fortiblox/x1-vault/pkg/runtime"
	"github.com/fortiblox/x1-vault/pkg/staking"
	"github.com/fortiblox/x1-vault/pkg/token"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Vault-specific error codes.
const (
	// TransactionSignatureVerificationFailure indicates signature
	// verification failed.
	TransactionSignatureVerificationFailure = -32003

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// TransactionAlreadyProcessed indicates the transaction hash was
	// already recorded.
	TransactionAlreadyProcessed = -32007

	// TransactionExecutionFailure indicates the program rejected the
	// request.
	TransactionExecutionFailure = -32020

	// NotOwner indicates the signer does not own the staked token.
	NotOwner = -32021

	// AlreadyStaked indicates the token is already in custody.
	AlreadyStaked = -32022

	// NotStaked indicates the token is not in custody.
	NotStaked = -32023

	// InsufficientBalance indicates the token account does not hold
	// exactly one token.
	InsufficientBalance = -32024

	// RewardMintInitialized indicates a duplicate reward mint
	// initialization.
	RewardMintInitialized = -32025

	// InvalidMetadata indicates issue metadata that exceeds limits.
	InvalidMetadata = -32026

	// ClockUnavailable indicates the trusted clock could not be read.
	ClockUnavailable = -32027
)

// Common error values.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams  = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError  = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// AccountNotFoundError creates an error for account not found.
func AccountNotFoundError() *RPCError {
	return NewRPCError(InvalidParams, "Account not found")
}

// TransactionNotFoundError creates an error for transaction not found.
func TransactionNotFoundError() *RPCError {
	return NewRPCError(InvalidParams, "Transaction not found")
}

// ExecutionErrorCode maps a program execution error message back to
// the vault error code for sendTransaction responses. The engine
// reports program errors as strings, so the mapping matches on the
// sentinel messages.
func ExecutionErrorCode(msg string) int {
	switch {
	case contains(msg, staking.ErrNotOwner):
		return NotOwner
	case contains(msg, staking.ErrAlreadyStaked):
		return AlreadyStaked
	case contains(msg, staking.ErrNotStaked):
		return NotStaked
	case contains(msg, staking.ErrInsufficientBalance):
		return InsufficientBalance
	case contains(msg, staking.ErrRewardMintInitialized),
		contains(msg, token.ErrAlreadyInitialized):
		return RewardMintInitialized
	case contains(msg, staking.ErrInvalidMetadata):
		return InvalidMetadata
	case contains(msg, runtime.ErrClockUnavailable):
		return ClockUnavailable
	default:
		return TransactionExecutionFailure
	}
}

func contains(msg string, err error) bool {
	return strings.Contains(msg, err.Error())
}

// SubmitErrorToRPC maps an engine submission error to an RPC error.
func SubmitErrorToRPC(err error) *RPCError {
	switch {
	case errors.Is(err, runtime.ErrDuplicateTransaction):
		return NewRPCError(TransactionAlreadyProcessed, "Transaction already processed")
	case errors.Is(err, runtime.ErrInvalidSignature),
		errors.Is(err, runtime.ErrMissingSignature):
		return NewRPCError(TransactionSignatureVerificationFailure,
			"Transaction signature verification failure")
	case errors.Is(err, runtime.ErrInvalidTransactionData),
		errors.Is(err, runtime.ErrTooManyAccounts),
		errors.Is(err, runtime.ErrInstructionDataTooLong),
		errors.Is(err, runtime.ErrUnknownProgram):
		return InvalidParamsError(err.Error())
	default:
		return InternalServerErrorf("transaction failed: %v", err)
	}
}
