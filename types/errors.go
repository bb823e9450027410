package types

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeAlreadyAdmin       = "ALREADY_ADMIN"
	CodeNotAdmin           = "NOT_ADMIN"
	CodeLastAdminViolation = "LAST_ADMIN_VIOLATION"
	CodePriceMismatch      = "PRICE_MISMATCH"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeEmptyBalance       = "EMPTY_BALANCE"
	CodeInvalidCoinType    = "INVALID_COIN_TYPE"
	CodeBalanceOverflow    = "BALANCE_OVERFLOW"
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeInvalidPrice       = "INVALID_PRICE"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeRateLimited        = "RATE_LIMITED"
)

// GasStationError is returned by every rejected station operation.
type GasStationError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *GasStationError) Error() string {
	return e.Message
}

// Is matches any GasStationError with the same code, so errors.Is works
// against the sentinels below regardless of the message.
func (e *GasStationError) Is(target error) bool {
	t, ok := target.(*GasStationError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a GasStationError with a formatted message.
func NewError(code, format string, args ...interface{}) *GasStationError {
	return &GasStationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithData attaches structured context to the error.
func (e *GasStationError) WithData(data interface{}) *GasStationError {
	e.Data = data
	return e
}

var (
	ErrUnauthorized       = &GasStationError{Code: CodeUnauthorized, Message: "caller is not an admin"}
	ErrAlreadyAdmin       = &GasStationError{Code: CodeAlreadyAdmin, Message: "address is already an admin"}
	ErrNotAdmin           = &GasStationError{Code: CodeNotAdmin, Message: "address is not an admin"}
	ErrLastAdminViolation = &GasStationError{Code: CodeLastAdminViolation, Message: "cannot remove the last admin"}
	ErrPriceMismatch      = &GasStationError{Code: CodePriceMismatch, Message: "payment value does not match the gas price"}
	ErrInsufficientFunds  = &GasStationError{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrEmptyBalance       = &GasStationError{Code: CodeEmptyBalance, Message: "nothing to withdraw"}
	ErrInvalidCoinType    = &GasStationError{Code: CodeInvalidCoinType, Message: "unexpected coin type"}
	ErrBalanceOverflow    = &GasStationError{Code: CodeBalanceOverflow, Message: "balance overflow"}
	ErrInvalidAddress     = &GasStationError{Code: CodeInvalidAddress, Message: "invalid address"}
	ErrInvalidPrice       = &GasStationError{Code: CodeInvalidPrice, Message: "invalid price"}
	ErrInvalidConfig      = &GasStationError{Code: CodeInvalidConfig, Message: "invalid configuration"}
	ErrRateLimited        = &GasStationError{Code: CodeRateLimited, Message: "too many requests"}
)

// CodeOf returns the code of the GasStationError in err's chain, or "".
func CodeOf(err error) string {
	var gsErr *GasStationError
	if errors.As(err, &gsErr) {
		return gsErr.Code
	}
	return ""
}
