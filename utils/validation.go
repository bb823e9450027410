package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vitwit/gasstation/types"
)

var validate = validator.New()

// ValidateStruct runs the `validate` struct tags of v and reports the first
// failing fields as a GasStationError with the given code.
func ValidateStruct(v interface{}, code string) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return types.NewError(code, "validation failed: %v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
	}
	return types.NewError(code, "validation failed: %s", strings.Join(msgs, "; "))
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

// ValidateAmount checks that amount is a non-negative decimal.
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ParseAmount converts a human amount such as "0.1" into smallest units
// (100000 with 6 decimals). Amounts finer than the coin's precision or
// larger than 64 bits are rejected.
func ParseAmount(amount string, decimals int) (uint64, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return 0, types.NewError(types.CodeInvalidPrice, "%v", err)
	}

	scaled := dec.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, types.NewError(types.CodeInvalidPrice, "amount %s has more than %d decimals", amount, decimals)
	}

	units := scaled.BigInt()
	if !units.IsUint64() {
		return 0, types.NewError(types.CodeInvalidPrice, "amount %s is too large", amount)
	}
	return units.Uint64(), nil
}

// FormatAmount renders smallest units as a decimal string, e.g. 100000 -> "0.1".
func FormatAmount(units uint64, decimals int) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).String()
}
