// Package oracle holds the fee price charged per sponsored transaction.
package oracle

import (
	"regexp"
	"strconv"
	"time"

	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/types"
)

// PriceOracle is not safe for concurrent use; the owning station serializes access.
type PriceOracle struct {
	price uint64
}

func New(initial uint64) *PriceOracle {
	return &PriceOracle{price: initial}
}

// Price returns the current fee in smallest coin units.
func (o *PriceOracle) Price() uint64 {
	return o.price
}

// SetPrice overwrites the price. Any value, including zero, is accepted from an admin.
func (o *PriceOracle) SetPrice(auth types.Authorizer, caller types.Address, newPrice uint64, at time.Time) (audit.PriceChanged, error) {
	if !auth.IsAdmin(caller) {
		return audit.PriceChanged{}, types.NewError(types.CodeUnauthorized, "%s is not an admin", caller)
	}

	change := audit.PriceChanged{
		Old:    o.price,
		New:    newPrice,
		Caller: caller,
		At:     at,
	}
	o.price = newPrice
	return change, nil
}

var unsignedPattern = regexp.MustCompile(`^\d+$`)

// ParsePrice accepts an unsigned decimal integer string in smallest coin units.
func ParsePrice(s string) (uint64, error) {
	if !unsignedPattern.MatchString(s) {
		return 0, types.NewError(types.CodeInvalidPrice, "price %q must be an unsigned integer string", s)
	}
	price, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, types.NewError(types.CodeInvalidPrice, "price %q does not fit in 64 bits", s)
	}
	return price, nil
}
