// Package ledger custodies collected fees and validates exact-amount payments.
package ledger

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/types"
)

// FeeLedger is not safe for concurrent use; the owning station serializes access.
type FeeLedger struct {
	coinType types.CoinType
	balance  uint64
	supplier AssetSupplier
}

// New creates an empty ledger for coinType. With a nil supplier the presented
// coin is taken as its own proof of funds and withdrawals are only recorded.
func New(coinType types.CoinType, supplier AssetSupplier) *FeeLedger {
	return &FeeLedger{
		coinType: coinType,
		supplier: supplier,
	}
}

func (l *FeeLedger) Balance() uint64 {
	return l.balance
}

func (l *FeeLedger) CoinType() types.CoinType {
	return l.coinType
}

// Pay accepts coin when its value equals requiredPrice exactly. Nothing is
// mutated unless every check passes and the payer was debited.
func (l *FeeLedger) Pay(ctx context.Context, coin types.Coin, requiredPrice uint64, at time.Time) (types.Receipt, error) {
	if coin.Type != l.coinType {
		return types.Receipt{}, types.NewError(types.CodeInvalidCoinType, "expected %s, got %s", l.coinType, coin.Type)
	}

	if coin.Value != requiredPrice {
		return types.Receipt{}, types.NewError(types.CodePriceMismatch, "payment of %d does not match gas price %d", coin.Value, requiredPrice).
			WithData(map[string]uint64{"value": coin.Value, "price": requiredPrice})
	}

	if l.balance > math.MaxUint64-coin.Value {
		return types.Receipt{}, types.NewError(types.CodeBalanceOverflow, "accepting %d would overflow balance %d", coin.Value, l.balance)
	}

	if l.supplier != nil {
		available, err := l.supplier.Available(ctx, coin.Owner, l.coinType)
		if err != nil {
			return types.Receipt{}, errors.Wrap(err, "failed to read payer balance")
		}
		if available < requiredPrice {
			return types.Receipt{}, types.NewError(types.CodeInsufficientFunds, "insufficient %s: have %d, need %d", l.coinType, available, requiredPrice)
		}
		if err := l.supplier.Debit(ctx, coin.Owner, l.coinType, coin.Value); err != nil {
			if types.CodeOf(err) != "" {
				return types.Receipt{}, err
			}
			return types.Receipt{}, errors.Wrap(err, "failed to debit payer")
		}
	}

	l.balance += coin.Value
	return types.Receipt{
		ID:        uuid.New(),
		Payer:     coin.Owner,
		Amount:    coin.Value,
		Balance:   l.balance,
		Timestamp: at,
	}, nil
}

// Withdraw drains the whole balance to recipient. The balance is reset only
// after the supplier credited the recipient.
func (l *FeeLedger) Withdraw(ctx context.Context, auth types.Authorizer, caller, recipient types.Address, at time.Time) (audit.FundsWithdrawn, error) {
	if !auth.IsAdmin(caller) {
		return audit.FundsWithdrawn{}, types.NewError(types.CodeUnauthorized, "%s is not an admin", caller)
	}
	if l.balance == 0 {
		return audit.FundsWithdrawn{}, types.NewError(types.CodeEmptyBalance, "station balance is empty")
	}

	amount := l.balance
	if l.supplier != nil {
		if err := l.supplier.Credit(ctx, recipient, l.coinType, amount); err != nil {
			if types.CodeOf(err) != "" {
				return audit.FundsWithdrawn{}, err
			}
			return audit.FundsWithdrawn{}, errors.Wrap(err, "failed to transfer withdrawn funds")
		}
	}
	l.balance = 0

	return audit.FundsWithdrawn{
		Caller:    caller,
		Recipient: recipient,
		Amount:    amount,
		At:        at,
	}, nil
}
