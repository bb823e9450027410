package ledger

import (
	"context"
	"math"
	"sync"

	"github.com/vitwit/gasstation/types"
)

// AssetSupplier is the external holding of the payment asset. The ledger only
// asks it whether a payer can cover a price, moves the exact payment in, and
// moves withdrawn funds out.
type AssetSupplier interface {
	Available(ctx context.Context, owner types.Address, coinType types.CoinType) (uint64, error)
	Debit(ctx context.Context, owner types.Address, coinType types.CoinType, amount uint64) error
	Credit(ctx context.Context, to types.Address, coinType types.CoinType, amount uint64) error
}

type holding struct {
	owner    types.Address
	coinType types.CoinType
}

// MemorySupplier keeps per-owner balances in memory.
type MemorySupplier struct {
	mu       sync.Mutex
	balances map[holding]uint64
}

func NewMemorySupplier() *MemorySupplier {
	return &MemorySupplier{balances: make(map[holding]uint64)}
}

// Mint credits owner out of thin air; used to fund test and demo accounts.
func (s *MemorySupplier) Mint(owner types.Address, coinType types.CoinType, amount uint64) error {
	return s.Credit(context.Background(), owner, coinType, amount)
}

func (s *MemorySupplier) Available(_ context.Context, owner types.Address, coinType types.CoinType) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[holding{owner, coinType}], nil
}

func (s *MemorySupplier) Debit(_ context.Context, owner types.Address, coinType types.CoinType, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holding{owner, coinType}
	if s.balances[key] < amount {
		return types.NewError(types.CodeInsufficientFunds, "%s holds %d, needs %d", owner, s.balances[key], amount)
	}
	s.balances[key] -= amount
	return nil
}

func (s *MemorySupplier) Credit(_ context.Context, to types.Address, coinType types.CoinType, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holding{to, coinType}
	if s.balances[key] > math.MaxUint64-amount {
		return types.NewError(types.CodeBalanceOverflow, "crediting %d to %s overflows", amount, to)
	}
	s.balances[key] += amount
	return nil
}
