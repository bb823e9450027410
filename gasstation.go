// Package gasstation implements a custodial gas station: users pay an exact
// stablecoin fee per sponsored transaction, admins set the fee, manage the
// admin set and withdraw the collected funds.
package gasstation

import (
	"context"
	"sync"
	"time"

	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/ledger"
	"github.com/vitwit/gasstation/logger"
	"github.com/vitwit/gasstation/metrics"
	"github.com/vitwit/gasstation/oracle"
	"github.com/vitwit/gasstation/ratelimit"
	"github.com/vitwit/gasstation/registry"
	"github.com/vitwit/gasstation/types"
)

// Operation names used for logs and metrics.
const (
	OpPayTransactionFee = "pay_transaction_fee"
	OpSetGasPrice       = "set_gas_price"
	OpAddAdmin          = "add_admin"
	OpRemoveAdmin       = "remove_admin"
	OpWithdrawFunds     = "withdraw_funds"
)

// DefaultSinkTimeout bounds each sink publish.
const DefaultSinkTimeout = 5 * time.Second

// Station is one gas station entity. Every method is serialized on a single
// mutex, so each call sees a consistent price, admin set and balance and
// either applies fully or not at all.
type Station struct {
	mu sync.Mutex

	id           string
	initialPrice uint64
	oracle       *oracle.PriceOracle
	registry     *registry.AdminRegistry
	ledger       *ledger.FeeLedger
	history      *audit.Log
	lastAt       time.Time

	supplier    ledger.AssetSupplier
	treasury    types.Address
	sinks       []audit.Sink
	sinkTimeout time.Duration
	historyOpts []audit.LogOption
	limiter  *ratelimit.Limiter
	logger   logger.Logger
	metrics  metrics.Recorder
	clock    func() time.Time
}

// New creates a station seeded with params.
func New(params types.InitParams, opts ...Option) (*Station, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := &Station{
		id:           params.ID,
		initialPrice: params.Price,
		sinkTimeout:  DefaultSinkTimeout,
		logger:       logger.NoopLogger{},
		metrics:      metrics.NoopRecorder{},
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	reg, err := registry.New(params.Admins)
	if err != nil {
		return nil, err
	}

	s.registry = reg
	s.oracle = oracle.New(params.Price)
	s.ledger = ledger.New(params.CoinType, s.supplier)
	s.history = audit.NewLog(params.ID, s.historyOpts...)

	s.logger.Info("gas station created", map[string]any{
		"station":   s.id,
		"coin_type": params.CoinType.String(),
		"price":     params.Price,
		"admins":    len(params.Admins),
	})
	s.updateGauges()
	return s, nil
}

// PayTransactionFee accepts coin from caller if its value equals the price in
// force at execution time. The price read and the balance update happen under
// the same lock as SetGasPrice, so a payment prepared against an older price
// is re-checked against the current one.
func (s *Station) PayTransactionFee(ctx context.Context, caller types.Address, coin types.Coin) (types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.now()

	if !s.limiter.Allow(caller.Hex(), now) {
		err := types.NewError(types.CodeRateLimited, "too many payments from %s", caller)
		s.finish(OpPayTransactionFee, start, err, map[string]any{"caller": caller.Hex()})
		return types.Receipt{}, err
	}

	if coin.Owner.IsZero() {
		coin.Owner = caller
	}
	if coin.Owner != caller {
		err := types.NewError(types.CodeUnauthorized, "%s cannot pay with a coin owned by %s", caller, coin.Owner)
		s.finish(OpPayTransactionFee, start, err, map[string]any{"caller": caller.Hex()})
		return types.Receipt{}, err
	}

	price := s.oracle.Price()
	receipt, err := s.ledger.Pay(ctx, coin, price, now)
	fields := map[string]any{
		"caller": caller.Hex(),
		"value":  coin.Value,
		"price":  price,
	}
	if err != nil {
		s.finish(OpPayTransactionFee, start, err, fields)
		return types.Receipt{}, err
	}

	s.commit(ctx, audit.NewFeePaid(receipt))
	fields["receipt_id"] = receipt.ID.String()
	fields["balance"] = receipt.Balance
	s.finish(OpPayTransactionFee, start, nil, fields)
	return receipt, nil
}

// SetGasPrice changes the fee. Only admins may call it; zero is allowed.
func (s *Station) SetGasPrice(ctx context.Context, caller types.Address, newPrice uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	change, err := s.oracle.SetPrice(s.registry, caller, newPrice, s.now())
	fields := map[string]any{"caller": caller.Hex(), "new_price": newPrice}
	if err != nil {
		s.finish(OpSetGasPrice, start, err, fields)
		return err
	}

	s.commit(ctx, audit.NewPriceChanged(change))
	fields["old_price"] = change.Old
	s.finish(OpSetGasPrice, start, nil, fields)
	return nil
}

// AddAdmin grants admin rights to newAdmin.
func (s *Station) AddAdmin(ctx context.Context, caller, newAdmin types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	change, err := s.registry.AddAdmin(caller, newAdmin, s.now())
	fields := map[string]any{"caller": caller.Hex(), "admin": newAdmin.Hex()}
	if err != nil {
		s.finish(OpAddAdmin, start, err, fields)
		return err
	}

	s.commit(ctx, audit.NewAdminChanged(change))
	s.finish(OpAddAdmin, start, nil, fields)
	return nil
}

// RemoveAdmin revokes target's admin rights. The last admin cannot be removed.
func (s *Station) RemoveAdmin(ctx context.Context, caller, target types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	change, err := s.registry.RemoveAdmin(caller, target, s.now())
	fields := map[string]any{"caller": caller.Hex(), "admin": target.Hex()}
	if err != nil {
		s.finish(OpRemoveAdmin, start, err, fields)
		return err
	}

	s.commit(ctx, audit.NewAdminChanged(change))
	s.finish(OpRemoveAdmin, start, nil, fields)
	return nil
}

// WithdrawFunds drains the whole balance to the treasury, or to the caller
// when no treasury is configured, and returns the amount.
func (s *Station) WithdrawFunds(ctx context.Context, caller types.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	recipient := caller
	if !s.treasury.IsZero() {
		recipient = s.treasury
	}

	w, err := s.ledger.Withdraw(ctx, s.registry, caller, recipient, s.now())
	fields := map[string]any{"caller": caller.Hex(), "recipient": recipient.Hex()}
	if err != nil {
		s.finish(OpWithdrawFunds, start, err, fields)
		return 0, err
	}

	s.commit(ctx, audit.NewFundsWithdrawn(w))
	fields["amount"] = w.Amount
	s.finish(OpWithdrawFunds, start, nil, fields)
	return w.Amount, nil
}

// ID returns the station identifier given at creation.
func (s *Station) ID() string {
	return s.id
}

// CoinType returns the only coin type the station accepts.
func (s *Station) CoinType() types.CoinType {
	return s.ledger.CoinType()
}

// Price returns the current fee in smallest coin units.
func (s *Station) Price() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oracle.Price()
}

// Balance returns the custodied, not yet withdrawn amount.
func (s *Station) Balance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Balance()
}

// Admins returns the current admin set, sorted.
func (s *Station) Admins() []types.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Admins()
}

// IsAdmin reports whether addr is currently an admin.
func (s *Station) IsAdmin(addr types.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.IsAdmin(addr)
}

// Snapshot returns all fields as observed at one point in the serial order.
func (s *Station) Snapshot() types.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return types.State{
		ID:       s.id,
		CoinType: s.ledger.CoinType(),
		Price:    s.oracle.Price(),
		Balance:  s.ledger.Balance(),
		Admins:   s.registry.Admins(),
	}
}

// Events returns committed audit events matching f.
func (s *Station) Events(f audit.Filter) []audit.Event {
	return s.history.Events(f)
}

// PriceAt returns the price that was in force at t.
func (s *Station) PriceAt(t time.Time) uint64 {
	return s.history.PriceAt(t, s.initialPrice)
}

// now never goes backwards, even if the clock does.
func (s *Station) now() time.Time {
	t := s.clock()
	if t.Before(s.lastAt) {
		t = s.lastAt
	}
	s.lastAt = t
	return t
}

// commit appends the event to the history and fans it out to the sinks.
// The transition is already applied; a failing sink is reported but does not
// undo it. Sinks get a context that survives the caller going away and
// expires after sinkTimeout.
func (s *Station) commit(ctx context.Context, e audit.Event) {
	e = s.history.Append(e)

	for _, sink := range s.sinks {
		if err := s.publish(ctx, sink, e); err != nil {
			s.logger.Error("failed to publish audit event", map[string]any{
				"station": s.id,
				"seq":     e.Seq,
				"kind":    string(e.Kind),
				"error":   err,
			})
			s.metrics.IncCounter("audit_publish", map[string]string{"result": "error"})
		}
	}
	s.updateGauges()
}

func (s *Station) publish(ctx context.Context, sink audit.Sink, e audit.Event) error {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sinkTimeout)
	defer cancel()
	return sink.Publish(pubCtx, e)
}

func (s *Station) updateGauges() {
	labels := map[string]string{"station": s.id}
	s.metrics.SetGauge("price", float64(s.oracle.Price()), labels)
	s.metrics.SetGauge("balance", float64(s.ledger.Balance()), labels)
	s.metrics.SetGauge("admins", float64(s.registry.Len()), labels)
}

// finish records the outcome of op. Domain rejections are logged at warn
// level with their code, anything else at error level.
func (s *Station) finish(op string, start time.Time, err error, fields map[string]any) {
	s.metrics.ObserveLatency(op, time.Since(start), map[string]string{"station": s.id})

	fields["station"] = s.id
	fields["operation"] = op

	if err == nil {
		s.metrics.IncCounter(op, map[string]string{"result": "ok"})
		s.logger.Info(op+" committed", fields)
		return
	}

	code := types.CodeOf(err)
	fields["error"] = err
	if code == "" {
		s.metrics.IncCounter(op, map[string]string{"result": "error"})
		s.logger.Error(op+" failed", fields)
		return
	}

	fields["code"] = code
	s.metrics.IncCounter(op, map[string]string{"result": code})
	s.logger.Warn(op+" rejected", fields)
}
