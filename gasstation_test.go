package gasstation

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/audit/audittest"
	"github.com/vitwit/gasstation/ledger"
	"github.com/vitwit/gasstation/metrics"
	"github.com/vitwit/gasstation/types"
)

var (
	adminA = types.MustHexToAddress("0xa11ce")
	adminB = types.MustHexToAddress("0xb0b")
	userU  = types.MustHexToAddress("0xbbb95be5282519238e7576099a40a794702303ad114e1ee2a5f25e9001d901a5")
	usdc   = types.DefaultCoinType
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(ctx context.Context, e audit.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func newStation(t *testing.T, price uint64, admins []types.Address, opts ...Option) *Station {
	t.Helper()
	s, err := New(types.InitParams{
		ID:       "0x5747",
		CoinType: usdc,
		Price:    price,
		Admins:   admins,
	}, opts...)
	require.NoError(t, err)
	return s
}

func pay(value uint64) types.Coin {
	return types.Coin{Owner: userU, Type: usdc, Value: value}
}

func TestNewValidation(t *testing.T) {
	_, err := New(types.InitParams{ID: "x", CoinType: usdc, Price: 1})
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	_, err = New(types.InitParams{ID: "x", Price: 1, Admins: []types.Address{adminA}})
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	_, err = New(types.InitParams{ID: "x", CoinType: "usdc", Price: 1, Admins: []types.Address{adminA}})
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))
}

// Admin A, price 100: pay, raise price, stale pay, withdraw, remove last admin.
func TestScenario(t *testing.T) {
	ctx := context.Background()
	supplier := ledger.NewMemorySupplier()
	require.NoError(t, supplier.Mint(userU, usdc, 1000))
	s := newStation(t, 100, []types.Address{adminA}, WithSupplier(supplier))

	receipt, err := s.PayTransactionFee(ctx, userU, pay(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), receipt.Balance)
	assert.Equal(t, uint64(100), s.Balance())

	require.NoError(t, s.SetGasPrice(ctx, adminA, 150))
	assert.Equal(t, uint64(150), s.Price())

	_, err = s.PayTransactionFee(ctx, userU, pay(100))
	assert.True(t, errors.Is(err, types.ErrPriceMismatch))
	assert.Equal(t, uint64(100), s.Balance())

	amount, err := s.WithdrawFunds(ctx, adminA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)
	assert.Equal(t, uint64(0), s.Balance())

	err = s.RemoveAdmin(ctx, adminA, adminA)
	assert.True(t, errors.Is(err, types.ErrLastAdminViolation))
	assert.Equal(t, []types.Address{adminA}, s.Admins())

	userLeft, _ := supplier.Available(ctx, userU, usdc)
	adminGot, _ := supplier.Available(ctx, adminA, usdc)
	assert.Equal(t, uint64(900), userLeft)
	assert.Equal(t, uint64(100), adminGot)

	kinds := []audit.Kind{}
	for _, e := range s.Events(audit.Filter{}) {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []audit.Kind{audit.KindFeePaid, audit.KindPriceChanged, audit.KindFundsWithdrawn}, kinds)
}

func TestWithdrawTwiceFailsWithEmptyBalance(t *testing.T) {
	ctx := context.Background()
	s := newStation(t, 10, []types.Address{adminA})

	_, err := s.PayTransactionFee(ctx, userU, pay(10))
	require.NoError(t, err)

	_, err = s.WithdrawFunds(ctx, adminA)
	require.NoError(t, err)
	_, err = s.WithdrawFunds(ctx, adminA)
	assert.True(t, errors.Is(err, types.ErrEmptyBalance))
}

func TestAuthorizationCheckedFirst(t *testing.T) {
	ctx := context.Background()
	s := newStation(t, 10, []types.Address{adminA})

	// Balance is empty and target is not an admin, yet the caller learns only
	// that it is unauthorized.
	_, err := s.WithdrawFunds(ctx, userU)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	err = s.RemoveAdmin(ctx, userU, adminB)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	err = s.AddAdmin(ctx, userU, adminA)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	err = s.SetGasPrice(ctx, userU, 0)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
	assert.Equal(t, uint64(10), s.Price())
}

func TestAdminManagement(t *testing.T) {
	ctx := context.Background()
	s := newStation(t, 10, []types.Address{adminA})

	require.NoError(t, s.AddAdmin(ctx, adminA, adminB))
	assert.True(t, errors.Is(s.AddAdmin(ctx, adminB, adminA), types.ErrAlreadyAdmin))
	assert.True(t, errors.Is(s.RemoveAdmin(ctx, adminA, userU), types.ErrNotAdmin))

	require.NoError(t, s.RemoveAdmin(ctx, adminA, adminA))
	assert.Equal(t, []types.Address{adminB}, s.Admins())
	assert.False(t, s.IsAdmin(adminA))

	assert.True(t, errors.Is(s.SetGasPrice(ctx, adminA, 5), types.ErrUnauthorized))
	require.NoError(t, s.SetGasPrice(ctx, adminB, 5))
}

func TestPayRequiresOwnCoin(t *testing.T) {
	ctx := context.Background()
	s := newStation(t, 10, []types.Address{adminA})

	_, err := s.PayTransactionFee(ctx, adminA, pay(10))
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	r, err := s.PayTransactionFee(ctx, adminA, types.Coin{Type: usdc, Value: 10})
	require.NoError(t, err)
	assert.Equal(t, adminA, r.Payer)
}

func TestZeroPriceSponsorship(t *testing.T) {
	ctx := context.Background()
	s := newStation(t, 10, []types.Address{adminA})

	require.NoError(t, s.SetGasPrice(ctx, adminA, 0))
	_, err := s.PayTransactionFee(ctx, userU, pay(0))
	require.NoError(t, err)
	_, err = s.PayTransactionFee(ctx, userU, pay(1))
	assert.True(t, errors.Is(err, types.ErrPriceMismatch))

	_, err = s.WithdrawFunds(ctx, adminA)
	assert.True(t, errors.Is(err, types.ErrEmptyBalance))
}

func TestTreasuryReceivesWithdrawals(t *testing.T) {
	ctx := context.Background()
	treasury := types.MustHexToAddress("0x7ea5")
	supplier := ledger.NewMemorySupplier()
	require.NoError(t, supplier.Mint(userU, usdc, 100))
	s := newStation(t, 40, []types.Address{adminA}, WithSupplier(supplier), WithTreasury(treasury))

	_, err := s.PayTransactionFee(ctx, userU, pay(40))
	require.NoError(t, err)
	amount, err := s.WithdrawFunds(ctx, adminA)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), amount)

	got, _ := supplier.Available(ctx, treasury, usdc)
	assert.Equal(t, uint64(40), got)
	callerGot, _ := supplier.Available(ctx, adminA, usdc)
	assert.Equal(t, uint64(0), callerGot)

	events := s.Events(audit.Filter{Kinds: []audit.Kind{audit.KindFundsWithdrawn}})
	require.Len(t, events, 1)
	assert.Equal(t, treasury, events[0].FundsWithdrawn.Recipient)
	assert.Equal(t, adminA, events[0].FundsWithdrawn.Caller)
}

func TestInsufficientFundsLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	supplier := ledger.NewMemorySupplier()
	require.NoError(t, supplier.Mint(userU, usdc, 50))
	s := newStation(t, 100, []types.Address{adminA}, WithSupplier(supplier))

	_, err := s.PayTransactionFee(ctx, userU, pay(100))
	assert.True(t, errors.Is(err, types.ErrInsufficientFunds))
	assert.Equal(t, uint64(0), s.Balance())
	assert.Empty(t, s.Events(audit.Filter{}))
}

func TestPriceHistory(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := newStation(t, 100, []types.Address{adminA}, WithClock(clock.Now))
	start := clock.Now()

	clock.Advance(time.Hour)
	require.NoError(t, s.SetGasPrice(ctx, adminA, 150))
	clock.Advance(time.Hour)
	require.NoError(t, s.SetGasPrice(ctx, adminA, 120))

	assert.Equal(t, uint64(100), s.PriceAt(start))
	assert.Equal(t, uint64(150), s.PriceAt(start.Add(90*time.Minute)))
	assert.Equal(t, uint64(120), s.PriceAt(start.Add(3*time.Hour)))

	changes := s.Events(audit.Filter{Kinds: []audit.Kind{audit.KindPriceChanged}})
	require.Len(t, changes, 2)
	assert.Equal(t, uint64(150), changes[1].PriceChanged.Old)
	assert.Equal(t, "0x5747", changes[1].StationID)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := newStation(t, 1, []types.Address{adminA}, WithClock(clock.Now))

	r1, err := s.PayTransactionFee(ctx, userU, pay(1))
	require.NoError(t, err)
	clock.Advance(-time.Minute)
	r2, err := s.PayTransactionFee(ctx, userU, pay(1))
	require.NoError(t, err)

	assert.False(t, r2.Timestamp.Before(r1.Timestamp))
}

func TestSinksReceiveCommittedEventsOnly(t *testing.T) {
	ctx := context.Background()
	sink := new(mockSink)
	failing := new(mockSink)
	s := newStation(t, 5, []types.Address{adminA}, WithSinks(sink, failing))

	sink.On("Publish", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Kind == audit.KindPriceChanged && e.Seq == 1 && e.PriceChanged.New == 7
	})).Return(nil).Once()
	failing.On("Publish", mock.Anything, mock.Anything).Return(errors.New("db unavailable")).Once()

	require.NoError(t, s.SetGasPrice(ctx, adminA, 7))
	assert.Error(t, s.SetGasPrice(ctx, userU, 9))
	assert.Equal(t, uint64(7), s.Price())

	sink.AssertExpectations(t)
	failing.AssertExpectations(t)
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	s := newStation(t, 5, []types.Address{adminA}, WithMetrics(rec))

	_, err := s.PayTransactionFee(ctx, userU, pay(5))
	require.NoError(t, err)
	_, err = s.PayTransactionFee(ctx, userU, pay(4))
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	count, err := testutil.GatherAndCount(reg, "gasstation_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRateLimit(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := newStation(t, 1, []types.Address{adminA}, WithClock(clock.Now), WithRateLimit(1, 2))

	for i := 0; i < 2; i++ {
		_, err := s.PayTransactionFee(ctx, userU, pay(1))
		require.NoError(t, err)
	}
	_, err := s.PayTransactionFee(ctx, userU, pay(1))
	assert.True(t, errors.Is(err, types.ErrRateLimited))
	assert.Equal(t, uint64(2), s.Balance())

	_, err = s.PayTransactionFee(ctx, adminA, types.Coin{Type: usdc, Value: 1})
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.PayTransactionFee(ctx, userU, pay(1))
	require.NoError(t, err)
}

func TestSnapshot(t *testing.T) {
	s := newStation(t, 100000, []types.Address{adminB, adminA})

	state := s.Snapshot()
	assert.Equal(t, "0x5747", state.ID)
	assert.Equal(t, usdc, state.CoinType)
	assert.Equal(t, uint64(100000), state.Price)
	assert.Equal(t, uint64(0), state.Balance)
	assert.Len(t, state.Admins, 2)
	assert.Equal(t, usdc, s.CoinType())
	assert.Equal(t, "0x5747", s.ID())
}

// Payments race against price changes. Every payment is judged against the
// price at execution: the balance equals the sum of accepted receipts minus
// withdrawals and never drifts.
func TestConcurrentPaymentsAndPriceChanges(t *testing.T) {
	ctx := context.Background()
	s := newStation(t, 100, []types.Address{adminA})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  uint64
		withdrawn uint64
	)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				value := uint64(100 + 50*rng.Intn(2))
				r, err := s.PayTransactionFee(ctx, userU, pay(value))
				if err != nil {
					assert.True(t, errors.Is(err, types.ErrPriceMismatch))
					continue
				}
				assert.Equal(t, value, r.Amount)
				mu.Lock()
				accepted += r.Amount
				mu.Unlock()
			}
		}(int64(w))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			price := uint64(100)
			if i%2 == 0 {
				price = 150
			}
			assert.NoError(t, s.SetGasPrice(ctx, adminA, price))
			if i%25 == 0 {
				amount, err := s.WithdrawFunds(ctx, adminA)
				if err == nil {
					mu.Lock()
					withdrawn += amount
					mu.Unlock()
				}
			}
		}
	}()

	wg.Wait()

	assert.Equal(t, accepted-withdrawn, s.Balance())

	// Replaying the log in sequence order, every fee equals the price set
	// immediately before it.
	price := uint64(100)
	for _, e := range s.Events(audit.Filter{}) {
		switch e.Kind {
		case audit.KindPriceChanged:
			price = e.PriceChanged.New
		case audit.KindFeePaid:
			assert.Equal(t, price, e.FeePaid.Receipt.Amount, "seq %d", e.Seq)
		}
	}
}

func operationCount(t *testing.T, reg *prometheus.Registry, op, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != "gasstation_operations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["operation"] == op && labels["result"] == result {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestRestartedStationKeepsPersistingEvents(t *testing.T) {
	ctx := context.Background()
	db := &audittest.MemoryDB{}
	pg := audit.NewPostgresSink(db)

	first := newStation(t, 5, []types.Address{adminA}, WithSinks(pg))
	require.NoError(t, first.SetGasPrice(ctx, adminA, 7))
	require.NoError(t, first.AddAdmin(ctx, adminA, adminB))

	last, err := pg.LastSeq(ctx, first.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	second := newStation(t, 7, []types.Address{adminA, adminB}, WithSinks(pg), WithHistory(audit.StartAfter(last)))
	require.NoError(t, second.SetGasPrice(ctx, adminB, 9))
	_, err = second.PayTransactionFee(ctx, userU, pay(9))
	require.NoError(t, err)

	rows := db.Rows(first.ID())
	require.Len(t, rows, 4)
	for i, r := range rows {
		assert.Equal(t, int64(i+1), r.Seq)
	}
	assert.Equal(t, string(audit.KindFeePaid), rows[3].Kind)
	assert.Equal(t, uint64(4), second.Events(audit.Filter{})[1].Seq)
}

func TestReusedSequenceIsReported(t *testing.T) {
	ctx := context.Background()
	db := &audittest.MemoryDB{}
	pg := audit.NewPostgresSink(db)

	first := newStation(t, 5, []types.Address{adminA}, WithSinks(pg))
	require.NoError(t, first.SetGasPrice(ctx, adminA, 7))

	reg := prometheus.NewRegistry()
	second := newStation(t, 7, []types.Address{adminA}, WithSinks(pg), WithMetrics(metrics.NewPrometheusRecorder(reg)))
	require.NoError(t, second.SetGasPrice(ctx, adminA, 9), "the transition itself commits")

	assert.Equal(t, uint64(9), second.Price())
	assert.Len(t, db.Rows(first.ID()), 1)
	assert.Equal(t, float64(1), operationCount(t, reg, "audit_publish", "error"))
}

func TestSinksOutliveCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := new(mockSink)
	s := newStation(t, 5, []types.Address{adminA}, WithSinks(sink), WithSinkTimeout(time.Second))

	sink.On("Publish", mock.MatchedBy(func(pubCtx context.Context) bool {
		deadline, ok := pubCtx.Deadline()
		return pubCtx.Err() == nil && ok && time.Until(deadline) <= time.Second
	}), mock.Anything).Return(nil).Once()

	require.NoError(t, s.SetGasPrice(ctx, adminA, 6))
	sink.AssertExpectations(t)
}

func TestHistoryRetention(t *testing.T) {
	ctx := context.Background()
	s := newStation(t, 1, []types.Address{adminA}, WithHistory(audit.WithRetention(3)))

	for i := 0; i < 10; i++ {
		_, err := s.PayTransactionFee(ctx, userU, pay(1))
		require.NoError(t, err)
	}

	events := s.Events(audit.Filter{})
	require.Len(t, events, 3)
	assert.Equal(t, uint64(10), events[2].Seq)
	assert.Equal(t, uint64(10), s.Balance())
}
