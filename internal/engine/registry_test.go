package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantora/fundmatch/internal/navfeed"
	"github.com/quantora/fundmatch/internal/orderstore"
	"github.com/quantora/fundmatch/internal/pricing"
	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/logger"
	"github.com/quantora/fundmatch/pkg/models"
)

// fixture pins the calendar so one term month is exactly 30 days.
func fixedNow() time.Time {
	return time.Date(2025, 4, 15, 10, 30, 0, 0, time.UTC)
}

type fixture struct {
	store    *orderstore.MemoryStore
	registry *Registry
	fund     *models.Fund
}

func newFixture(t *testing.T, band *pricing.ToleranceBand, idleTTL time.Duration) *fixture {
	t.Helper()
	store := orderstore.NewMemoryStore()
	calc := pricing.NewCalculator(decimal.NewFromInt(50)).WithNow(fixedNow)
	registry := NewRegistry(logger.NewNop(), store, calc, pricing.NewGate(band), navfeed.NewStoreSource(store), idleTTL)

	fund := &models.Fund{ID: uuid.New(), Ticker: "ALPHA", CurrentNAV: decimal.NewFromInt(50000)}
	require.NoError(t, store.CreateFund(context.Background(), fund))
	return &fixture{store: store, registry: registry, fund: fund}
}

func defaultBand() *pricing.ToleranceBand {
	return &pricing.ToleranceBand{
		Lower: decimal.RequireFromString("-0.5"),
		Upper: decimal.RequireFromString("0.5"),
	}
}

func (f *fixture) order(t *testing.T, side string, units int64) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:           uuid.New(),
		FundID:       f.fund.ID,
		PartyID:      uuid.New(),
		Side:         side,
		UnitPrice:    decimal.NewFromInt(50000),
		Units:        decimal.NewFromInt(units),
		TermMonths:   1,
		InterestRate: decimal.NewFromInt(6),
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), order))
	return order
}

func (f *fixture) admit(t *testing.T, engineID uuid.UUID, orderID uuid.UUID) {
	t.Helper()
	res, err := f.registry.AddOrder(context.Background(), engineID, orderID)
	require.NoError(t, err)
	require.True(t, res.Accepted, "expected admission, got %q", res.Reason)
}

func TestCreateUnknownFund(t *testing.T) {
	f := newFixture(t, defaultBand(), 0)
	_, err := f.registry.Create(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidFund))
}

func TestAddOrderSingleClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)

	engA, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)
	engB, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	order := f.order(t, models.OrderSideBuy, 100)
	f.admit(t, engA.ID(), order.ID)

	// The same order cannot be admitted into a second engine.
	_, err = f.registry.AddOrder(ctx, engB.ID(), order.ID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDuplicateAdmission))

	// Nor twice into the same engine.
	_, err = f.registry.AddOrder(ctx, engA.ID(), order.ID)
	assert.True(t, errors.IsKind(err, errors.KindDuplicateAdmission))
}

func TestAddOrderRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	t.Run("UnknownEngine", func(t *testing.T) {
		_, err := f.registry.AddOrder(ctx, uuid.New(), f.order(t, models.OrderSideBuy, 1).ID)
		assert.True(t, errors.IsKind(err, errors.KindEngineNotFound))
	})

	t.Run("FundMismatch", func(t *testing.T) {
		other := &models.Fund{ID: uuid.New(), Ticker: "BETA", CurrentNAV: decimal.NewFromInt(100)}
		require.NoError(t, f.store.CreateFund(ctx, other))
		order := &models.Order{
			FundID: other.ID, PartyID: uuid.New(), Side: models.OrderSideBuy,
			UnitPrice: decimal.NewFromInt(100), Units: decimal.NewFromInt(1),
			TermMonths: 1, InterestRate: decimal.NewFromInt(6),
		}
		require.NoError(t, f.store.CreateOrder(ctx, order))
		_, err := f.registry.AddOrder(ctx, eng.ID(), order.ID)
		assert.True(t, errors.IsKind(err, errors.KindInvalidOrder))
	})

	t.Run("Cancelled", func(t *testing.T) {
		order := f.order(t, models.OrderSideBuy, 5)
		require.NoError(t, f.store.CancelOrder(ctx, order.ID))
		_, err := f.registry.AddOrder(ctx, eng.ID(), order.ID)
		assert.True(t, errors.IsKind(err, errors.KindInvalidOrder))
	})

	t.Run("AlreadySettled", func(t *testing.T) {
		buy := f.order(t, models.OrderSideBuy, 10)
		sell := f.order(t, models.OrderSideSell, 10)
		_, err := f.store.ApplyMatch(ctx, buy.ID, sell.ID, decimal.NewFromInt(10), decimal.NewFromInt(50250))
		require.NoError(t, err)
		_, err = f.registry.AddOrder(ctx, eng.ID(), buy.ID)
		assert.True(t, errors.IsKind(err, errors.KindAlreadySettled))
	})

	t.Run("GateRejected", func(t *testing.T) {
		// At NAV 100 with step 50, price2 collapses to the base price and
		// the implied rate drops to zero: delta -6 is outside the band.
		order := &models.Order{
			FundID: f.fund.ID, PartyID: uuid.New(), Side: models.OrderSideBuy,
			UnitPrice: decimal.NewFromInt(100), Units: decimal.NewFromInt(10),
			TermMonths: 1, InterestRate: decimal.NewFromInt(6),
		}
		require.NoError(t, f.store.CreateOrder(ctx, order))
		res, err := f.registry.AddOrder(ctx, eng.ID(), order.ID)
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Contains(t, res.Reason, "tolerance band")

		// Gate-rejected orders are not claimed anywhere.
		got, err := f.store.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ClaimedBy)
	})
}

func TestAddOrderFailsClosedWithoutBand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, 0)
	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	_, err = f.registry.AddOrder(ctx, eng.ID(), f.order(t, models.OrderSideBuy, 1).ID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfigurationMissing))
}

func TestProcessAllPartialFill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	buy := f.order(t, models.OrderSideBuy, 100)
	sell := f.order(t, models.OrderSideSell, 60)
	f.admit(t, eng.ID(), buy.ID)
	f.admit(t, eng.ID(), sell.ID)

	report, err := f.registry.ProcessAll(ctx, eng.ID())
	require.NoError(t, err)

	require.Len(t, report.MatchedPairs, 1)
	pair := report.MatchedPairs[0]
	assert.Equal(t, buy.ID, pair.BuyOrderID)
	assert.Equal(t, sell.ID, pair.SellOrderID)
	assert.True(t, pair.MatchedUnits.Equal(decimal.NewFromInt(60)))
	assert.True(t, pair.MatchedPrice.Equal(decimal.NewFromInt(50250)))

	gotBuy, err := f.store.GetOrder(ctx, buy.ID)
	require.NoError(t, err)
	assert.True(t, gotBuy.RemainingUnits.Equal(decimal.NewFromInt(40)))

	gotSell, err := f.store.GetOrder(ctx, sell.ID)
	require.NoError(t, err)
	assert.True(t, gotSell.RemainingUnits.IsZero())

	assert.Equal(t, []uuid.UUID{buy.ID}, report.RemainingBuys)
	assert.Empty(t, report.RemainingSells)

	// The unmatched remainder stays queued; the filled order leaves.
	queued, err := f.registry.QueueStatus(eng.ID())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{buy.ID}, queued)
}

func TestProcessAllIdempotentWhenNothingToMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	report, err := f.registry.ProcessAll(ctx, eng.ID())
	require.NoError(t, err)
	assert.Empty(t, report.MatchedPairs)

	buy := f.order(t, models.OrderSideBuy, 100)
	sell := f.order(t, models.OrderSideSell, 100)
	f.admit(t, eng.ID(), buy.ID)
	f.admit(t, eng.ID(), sell.ID)

	first, err := f.registry.ProcessAll(ctx, eng.ID())
	require.NoError(t, err)
	require.Len(t, first.MatchedPairs, 1)

	// A second pass over the fully matched queue is a no-op.
	second, err := f.registry.ProcessAll(ctx, eng.ID())
	require.NoError(t, err)
	assert.Empty(t, second.MatchedPairs)
	assert.Empty(t, second.RemainingBuys)
	assert.Empty(t, second.RemainingSells)
}

func TestProcessAllMultiplePartials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	buy := f.order(t, models.OrderSideBuy, 100)
	sellA := f.order(t, models.OrderSideSell, 30)
	sellB := f.order(t, models.OrderSideSell, 50)
	sellC := f.order(t, models.OrderSideSell, 40)
	for _, id := range []uuid.UUID{buy.ID, sellA.ID, sellB.ID, sellC.ID} {
		f.admit(t, eng.ID(), id)
	}

	report, err := f.registry.ProcessAll(ctx, eng.ID())
	require.NoError(t, err)

	// 30 + 50 + 20: the buy fills across three sells in admission order.
	require.Len(t, report.MatchedPairs, 3)
	assert.True(t, report.MatchedUnitsTotal().Equal(decimal.NewFromInt(100)))

	gotC, err := f.store.GetOrder(ctx, sellC.ID)
	require.NoError(t, err)
	assert.True(t, gotC.RemainingUnits.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, []uuid.UUID{sellC.ID}, report.RemainingSells)

	// Conservation across pairs touching the buy order.
	pairs, err := f.store.PairsForOrder(ctx, buy.ID)
	require.NoError(t, err)
	total := decimal.Zero
	for _, p := range pairs {
		total = total.Add(p.MatchedUnits)
	}
	assert.True(t, total.Equal(buy.Units))
}

// flakyStore fails a configured number of ApplyMatch calls before handing
// through to the underlying store.
type flakyStore struct {
	orderstore.Store
	failuresLeft int
}

func (s *flakyStore) ApplyMatch(ctx context.Context, buyID, sellID uuid.UUID, units, price decimal.Decimal) (*models.MatchedPair, error) {
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return nil, fmt.Errorf("connection reset by peer")
	}
	return s.Store.ApplyMatch(ctx, buyID, sellID, units, price)
}

func TestProcessAllReleasesClaimsOnDroppedOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	flaky := &flakyStore{Store: f.store, failuresLeft: 1}
	calc := pricing.NewCalculator(decimal.NewFromInt(50)).WithNow(fixedNow)
	registry := NewRegistry(logger.NewNop(), flaky, calc, pricing.NewGate(defaultBand()), navfeed.NewStoreSource(f.store), 0)

	eng, err := registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	buy := f.order(t, models.OrderSideBuy, 10)
	sell := f.order(t, models.OrderSideSell, 10)
	for _, id := range []uuid.UUID{buy.ID, sell.ID} {
		res, aerr := registry.AddOrder(ctx, eng.ID(), id)
		require.NoError(t, aerr)
		require.True(t, res.Accepted)
	}

	// The transient settlement failure drops the sell from the queue.
	report, err := registry.ProcessAll(ctx, eng.ID())
	require.NoError(t, err)
	assert.Empty(t, report.MatchedPairs)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, sell.ID, report.Errors[0].OrderID)

	queued, err := registry.QueueStatus(eng.ID())
	require.NoError(t, err)
	assert.NotContains(t, queued, sell.ID)

	// Leaving the queue releases the claim: the order is admittable again.
	got, err := f.store.GetOrder(ctx, sell.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClaimedBy)

	other, err := registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)
	res, err := registry.AddOrder(ctx, other.ID(), sell.ID)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestExchangeOrdersMatchAsSells(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	buy := f.order(t, models.OrderSideBuy, 25)
	exch := f.order(t, models.OrderSideExchange, 25)
	f.admit(t, eng.ID(), buy.ID)
	f.admit(t, eng.ID(), exch.ID)

	report, err := f.registry.ProcessAll(ctx, eng.ID())
	require.NoError(t, err)
	require.Len(t, report.MatchedPairs, 1)
	assert.Equal(t, exch.ID, report.MatchedPairs[0].SellOrderID)
}

func TestClearQueueMakesOrdersReadmittable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	engA, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)
	engB, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	order := f.order(t, models.OrderSideBuy, 10)
	f.admit(t, engA.ID(), order.ID)

	cleared, err := f.registry.ClearQueue(ctx, engA.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	queued, err := f.registry.QueueStatus(engA.ID())
	require.NoError(t, err)
	assert.Empty(t, queued)

	f.admit(t, engB.ID(), order.ID)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	order := f.order(t, models.OrderSideBuy, 10)
	f.admit(t, eng.ID(), order.ID)

	require.NoError(t, f.registry.Cleanup(ctx, eng.ID()))

	_, err = f.registry.QueueStatus(eng.ID())
	assert.True(t, errors.IsKind(err, errors.KindEngineNotFound))

	// Claims held by the engine are released on cleanup.
	got, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClaimedBy)

	err = f.registry.Cleanup(ctx, eng.ID())
	assert.True(t, errors.IsKind(err, errors.KindEngineNotFound))
}

func TestCleanupAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	for i := 0; i < 3; i++ {
		_, err := f.registry.Create(ctx, f.fund.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.registry.CleanupAll(ctx))
	assert.Empty(t, f.registry.List())
}

func TestSweepIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), time.Nanosecond)

	eng, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	cleaned := f.registry.SweepIdle(ctx)
	assert.Equal(t, 1, cleaned)

	_, err = f.registry.QueueStatus(eng.ID())
	assert.True(t, errors.IsKind(err, errors.KindEngineNotFound))
}

func TestStopConcurrent(t *testing.T) {
	f := newFixture(t, defaultBand(), 0)
	f.registry.StartSweeper(context.Background(), time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.registry.Stop()
		}()
	}
	wg.Wait()
}

func TestListEngines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultBand(), 0)
	engA, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)
	engB, err := f.registry.Create(ctx, f.fund.ID)
	require.NoError(t, err)

	infos := f.registry.List()
	require.Len(t, infos, 2)
	ids := []uuid.UUID{infos[0].ID, infos[1].ID}
	assert.Contains(t, ids, engA.ID())
	assert.Contains(t, ids, engB.ID())
	for _, info := range infos {
		assert.Equal(t, f.fund.ID, info.FundID)
	}
}
