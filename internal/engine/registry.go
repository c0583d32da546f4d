package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantora/fundmatch/internal/navfeed"
	"github.com/quantora/fundmatch/internal/orderstore"
	"github.com/quantora/fundmatch/internal/pricing"
	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/metrics"
	"github.com/quantora/fundmatch/pkg/models"
)

// DefaultIdleTTL is how long an engine may sit without activity before the
// sweep cleans it up.
const DefaultIdleTTL = 30 * time.Minute

// Registry creates, tracks and garbage-collects matching engines.
type Registry struct {
	logger  *zap.Logger
	store   orderstore.Store
	calc    *pricing.Calculator
	gate    *pricing.Gate
	nav     navfeed.Source
	idleTTL time.Duration

	mu      sync.RWMutex
	engines map[uuid.UUID]*MatchingEngine

	sweepOnce sync.Once
	stopOnce  sync.Once
	sweepStop chan struct{}
}

// NewRegistry creates an engine registry. idleTTL <= 0 selects DefaultIdleTTL.
func NewRegistry(
	logger *zap.Logger,
	store orderstore.Store,
	calc *pricing.Calculator,
	gate *pricing.Gate,
	nav navfeed.Source,
	idleTTL time.Duration,
) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		logger:    logger,
		store:     store,
		calc:      calc,
		gate:      gate,
		nav:       nav,
		idleTTL:   idleTTL,
		engines:   make(map[uuid.UUID]*MatchingEngine),
		sweepStop: make(chan struct{}),
	}
}

// Create registers a new engine scoped to fundID.
func (r *Registry) Create(ctx context.Context, fundID uuid.UUID) (*MatchingEngine, error) {
	if _, err := r.store.GetFund(ctx, fundID); err != nil {
		return nil, err
	}
	eng := newMatchingEngine(fundID)
	r.mu.Lock()
	r.engines[eng.id] = eng
	r.mu.Unlock()
	metrics.ActiveEngines.Inc()
	r.logger.Info("Matching engine created",
		zap.String("engine_id", eng.id.String()),
		zap.String("fund_id", fundID.String()))
	return eng, nil
}

// Get returns a live engine or EngineNotFound.
func (r *Registry) Get(engineID uuid.UUID) (*MatchingEngine, error) {
	r.mu.RLock()
	eng, ok := r.engines[engineID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.KindEngineNotFound, "unknown engine %s", engineID)
	}
	return eng, nil
}

// List enumerates live engines in creation order.
func (r *Registry) List() []models.EngineInfo {
	r.mu.RLock()
	engines := make([]*MatchingEngine, 0, len(r.engines))
	for _, eng := range r.engines {
		engines = append(engines, eng)
	}
	r.mu.RUnlock()

	infos := make([]models.EngineInfo, 0, len(engines))
	for _, eng := range engines {
		infos = append(infos, eng.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// AddOrder admits an order into an engine queue. The admission is an atomic
// claim against the store; a claim held anywhere else rejects the admission.
func (r *Registry) AddOrder(ctx context.Context, engineID, orderID uuid.UUID) (*AddResult, error) {
	eng, err := r.Get(engineID)
	if err != nil {
		return nil, err
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.state == StateCleanedUp {
		return nil, errors.New(errors.KindEngineNotFound, "engine %s is cleaned up", engineID)
	}

	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.FundID != eng.fundID {
		return nil, errors.New(errors.KindInvalidOrder,
			"order %s belongs to fund %s, engine is scoped to %s", orderID, order.FundID, eng.fundID)
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, errors.New(errors.KindInvalidOrder, "order %s is cancelled", orderID)
	}
	if order.Remaining().IsZero() {
		return nil, errors.New(errors.KindAlreadySettled, "order %s is fully matched", orderID)
	}

	// Gate against the NAV the order was entered at. The market maker path
	// re-evaluates against the current NAV at settlement time instead.
	quote, err := r.calc.QuoteAtNAV(order.Units, order.UnitPrice, order.InterestRate, order.TermMonths)
	if err != nil {
		return nil, err
	}
	accepted, err := r.gate.Evaluate(quote.Delta)
	if err != nil {
		return nil, err
	}
	if !accepted {
		metrics.GateRejections.WithLabelValues("tolerance_band").Inc()
		return &AddResult{
			Accepted: false,
			Reason:   errors.New(errors.KindGateRejected, "delta %s outside tolerance band", quote.Delta).Error(),
		}, nil
	}

	if err := r.store.Claim(ctx, orderID, engineID); err != nil {
		return nil, err
	}

	eng.queue = append(eng.queue, orderID)
	eng.state = StateActive
	eng.touch()
	metrics.OrdersAdmitted.WithLabelValues(order.Side).Inc()
	r.logger.Debug("Order admitted",
		zap.String("engine_id", engineID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("side", order.Side))
	return &AddResult{Accepted: true}, nil
}

// ProcessAll runs one greedy matching pass over the queue snapshot taken at
// call start. Admissions arriving during the pass apply to the next call.
func (r *Registry) ProcessAll(ctx context.Context, engineID uuid.UUID) (*MatchReport, error) {
	eng, err := r.Get(engineID)
	if err != nil {
		return nil, err
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.state == StateCleanedUp {
		return nil, errors.New(errors.KindEngineNotFound, "engine %s is cleaned up", engineID)
	}
	eng.state = StateProcessing
	defer func() {
		if len(eng.queue) == 0 {
			eng.state = StateIdle
		} else {
			eng.state = StateActive
		}
		eng.touch()
	}()

	started := time.Now()
	defer func() { metrics.ProcessLatency.Observe(time.Since(started).Seconds()) }()

	snapshot := eng.snapshotQueue()
	report := &MatchReport{MatchedPairs: []*models.MatchedPair{}}
	if len(snapshot) == 0 {
		report.RemainingBuys = []uuid.UUID{}
		report.RemainingSells = []uuid.UUID{}
		return report, nil
	}

	// Partition in admission order (price-time priority: the gate already
	// bounded fair-value proximity, so time priority decides).
	var buys, sells []*models.Order
	dropped := map[uuid.UUID]bool{}
	for _, id := range snapshot {
		order, err := r.store.GetOrder(ctx, id)
		if err != nil {
			report.Errors = append(report.Errors, ItemError{OrderID: id, Reason: err.Error()})
			dropped[id] = true
			continue
		}
		if !order.IsOpen() {
			dropped[id] = true
			continue
		}
		if sideForMatching(order.Side) == models.OrderSideBuy {
			buys = append(buys, order)
		} else {
			sells = append(sells, order)
		}
	}

	i, j := 0, 0
	for i < len(buys) && j < len(sells) {
		buy, sell := buys[i], sells[j]
		units := decimal.Min(buy.Remaining(), sell.Remaining())
		price, perr := r.matchPrice(sell)
		if perr != nil {
			report.Errors = append(report.Errors, ItemError{OrderID: sell.ID, Reason: perr.Error()})
			dropped[sell.ID] = true
			j++
			continue
		}
		pair, merr := r.store.ApplyMatch(ctx, buy.ID, sell.ID, units, price)
		if merr != nil {
			// Isolate the failure: skip this sell and keep matching the rest.
			report.Errors = append(report.Errors, ItemError{OrderID: sell.ID, Reason: merr.Error()})
			dropped[sell.ID] = true
			j++
			continue
		}
		report.MatchedPairs = append(report.MatchedPairs, pair)
		metrics.PairsMatched.WithLabelValues("engine").Inc()
		metrics.UnitsMatched.WithLabelValues("engine").Add(unitsAsFloat(units))

		buy.MatchedUnits = buy.MatchedUnits.Add(units)
		sell.MatchedUnits = sell.MatchedUnits.Add(units)
		if buy.Remaining().IsZero() {
			i++
		}
		if sell.Remaining().IsZero() {
			j++
		}
	}

	// Fully matched or dropped orders leave the queue; remainders stay.
	var next []uuid.UUID
	remainingByID := map[uuid.UUID]*models.Order{}
	for _, order := range append(buys, sells...) {
		remainingByID[order.ID] = order
	}
	for _, id := range eng.queue {
		if dropped[id] {
			// A dropped order is no longer backed by a queue reference, so
			// its claim must not outlive it.
			if rerr := r.store.Release(ctx, id, engineID); rerr != nil {
				r.logger.Warn("Failed to release claim on dropped order",
					zap.String("order_id", id.String()), zap.Error(rerr))
			}
			continue
		}
		order, ok := remainingByID[id]
		if ok && order.Remaining().IsZero() {
			continue
		}
		next = append(next, id)
		if ok && order.Remaining().IsPositive() {
			if sideForMatching(order.Side) == models.OrderSideBuy {
				report.RemainingBuys = append(report.RemainingBuys, id)
			} else {
				report.RemainingSells = append(report.RemainingSells, id)
			}
		}
	}
	eng.queue = next
	if report.RemainingBuys == nil {
		report.RemainingBuys = []uuid.UUID{}
	}
	if report.RemainingSells == nil {
		report.RemainingSells = []uuid.UUID{}
	}

	r.logger.Info("Matching pass complete",
		zap.String("engine_id", engineID.String()),
		zap.Int("pairs", len(report.MatchedPairs)),
		zap.Int("remaining_buys", len(report.RemainingBuys)),
		zap.Int("remaining_sells", len(report.RemainingSells)))
	return report, nil
}

// matchPrice prices a fill off the surrendering side's terms at its entry
// NAV: the maturity-adjusted, step-rounded sell price.
func (r *Registry) matchPrice(sell *models.Order) (decimal.Decimal, error) {
	quote, err := r.calc.QuoteAtNAV(sell.Units, sell.UnitPrice, sell.InterestRate, sell.TermMonths)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Price2, nil
}

// QueueStatus reports the still-queued order ids for an engine.
func (r *Registry) QueueStatus(engineID uuid.UUID) ([]uuid.UUID, error) {
	eng, err := r.Get(engineID)
	if err != nil {
		return nil, err
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.state == StateCleanedUp {
		return nil, errors.New(errors.KindEngineNotFound, "engine %s is cleaned up", engineID)
	}
	return eng.snapshotQueue(), nil
}

// ClearQueue empties the queue without matching. Cleared orders have their
// claims released and become re-admittable elsewhere. Pairs already committed
// are never rolled back.
func (r *Registry) ClearQueue(ctx context.Context, engineID uuid.UUID) (int, error) {
	eng, err := r.Get(engineID)
	if err != nil {
		return 0, err
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.state == StateCleanedUp {
		return 0, errors.New(errors.KindEngineNotFound, "engine %s is cleaned up", engineID)
	}
	cleared := len(eng.queue)
	for _, id := range eng.queue {
		if rerr := r.store.Release(ctx, id, engineID); rerr != nil {
			r.logger.Warn("Failed to release claim on clear",
				zap.String("order_id", id.String()), zap.Error(rerr))
		}
	}
	eng.queue = nil
	eng.state = StateIdle
	eng.touch()
	return cleared, nil
}

// Cleanup releases one engine's resources and removes it from the registry.
func (r *Registry) Cleanup(ctx context.Context, engineID uuid.UUID) error {
	eng, err := r.Get(engineID)
	if err != nil {
		return err
	}
	eng.mu.Lock()
	if eng.state == StateCleanedUp {
		eng.mu.Unlock()
		return errors.New(errors.KindEngineNotFound, "engine %s is cleaned up", engineID)
	}
	eng.state = StateCleanedUp
	eng.queue = nil
	eng.mu.Unlock()

	if _, err := r.store.ReleaseEngine(ctx, engineID); err != nil {
		r.logger.Warn("Failed to release engine claims on cleanup",
			zap.String("engine_id", engineID.String()), zap.Error(err))
	}

	r.mu.Lock()
	delete(r.engines, engineID)
	r.mu.Unlock()
	metrics.ActiveEngines.Dec()
	r.logger.Info("Matching engine cleaned up", zap.String("engine_id", engineID.String()))
	return nil
}

// CleanupAll removes every live engine and returns how many were cleaned.
func (r *Registry) CleanupAll(ctx context.Context) int {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	cleaned := 0
	for _, id := range ids {
		if err := r.Cleanup(ctx, id); err == nil {
			cleaned++
		}
	}
	return cleaned
}

// StartSweeper launches the periodic idle-engine sweep. Safe to call once;
// the sweep stops when ctx is cancelled or Stop is called.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	r.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-r.sweepStop:
					return
				case <-ticker.C:
					r.SweepIdle(ctx)
				}
			}
		}()
	})
}

// Stop terminates the sweeper goroutine. Safe to call concurrently.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.sweepStop) })
}

// SweepIdle cleans up engines idle beyond the TTL. Failures are logged and
// retried on the next sweep.
func (r *Registry) SweepIdle(ctx context.Context) int {
	metrics.SweepRuns.Inc()
	cutoff := time.Now().UTC().Add(-r.idleTTL)

	r.mu.RLock()
	var stale []uuid.UUID
	for id, eng := range r.engines {
		if eng.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	cleaned := 0
	for _, id := range stale {
		if err := r.Cleanup(ctx, id); err != nil {
			r.logger.Warn("Idle sweep failed to clean engine",
				zap.String("engine_id", id.String()), zap.Error(err))
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		r.logger.Info("Idle sweep cleaned engines", zap.Int("cleaned", cleaned))
	}
	return cleaned
}

func unitsAsFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
