package orderstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and single-process
// deployments. One mutex guards all maps; claim semantics match GormStore.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[uuid.UUID]*models.Order
	funds   map[uuid.UUID]*models.Fund
	samples map[uuid.UUID][]*models.NAVSample
	pairs   []*models.MatchedPair
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[uuid.UUID]*models.Order),
		funds:   make(map[uuid.UUID]*models.Fund),
		samples: make(map[uuid.UUID][]*models.NAVSample),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	if err := validateNewOrder(order); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funds[order.FundID]; !ok {
		return errors.New(errors.KindInvalidFund, "unknown fund %s", order.FundID)
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.MatchedUnits = decimal.Zero
	order.SyncDerived()
	clone := *order
	s.orders[order.ID] = &clone
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, errors.New(errors.KindInvalidOrder, "unknown order %s", id)
	}
	clone := *order
	return &clone, nil
}

func (s *MemoryStore) OrdersByFund(_ context.Context, fundID uuid.UUID, from, to time.Time) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, order := range s.orders {
		if order.FundID != fundID {
			continue
		}
		if !from.IsZero() && order.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !order.CreatedAt.Before(to) {
			continue
		}
		clone := *order
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CancelOrder(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return errors.New(errors.KindInvalidOrder, "unknown order %s", id)
	}
	if order.Remaining().IsZero() {
		return errors.New(errors.KindAlreadySettled, "order %s is fully matched", id)
	}
	order.Status = models.OrderStatusCancelled
	order.ClaimedBy = nil
	order.SyncDerived()
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, orderID, engineID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return errors.New(errors.KindInvalidOrder, "unknown order %s", orderID)
	}
	if order.ClaimedBy == nil && order.Status != models.OrderStatusCancelled && order.Remaining().IsPositive() {
		claimed := engineID
		order.ClaimedBy = &claimed
		return nil
	}
	return claimFailure(order)
}

func (s *MemoryStore) Release(_ context.Context, orderID, engineID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return errors.New(errors.KindInvalidOrder, "unknown order %s", orderID)
	}
	if order.ClaimedBy != nil && *order.ClaimedBy == engineID {
		order.ClaimedBy = nil
	}
	return nil
}

func (s *MemoryStore) ReleaseEngine(_ context.Context, engineID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, order := range s.orders {
		if order.ClaimedBy != nil && *order.ClaimedBy == engineID {
			order.ClaimedBy = nil
			released++
		}
	}
	return released, nil
}

func (s *MemoryStore) ApplyMatch(_ context.Context, buyID, sellID uuid.UUID, units, price decimal.Decimal) (*models.MatchedPair, error) {
	if !units.IsPositive() {
		return nil, errors.New(errors.KindInvalidOrder, "matched units must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buy, ok := s.orders[buyID]
	if !ok {
		return nil, errors.New(errors.KindInvalidOrder, "unknown order %s", buyID)
	}
	sell, ok := s.orders[sellID]
	if !ok {
		return nil, errors.New(errors.KindInvalidOrder, "unknown order %s", sellID)
	}
	if err := fillable(buy, units); err != nil {
		return nil, err
	}
	if err := fillable(sell, units); err != nil {
		return nil, err
	}
	for _, order := range []*models.Order{buy, sell} {
		order.MatchedUnits = order.MatchedUnits.Add(units)
		order.SyncDerived()
		if order.RemainingUnits.IsZero() {
			order.ClaimedBy = nil
		}
	}
	pair := &models.MatchedPair{
		ID:           uuid.New(),
		BuyOrderID:   buyID,
		SellOrderID:  sellID,
		MatchedUnits: units,
		MatchedPrice: price,
		MatchedAt:    time.Now().UTC(),
	}
	s.pairs = append(s.pairs, pair)
	clone := *pair
	return &clone, nil
}

func (s *MemoryStore) PairsForOrder(_ context.Context, orderID uuid.UUID) ([]*models.MatchedPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MatchedPair
	for _, pair := range s.pairs {
		if pair.BuyOrderID == orderID || pair.SellOrderID == orderID {
			clone := *pair
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateFund(_ context.Context, fund *models.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fund.ID == uuid.Nil {
		fund.ID = uuid.New()
	}
	if fund.CreatedAt.IsZero() {
		fund.CreatedAt = time.Now().UTC()
	}
	clone := *fund
	s.funds[fund.ID] = &clone
	return nil
}

func (s *MemoryStore) GetFund(_ context.Context, id uuid.UUID) (*models.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fund, ok := s.funds[id]
	if !ok {
		return nil, errors.New(errors.KindInvalidFund, "unknown fund %s", id)
	}
	clone := *fund
	return &clone, nil
}

func (s *MemoryStore) ListFunds(_ context.Context) ([]*models.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Fund, 0, len(s.funds))
	for _, fund := range s.funds {
		clone := *fund
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *MemoryStore) UpdateFundNAV(_ context.Context, fundID uuid.UUID, nav decimal.Decimal, at time.Time) error {
	if !nav.IsPositive() {
		return errors.New(errors.KindInvalidFund, "nav must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fund, ok := s.funds[fundID]
	if !ok {
		return errors.New(errors.KindInvalidFund, "unknown fund %s", fundID)
	}
	fund.CurrentNAV = nav
	fund.UpdatedAt = at
	s.samples[fundID] = append(s.samples[fundID], &models.NAVSample{
		FundID:    fundID,
		NAV:       nav,
		SampledAt: at,
	})
	return nil
}

func (s *MemoryStore) NAVHistory(_ context.Context, fundID uuid.UUID, from, to time.Time) ([]*models.NAVSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.NAVSample
	for _, sample := range s.samples[fundID] {
		if !from.IsZero() && sample.SampledAt.Before(from) {
			continue
		}
		if !to.IsZero() && !sample.SampledAt.Before(to) {
			continue
		}
		clone := *sample
		out = append(out, &clone)
	}
	return out, nil
}
