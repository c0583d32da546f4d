package navfeed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantora/fundmatch/internal/orderstore"
)

// Distributor applies NAV updates pushed by the system of record: it appends
// the sample to the store, refreshes the redis snapshot and notifies
// websocket subscribers.
type Distributor struct {
	logger *zap.Logger
	store  orderstore.Store
	cache  *CachedSource
	hub    *Hub
}

// NewDistributor wires the update path. cache and hub may be nil; the store
// write is the only mandatory leg.
func NewDistributor(logger *zap.Logger, store orderstore.Store, cache *CachedSource, hub *Hub) *Distributor {
	return &Distributor{logger: logger, store: store, cache: cache, hub: hub}
}

// Apply records a NAV update for a fund.
func (d *Distributor) Apply(ctx context.Context, fundID uuid.UUID, nav decimal.Decimal, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := d.store.UpdateFundNAV(ctx, fundID, nav, at); err != nil {
		return err
	}
	if d.cache != nil {
		if err := d.cache.Put(ctx, fundID, nav); err != nil {
			d.logger.Warn("NAV snapshot write failed", zap.Error(err))
		}
	}
	if d.hub != nil {
		d.hub.Broadcast(Update{FundID: fundID.String(), NAV: nav.String(), SampledAt: at})
	}
	d.logger.Debug("NAV updated",
		zap.String("fund_id", fundID.String()),
		zap.String("nav", nav.String()))
	return nil
}
