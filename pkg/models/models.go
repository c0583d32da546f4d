// Package models defines the shared data model for fund-unit orders,
// funds and matching results.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides and statuses
const (
	// Order sides
	OrderSideBuy      = "buy"
	OrderSideSell     = "sell"
	OrderSideExchange = "exchange"

	// Order statuses. Status is derived from matched units, never set
	// independently.
	OrderStatusPending   = "pending"
	OrderStatusPartial   = "partial"
	OrderStatusMatched   = "matched"
	OrderStatusCancelled = "cancelled"
)

// Order represents a fund-unit order.
//
// RemainingUnits is a cache: the canonical remaining balance is always
// Units - MatchedUnits, and the cache is revalidated on every mutation.
type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	FundID         uuid.UUID       `gorm:"type:uuid;index" json:"fund_id"`
	PartyID        uuid.UUID       `gorm:"type:uuid;index" json:"party_id"`
	Side           string          `gorm:"size:16;index" json:"side"`
	UnitPrice      decimal.Decimal `gorm:"type:numeric(24,8)" json:"unit_price"` // NAV at entry
	Units          decimal.Decimal `gorm:"type:numeric(24,8)" json:"units"`
	TermMonths     int             `json:"term_months"`
	InterestRate   decimal.Decimal `gorm:"type:numeric(10,4)" json:"interest_rate"` // annual, percent
	Status         string          `gorm:"size:16;index" json:"status"`
	MatchedUnits   decimal.Decimal `gorm:"type:numeric(24,8)" json:"matched_units"`
	RemainingUnits decimal.Decimal `gorm:"type:numeric(24,8)" json:"remaining_units"`
	ClaimedBy      *uuid.UUID      `gorm:"type:uuid;index" json:"claimed_by,omitempty"` // engine holding the admission claim
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining returns the canonical remaining balance.
func (o *Order) Remaining() decimal.Decimal {
	return o.Units.Sub(o.MatchedUnits)
}

// OrderValue returns units x NAV at entry.
func (o *Order) OrderValue() decimal.Decimal {
	return o.Units.Mul(o.UnitPrice)
}

// IsOpen reports whether the order can still participate in matching.
func (o *Order) IsOpen() bool {
	return o.Status != OrderStatusCancelled && o.Remaining().IsPositive()
}

// SyncDerived recomputes the cached remaining balance and the derived status.
// Cancelled is sticky; every other status follows the matched balance.
func (o *Order) SyncDerived() {
	o.RemainingUnits = o.Remaining()
	if o.Status == OrderStatusCancelled {
		return
	}
	switch {
	case o.MatchedUnits.IsZero():
		o.Status = OrderStatusPending
	case o.RemainingUnits.IsPositive():
		o.Status = OrderStatusPartial
	default:
		o.Status = OrderStatusMatched
	}
}

// Fund represents a fund whose units are traded. The fund record and its NAV
// history are owned by the system of record; the engine reads them only.
type Fund struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Ticker     string          `gorm:"size:32;uniqueIndex" json:"ticker"`
	CurrentNAV decimal.Decimal `gorm:"type:numeric(24,8)" json:"current_nav"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NAVSample is one point of a fund's NAV history.
type NAVSample struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	FundID    uuid.UUID       `gorm:"type:uuid;index:idx_nav_fund_time" json:"fund_id"`
	NAV       decimal.Decimal `gorm:"type:numeric(24,8)" json:"nav"`
	SampledAt time.Time       `gorm:"index:idx_nav_fund_time" json:"sampled_at"`
}

// MatchedPair records one fill between a buy and a sell order.
type MatchedPair struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BuyOrderID   uuid.UUID       `gorm:"type:uuid;index" json:"buy_order_id"`
	SellOrderID  uuid.UUID       `gorm:"type:uuid;index" json:"sell_order_id"`
	MatchedUnits decimal.Decimal `gorm:"type:numeric(24,8)" json:"matched_units"`
	MatchedPrice decimal.Decimal `gorm:"type:numeric(24,8)" json:"matched_price"`
	MatchedAt    time.Time       `json:"matched_at"`
}

// EngineInfo is the registry's public view of a matching engine.
type EngineInfo struct {
	ID        uuid.UUID `json:"id"`
	FundID    uuid.UUID `json:"fund_id"`
	State     string    `json:"state"`
	Queued    int       `json:"queued"`
	CreatedAt time.Time `json:"created_at"`
}
