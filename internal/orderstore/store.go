// Package orderstore is the engine's view of the order system of record.
// It owns order persistence, the atomic admission claim that makes an order a
// single-engine resource, and settlement write-back.
package orderstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/pkg/models"
)

// Store defines order and fund persistence operations used by the matching
// core. Implementations must make Claim an atomic conditional update: the
// claim succeeds only if the order is currently unclaimed and still open.
type Store interface {
	// Orders
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	OrdersByFund(ctx context.Context, fundID uuid.UUID, from, to time.Time) ([]*models.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) error

	// Admission claims
	Claim(ctx context.Context, orderID, engineID uuid.UUID) error
	Release(ctx context.Context, orderID, engineID uuid.UUID) error
	ReleaseEngine(ctx context.Context, engineID uuid.UUID) (int, error)

	// Settlement
	ApplyMatch(ctx context.Context, buyID, sellID uuid.UUID, units, price decimal.Decimal) (*models.MatchedPair, error)
	PairsForOrder(ctx context.Context, orderID uuid.UUID) ([]*models.MatchedPair, error)

	// Funds (owned by the system of record; engine reads, NAV feed writes)
	CreateFund(ctx context.Context, fund *models.Fund) error
	GetFund(ctx context.Context, id uuid.UUID) (*models.Fund, error)
	ListFunds(ctx context.Context) ([]*models.Fund, error)
	UpdateFundNAV(ctx context.Context, fundID uuid.UUID, nav decimal.Decimal, at time.Time) error
	NAVHistory(ctx context.Context, fundID uuid.UUID, from, to time.Time) ([]*models.NAVSample, error)
}
