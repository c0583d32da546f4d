// Package engine implements session-scoped matching engines and the registry
// that owns their lifecycle.
//
// Each engine is the single logical owner of its admission queue: add,
// process, clear and cleanup on one engine are mutually exclusive, while
// different engines run concurrently. Cross-engine exclusivity of a single
// order is enforced by the store's atomic claim, not by engine locking.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/pkg/models"
)

// State is the lifecycle state of one matching engine.
type State string

const (
	StateCreated    State = "created"
	StateActive     State = "active"
	StateProcessing State = "processing"
	StateIdle       State = "idle"
	StateCleanedUp  State = "cleaned_up"
)

// MatchingEngine is one in-memory matching session, scoped to a single fund.
type MatchingEngine struct {
	id     uuid.UUID
	fundID uuid.UUID

	mu           sync.Mutex
	state        State
	queue        []uuid.UUID // admission order
	createdAt    time.Time
	lastActivity time.Time
}

func newMatchingEngine(fundID uuid.UUID) *MatchingEngine {
	now := time.Now().UTC()
	return &MatchingEngine{
		id:           uuid.New(),
		fundID:       fundID,
		state:        StateCreated,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the engine identifier.
func (e *MatchingEngine) ID() uuid.UUID { return e.id }

// FundID returns the fund this engine is scoped to.
func (e *MatchingEngine) FundID() uuid.UUID { return e.fundID }

// touch must be called with e.mu held.
func (e *MatchingEngine) touch() {
	e.lastActivity = time.Now().UTC()
}

// snapshotQueue must be called with e.mu held.
func (e *MatchingEngine) snapshotQueue() []uuid.UUID {
	out := make([]uuid.UUID, len(e.queue))
	copy(out, e.queue)
	return out
}

func (e *MatchingEngine) info() models.EngineInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.EngineInfo{
		ID:        e.id,
		FundID:    e.fundID,
		State:     string(e.state),
		Queued:    len(e.queue),
		CreatedAt: e.createdAt,
	}
}

// idleSince must not be called with e.mu held by the caller.
func (e *MatchingEngine) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivity
}

// AddResult is the tagged outcome of an admission attempt.
type AddResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ItemError reports one failed order inside a batch operation.
type ItemError struct {
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// MatchReport is the outcome of one process-all pass.
type MatchReport struct {
	MatchedPairs   []*models.MatchedPair `json:"matched_pairs"`
	RemainingBuys  []uuid.UUID           `json:"remaining_buys"`
	RemainingSells []uuid.UUID           `json:"remaining_sells"`
	Errors         []ItemError           `json:"errors,omitempty"`
}

// MatchedUnitsTotal sums the units across all pairs in the report.
func (r *MatchReport) MatchedUnitsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, pair := range r.MatchedPairs {
		total = total.Add(pair.MatchedUnits)
	}
	return total
}

// sideForMatching folds the exchange side into sell: an exchange order
// surrenders units of this fund, so it sits on the sell side of the book.
func sideForMatching(side string) string {
	if side == models.OrderSideExchange {
		return models.OrderSideSell
	}
	return side
}
