// Package events publishes settlement events to Kafka for downstream
// consumers (reporting, reconciliation).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/quantora/fundmatch/pkg/models"
)

// MatchEvent is the wire form of one matched pair.
type MatchEvent struct {
	PairID       string    `json:"pair_id"`
	BuyOrderID   string    `json:"buy_order_id"`
	SellOrderID  string    `json:"sell_order_id"`
	MatchedUnits string    `json:"matched_units"`
	MatchedPrice string    `json:"matched_price"`
	Origin       string    `json:"origin"` // "engine" or "market_maker"
	MatchedAt    time.Time `json:"matched_at"`
}

// Publisher emits match events. A nil Publisher is a valid no-op, used when
// no brokers are configured.
type Publisher struct {
	logger *zap.Logger
	writer *kafka.Writer
}

// NewPublisher creates a Kafka-backed publisher. Returns nil (a no-op
// publisher) when brokers is empty.
func NewPublisher(logger *zap.Logger, brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &Publisher{logger: logger, writer: writer}
}

// PublishMatches emits one event per pair. Publishing is best-effort for the
// matching path: failures are logged, never propagated into settlement.
func (p *Publisher) PublishMatches(ctx context.Context, origin string, pairs []*models.MatchedPair) {
	if p == nil || len(pairs) == 0 {
		return
	}
	messages := make([]kafka.Message, 0, len(pairs))
	for _, pair := range pairs {
		event := MatchEvent{
			PairID:       pair.ID.String(),
			BuyOrderID:   pair.BuyOrderID.String(),
			SellOrderID:  pair.SellOrderID.String(),
			MatchedUnits: pair.MatchedUnits.String(),
			MatchedPrice: pair.MatchedPrice.String(),
			Origin:       origin,
			MatchedAt:    pair.MatchedAt,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("Failed to encode match event", zap.Error(err))
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(pair.BuyOrderID.String()),
			Value: payload,
		})
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("Failed to publish match events",
			zap.Int("count", len(messages)), zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
