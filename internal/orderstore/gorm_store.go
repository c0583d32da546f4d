package orderstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/models"
)

// GormStore is the database-backed Store. Postgres in production, sqlite in
// tests; both go through the same gorm code path.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore migrates the schema and returns a database-backed store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(
		&models.Fund{},
		&models.NAVSample{},
		&models.Order{},
		&models.MatchedPair{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate order store schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := validateNewOrder(order); err != nil {
		return err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Fund{}).Where("id = ?", order.FundID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check fund: %w", err)
	}
	if count == 0 {
		return errors.New(errors.KindInvalidFund, "unknown fund %s", order.FundID)
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.MatchedUnits = decimal.Zero
	order.SyncDerived()
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *GormStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.KindInvalidOrder, "unknown order %s", id)
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &order, nil
}

func (s *GormStore) OrdersByFund(ctx context.Context, fundID uuid.UUID, from, to time.Time) ([]*models.Order, error) {
	var orders []*models.Order
	q := s.db.WithContext(ctx).Where("fund_id = ?", fundID)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}
	if err := q.Order("created_at asc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *GormStore) CancelOrder(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, id)
		if err != nil {
			return err
		}
		if order.Status == models.OrderStatusMatched || order.Remaining().IsZero() {
			return errors.New(errors.KindAlreadySettled, "order %s is fully matched", id)
		}
		if order.Status == models.OrderStatusCancelled {
			return nil
		}
		order.Status = models.OrderStatusCancelled
		order.ClaimedBy = nil
		order.SyncDerived()
		return tx.Save(order).Error
	})
}

// Claim atomically marks the order as admitted to one engine. The guarded
// update is the cross-engine exclusivity mechanism: it succeeds only when the
// order is unclaimed and still open, regardless of which engine raced us.
func (s *GormStore) Claim(ctx context.Context, orderID, engineID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND claimed_by IS NULL AND status IN ?", orderID,
			[]string{models.OrderStatusPending, models.OrderStatusPartial}).
		Update("claimed_by", engineID)
	if res.Error != nil {
		return fmt.Errorf("failed to claim order: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return claimFailure(order)
}

func (s *GormStore) Release(ctx context.Context, orderID, engineID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND claimed_by = ?", orderID, engineID).
		Update("claimed_by", nil)
	if res.Error != nil {
		return fmt.Errorf("failed to release order: %w", res.Error)
	}
	return nil
}

func (s *GormStore) ReleaseEngine(ctx context.Context, engineID uuid.UUID) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("claimed_by = ?", engineID).
		Update("claimed_by", nil)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release engine claims: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormStore) ApplyMatch(ctx context.Context, buyID, sellID uuid.UUID, units, price decimal.Decimal) (*models.MatchedPair, error) {
	if !units.IsPositive() {
		return nil, errors.New(errors.KindInvalidOrder, "matched units must be positive")
	}
	var pair *models.MatchedPair
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock in a stable order so concurrent settlements cannot deadlock.
		first, second := buyID, sellID
		if bytes.Compare(sellID[:], buyID[:]) < 0 {
			first, second = sellID, buyID
		}
		a, err := lockOrder(tx, first)
		if err != nil {
			return err
		}
		b, err := lockOrder(tx, second)
		if err != nil {
			return err
		}
		buy, sell := a, b
		if buy.ID != buyID {
			buy, sell = b, a
		}

		if err := fillable(buy, units); err != nil {
			return err
		}
		if err := fillable(sell, units); err != nil {
			return err
		}

		for _, order := range []*models.Order{buy, sell} {
			order.MatchedUnits = order.MatchedUnits.Add(units)
			order.SyncDerived()
			if order.RemainingUnits.IsZero() {
				order.ClaimedBy = nil
			}
			if err := tx.Save(order).Error; err != nil {
				return fmt.Errorf("failed to write back order %s: %w", order.ID, err)
			}
		}

		pair = &models.MatchedPair{
			ID:           uuid.New(),
			BuyOrderID:   buyID,
			SellOrderID:  sellID,
			MatchedUnits: units,
			MatchedPrice: price,
			MatchedAt:    time.Now().UTC(),
		}
		return tx.Create(pair).Error
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *GormStore) PairsForOrder(ctx context.Context, orderID uuid.UUID) ([]*models.MatchedPair, error) {
	var pairs []*models.MatchedPair
	if err := s.db.WithContext(ctx).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("matched_at asc").Find(&pairs).Error; err != nil {
		return nil, fmt.Errorf("failed to list matched pairs: %w", err)
	}
	return pairs, nil
}

func (s *GormStore) CreateFund(ctx context.Context, fund *models.Fund) error {
	if fund.ID == uuid.Nil {
		fund.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(fund).Error; err != nil {
		return fmt.Errorf("failed to create fund: %w", err)
	}
	return nil
}

func (s *GormStore) GetFund(ctx context.Context, id uuid.UUID) (*models.Fund, error) {
	var fund models.Fund
	if err := s.db.WithContext(ctx).First(&fund, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.KindInvalidFund, "unknown fund %s", id)
		}
		return nil, fmt.Errorf("failed to load fund: %w", err)
	}
	return &fund, nil
}

func (s *GormStore) ListFunds(ctx context.Context) ([]*models.Fund, error) {
	var funds []*models.Fund
	if err := s.db.WithContext(ctx).Order("ticker asc").Find(&funds).Error; err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	return funds, nil
}

func (s *GormStore) UpdateFundNAV(ctx context.Context, fundID uuid.UUID, nav decimal.Decimal, at time.Time) error {
	if !nav.IsPositive() {
		return errors.New(errors.KindInvalidFund, "nav must be positive")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Fund{}).Where("id = ?", fundID).Update("current_nav", nav)
		if res.Error != nil {
			return fmt.Errorf("failed to update fund nav: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.New(errors.KindInvalidFund, "unknown fund %s", fundID)
		}
		return tx.Create(&models.NAVSample{FundID: fundID, NAV: nav, SampledAt: at}).Error
	})
}

func (s *GormStore) NAVHistory(ctx context.Context, fundID uuid.UUID, from, to time.Time) ([]*models.NAVSample, error) {
	var samples []*models.NAVSample
	q := s.db.WithContext(ctx).Where("fund_id = ?", fundID)
	if !from.IsZero() {
		q = q.Where("sampled_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("sampled_at < ?", to)
	}
	if err := q.Order("sampled_at asc").Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("failed to load nav history: %w", err)
	}
	return samples, nil
}

func lockOrder(tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	// sqlite serializes writers on its own and rejects FOR UPDATE.
	if tx.Dialector.Name() == "postgres" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	if err := tx.First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.KindInvalidOrder, "unknown order %s", id)
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}
