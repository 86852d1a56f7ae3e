package store

import (
	"context"
	"errors"
	"fmt"

	"trading-journal-bot/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when an update targets a trade that does not exist.
var ErrNotFound = errors.New("trade not found")

// PersistenceError wraps a failure of the underlying database. The
// operation that produced it left no partial state behind.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TradeUpdate enumerates the mutable trade fields. A nil field means
// "leave unchanged", keeping absence distinct from an explicit value.
type TradeUpdate struct {
	Pair      *string
	Direction *string
	Entry     *float64
	Exit      *float64
	StopLoss  *float64
	Size      *float64
	Notes     *string
	Pnl       *float64
	Closed    *bool
}

func (u TradeUpdate) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Pair != nil {
		cols["pair"] = *u.Pair
	}
	if u.Direction != nil {
		cols["direction"] = *u.Direction
	}
	if u.Entry != nil {
		cols["entry"] = *u.Entry
	}
	if u.Exit != nil {
		cols["exit"] = *u.Exit
	}
	if u.StopLoss != nil {
		cols["stop_loss"] = *u.StopLoss
	}
	if u.Size != nil {
		cols["size"] = *u.Size
	}
	if u.Notes != nil {
		cols["notes"] = *u.Notes
	}
	if u.Pnl != nil {
		cols["pnl"] = *u.Pnl
	}
	if u.Closed != nil {
		cols["closed"] = *u.Closed
	}
	return cols
}

// TradeStore provides journal persistence on top of gorm.
type TradeStore struct {
	db *gorm.DB
}

// NewTradeStore creates a store using the given database handle.
func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

// Create inserts a single trade and returns its new id.
func (s *TradeStore) Create(ctx context.Context, trade *models.Trade) (uint, error) {
	if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
		return 0, &PersistenceError{Op: "create", Err: err}
	}
	return trade.ID, nil
}

// Update applies the given field updates to one trade atomically and
// refreshes its updated_at. Returns ErrNotFound if no such trade exists.
func (s *TradeStore) Update(ctx context.Context, id uint, updates TradeUpdate) error {
	cols := updates.columns()
	if len(cols) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trade models.Trade
		if err := tx.First(&trade, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return tx.Model(&trade).Updates(cols).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return &PersistenceError{Op: "update", Err: err}
	}
	return nil
}

// ListRecent returns up to limit trades for the user, newest first. An
// unknown user yields an empty slice, not an error.
func (s *TradeStore) ListRecent(ctx context.Context, userID int64, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, &PersistenceError{Op: "list recent", Err: err}
	}
	return trades, nil
}

// ListAll returns the user's full history, newest first.
func (s *TradeStore) ListAll(ctx context.Context, userID int64) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&trades).Error
	if err != nil {
		return nil, &PersistenceError{Op: "list all", Err: err}
	}
	return trades, nil
}

// DistinctUsers returns the ids of all users that own at least one trade.
func (s *TradeStore) DistinctUsers(ctx context.Context) ([]int64, error) {
	var users []int64
	err := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Distinct("user_id").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, &PersistenceError{Op: "distinct users", Err: err}
	}
	return users, nil
}
