package bot

import (
	"context"
	"fmt"
	"time"

	"trading-journal-bot/internal/stats"

	"go.uber.org/zap"
)

// UserEnumerator yields every user that has any trade history.
type UserEnumerator interface {
	DistinctUsers(ctx context.Context) ([]int64, error)
}

// Digest sends each active user a daily stats summary at a fixed local
// hour. It reads the journal and never writes to it.
type Digest struct {
	logger *zap.Logger
	users  UserEnumerator
	trades stats.TradeLister
	api    Messenger
	hour   int
	loc    *time.Location
}

// NewDigest creates the daily digest job firing at the given hour in loc.
func NewDigest(logger *zap.Logger, users UserEnumerator, trades stats.TradeLister, api Messenger, hour int, loc *time.Location) *Digest {
	return &Digest{
		logger: logger,
		users:  users,
		trades: trades,
		api:    api,
		hour:   hour,
		loc:    loc,
	}
}

// Run fires the digest once per day at the configured hour until ctx is
// cancelled.
func (d *Digest) Run(ctx context.Context) {
	for {
		next := d.nextRun(time.Now().In(d.loc))
		d.logger.Info("Daily digest scheduled", zap.Time("next_run", next))

		select {
		case <-ctx.Done():
			d.logger.Info("Stopping daily digest job")
			return
		case <-time.After(time.Until(next)):
			d.RunOnce(ctx)
		}
	}
}

// nextRun returns the next occurrence of the configured hour after now.
func (d *Digest) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), d.hour, 0, 0, 0, d.loc)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// RunOnce sends one summary to every user with trade history. A failed
// delivery is logged and the remaining users are still processed.
func (d *Digest) RunOnce(ctx context.Context) {
	users, err := d.users.DistinctUsers(ctx)
	if err != nil {
		d.logger.Error("Failed to enumerate users for daily digest", zap.Error(err))
		return
	}

	for _, userID := range users {
		s, err := stats.Compute(ctx, d.trades, userID)
		if err != nil {
			d.logger.Warn("Failed to compute digest stats",
				zap.Int64("user_id", userID), zap.Error(err))
			continue
		}

		text := fmt.Sprintf("Daily summary — total trades: %d, wins: %d, losses: %d, avg pnl: %.2f",
			s.Total, s.Wins, s.Losses, s.AvgPnl)
		if _, err := d.api.SendMessage(ctx, userID, text, nil); err != nil {
			d.logger.Warn("Failed to send daily summary",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}
