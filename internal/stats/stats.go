package stats

import (
	"context"

	"trading-journal-bot/internal/models"
)

// TradeLister is the slice of the trade store the aggregator needs.
type TradeLister interface {
	ListAll(ctx context.Context, userID int64) ([]models.Trade, error)
}

// Summary holds the aggregate metrics for one user's journal.
type Summary struct {
	Total  int
	Wins   int
	Losses int
	AvgPnl float64
}

// Compute derives the summary metrics for a user. A trade with pnl > 0
// is a win and pnl <= 0 a loss, so a breakeven trade counts as a loss;
// a trade with no recorded pnl counts toward Total only. AvgPnl averages
// the recorded pnl values, or 0 when none are recorded.
func Compute(ctx context.Context, repo TradeLister, userID int64) (Summary, error) {
	trades, err := repo.ListAll(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	var sum float64
	var recorded int
	for _, t := range trades {
		s.Total++
		if t.Pnl == nil {
			continue
		}
		if *t.Pnl > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		sum += *t.Pnl
		recorded++
	}
	if recorded > 0 {
		s.AvgPnl = sum / float64(recorded)
	}
	return s, nil
}
