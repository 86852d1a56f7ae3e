package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"trading-journal-bot/internal/models"
)

// TradeLister is the slice of the trade store the exporter needs.
type TradeLister interface {
	ListAll(ctx context.Context, userID int64) ([]models.Trade, error)
}

// ExportError wraps a failure while reading or serializing a user's
// history. A user with no trades is not an error.
type ExportError struct {
	Err error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed: %v", e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

var header = []string{"id", "pair", "direction", "entry", "exit", "stop_loss", "size", "pnl", "notes", "created_at"}

// WriteCSV writes the user's full trade history to w as CSV, newest
// first. Optional fields that were never specified become empty cells.
func WriteCSV(ctx context.Context, repo TradeLister, userID int64, w io.Writer) error {
	trades, err := repo.ListAll(ctx, userID)
	if err != nil {
		return &ExportError{Err: err}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return &ExportError{Err: err}
	}

	for _, t := range trades {
		record := []string{
			strconv.FormatUint(uint64(t.ID), 10),
			t.Pair,
			t.Direction,
			f(t.Entry),
			f(t.Exit),
			f(t.StopLoss),
			f(t.Size),
			f(t.Pnl),
			str(t.Notes),
			t.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return &ExportError{Err: err}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return &ExportError{Err: err}
	}
	return nil
}

func f(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
