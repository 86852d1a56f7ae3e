package models

import "time"

// Trade directions.
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Trade represents one journaled trade. Optional numeric fields are
// pointers so that "not specified" stays distinct from zero.
type Trade struct {
	ID        uint  `gorm:"primaryKey"`
	UserID    int64 `gorm:"index"`
	Username  *string
	Pair      string `gorm:"not null"` // e.g. BTCUSD, stored upper-case
	Direction string `gorm:"not null"` // LONG or SHORT
	Entry     *float64
	Exit      *float64
	StopLoss  *float64
	Size      *float64 // lots or units
	Notes     *string
	Pnl       *float64
	Closed    bool `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
