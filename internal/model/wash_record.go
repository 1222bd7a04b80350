package model

import "time"

// WashRecord marks that a user completed a wash on a given day. The
// scheduling engine consults the per-day set as an admission guard;
// rows are written when a session completes.
type WashRecord struct {
	ID          int64     `gorm:"autoIncrement;primaryKey"`
	UserID      int64     `gorm:"not null;uniqueIndex:idx_wash_records_user_day,priority:1"`
	Day         string    `gorm:"size:10;not null;uniqueIndex:idx_wash_records_user_day,priority:2"` // YYYY-MM-DD
	MachineID   int64     `gorm:"not null"`
	CompletedAt time.Time `gorm:"not null"`
}
