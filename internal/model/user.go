package model

import "time"

// User is a registered member of the laundry room.
type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}
