package models

import "time"

// SyncCursor records how far a poller has read from an upstream feed, so a
// restart resumes where the last handled batch ended.
type SyncCursor struct {
	Name      string    `gorm:"primaryKey;type:varchar(64)" json:"name"`
	Position  time.Time `gorm:"not null" json:"position"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
