package model

import "time"

// User is a sync identity. ID is the subject of the bearer token; TelegramID is set
// once the user links a chat with /link.
type User struct {
	ID         string `gorm:"primaryKey;size:64"`
	TelegramID *int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
