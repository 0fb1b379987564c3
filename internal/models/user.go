package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered bidder or auction creator.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"` // unique, stored lowercase
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
