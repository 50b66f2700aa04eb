package models

import (
	"time"

	"github.com/google/uuid"
)

// Balance is the current spendable amount owned by one user, in minor
// currency units. The amount never goes below zero; the version counter is
// bumped on every write.
type Balance struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Version   int       `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewBalance returns a zero balance for the user.
func NewBalance(userID uuid.UUID) *Balance {
	return &Balance{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    0,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
}
