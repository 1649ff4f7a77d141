package identity

import "time"

// Account statuses. Only active accounts may authenticate.
const (
	StatusActive  = "active"
	StatusLocked  = "locked"
	StatusPending = "pending"
)

// Account represents a principal's credential record.
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
