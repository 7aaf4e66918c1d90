package domain

import "time"

// User represents an account managed by the service.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
