package domain

import "time"

// User represents a registered account of the system.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the authenticated principal view of the user.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email}
}
