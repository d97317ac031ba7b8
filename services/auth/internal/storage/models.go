package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

const UserStatusActive = "active"

// User is a portal account as seen by the auth service.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	DisplayName  string
	Phone        string
	NationalID   string
	Role         string
	Status       string
}

func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
}
