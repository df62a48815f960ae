package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUserInput   = errors.New("invalid user input")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
)

type User struct {
	ID           uint64    `json:"-"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"admin"`
	CreatedAt    time.Time `json:"createdAt"`
}

type UserRepo interface {
	// Add fails with ErrUserExists when the username is taken.
	Add(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uint64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	SetPasswordHash(ctx context.Context, id uint64, passwordHash string) error
	List(ctx context.Context) ([]*User, error)
}
