package auth

import (
	"context"
	"time"
)

type Session struct {
	// ID identifies the session in listings, so the token itself is never shown.
	ID        uint64    `json:"id"`
	Token     string    `json:"token"`
	UserID    uint64    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Session) TTL() time.Duration {
	return s.ExpiresAt.Sub(s.CreatedAt)
}

func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

type SessionRepo interface {
	Add(ctx context.Context, session *Session) error
	// Get fails with ErrSessionNotFound for unknown tokens.
	Get(ctx context.Context, token string) (*Session, error)
	// Delete fails with ErrSessionNotFound for unknown tokens.
	Delete(ctx context.Context, token string) error
	ListByUser(ctx context.Context, userID uint64) ([]*Session, error)
	ListAll(ctx context.Context) ([]*Session, error)
}
