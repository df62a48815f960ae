package auth

import (
	"context"
	"sync"
)

var _ SessionRepo = (*MemorySessionRepo)(nil)

type MemorySessionRepo struct {
	mutex    sync.RWMutex
	sessions map[string]*Session
	// user id -> set of tokens
	byUser map[uint64]map[string]struct{}
}

func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]*Session),
		byUser:   make(map[uint64]map[string]struct{}),
	}
}

func (r *MemorySessionRepo) Add(_ context.Context, session *Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s := *session
	r.sessions[s.Token] = &s
	tokens, ok := r.byUser[s.UserID]
	if !ok {
		tokens = make(map[string]struct{})
		r.byUser[s.UserID] = tokens
	}
	tokens[s.Token] = struct{}{}
	return nil
}

func (r *MemorySessionRepo) Get(_ context.Context, token string) (*Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sessionCopy := *s
	return &sessionCopy, nil
}

func (r *MemorySessionRepo) Delete(_ context.Context, token string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, token)
	if tokens, ok := r.byUser[s.UserID]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
	return nil
}

func (r *MemorySessionRepo) ListByUser(_ context.Context, userID uint64) ([]*Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tokens := r.byUser[userID]
	sessions := make([]*Session, 0, len(tokens))
	for token := range tokens {
		sessionCopy := *r.sessions[token]
		sessions = append(sessions, &sessionCopy)
	}
	return sessions, nil
}

func (r *MemorySessionRepo) ListAll(_ context.Context) ([]*Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessionCopy := *s
		sessions = append(sessions, &sessionCopy)
	}
	return sessions, nil
}
