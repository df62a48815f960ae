package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var _ UserRepo = (*MemoryUserRepo)(nil)

type MemoryUserRepo struct {
	mutex      sync.RWMutex
	users      map[uint64]*User
	byUsername map[string]uint64
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:      make(map[uint64]*User),
		byUsername: make(map[string]uint64),
	}
}

func (r *MemoryUserRepo) Add(_ context.Context, user *User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.byUsername[user.Username]; ok {
		return fmt.Errorf("add user %s: %w", user.Username, ErrUserExists)
	}
	if _, ok := r.users[user.ID]; ok {
		return fmt.Errorf("add user, id %d taken: %w", user.ID, ErrUserExists)
	}

	u := *user
	r.users[u.ID] = &u
	r.byUsername[u.Username] = u.ID
	return nil
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id uint64) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	userCopy := *u
	return &userCopy, nil
}

func (r *MemoryUserRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	r.mutex.RLock()
	id, ok := r.byUsername[username]
	r.mutex.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryUserRepo) SetPasswordHash(_ context.Context, id uint64, passwordHash string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// List returns users ordered by creation time.
func (r *MemoryUserRepo) List(_ context.Context) ([]*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	users := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		userCopy := *u
		users = append(users, &userCopy)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}
