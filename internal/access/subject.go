// Package access holds the request subject and the single read/write policy
// consulted by every content operation.
package access

import (
	"context"
	"errors"
)

// ErrForbidden is returned when an authenticated (or anonymous) subject
// tries to change something it does not own.
var ErrForbidden = errors.New("forbidden")

// Subject is the identity attached to a request. The zero value is the anonymous subject.
type Subject struct {
	authenticated bool
	userID        uint64
	username      string
	admin         bool
}

// Anonymous returns the subject of a request without a valid session.
func Anonymous() Subject {
	return Subject{}
}

// Authenticated returns the subject for a logged-in user.
func Authenticated(userID uint64, username string, isAdmin bool) Subject {
	return Subject{
		authenticated: true,
		userID:        userID,
		username:      username,
		admin:         isAdmin,
	}
}

func (s Subject) IsAnonymous() bool {
	return !s.authenticated
}

func (s Subject) IsAuthenticated() bool {
	return s.authenticated
}

// IsAdmin is always false for the anonymous subject.
func (s Subject) IsAdmin() bool {
	return s.authenticated && s.admin
}

// UserID returns the user id and false for the anonymous subject.
func (s Subject) UserID() (uint64, bool) {
	return s.userID, s.authenticated
}

func (s Subject) Username() string {
	return s.username
}

func (s Subject) String() string {
	switch {
	case !s.authenticated:
		return "anonymous"
	case s.admin:
		return "admin:" + s.username
	default:
		return "user:" + s.username
	}
}

type subjectCtxKey struct{}

func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectCtxKey{}, s)
}

// SubjectFromContext returns the anonymous subject when none was set.
func SubjectFromContext(ctx context.Context) Subject {
	if s, ok := ctx.Value(subjectCtxKey{}).(Subject); ok {
		return s
	}
	return Anonymous()
}
